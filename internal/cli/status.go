package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/NexeraDigital/gsd-autopilot/internal/launcher"
	"github.com/NexeraDigital/gsd-autopilot/internal/logging"
	"github.com/NexeraDigital/gsd-autopilot/internal/workspace"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the autopilot status for the current branch",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

var (
	statusLabelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(10)
	statusRunningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	statusStoppedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func runStatus(cmd *cobra.Command, _ []string) error {
	projectDir, err := os.Getwd()
	if err != nil {
		return err
	}

	branch, err := currentBranch(cmd, projectDir)
	if err != nil {
		return err
	}

	l := launcher.New(workspace.New(projectDir), logging.Wrap("launcher"))
	info, err := l.Status(branch)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	row := func(label, value string) {
		fmt.Fprintf(out, "%s %s\n", statusLabelStyle.Render(label), value)
	}

	if !info.Running {
		fmt.Fprintln(out, statusStoppedStyle.Render("not running"))
		row("branch", branch)
		return nil
	}

	fmt.Fprintln(out, statusRunningStyle.Render("running"))
	row("branch", branch)
	row("pid", fmt.Sprintf("%d", info.PID))
	if info.Status != "" {
		row("status", info.Status)
	}
	if info.TotalPhases > 0 {
		row("phase", fmt.Sprintf("%d/%d", info.CurrentPhase, info.TotalPhases))
		row("progress", fmt.Sprintf("%d%%", info.Progress))
	}
	if info.URL != "" {
		row("url", info.URL)
	}
	if !info.Alive {
		fmt.Fprintln(out, statusStoppedStyle.Render("heartbeat stale (process alive, autopilot may be wedged)"))
	}
	return nil
}
