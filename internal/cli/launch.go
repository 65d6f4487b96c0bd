package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/NexeraDigital/gsd-autopilot/internal/git"
	"github.com/NexeraDigital/gsd-autopilot/internal/launcher"
	"github.com/NexeraDigital/gsd-autopilot/internal/logging"
	"github.com/NexeraDigital/gsd-autopilot/internal/workspace"
)

var launchFlags pipelineFlags

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Start the autopilot detached and open the dashboard",
	Long: `Start the orchestrator as a detached background process for the current
git branch, record its PID, health-check the dashboard, and open it in the
default browser. Re-invoking while an instance runs reports its URL instead
of starting a second one.`,
	Args: cobra.NoArgs,
	RunE: runLaunch,
}

func init() {
	launchFlags.register(launchCmd)
	rootCmd.AddCommand(launchCmd)
}

var launchBannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))

func runLaunch(cmd *cobra.Command, _ []string) error {
	logger := logging.Wrap("launcher")

	projectDir, err := os.Getwd()
	if err != nil {
		return err
	}

	branch, err := currentBranch(cmd, projectDir)
	if err != nil {
		return err
	}

	l := launcher.New(workspace.New(projectDir), logger)
	info, err := l.Launch(cmd.Context(), branch, forwardedArgs(cmd, &launchFlags))
	if err != nil {
		return err
	}

	if info.AlreadyRunning {
		fmt.Fprintf(cmd.OutOrStdout(), "Already running for branch %q (pid %d)\n%s\n",
			branch, info.PID, info.URL)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), launchBannerStyle.Render("Autopilot launched"))
	fmt.Fprintf(cmd.OutOrStdout(), "  branch  %s\n  pid     %d\n  url     %s\n",
		branch, info.PID, info.URL)
	if !info.Healthy {
		fmt.Fprintln(cmd.OutOrStdout(), "  (dashboard still starting; refresh in a moment)")
	}
	return nil
}

// currentBranch resolves the branch for PID/port keying. Outside a git
// repository everything keys under "main".
func currentBranch(cmd *cobra.Command, projectDir string) (string, error) {
	gc, err := git.NewClient(projectDir)
	if err != nil {
		return "", err
	}
	branch, err := gc.CurrentBranch(cmd.Context())
	if err != nil {
		return "main", nil
	}
	return branch, nil
}

// forwardedArgs rebuilds the pipeline flags that were explicitly set so
// the detached run command sees the same configuration.
func forwardedArgs(cmd *cobra.Command, f *pipelineFlags) []string {
	var args []string
	set := func(name string) bool { return cmd.Flags().Changed(name) }

	if set("prd") {
		args = append(args, "--prd", f.prd)
	}
	if set("resume") && f.resume {
		args = append(args, "--resume")
	}
	if set("phases") {
		args = append(args, "--phases", f.phases)
	}
	if set("skip-discuss") && f.skipDiscuss {
		args = append(args, "--skip-discuss")
	}
	if set("skip-verify") && f.skipVerify {
		args = append(args, "--skip-verify")
	}
	if set("depth") {
		args = append(args, "--depth", f.depth)
	}
	if set("model") {
		args = append(args, "--model", f.model)
	}
	if set("notify") {
		args = append(args, "--notify", f.notifyVia)
	}
	if set("webhook-url") {
		args = append(args, "--webhook-url", f.webhookURL)
	}
	if set("adapter-path") {
		args = append(args, "--adapter-path", f.adapterPath)
	}
	// --port is intentionally not forwarded: the launcher owns the port
	// decision and passes its assignment to the spawned run command.
	if flagVerbose {
		args = append(args, "--verbose")
	}
	return args
}
