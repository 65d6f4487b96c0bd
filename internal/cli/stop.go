package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NexeraDigital/gsd-autopilot/internal/launcher"
	"github.com/NexeraDigital/gsd-autopilot/internal/logging"
	"github.com/NexeraDigital/gsd-autopilot/internal/workspace"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the autopilot for the current branch",
	Long: `Stop cooperatively: write the shutdown marker, ask the dashboard to
exit, wait for the orchestrator to finish its current step, and only then
force-kill whatever is left.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, _ []string) error {
	projectDir, err := os.Getwd()
	if err != nil {
		return err
	}

	branch, err := currentBranch(cmd, projectDir)
	if err != nil {
		return err
	}

	l := launcher.New(workspace.New(projectDir), logging.Wrap("launcher"))
	if err := l.Stop(cmd.Context(), branch); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped autopilot for branch %q\n", branch)
	return nil
}
