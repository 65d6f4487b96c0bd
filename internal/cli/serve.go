package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NexeraDigital/gsd-autopilot/internal/git"
	"github.com/NexeraDigital/gsd-autopilot/internal/ipc"
	"github.com/NexeraDigital/gsd-autopilot/internal/launcher"
	"github.com/NexeraDigital/gsd-autopilot/internal/logging"
	"github.com/NexeraDigital/gsd-autopilot/internal/server"
	"github.com/NexeraDigital/gsd-autopilot/internal/state"
	"github.com/NexeraDigital/gsd-autopilot/internal/workspace"
)

var (
	serveFlagPort   int
	serveFlagStatic string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard server standalone",
	Long: `Run the dashboard server in its own process, decoupled from the
orchestrator: state comes from the snapshot file and events from tailing
the event log. Useful when the orchestrator runs elsewhere or the dashboard
should survive orchestrator restarts.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveFlagPort, "port", 0, "Port to listen on (0 derives one from the git branch)")
	serveCmd.Flags().StringVar(&serveFlagStatic, "static", "", "Directory of dashboard UI assets to serve")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := logging.Wrap("dashboard")

	projectDir, err := os.Getwd()
	if err != nil {
		return err
	}
	ws := workspace.New(projectDir)

	port := serveFlagPort
	if port == 0 {
		branch := "main"
		if gc, err := git.NewClient(projectDir); err == nil {
			if b, err := gc.CurrentBranch(cmd.Context()); err == nil {
				branch = b
			}
		}
		port, err = launcher.AssignPort(branch, 0, nil)
		if err != nil {
			return err
		}
	}

	tailer := ipc.NewEventTailer(ws.EventsLog(), logging.Wrap("tailer"))
	tailCtx, stopTail := context.WithCancel(cmd.Context())
	defer stopTail()
	go tailer.Run(tailCtx) //nolint:errcheck

	srv := server.New(server.Options{
		State:         state.NewReader(ws.StateFile()),
		Events:        tailer,
		AnswersDir:    ws.AnswersDir(),
		HeartbeatFile: ws.HeartbeatFile(),
		RoadmapPath:   filepath.Join(projectDir, ".planning", "ROADMAP.md"),
		StaticDir:     serveFlagStatic,
		// Standalone mode: the shutdown endpoint really exits this process.
		Exit:   func() { os.Exit(0) },
		Logger: logger,
	})

	logger.Info("dashboard starting", "url", fmt.Sprintf("http://127.0.0.1:%d", port))
	return srv.Start(port)
}
