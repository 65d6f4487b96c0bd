package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/NexeraDigital/gsd-autopilot/internal/agent"
	"github.com/NexeraDigital/gsd-autopilot/internal/config"
	"github.com/NexeraDigital/gsd-autopilot/internal/git"
	"github.com/NexeraDigital/gsd-autopilot/internal/ipc"
	"github.com/NexeraDigital/gsd-autopilot/internal/launcher"
	"github.com/NexeraDigital/gsd-autopilot/internal/logging"
	"github.com/NexeraDigital/gsd-autopilot/internal/notify"
	"github.com/NexeraDigital/gsd-autopilot/internal/orchestrator"
	"github.com/NexeraDigital/gsd-autopilot/internal/server"
	"github.com/NexeraDigital/gsd-autopilot/internal/shutdown"
	"github.com/NexeraDigital/gsd-autopilot/internal/state"
	"github.com/NexeraDigital/gsd-autopilot/internal/workspace"
)

var runFlags pipelineFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the build pipeline in the foreground",
	Long: `Run the orchestrator in the foreground: project-init when needed, then
the phase loop. The dashboard server runs in-process on the configured port.

This is the command the launcher spawns detached; invoke it directly for a
foreground run with logs on stderr.`,
	Args: cobra.NoArgs,
	RunE: runAutopilot,
}

func init() {
	runFlags.register(runCmd)
	rootCmd.AddCommand(runCmd)
}

func runAutopilot(cmd *cobra.Command, _ []string) error {
	logger := logging.Wrap("autopilot")

	cfg, err := resolveConfig(cmd, &runFlags)
	if err != nil {
		return err
	}

	if err := preflight(cfg); err != nil {
		return err
	}

	ws := workspace.New(cfg.ProjectDir)

	// Restore or create state. --resume insists on an existing snapshot;
	// without it a fresh state is fine.
	store, err := openStore(cfg, ws)
	if err != nil {
		return err
	}

	var phaseFilter []string
	if cfg.Phases != "" {
		phaseFilter, err = config.ParseRange(cfg.Phases)
		if err != nil {
			return err
		}
	}

	gitClient, err := git.NewClient(cfg.ProjectDir)
	if err != nil {
		return err
	}

	port := cfg.Port
	if port == 0 {
		branch, berr := gitClient.CurrentBranch(cmd.Context())
		if berr != nil {
			branch = "main"
		}
		port, err = launcher.AssignPort(branch, 0, nil)
		if err != nil {
			return err
		}
	}
	dashURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	// Wiring: events flow to disk for the standalone dashboard AND into an
	// in-memory tailer feeding this process's own SSE clients.
	events := ipc.NewEventWriter(ws.EventsLog())
	tailer := ipc.NewEventTailer(ws.EventsLog(), logging.Wrap("tailer"))
	questions := agent.NewQuestionHandler()
	agentRunner := agent.NewRunner(agent.Config{
		Command:        cfg.AgentCommand,
		Model:          modelForProfile(cfg.ModelProfile),
		DefaultTimeout: cfg.CommandTimeout(),
	}, questions, logging.Wrap("agent"))

	notifier := notify.NewManager(buildAdapters(cfg), cfg.ReminderInterval(), logging.Wrap("notify"))
	notifier.Init(cmd.Context())

	ap := orchestrator.New(orchestrator.Options{
		Config:       *cfg,
		Paths:        ws,
		Store:        store,
		Events:       events,
		Agent:        agentRunner,
		Questions:    questions,
		Notifier:     notifier,
		Git:          gitClient,
		Logger:       logger,
		DashboardURL: dashURL,
		Broadcast:    tailer.Inject,
	})

	srv := server.New(server.Options{
		State:         storeSource{store},
		Events:        tailer,
		AnswersDir:    ws.AnswersDir(),
		HeartbeatFile: ws.HeartbeatFile(),
		RoadmapPath:   filepath.Join(cfg.ProjectDir, ".planning", "ROADMAP.md"),
		// In-process mode: the shutdown endpoint asks the orchestrator to
		// stop at the next safe point instead of exiting mid-step.
		Exit:   ap.RequestShutdown,
		Logger: logging.Wrap("server"),
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Start(port) }()

	// Give the listener a beat to surface a bind failure before the run
	// proceeds; a busy port is a preflight-class failure.
	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-time.After(150 * time.Millisecond):
	}

	coord := shutdown.New(ap.RequestShutdown, func(int) {}, logger)
	coord.Register(func() { notifier.Close() })
	coord.Register(func() { srv.Close() }) //nolint:errcheck
	coord.Trap()

	runErr := ap.Run(cmd.Context(), cfg.PRDPath, phaseFilter)

	// Drain cleanup handlers (idempotent if a signal already triggered it).
	coord.Trigger()

	if runErr != nil && !errors.Is(runErr, orchestrator.ErrShutdown) {
		return runErr
	}
	return nil
}

// storeSource adapts the in-process Store to the server's StateSource.
type storeSource struct{ store *state.Store }

func (s storeSource) Get() (state.AutopilotState, error) {
	return s.store.Get(), nil
}

// openStore restores the snapshot when present, otherwise starts fresh.
// --resume with no snapshot is an error: there is nothing to resume.
func openStore(cfg *config.Config, ws workspace.Paths) (*state.Store, error) {
	store, err := state.Restore(ws.StateFile())
	if err == nil {
		return store, nil
	}
	if cfg.Resume {
		return nil, fmt.Errorf("cannot resume: %w", err)
	}
	return state.NewStore(ws.StateFile(), state.CreateFresh(cfg.ProjectDir)), nil
}

// preflight validates the environment before any state mutation, so a
// misconfigured run exits 1 with actionable text instead of failing deep
// inside a phase.
func preflight(cfg *config.Config) error {
	if _, err := exec.LookPath(cfg.AgentCommand); err != nil {
		return fmt.Errorf("agent CLI %q not found on PATH: install it or set agentCommand in %s",
			cfg.AgentCommand, config.FileJSON)
	}
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git not found on PATH: the autopilot needs git to track phase commits")
	}
	if cfg.PRDPath != "" {
		if _, err := os.Stat(cfg.PRDPath); err != nil {
			return fmt.Errorf("PRD %q not found: pass --prd with an existing requirements document", cfg.PRDPath)
		}
	}
	return nil
}

// buildAdapters maps the notify configuration onto adapter instances.
// The adapter-path executable rides along regardless of channel.
func buildAdapters(cfg *config.Config) []notify.Adapter {
	var adapters []notify.Adapter
	switch cfg.Notify {
	case config.NotifySystem:
		adapters = append(adapters, notify.NewSystemAdapter())
	case config.NotifySlack:
		adapters = append(adapters, notify.NewWebhookAdapter(cfg.WebhookURL, notify.FormatSlack))
	case config.NotifyTeams:
		adapters = append(adapters, notify.NewWebhookAdapter(cfg.WebhookURL, notify.FormatTeams))
	case config.NotifyWebhook:
		adapters = append(adapters, notify.NewWebhookAdapter(cfg.WebhookURL, notify.FormatGeneric))
	default:
		adapters = append(adapters, notify.NewConsoleAdapter())
	}
	if cfg.AdapterPath != "" {
		adapters = append(adapters, notify.NewExecAdapter(cfg.AdapterPath))
	}
	return adapters
}

// modelForProfile maps the coarse profile to a concrete model identifier.
func modelForProfile(profile string) string {
	switch profile {
	case config.ModelQuality:
		return "opus"
	case config.ModelBudget:
		return "haiku"
	default:
		return "sonnet"
	}
}
