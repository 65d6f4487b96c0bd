// Package orchestrator drives the Discuss -> Plan -> Execute -> Verify
// pipeline end-to-end.
//
// The state machine is resume-aware at step granularity: every step
// persists before it advances, so a crash or shutdown re-enters at exactly
// the step the orchestrator intended to execute. Verification failures
// feed a bounded gap-detection loop; agent failures retry once and then
// escalate.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/NexeraDigital/gsd-autopilot/internal/agent"
	"github.com/NexeraDigital/gsd-autopilot/internal/config"
	"github.com/NexeraDigital/gsd-autopilot/internal/git"
	"github.com/NexeraDigital/gsd-autopilot/internal/ipc"
	"github.com/NexeraDigital/gsd-autopilot/internal/notify"
	"github.com/NexeraDigital/gsd-autopilot/internal/roadmap"
	"github.com/NexeraDigital/gsd-autopilot/internal/state"
	"github.com/NexeraDigital/gsd-autopilot/internal/workspace"
)

// ErrShutdown unwinds the phase loop when a cooperative shutdown was
// requested. It is not a failure: the interrupted phase keeps its progress
// and the run resumes at the same step next time.
var ErrShutdown = errors.New("shutdown requested")

// ErrEscalated aborts the run after an agent command failed twice and the
// failure was recorded and surfaced.
var ErrEscalated = errors.New("agent command escalated after retry")

// AgentRunner is the supervisor surface the orchestrator needs: run one
// command, or abort the in-flight one. *agent.Runner satisfies it; tests
// substitute a scripted fake.
type AgentRunner interface {
	Run(ctx context.Context, prompt string, opts agent.RunOpts) (*agent.CommandResult, error)
	Abort()
}

// orchLogger is the minimal logging interface the orchestrator needs.
type orchLogger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Config    config.Config
	Paths     workspace.Paths
	Store     *state.Store
	Events    *ipc.EventWriter
	Agent     AgentRunner
	Questions *agent.QuestionHandler
	Notifier  *notify.Manager
	Git       *git.Client
	Logger    orchLogger

	// DashboardURL is included in question notifications so a human can
	// jump straight to the answer form.
	DashboardURL string

	// Broadcast, when non-nil, receives every written event for in-process
	// delivery to the dashboard server (bypassing the disk round-trip).
	Broadcast func(ipc.Event)
}

// Autopilot is the orchestration kernel.
type Autopilot struct {
	cfg       config.Config
	ws        workspace.Paths
	store     *state.Store
	events    *ipc.EventWriter
	agent     AgentRunner
	questions *agent.QuestionHandler
	notifier  *notify.Manager
	git       *git.Client
	logger    orchLogger
	dashURL   string
	broadcast func(ipc.Event)

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New creates an Autopilot and wires the question handler's persistence and
// notification side effects.
func New(opts Options) *Autopilot {
	a := &Autopilot{
		cfg:        opts.Config,
		ws:         opts.Paths,
		store:      opts.Store,
		events:     opts.Events,
		agent:      opts.Agent,
		questions:  opts.Questions,
		notifier:   opts.Notifier,
		git:        opts.Git,
		logger:     opts.Logger,
		dashURL:    opts.DashboardURL,
		broadcast:  opts.Broadcast,
		shutdownCh: make(chan struct{}),
	}

	if a.questions != nil {
		a.questions.OnPending = a.onQuestionPending
		a.questions.OnAnswered = a.onQuestionAnswered
	}
	return a
}

// RequestShutdown sets the shutdown flag and aborts any in-flight agent
// command, which also rejects pending questions so the subprocess stream
// unwinds. Safe to call more than once.
func (a *Autopilot) RequestShutdown() {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutdown requested")
		close(a.shutdownCh)
		if a.agent != nil {
			a.agent.Abort()
		}
	})
}

// ShutdownRequested reports whether a shutdown is pending.
func (a *Autopilot) ShutdownRequested() bool {
	select {
	case <-a.shutdownCh:
		return true
	default:
		return false
	}
}

// Run executes the full pipeline: sidecar write, project-init when needed,
// then the phase loop. phaseFilter, when non-empty, restricts which phase
// numbers run (see config.ParseRange).
func (a *Autopilot) Run(ctx context.Context, prdPath string, phaseFilter []string) error {
	if err := a.writeAgentSidecar(); err != nil {
		return fmt.Errorf("writing agent sidecar: %w", err)
	}

	// Background pollers live for the duration of the run.
	pollCtx, stopPollers := context.WithCancel(ctx)
	defer stopPollers()

	g, gctx := errgroup.WithContext(pollCtx)
	g.Go(func() error {
		hw := ipc.NewHeartbeatWriter(a.ws.HeartbeatFile(), func() string {
			st := a.store.Get()
			return string(st.Status)
		}, a.logger)
		hw.Run(gctx) //nolint:errcheck
		return nil
	})
	g.Go(func() error {
		poller := ipc.NewAnswerPoller(a.ws.AnswersDir(), a.questions.Submit, a.logger)
		poller.Run(gctx) //nolint:errcheck
		return nil
	})
	g.Go(func() error {
		ipc.WatchShutdownMarker(gctx, a.ws.ShutdownMarker(), a.RequestShutdown) //nolint:errcheck
		return nil
	})
	defer func() {
		stopPollers()
		g.Wait() //nolint:errcheck
	}()

	if err := a.store.Set(func(st *state.AutopilotState) {
		st.Status = state.StatusRunning
	}); err != nil {
		return err
	}

	// Project-init: phase zero means the roadmap has not been produced yet.
	if a.store.Get().CurrentPhase == 0 {
		if err := a.projectInit(ctx, prdPath); err != nil {
			if errors.Is(err, ErrShutdown) {
				return a.persistIdle()
			}
			a.persistError() //nolint:errcheck
			return err
		}
	}

	if err := a.phaseLoop(ctx, phaseFilter); err != nil {
		if errors.Is(err, ErrShutdown) {
			return a.persistIdle()
		}
		a.persistError() //nolint:errcheck
		return err
	}

	if a.ShutdownRequested() {
		return a.persistIdle()
	}

	a.emit(ipc.EventBuildComplete, map[string]any{})
	a.notify(notify.Notification{
		Title: "Build complete",
		Body:  "All phases finished.",
		URL:   a.dashURL,
	})
	return a.store.Set(func(st *state.AutopilotState) {
		st.Status = state.StatusComplete
		st.CurrentStep = state.StepDone
	})
}

// phaseLoop iterates the roadmap phases, skipping completed and filtered
// ones, and re-checks the shutdown flag at each boundary.
func (a *Autopilot) phaseLoop(ctx context.Context, phaseFilter []string) error {
	snapshot := a.store.Get()
	prefix := completedPrefix(snapshot.Phases)

	for idx := range snapshot.Phases {
		if a.ShutdownRequested() {
			return ErrShutdown
		}

		// Re-read: earlier phases mutate state (gap loops, commits).
		st := a.store.Get()
		ph := st.Phases[idx]

		if ph.Status == state.PhaseCompleted || ph.Status == state.PhaseSkipped {
			continue
		}
		if len(phaseFilter) > 0 && !config.RangeContains(phaseFilter, ph.Number) {
			a.logger.Debug("phase outside filter, skipping", "phase", ph.Number)
			continue
		}
		if v, err := roadmap.NumberValue(ph.Number); err == nil && v <= prefix {
			continue
		}

		if err := a.runPhase(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

// completedPrefix returns the highest phase-number value in the contiguous
// run of completed phases at the front of the plan, or 0.
func completedPrefix(phases []state.Phase) float64 {
	prefix := 0.0
	for i := range phases {
		if phases[i].Status != state.PhaseCompleted {
			break
		}
		if v, err := roadmap.NumberValue(phases[i].Number); err == nil && v > prefix {
			prefix = v
		}
	}
	return prefix
}

// persistIdle records a clean cooperative stop.
func (a *Autopilot) persistIdle() error {
	a.logger.Info("stopping at a safe point")
	return a.store.Set(func(st *state.AutopilotState) {
		st.Status = state.StatusIdle
	})
}

// persistError records a failed run.
func (a *Autopilot) persistError() error {
	return a.store.Set(func(st *state.AutopilotState) {
		st.Status = state.StatusError
	})
}

// emit writes one event row, mirrors it to the in-process broadcast when
// configured, and logs (but otherwise swallows) write failures: the event
// log is best-effort by contract.
func (a *Autopilot) emit(kind string, data map[string]any) {
	ev, err := a.events.Write(kind, data)
	if err != nil {
		a.logger.Debug("event write failed", "event", kind, "error", err)
	}
	if a.broadcast != nil {
		a.broadcast(ev)
	}
}

// notify fans a notification out without ever failing the run.
func (a *Autopilot) notify(n notify.Notification) {
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(context.Background(), n)
}

// onQuestionPending persists the new question, surfaces it, and schedules a
// reminder.
func (a *Autopilot) onQuestionPending(q state.Question) {
	if err := a.store.Set(func(st *state.AutopilotState) {
		st.PendingQuestions = append(st.PendingQuestions, q)
		st.Status = state.StatusWaitingForHuman
	}); err != nil {
		a.logger.Warn("persisting pending question", "id", q.ID, "error", err)
	}

	a.emit(ipc.EventQuestionPending, map[string]any{
		"id":        q.ID,
		"phase":     q.Phase,
		"step":      q.Step,
		"items":     q.Items,
		"createdAt": q.CreatedAt,
	})

	n := notify.Notification{
		Title:      "The agent has a question",
		Body:       questionSummary(q),
		QuestionID: q.ID,
		URL:        a.dashURL,
	}
	a.notify(n)
	if a.notifier != nil {
		a.notifier.RemindLater(q.ID, n)
	}
}

// onQuestionAnswered removes the question from the pending list (at most
// once), cancels its reminder, and resumes running status.
func (a *Autopilot) onQuestionAnswered(id string, answers map[string]string) {
	if err := a.store.Set(func(st *state.AutopilotState) {
		st.RemovePendingQuestion(id)
		if len(st.PendingQuestions) == 0 && st.Status == state.StatusWaitingForHuman {
			st.Status = state.StatusRunning
		}
	}); err != nil {
		a.logger.Warn("persisting answered question", "id", id, "error", err)
	}

	a.emit(ipc.EventQuestionAnswered, map[string]any{
		"id":      id,
		"answers": answers,
	})
	if a.notifier != nil {
		a.notifier.CancelReminder(id)
	}
}

func questionSummary(q state.Question) string {
	if len(q.Items) == 0 {
		return ""
	}
	first := q.Items[0].Question
	if len(q.Items) == 1 {
		return first
	}
	return fmt.Sprintf("%s (+%d more)", first, len(q.Items)-1)
}
