package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/NexeraDigital/gsd-autopilot/internal/agent"
	"github.com/NexeraDigital/gsd-autopilot/internal/ipc"
	"github.com/NexeraDigital/gsd-autopilot/internal/notify"
	"github.com/NexeraDigital/gsd-autopilot/internal/state"
)

// runCommand runs one agent command under the retry-once-then-escalate
// policy. timeout zero uses the configured per-command timeout.
//
//  1. Run once; success returns nil.
//  2. A failure with shutdown pending (or an abort result) unwinds as
//     ErrShutdown so the phase loop stops cleanly.
//  3. Otherwise retry exactly once with identical arguments.
//  4. A second failure appends an ErrorRecord, emits an error event with
//     the {retry, skip, abort} options, notifies, and aborts the run.
func (a *Autopilot) runCommand(ctx context.Context, prompt string, phase int, step state.StepValue, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = a.cfg.CommandTimeout()
	}
	opts := agent.RunOpts{
		Cwd:     a.ws.ProjectDir,
		Phase:   phase,
		Step:    string(step),
		Timeout: timeout,
	}

	res, err := a.agent.Run(ctx, prompt, opts)
	if err != nil {
		return fmt.Errorf("running agent command: %w", err)
	}
	if res.Success {
		return nil
	}
	if a.ShutdownRequested() || res.Aborted() {
		return ErrShutdown
	}

	a.logger.Warn("agent command failed, retrying once",
		"phase", phase, "step", step, "error", res.Error)

	res, err = a.agent.Run(ctx, prompt, opts)
	if err != nil {
		return fmt.Errorf("retrying agent command: %w", err)
	}
	if res.Success {
		return nil
	}
	if a.ShutdownRequested() || res.Aborted() {
		return ErrShutdown
	}

	// Second failure: record, surface, abort.
	output := res.Result
	if output == "" {
		output = res.Error
	}
	rec := state.ErrorRecord{
		Timestamp: time.Now().UTC(),
		Phase:     phase,
		Step:      string(step),
		Message:   res.Error,
		Output:    output,
	}
	if perr := a.store.Set(func(s *state.AutopilotState) {
		s.AppendError(rec)
	}); perr != nil {
		a.logger.Warn("persisting error record", "error", perr)
	}

	a.emit(ipc.EventError, map[string]any{
		"phase":   phase,
		"step":    string(step),
		"error":   res.Error,
		"options": []string{"retry", "skip", "abort"},
	})
	a.notify(notify.Notification{
		Title: fmt.Sprintf("Agent failed on phase %d %s", phase, step),
		Body:  res.Error,
		URL:   a.dashURL,
	})

	return fmt.Errorf("%w: phase %d step %s: %s", ErrEscalated, phase, step, res.Error)
}
