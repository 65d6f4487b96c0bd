package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/NexeraDigital/gsd-autopilot/internal/ipc"
	"github.com/NexeraDigital/gsd-autopilot/internal/state"
	"github.com/NexeraDigital/gsd-autopilot/internal/workspace"
)

// runPhase executes the four steps of one phase, resume-aware: a step whose
// stored value is already done is not re-run, and phase-started is emitted
// only on the transition into in_progress (so a resume does not re-emit).
func (a *Autopilot) runPhase(ctx context.Context, idx int) error {
	st := a.store.Get()
	ph := st.Phases[idx]
	position := idx + 1

	headBefore := ""
	if a.git != nil {
		headBefore = a.git.Head(ctx)
	}

	if ph.Status != state.PhaseInProgress {
		now := time.Now().UTC()
		if err := a.store.Set(func(s *state.AutopilotState) {
			p := &s.Phases[idx]
			p.Status = state.PhaseInProgress
			if p.StartedAt == nil {
				p.StartedAt = &now
			}
			s.CurrentPhase = position
		}); err != nil {
			return err
		}
		a.emit(ipc.EventPhaseStarted, map[string]any{
			"phase": position,
			"name":  ph.Name,
		})
	}

	a.logger.Info("running phase", "phase", ph.Number, "name", ph.Name)

	// discuss
	if a.stepValue(idx, state.StepDiscuss) != state.StepDone {
		work := a.discussWork(idx, ph)
		if err := a.runStep(ctx, idx, state.StepDiscuss, work); err != nil {
			return err
		}
	}

	// plan
	if a.stepValue(idx, state.StepPlan) != state.StepDone {
		work := func(ctx context.Context) error {
			return a.runCommand(ctx, planPrompt(ph.Number, false), position, state.StepPlan, 0)
		}
		if err := a.runStep(ctx, idx, state.StepPlan, work); err != nil {
			return err
		}
	}

	// execute
	if a.stepValue(idx, state.StepExecute) != state.StepDone {
		work := func(ctx context.Context) error {
			return a.runCommand(ctx, executePrompt(ph.Number, false), position, state.StepExecute, 0)
		}
		if err := a.runStep(ctx, idx, state.StepExecute, work); err != nil {
			return err
		}
	}

	// verify, with the gap-detection loop
	if !a.cfg.SkipVerify {
		if err := a.verifyWithGapLoop(ctx, idx); err != nil {
			return err
		}
		// An escalated gap loop leaves verify not-done; the phase stays
		// in_progress for a human to pick up.
		if a.stepValue(idx, state.StepVerify) != state.StepDone {
			return nil
		}
	}

	if a.ShutdownRequested() {
		return ErrShutdown
	}

	// All steps done: attach the commits produced during the phase and
	// close it out.
	var commits []state.Commit
	if a.git != nil {
		logged, err := a.git.RecentCommits(ctx, headBefore, 50)
		if err != nil {
			a.logger.Debug("collecting phase commits", "error", err)
		}
		for _, c := range logged {
			commits = append(commits, state.Commit{Hash: c.Hash, Message: c.Message})
		}
	}

	now := time.Now().UTC()
	if err := a.store.Set(func(s *state.AutopilotState) {
		p := &s.Phases[idx]
		p.Status = state.PhaseCompleted
		p.CompletedAt = &now
		if len(commits) > 0 {
			p.Commits = append(p.Commits, commits...)
		}
	}); err != nil {
		return err
	}
	a.emit(ipc.EventPhaseCompleted, map[string]any{
		"phase": position,
		"name":  ph.Name,
	})
	return nil
}

// runStep is the persist-before-advance wrapper around one step's work.
//
//  1. A pending shutdown stops before any side effect.
//  2. step-started is emitted, the step slot takes the step's own name,
//     currentPhase/currentStep move, and the state is persisted BEFORE the
//     work function runs, so a crash resumes at exactly this step.
//  3. Work that unwound because of shutdown persists idle and stops; the
//     step does not advance.
//  4. Otherwise the slot flips to done, persists, and step-completed is
//     emitted.
func (a *Autopilot) runStep(ctx context.Context, idx int, step state.StepValue, work func(context.Context) error) error {
	position := idx + 1

	if a.ShutdownRequested() {
		return ErrShutdown
	}

	a.emit(ipc.EventStepStarted, map[string]any{
		"phase": position,
		"step":  string(step),
	})
	if err := a.store.Set(func(s *state.AutopilotState) {
		s.Phases[idx].Steps.Set(step, step)
		s.CurrentPhase = position
		s.CurrentStep = step
	}); err != nil {
		return err
	}

	if err := work(ctx); err != nil {
		return err
	}

	// Never complete-and-advance after a shutdown request, even if the
	// work itself finished.
	if a.ShutdownRequested() {
		return ErrShutdown
	}

	if err := a.store.Set(func(s *state.AutopilotState) {
		s.Phases[idx].Steps.Set(step, state.StepDone)
	}); err != nil {
		return err
	}
	a.emit(ipc.EventStepCompleted, map[string]any{
		"phase": position,
		"step":  string(step),
	})
	return nil
}

// stepValue reads one step slot from the current snapshot.
func (a *Autopilot) stepValue(idx int, step state.StepValue) state.StepValue {
	st := a.store.Get()
	if idx >= len(st.Phases) {
		return state.StepIdle
	}
	return st.Phases[idx].Steps.Get(step)
}

// discussWork returns the discuss step's work function. With skipDiscuss a
// canned context document is derived deterministically from the phase
// number and name instead of invoking the agent.
func (a *Autopilot) discussWork(idx int, ph state.Phase) func(context.Context) error {
	position := idx + 1
	if !a.cfg.SkipDiscuss {
		return func(ctx context.Context) error {
			return a.runCommand(ctx, discussPrompt(ph.Number), position, state.StepDiscuss, 0)
		}
	}
	return func(ctx context.Context) error {
		return a.writeCannedContext(ph)
	}
}

// writeCannedContext writes "<NN>-CONTEXT.md" into the phase directory with
// deterministic content so the plan step has a context document to read.
func (a *Autopilot) writeCannedContext(ph state.Phase) error {
	dir := a.ws.PhaseDir(ph.Number, ph.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating phase directory %q: %w", dir, err)
	}

	doc := fmt.Sprintf(
		"# Phase %s: %s\n\n"+
			"Discussion skipped by configuration. Plan this phase directly from\n"+
			"the roadmap entry and the project requirements.\n",
		workspace.PadPhase(ph.Number), ph.Name,
	)
	path := dir + string(os.PathSeparator) + workspace.PhaseDocName(ph.Number, "CONTEXT")
	return state.WriteFileAtomic(path, []byte(doc))
}
