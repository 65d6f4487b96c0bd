package orchestrator

import (
	"context"

	"github.com/NexeraDigital/gsd-autopilot/internal/ipc"
	"github.com/NexeraDigital/gsd-autopilot/internal/roadmap"
	"github.com/NexeraDigital/gsd-autopilot/internal/state"
)

// maxGapIterations bounds the verify -> re-plan -> re-execute cycle.
const maxGapIterations = 3

// verifyWithGapLoop runs the verify step under the gap-detection loop.
//
// Each iteration runs verify (step-wrapped, so it persists and resumes like
// any other step), then inspects the phase's verification and UAT documents.
// Gaps trigger a re-plan and gaps-only re-execute, bump gapIterations,
// reset the verify slot to idle, and go around again. After three gap-found
// iterations the loop escalates to a human instead of marking the phase
// failed: a log-entry event records the exhaustion and the verify slot
// stays open.
func (a *Autopilot) verifyWithGapLoop(ctx context.Context, idx int) error {
	st := a.store.Get()
	ph := st.Phases[idx]
	position := idx + 1

	for iter := 1; iter <= maxGapIterations; iter++ {
		if a.stepValue(idx, state.StepVerify) != state.StepDone {
			work := func(ctx context.Context) error {
				return a.runCommand(ctx, verifyPrompt(ph.Number), position, state.StepVerify, 0)
			}
			if err := a.runStep(ctx, idx, state.StepVerify, work); err != nil {
				return err
			}
		}

		gaps, err := roadmap.CheckForGaps(a.ws.PhasesRoot(), ph.Number)
		if err != nil {
			// Malformed content already reads as "no gap indicators"
			// inside CheckForGaps; an error here is a failure to read a
			// document, which is also treated as no gaps.
			a.logger.Warn("gap check failed, treating as no gaps", "phase", ph.Number, "error", err)
			gaps = false
		}
		if !gaps {
			return nil
		}

		a.logger.Info("verification found gaps, re-planning",
			"phase", ph.Number, "iteration", iter)

		if err := a.runCommand(ctx, planPrompt(ph.Number, true), position, state.StepPlan, 0); err != nil {
			return err
		}
		if err := a.runCommand(ctx, executePrompt(ph.Number, true), position, state.StepExecute, 0); err != nil {
			return err
		}

		if err := a.store.Set(func(s *state.AutopilotState) {
			p := &s.Phases[idx]
			p.GapIterations++
			p.Steps.Set(state.StepVerify, state.StepIdle)
		}); err != nil {
			return err
		}
	}

	iterations := a.store.Get().Phases[idx].GapIterations
	a.logger.Warn("gap loop exhausted, escalating to human",
		"phase", ph.Number, "iterations", iterations)
	a.emit(ipc.EventLogEntry, map[string]any{
		"kind":       "gap-escalated",
		"level":      "warn",
		"message":    "gap detection exhausted without a clean verification",
		"phase":      position,
		"iterations": iterations,
	})
	return nil
}
