package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NexeraDigital/gsd-autopilot/internal/roadmap"
	"github.com/NexeraDigital/gsd-autopilot/internal/state"
)

// roadmapFile is the planning document the agent produces during
// project-init, relative to the project root.
const roadmapFile = ".planning/ROADMAP.md"

// projectInit bootstraps a fresh project: ensure a git repository exists,
// run the agent's planning command under the extended timeout, then parse
// the produced roadmap into the phase plan. A roadmap that yields no
// phases is fatal; the orchestrator cannot proceed without a plan.
func (a *Autopilot) projectInit(ctx context.Context, prdPath string) error {
	a.logger.Info("running project-init", "prd", prdPath)

	if a.git != nil {
		if err := a.git.EnsureRepo(ctx); err != nil {
			return fmt.Errorf("project-init: %w", err)
		}
	}

	err := a.runCommand(ctx, projectInitPrompt(prdPath, a.cfg.Depth), 0, "init", a.cfg.PlanningTimeout())
	if err != nil {
		return err
	}

	phases, err := a.loadRoadmap()
	if err != nil {
		return err
	}

	a.logger.Info("roadmap parsed", "phases", len(phases))
	return a.store.Set(func(s *state.AutopilotState) {
		s.Phases = phases
		s.CurrentPhase = 1
		s.CurrentStep = state.StepIdle
	})
}

// loadRoadmap reads and parses the roadmap into fresh Phase records.
// Phases the roadmap already marks completed arrive with all steps done so
// the phase loop skips them.
func (a *Autopilot) loadRoadmap() ([]state.Phase, error) {
	path := filepath.Join(a.ws.ProjectDir, filepath.FromSlash(roadmapFile))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roadmap %q: %w", path, err)
	}

	parsed := roadmap.ParseRoadmap(string(data))
	if len(parsed) == 0 {
		return nil, fmt.Errorf("roadmap %q contains no phases", path)
	}

	phases := make([]state.Phase, 0, len(parsed))
	for _, p := range parsed {
		ph := state.Phase{
			Number:  p.Number,
			Name:    p.Name,
			Status:  state.PhasePending,
			Steps:   state.NewStepSet(),
			Commits: []state.Commit{},
		}
		if p.Completed {
			ph.Status = state.PhaseCompleted
			for _, stepName := range state.StepNames {
				ph.Steps.Set(stepName, state.StepDone)
			}
		}
		phases = append(phases, ph)
	}
	return phases, nil
}
