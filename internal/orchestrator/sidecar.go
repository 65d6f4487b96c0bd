package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/NexeraDigital/gsd-autopilot/internal/config"
	"github.com/NexeraDigital/gsd-autopilot/internal/state"
)

// writeAgentSidecar merges the autopilot-owned keys (model_profile,
// research, plan_checker, verifier, parallelization) into the agent
// configuration sidecar, creating it when absent. Foreign keys already in
// the file survive untouched.
func (a *Autopilot) writeAgentSidecar() error {
	path := a.ws.AgentConfigFile()

	doc := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing existing sidecar %q: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading sidecar %q: %w", path, err)
	}

	for k, v := range a.sidecarValues() {
		doc[k] = v
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sidecar: %w", err)
	}
	return state.WriteFileAtomic(path, append(data, '\n'))
}

// sidecarValues derives the owned keys from the configuration. Deeper
// planning buys research and the plan checker; parallelization scales with
// depth.
func (a *Autopilot) sidecarValues() map[string]any {
	parallel := 2
	switch a.cfg.Depth {
	case config.DepthQuick:
		parallel = 1
	case config.DepthComprehensive:
		parallel = 4
	}

	return map[string]any{
		"model_profile":   a.cfg.ModelProfile,
		"research":        a.cfg.Depth == config.DepthComprehensive,
		"plan_checker":    a.cfg.Depth != config.DepthQuick,
		"verifier":        !a.cfg.SkipVerify,
		"parallelization": parallel,
	}
}
