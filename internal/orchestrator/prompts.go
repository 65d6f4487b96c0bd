package orchestrator

import "fmt"

// Prompt builders for the agent's GSD commands. The command vocabulary is
// the contract with the agent's prompt pack; the orchestrator only decides
// which command to issue and with which modifiers.

func projectInitPrompt(prdPath, depth string) string {
	return fmt.Sprintf("/gsd:new-project --prd %s --depth %s", prdPath, depth)
}

func discussPrompt(number string) string {
	return fmt.Sprintf("/gsd:discuss-phase %s", number)
}

func planPrompt(number string, gaps bool) string {
	if gaps {
		return fmt.Sprintf("/gsd:plan-phase %s --gaps", number)
	}
	return fmt.Sprintf("/gsd:plan-phase %s", number)
}

func executePrompt(number string, gapsOnly bool) string {
	if gapsOnly {
		return fmt.Sprintf("/gsd:execute-phase %s --gaps-only", number)
	}
	return fmt.Sprintf("/gsd:execute-phase %s", number)
}

func verifyPrompt(number string) string {
	return fmt.Sprintf("/gsd:verify-phase %s", number)
}
