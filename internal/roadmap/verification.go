package roadmap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/NexeraDigital/gsd-autopilot/internal/workspace"
)

// Verification gap indicators. The verification document wins when present;
// otherwise the UAT document is inspected; absent both, there are no gaps.
const (
	markerGapsFound = "gaps_found"
	markerPassed    = "passed"
)

// CheckForGaps inspects the phase's verification and UAT documents under
// phasesRoot and reports whether the verifier found gaps.
//
// Predicate, in order:
//   - verification contains "gaps_found"/"GAPS_FOUND" -> gaps
//   - verification contains "passed"/"PASSED" -> no gaps
//   - verification absent -> UAT contains "FAIL" or "Issue Found" -> gaps
//   - otherwise -> no gaps
//
// A present-but-indicatorless verification document is treated the same as
// carrying no gap indicators and falls through to the UAT check.
func CheckForGaps(phasesRoot, number string) (bool, error) {
	verification, vErr := readPhaseDoc(phasesRoot, number, "VERIFICATION")
	if vErr == nil {
		lower := strings.ToLower(verification)
		if strings.Contains(lower, markerGapsFound) {
			return true, nil
		}
		if strings.Contains(lower, markerPassed) {
			return false, nil
		}
	} else if !os.IsNotExist(vErr) {
		return false, fmt.Errorf("reading verification for phase %s: %w", number, vErr)
	}

	uat, uErr := readPhaseDoc(phasesRoot, number, "UAT")
	if uErr != nil {
		if os.IsNotExist(uErr) {
			return false, nil
		}
		return false, fmt.Errorf("reading UAT for phase %s: %w", number, uErr)
	}
	if strings.Contains(uat, "FAIL") || strings.Contains(uat, "Issue Found") {
		return true, nil
	}
	return false, nil
}

// readPhaseDoc locates and reads "<NN>-<kind>.md" for a phase. The phase
// directory is discovered by glob ("<NN>-*/") because its slug suffix comes
// from the phase name and may drift between roadmap revisions.
func readPhaseDoc(phasesRoot, number, kind string) (string, error) {
	padded := workspace.PadPhase(number)
	docName := workspace.PhaseDocName(number, kind)

	pattern := padded + "-*/" + docName
	matches, err := doublestar.Glob(os.DirFS(phasesRoot), pattern)
	if err != nil {
		return "", fmt.Errorf("globbing %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		// Also accept the document directly under the phases root.
		direct := filepath.Join(phasesRoot, docName)
		data, err := os.ReadFile(direct)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	data, err := os.ReadFile(filepath.Join(phasesRoot, filepath.FromSlash(matches[0])))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
