// Package workspace defines the on-disk layout the orchestrator, dashboard,
// and launcher share under a project directory.
//
// All cross-process coupling goes through files in the reserved subdirectory
// .planning/autopilot/: the state snapshot, heartbeat beacon, shutdown
// marker, append-only event log, answer drop-directory, and per-branch PID
// files. Phase planning documents produced by the agent live under
// .planning/phases/.
package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Reserved subdirectories under the project root.
const (
	// AutopilotDir holds all autopilot runtime files.
	AutopilotDir = ".planning/autopilot"

	// PhasesDir holds the per-phase planning documents written by the agent.
	PhasesDir = ".planning/phases"

	// AnswersDirName is the drop-directory for dashboard-delivered answers.
	AnswersDirName = "answers"
)

// Paths resolves the well-known file locations for one project directory.
type Paths struct {
	ProjectDir string
}

// New returns a Paths rooted at projectDir.
func New(projectDir string) Paths {
	return Paths{ProjectDir: projectDir}
}

// Root returns the autopilot runtime directory.
func (p Paths) Root() string {
	return filepath.Join(p.ProjectDir, filepath.FromSlash(AutopilotDir))
}

// StateFile returns the path of the atomic state snapshot.
func (p Paths) StateFile() string {
	return filepath.Join(p.Root(), "state.json")
}

// HeartbeatFile returns the path of the liveness beacon.
func (p Paths) HeartbeatFile() string {
	return filepath.Join(p.Root(), "heartbeat.json")
}

// ShutdownMarker returns the path of the presence-only shutdown marker.
func (p Paths) ShutdownMarker() string {
	return filepath.Join(p.Root(), "shutdown")
}

// EventsLog returns the path of the append-only NDJSON event log.
func (p Paths) EventsLog() string {
	return filepath.Join(p.Root(), "events.ndjson")
}

// AnswersDir returns the answer drop-directory.
func (p Paths) AnswersDir() string {
	return filepath.Join(p.Root(), AnswersDirName)
}

// AnswerFile returns the drop-file path for one question id.
func (p Paths) AnswerFile(questionID string) string {
	return filepath.Join(p.AnswersDir(), questionID+".json")
}

// PIDFile returns the launcher-written PID file for a git branch.
func (p Paths) PIDFile(branch string) string {
	return filepath.Join(p.Root(), SanitizeBranch(branch)+".pid")
}

// PhasesRoot returns the planning-document root for all phases.
func (p Paths) PhasesRoot() string {
	return filepath.Join(p.ProjectDir, filepath.FromSlash(PhasesDir))
}

// PhaseDir returns the on-disk folder for a phase, derived deterministically
// from the phase number and name: "<NN>-<slug>".
func (p Paths) PhaseDir(number, name string) string {
	return filepath.Join(p.PhasesRoot(), PadPhase(number)+"-"+Slugify(name))
}

// AgentConfigFile returns the agent-configuration sidecar path. The sidecar
// is shared with the agent's own tooling, so it lives one level above the
// autopilot directory.
func (p Paths) AgentConfigFile() string {
	return filepath.Join(p.ProjectDir, ".planning", "config.json")
}

// SanitizeBranch converts a git branch name into a filesystem-safe file stem
// by replacing every "/" with "--". "feat/login" becomes "feat--login".
func SanitizeBranch(branch string) string {
	return strings.ReplaceAll(branch, "/", "--")
}

// PadPhase zero-pads the integer part of a phase number to width 2 while
// preserving any decimal part: "3" -> "03", "3.1" -> "03.1", "12.2" -> "12.2".
func PadPhase(number string) string {
	intPart := number
	rest := ""
	if i := strings.IndexByte(number, '.'); i >= 0 {
		intPart = number[:i]
		rest = number[i:]
	}
	for len(intPart) < 2 {
		intPart = "0" + intPart
	}
	return intPart + rest
}

// Slugify converts a phase name into a lowercase hyphenated slug suitable
// for a directory name. Consecutive non-alphanumeric runs collapse into a
// single hyphen; leading and trailing hyphens are trimmed.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// PhaseDocName returns the canonical document filename for a phase, e.g.
// PhaseDocName("3.1", "VERIFICATION") -> "03.1-VERIFICATION.md".
func PhaseDocName(number, kind string) string {
	return fmt.Sprintf("%s-%s.md", PadPhase(number), kind)
}
