// Package roadmap parses the markdown planning documents the agent
// produces: the roadmap's phase checklist, milestone progress counters, and
// the verification/UAT gap indicators that drive the re-plan loop.
//
// All parsers are pure string functions, deterministic and dependency-free
// except for document discovery, which globs the phase directories.
package roadmap

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParsedPhase is one entry of the roadmap's phase checklist.
type ParsedPhase struct {
	Number    string
	Name      string
	Completed bool
}

// rePhaseLine matches roadmap checklist lines of the form
//
//	- [x] **Phase 3: Storage layer**
//	- [ ] **Phase 3.1: Storage follow-ups**
//
// An 'x' (either case) in the checkbox means completed; a space or
// underscore means pending. Decimal phase numbers are permitted.
var rePhaseLine = regexp.MustCompile(`^\s*-\s*\[([ xX_])\]\s*\*\*Phase\s+(\d+(?:\.\d+)*)\s*:\s*(.+?)\*\*`)

// ParseRoadmap extracts ordered phases from roadmap markdown. Lines that do
// not match the checklist shape are ignored; phase names are preserved
// case-sensitively. An empty result is not an error — callers decide
// whether a roadmap without phases is fatal.
func ParseRoadmap(text string) []ParsedPhase {
	var phases []ParsedPhase
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		m := rePhaseLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		phases = append(phases, ParsedPhase{
			Number:    m[2],
			Name:      strings.TrimSpace(m[3]),
			Completed: m[1] == "x" || m[1] == "X",
		})
	}
	return phases
}

// NumberValue converts a phase number string to its numeric value for
// ordering and range checks. "3.1" -> 3.1. Invalid numbers yield an error.
func NumberValue(number string) (float64, error) {
	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing phase number %q: %w", number, err)
	}
	return v, nil
}
