package roadmap

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
)

// Counters summarize planning progress for the dashboard's read-only
// milestone view.
type Counters struct {
	Phases          int `json:"phases"`
	PhasesCompleted int `json:"phasesCompleted"`
	Plans           int `json:"plans"`
}

// reTableCounter matches progress-table rows of the form
//
//	| Phases | 7 |
//	| Phases completed | 3 |
//	| Plans | 12 |
//
// matching is case-insensitive on the label.
var reTableCounter = regexp.MustCompile(`(?i)^\s*\|\s*(phases completed|phases|plans)\s*\|\s*(\d+)\s*\|`)

// ParseMilestones extracts progress counters from milestone markdown.
// Table rows win when present; otherwise the counters are derived from the
// roadmap checklist itself.
func ParseMilestones(text string) Counters {
	var c Counters
	sawTable := false

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		m := reTableCounter.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		sawTable = true
		switch strings.ToLower(m[1]) {
		case "phases":
			c.Phases = n
		case "phases completed":
			c.PhasesCompleted = n
		case "plans":
			c.Plans = n
		}
	}

	if !sawTable {
		for _, p := range ParseRoadmap(text) {
			c.Phases++
			if p.Completed {
				c.PhasesCompleted++
			}
		}
	}
	return c
}
