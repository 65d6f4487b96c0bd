package roadmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoadmap_Basic(t *testing.T) {
	t.Parallel()

	text := `# Roadmap

- [x] **Phase 1: Foundation**
- [ ] **Phase 2: Storage Layer**
- [x] **Phase 3.1: Storage Follow-ups**
Some prose in between.
- [_] **Phase 4: Polish**
`
	phases := ParseRoadmap(text)
	require.Len(t, phases, 4)

	assert.Equal(t, "1", phases[0].Number)
	assert.Equal(t, "Foundation", phases[0].Name)
	assert.True(t, phases[0].Completed)

	assert.Equal(t, "2", phases[1].Number)
	assert.False(t, phases[1].Completed)

	assert.Equal(t, "3.1", phases[2].Number)
	assert.Equal(t, "Storage Follow-ups", phases[2].Name)
	assert.True(t, phases[2].Completed)

	assert.Equal(t, "4", phases[3].Number)
	assert.False(t, phases[3].Completed)
}

func TestParseRoadmap_IgnoresNonMatchingLines(t *testing.T) {
	t.Parallel()

	text := `- [x] Phase 1: no bold markers
- **Phase 2: no checkbox**
* [x] **Phase 3: wrong bullet**
`
	assert.Empty(t, ParseRoadmap(text))
}

func TestParseRoadmap_PreservesNameCase(t *testing.T) {
	t.Parallel()

	phases := ParseRoadmap("- [ ] **Phase 1: HTTP API & SSE**")
	require.Len(t, phases, 1)
	assert.Equal(t, "HTTP API & SSE", phases[0].Name)
}

func TestNumberValue(t *testing.T) {
	t.Parallel()

	v, err := NumberValue("3.1")
	require.NoError(t, err)
	assert.InDelta(t, 3.1, v, 1e-9)

	_, err = NumberValue("abc")
	assert.Error(t, err)
}

func TestParseMilestones_Table(t *testing.T) {
	t.Parallel()

	text := `| Metric | Count |
|---|---|
| Phases | 7 |
| Phases completed | 3 |
| Plans | 12 |
`
	c := ParseMilestones(text)
	assert.Equal(t, 7, c.Phases)
	assert.Equal(t, 3, c.PhasesCompleted)
	assert.Equal(t, 12, c.Plans)
}

func TestParseMilestones_FallsBackToChecklist(t *testing.T) {
	t.Parallel()

	text := `- [x] **Phase 1: A**
- [ ] **Phase 2: B**
`
	c := ParseMilestones(text)
	assert.Equal(t, 2, c.Phases)
	assert.Equal(t, 1, c.PhasesCompleted)
}

// ---- gap predicate ----------------------------------------------------------

func writePhaseDoc(t *testing.T, root, dir, name, content string) {
	t.Helper()
	full := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(full, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(full, name), []byte(content), 0644))
}

func TestCheckForGaps_VerificationGapsFound(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePhaseDoc(t, root, "03-storage", "03-VERIFICATION.md", "Result: GAPS_FOUND\n")

	gaps, err := CheckForGaps(root, "3")
	require.NoError(t, err)
	assert.True(t, gaps)
}

func TestCheckForGaps_VerificationPassed(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePhaseDoc(t, root, "03-storage", "03-VERIFICATION.md", "Result: passed\n")

	gaps, err := CheckForGaps(root, "3")
	require.NoError(t, err)
	assert.False(t, gaps)
}

func TestCheckForGaps_FallsBackToUAT(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePhaseDoc(t, root, "02-api", "02-UAT.md", "Case 3: Issue Found\n")

	gaps, err := CheckForGaps(root, "2")
	require.NoError(t, err)
	assert.True(t, gaps)
}

func TestCheckForGaps_UATClean(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePhaseDoc(t, root, "02-api", "02-UAT.md", "All cases passed fine.\n")

	gaps, err := CheckForGaps(root, "2")
	require.NoError(t, err)
	assert.False(t, gaps)
}

func TestCheckForGaps_NoDocumentsMeansNoGaps(t *testing.T) {
	t.Parallel()

	gaps, err := CheckForGaps(t.TempDir(), "5")
	require.NoError(t, err)
	assert.False(t, gaps)
}

func TestCheckForGaps_DecimalPhaseNumber(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePhaseDoc(t, root, "03.1-followups", "03.1-VERIFICATION.md", "gaps_found\n")

	gaps, err := CheckForGaps(root, "3.1")
	require.NoError(t, err)
	assert.True(t, gaps)
}

func TestCheckForGaps_IndicatorlessVerificationFallsThrough(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePhaseDoc(t, root, "04-x", "04-VERIFICATION.md", "nothing conclusive here\n")
	writePhaseDoc(t, root, "04-x", "04-UAT.md", "FAIL: button broken\n")

	gaps, err := CheckForGaps(root, "4")
	require.NoError(t, err)
	assert.True(t, gaps)
}
