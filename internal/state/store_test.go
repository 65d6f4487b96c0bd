package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	return NewStore(path, CreateFresh("/proj"))
}

func TestCreateFresh(t *testing.T) {
	t.Parallel()

	st := CreateFresh("/proj")
	assert.Equal(t, StatusIdle, st.Status)
	assert.Equal(t, 0, st.CurrentPhase)
	assert.Equal(t, StepIdle, st.CurrentStep)
	assert.Empty(t, st.Phases)
	assert.NotNil(t, st.Branches)
	assert.Equal(t, "/proj", st.ProjectDir)
}

func TestStore_SetPersistsAndRestores(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Set(func(s *AutopilotState) {
		s.Status = StatusRunning
		s.CurrentPhase = 2
		s.CurrentStep = StepExecute
		s.Phases = []Phase{{Number: "1", Name: "Foundation", Status: PhaseInProgress, Steps: NewStepSet()}}
	}))

	restored, err := Restore(store.Path())
	require.NoError(t, err)

	got := restored.Get()
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 2, got.CurrentPhase)
	assert.Equal(t, StepExecute, got.CurrentStep)
	require.Len(t, got.Phases, 1)
	assert.Equal(t, "Foundation", got.Phases[0].Name)
}

func TestStore_RoundTripIsStable(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Set(func(s *AutopilotState) {
		s.Phases = []Phase{{
			Number: "3.1", Name: "Follow-ups", Status: PhaseCompleted,
			Steps:       StepSet{Discuss: StepDone, Plan: StepDone, Execute: StepDone, Verify: StepDone},
			StartedAt:   &now,
			CompletedAt: &now,
			Commits:     []Commit{{Hash: "abc123", Message: "add storage"}},
		}}
		s.Branches["feat/x"] = BranchLease{Port: 3901, AssignedAt: now}
	}))

	first, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	// Re-load and re-write without mutating: bytes must be identical.
	restored, err := Restore(store.Path())
	require.NoError(t, err)
	require.NoError(t, restored.Flush())

	second, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestStore_GetReturnsDefensiveCopy(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Set(func(s *AutopilotState) {
		s.Phases = []Phase{{Number: "1", Name: "A", Steps: NewStepSet()}}
	}))

	snapshot := store.Get()
	snapshot.Phases[0].Name = "mutated"
	snapshot.Branches["rogue"] = BranchLease{Port: 1}

	fresh := store.Get()
	assert.Equal(t, "A", fresh.Phases[0].Name)
	assert.NotContains(t, fresh.Branches, "rogue")
}

func TestStore_ReaderNeverSeesTornWrite(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Flush())

	// Hammer writes while a reader re-parses the file: every parse must
	// succeed because rename is atomic.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = store.Set(func(s *AutopilotState) {
				s.CurrentPhase = i
			})
		}
		close(done)
	}()

	for {
		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
		data, err := os.ReadFile(store.Path())
		require.NoError(t, err)
		var st AutopilotState
		require.NoError(t, json.Unmarshal(data, &st), "reader observed a torn snapshot")
	}
}

func TestRestore_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Restore(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestAppendError_BoundsHistoryAndOutput(t *testing.T) {
	t.Parallel()

	var st AutopilotState
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	for i := 0; i < maxErrorHistory+10; i++ {
		st.AppendError(ErrorRecord{Phase: i, Output: string(long)})
	}

	assert.Len(t, st.ErrorHistory, maxErrorHistory)
	// Newest records survive; oldest were dropped.
	assert.Equal(t, 10, st.ErrorHistory[0].Phase)
	assert.Len(t, st.ErrorHistory[0].Output, maxErrorOutput)
}

func TestRemovePendingQuestion(t *testing.T) {
	t.Parallel()

	st := AutopilotState{PendingQuestions: []Question{{ID: "a"}, {ID: "b"}}}

	assert.True(t, st.RemovePendingQuestion("a"))
	assert.Len(t, st.PendingQuestions, 1)
	assert.Nil(t, st.PendingQuestion("a"))

	// Removing again is a no-op.
	assert.False(t, st.RemovePendingQuestion("a"))
	assert.Len(t, st.PendingQuestions, 1)
}

func TestProgress(t *testing.T) {
	t.Parallel()

	var st AutopilotState
	assert.Equal(t, 0, st.Progress(), "zero phases is zero percent")

	st.Phases = []Phase{
		{Steps: StepSet{Discuss: StepDone, Plan: StepDone, Execute: StepDone, Verify: StepDone}},
		{Steps: StepSet{Discuss: StepDone, Plan: StepPlan, Execute: StepIdle, Verify: StepIdle}},
	}
	// 5 of 8 steps done -> 62.5 -> rounds to 63.
	assert.Equal(t, 63, st.Progress())

	st.Phases[1].Steps = StepSet{Discuss: StepDone, Plan: StepDone, Execute: StepDone, Verify: StepDone}
	assert.Equal(t, 100, st.Progress())
}
