package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NexeraDigital/gsd-autopilot/internal/agent"
	"github.com/NexeraDigital/gsd-autopilot/internal/config"
	"github.com/NexeraDigital/gsd-autopilot/internal/ipc"
	"github.com/NexeraDigital/gsd-autopilot/internal/logging"
	"github.com/NexeraDigital/gsd-autopilot/internal/state"
	"github.com/NexeraDigital/gsd-autopilot/internal/workspace"
)

// scriptedAgent is an AgentRunner whose outcomes are keyed by prompt. Each
// call pops the next queued result for its prompt; prompts with no queue
// succeed. All invocations are recorded.
type scriptedAgent struct {
	mu      sync.Mutex
	queues  map[string][]*agent.CommandResult
	calls   []string
	onCall  func(prompt string)
	aborted bool
}

func newScriptedAgent() *scriptedAgent {
	return &scriptedAgent{queues: map[string][]*agent.CommandResult{}}
}

func (f *scriptedAgent) queue(prompt string, results ...*agent.CommandResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[prompt] = append(f.queues[prompt], results...)
}

func (f *scriptedAgent) Run(_ context.Context, prompt string, _ agent.RunOpts) (*agent.CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, prompt)
	var res *agent.CommandResult
	if q := f.queues[prompt]; len(q) > 0 {
		res = q[0]
		f.queues[prompt] = q[1:]
	}
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(prompt)
	}
	if res != nil {
		return res, nil
	}
	return &agent.CommandResult{Success: true, Result: "ok"}, nil
}

func (f *scriptedAgent) Abort() {
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
}

func (f *scriptedAgent) count(prompt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == prompt {
			n++
		}
	}
	return n
}

func failure(msg string) *agent.CommandResult {
	return &agent.CommandResult{Success: false, Error: msg}
}

func abortedResult() *agent.CommandResult {
	return &agent.CommandResult{Success: false, Error: "agent command aborted"}
}

// harness assembles an Autopilot over a temp project with preloaded phases.
type harness struct {
	ap    *Autopilot
	agent *scriptedAgent
	store *state.Store
	ws    workspace.Paths
	cfg   config.Config
}

func newHarness(t *testing.T, cfg config.Config, phases []state.Phase) *harness {
	t.Helper()

	projectDir := t.TempDir()
	cfg.ProjectDir = projectDir
	if cfg.Depth == "" {
		cfg.Depth = config.DepthStandard
	}
	if cfg.CommandTimeoutMinutes == 0 {
		cfg.CommandTimeoutMinutes = 1
	}
	if cfg.PlanningTimeoutMinutes == 0 {
		cfg.PlanningTimeoutMinutes = 20
	}

	ws := workspace.New(projectDir)
	fresh := state.CreateFresh(projectDir)
	if len(phases) > 0 {
		fresh.Phases = phases
		fresh.CurrentPhase = 1
	}
	store := state.NewStore(ws.StateFile(), fresh)
	require.NoError(t, store.Flush())

	fake := newScriptedAgent()
	questions := agent.NewQuestionHandler()

	logger := log.New(os.Stderr)
	logger.SetLevel(log.ErrorLevel)

	ap := New(Options{
		Config:    cfg,
		Paths:     ws,
		Store:     store,
		Events:    ipc.NewEventWriter(ws.EventsLog()),
		Agent:     fake,
		Questions: questions,
		Git:       nil,
		Logger:    logging.WrapLogger(logger),
	})
	return &harness{ap: ap, agent: fake, store: store, ws: ws, cfg: cfg}
}

func pendingPhases(numbers ...string) []state.Phase {
	phases := make([]state.Phase, 0, len(numbers))
	for _, n := range numbers {
		phases = append(phases, state.Phase{
			Number: n,
			Name:   "Phase " + n,
			Status: state.PhasePending,
			Steps:  state.NewStepSet(),
		})
	}
	return phases
}

// readEvents parses the harness's event log.
func (h *harness) readEvents(t *testing.T) []ipc.Event {
	t.Helper()

	f, err := os.Open(h.ws.EventsLog())
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	var events []ipc.Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev ipc.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func countEvents(events []ipc.Event, kind string) int {
	n := 0
	for _, ev := range events {
		if ev.Event == kind {
			n++
		}
	}
	return n
}

// ---- scenarios --------------------------------------------------------------

func TestRun_FreshThreePhasesWithOneRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{}, pendingPhases("1", "2", "3"))

	// Phase 2's plan fails on the first try and succeeds on the retry.
	h.agent.queue("/gsd:plan-phase 2", failure("transient flake"),
		&agent.CommandResult{Success: true})

	require.NoError(t, h.ap.Run(context.Background(), "", nil))

	st := h.store.Get()
	assert.Equal(t, state.StatusComplete, st.Status)
	for _, ph := range st.Phases {
		assert.Equal(t, state.PhaseCompleted, ph.Status, "phase %s", ph.Number)
		assert.Equal(t, 4, ph.Steps.DoneCount(), "phase %s", ph.Number)
	}
	assert.Empty(t, st.ErrorHistory, "a successful retry does not escalate")
	assert.Equal(t, 2, h.agent.count("/gsd:plan-phase 2"), "exactly one retry")

	events := h.readEvents(t)
	require.NotEmpty(t, events)
	assert.Equal(t, ipc.EventBuildComplete, events[len(events)-1].Event)
	assert.Equal(t, 3, countEvents(events, ipc.EventPhaseStarted))
	assert.Equal(t, 3, countEvents(events, ipc.EventPhaseCompleted))
	assert.Zero(t, countEvents(events, ipc.EventError))

	// Seq is strictly increasing across the whole log.
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
}

func TestRun_GapLoopEscalatesAfterThreeIterations(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{}, pendingPhases("1"))

	// Every verify run keeps finding gaps.
	phaseDir := h.ws.PhaseDir("1", "Phase 1")
	require.NoError(t, os.MkdirAll(phaseDir, 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(phaseDir, "01-VERIFICATION.md"),
		[]byte("status: gaps_found\n"), 0644))

	require.NoError(t, h.ap.Run(context.Background(), "", nil))

	st := h.store.Get()
	ph := st.Phases[0]
	assert.Equal(t, 3, ph.GapIterations)
	assert.NotEqual(t, state.PhaseFailed, ph.Status, "escalation is not failure")
	assert.NotEqual(t, state.PhaseCompleted, ph.Status, "verify never went clean")

	assert.Equal(t, 3, h.agent.count("/gsd:verify-phase 1"))
	assert.Equal(t, 3, h.agent.count("/gsd:plan-phase 1 --gaps"))
	assert.Equal(t, 3, h.agent.count("/gsd:execute-phase 1 --gaps-only"))

	escalations := 0
	for _, ev := range h.readEvents(t) {
		if ev.Event == ipc.EventLogEntry && ev.Data["kind"] == "gap-escalated" {
			escalations++
			assert.Equal(t, float64(1), ev.Data["phase"])
			assert.Equal(t, float64(3), ev.Data["iterations"])
		}
	}
	assert.Equal(t, 1, escalations, "gap escalation is emitted exactly once")
}

func TestRun_ShutdownMidExecuteThenResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{SkipVerify: true}, pendingPhases("1"))

	// The execute command observes a shutdown: the supervisor reports an
	// aborted result once the orchestrator flips the flag.
	h.agent.onCall = func(prompt string) {
		if strings.HasPrefix(prompt, "/gsd:execute-phase") {
			h.ap.RequestShutdown()
		}
	}
	h.agent.queue("/gsd:execute-phase 1", abortedResult())

	require.NoError(t, h.ap.Run(context.Background(), "", nil))

	st := h.store.Get()
	assert.Equal(t, state.StatusIdle, st.Status)
	assert.Equal(t, 1, st.CurrentPhase)
	assert.Equal(t, state.StepExecute, st.CurrentStep)
	assert.Equal(t, state.StepExecute, st.Phases[0].Steps.Execute, "execute did not advance to done")
	assert.Equal(t, state.StepDone, st.Phases[0].Steps.Discuss)
	assert.Equal(t, state.StepDone, st.Phases[0].Steps.Plan)

	firstEvents := h.readEvents(t)
	assert.Equal(t, 1, countEvents(firstEvents, ipc.EventPhaseStarted))

	// No step-completed for execute after the shutdown request.
	for _, ev := range firstEvents {
		if ev.Event == ipc.EventStepCompleted {
			assert.NotEqual(t, "execute", ev.Data["step"])
		}
	}

	// ---- resume: a fresh orchestrator over the same store ----
	restored, err := state.Restore(h.ws.StateFile())
	require.NoError(t, err)

	resumeAgent := newScriptedAgent()
	logger := log.New(os.Stderr)
	logger.SetLevel(log.ErrorLevel)
	ap2 := New(Options{
		Config:    h.cfg,
		Paths:     h.ws,
		Store:     restored,
		Events:    ipc.NewEventWriter(h.ws.EventsLog()),
		Agent:     resumeAgent,
		Questions: agent.NewQuestionHandler(),
		Logger:    logging.WrapLogger(logger),
	})

	require.NoError(t, ap2.Run(context.Background(), "", nil))

	st = restored.Get()
	assert.Equal(t, state.StatusComplete, st.Status)
	assert.Equal(t, state.PhaseCompleted, st.Phases[0].Status)

	// Resume re-enters at execute: discuss and plan are not re-run.
	assert.Zero(t, resumeAgent.count("/gsd:discuss-phase 1"))
	assert.Zero(t, resumeAgent.count("/gsd:plan-phase 1"))
	assert.Equal(t, 1, resumeAgent.count("/gsd:execute-phase 1"))

	// phase-started is not re-emitted for a phase resumed in_progress, and
	// seq keeps increasing across the restart.
	allEvents := h.readEvents(t)
	assert.Equal(t, 1, countEvents(allEvents, ipc.EventPhaseStarted))
	for i := 1; i < len(allEvents); i++ {
		assert.Greater(t, allEvents[i].Seq, allEvents[i-1].Seq)
	}
}

func TestRun_RetryExhaustionEscalates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{SkipVerify: true}, pendingPhases("1"))

	h.agent.queue("/gsd:plan-phase 1",
		failure("broken"), failure("still broken"), failure("never works"))

	err := h.ap.Run(context.Background(), "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEscalated)

	st := h.store.Get()
	assert.Equal(t, state.StatusError, st.Status)
	require.Len(t, st.ErrorHistory, 1)
	assert.Equal(t, 1, st.ErrorHistory[0].Phase)
	assert.Equal(t, "plan", st.ErrorHistory[0].Step)
	assert.Equal(t, "still broken", st.ErrorHistory[0].Message)

	assert.Equal(t, 2, h.agent.count("/gsd:plan-phase 1"), "one retry, no more")

	events := h.readEvents(t)
	found := false
	for _, ev := range events {
		if ev.Event == ipc.EventError {
			found = true
			assert.ElementsMatch(t, []any{"retry", "skip", "abort"},
				ev.Data["options"].([]any))
		}
	}
	assert.True(t, found, "error event with escalation options emitted")
}

func TestRun_SkipDiscussWritesCannedContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{SkipDiscuss: true, SkipVerify: true}, pendingPhases("3"))

	require.NoError(t, h.ap.Run(context.Background(), "", nil))

	assert.Zero(t, h.agent.count("/gsd:discuss-phase 3"), "discuss is not invoked")

	doc := filepath.Join(h.ws.PhaseDir("3", "Phase 3"), "03-CONTEXT.md")
	data, err := os.ReadFile(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Phase 03: Phase 3")
}

func TestRun_PhaseFilterSkipsOutsiders(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{SkipVerify: true}, pendingPhases("1", "2", "3"))

	filter, err := config.ParseRange("2")
	require.NoError(t, err)
	require.NoError(t, h.ap.Run(context.Background(), "", filter))

	st := h.store.Get()
	assert.Equal(t, state.PhasePending, st.Phases[0].Status)
	assert.Equal(t, state.PhaseCompleted, st.Phases[1].Status)
	assert.Equal(t, state.PhasePending, st.Phases[2].Status)

	assert.Zero(t, h.agent.count("/gsd:execute-phase 1"))
	assert.Equal(t, 1, h.agent.count("/gsd:execute-phase 2"))
	assert.Zero(t, h.agent.count("/gsd:execute-phase 3"))
}

func TestRun_CompletedPhasesAreSkippedOnResume(t *testing.T) {
	t.Parallel()

	phases := pendingPhases("1", "2")
	phases[0].Status = state.PhaseCompleted
	for _, s := range state.StepNames {
		phases[0].Steps.Set(s, state.StepDone)
	}
	h := newHarness(t, config.Config{SkipVerify: true}, phases)

	require.NoError(t, h.ap.Run(context.Background(), "", nil))

	assert.Zero(t, h.agent.count("/gsd:execute-phase 1"))
	assert.Equal(t, 1, h.agent.count("/gsd:execute-phase 2"))
}

func TestWriteAgentSidecar_PreservesForeignKeys(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{Depth: config.DepthComprehensive, ModelProfile: config.ModelQuality}, nil)

	sidecar := h.ws.AgentConfigFile()
	require.NoError(t, os.MkdirAll(filepath.Dir(sidecar), 0755))
	require.NoError(t, os.WriteFile(sidecar, []byte(
		`{"custom_key": "keep me", "model_profile": "stale", "verifier": false}`), 0644))

	require.NoError(t, h.ap.writeAgentSidecar())

	data, err := os.ReadFile(sidecar)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "keep me", doc["custom_key"], "foreign keys survive")
	assert.Equal(t, "quality", doc["model_profile"], "owned keys are overwritten")
	assert.Equal(t, true, doc["verifier"])
	assert.Equal(t, true, doc["research"])
	assert.Equal(t, float64(4), doc["parallelization"])
}

func TestProjectInit_ParsesRoadmap(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{SkipVerify: true}, nil)

	// The "agent" writes the roadmap as a side effect of project-init.
	h.agent.onCall = func(prompt string) {
		if !strings.HasPrefix(prompt, "/gsd:new-project") {
			return
		}
		dir := filepath.Join(h.cfg.ProjectDir, ".planning")
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "ROADMAP.md"), []byte(
			"- [ ] **Phase 1: Foundation**\n- [ ] **Phase 2: API**\n"), 0644))
	}

	require.NoError(t, h.ap.Run(context.Background(), "prd.md", nil))

	st := h.store.Get()
	require.Len(t, st.Phases, 2)
	assert.Equal(t, "Foundation", st.Phases[0].Name)
	assert.Equal(t, state.StatusComplete, st.Status)
	assert.Equal(t, 1, h.agent.count("/gsd:new-project --prd prd.md --depth standard"))
}

func TestProjectInit_EmptyRoadmapIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{}, nil)
	h.agent.onCall = func(prompt string) {
		if strings.HasPrefix(prompt, "/gsd:new-project") {
			dir := filepath.Join(h.cfg.ProjectDir, ".planning")
			_ = os.MkdirAll(dir, 0755)
			_ = os.WriteFile(filepath.Join(dir, "ROADMAP.md"), []byte("no phases here\n"), 0644)
		}
	}

	err := h.ap.Run(context.Background(), "prd.md", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no phases")
	assert.Equal(t, state.StatusError, h.store.Get().Status)
}

func TestRequestShutdown_AbortsAgentAndIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{}, nil)

	h.ap.RequestShutdown()
	h.ap.RequestShutdown()

	assert.True(t, h.ap.ShutdownRequested())
	h.agent.mu.Lock()
	defer h.agent.mu.Unlock()
	assert.True(t, h.agent.aborted)
}
