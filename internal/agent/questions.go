package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NexeraDigital/gsd-autopilot/internal/state"
)

// AskUserQuestionTool is the reserved tool name whose invocations are
// arbitrated through the question handler instead of being allowed through.
const AskUserQuestionTool = "AskUserQuestion"

// askInput mirrors the AskUserQuestion tool input shape.
type askInput struct {
	Items []state.QuestionItem `json:"items"`
}

// resolution is the one-shot outcome delivered to a waiting HandleQuestion.
type resolution struct {
	answers map[string]string
	err     error
}

// QuestionHandler is the single-flight fan-in/fan-out table between the
// agent's blocked canUseTool calls and the answer inbox. Each in-flight
// question holds a one-shot channel; Submit resolves it, RejectAll fails
// every outstanding one so the subprocess stream can unwind on abort.
//
// The handler itself is stateless across runs; durable bookkeeping (the
// pendingQuestions list, events, notifications) happens in the injected
// callbacks.
type QuestionHandler struct {
	mu      sync.Mutex
	pending map[string]chan resolution

	// OnPending is invoked after a question is registered, before waiting.
	// It is where the caller persists the question and emits
	// question-pending. May be nil.
	OnPending func(q state.Question)

	// OnAnswered is invoked when Submit accepts an answer. It is where the
	// caller removes the pending question and emits question-answered.
	// May be nil.
	OnAnswered func(id string, answers map[string]string)
}

// NewQuestionHandler creates an empty handler.
func NewQuestionHandler() *QuestionHandler {
	return &QuestionHandler{pending: map[string]chan resolution{}}
}

// HandleQuestion registers a fresh question for the given AskUserQuestion
// input and blocks until an answer arrives or ctx is cancelled. On success
// it returns an allow decision whose updated input is the original input
// plus an "answers" mapping of question text to chosen label.
func (h *QuestionHandler) HandleQuestion(ctx context.Context, input json.RawMessage, phase int, step string) (Decision, error) {
	var parsed askInput
	if err := json.Unmarshal(input, &parsed); err != nil {
		return Decision{}, fmt.Errorf("parsing %s input: %w", AskUserQuestionTool, err)
	}
	if len(parsed.Items) == 0 {
		return Decision{}, fmt.Errorf("parsing %s input: no items", AskUserQuestionTool)
	}

	q := state.Question{
		ID:        uuid.NewString(),
		Phase:     phase,
		Step:      step,
		Items:     parsed.Items,
		CreatedAt: time.Now().UTC(),
	}

	ch := make(chan resolution, 1)
	h.mu.Lock()
	h.pending[q.ID] = ch
	h.mu.Unlock()

	if h.OnPending != nil {
		h.OnPending(q)
	}

	select {
	case <-ctx.Done():
		h.remove(q.ID)
		return Decision{}, fmt.Errorf("question %s cancelled: %w", q.ID, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return Decision{}, res.err
		}
		updated, err := mergeAnswers(input, res.answers)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Behavior: BehaviorAllow, UpdatedInput: updated}, nil
	}
}

// Submit resolves the question with the given id. Unknown or already
// answered ids are a no-op returning false; nothing is emitted for them.
func (h *QuestionHandler) Submit(id string, answers map[string]string) bool {
	h.mu.Lock()
	ch, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()

	if !ok {
		return false
	}

	ch <- resolution{answers: answers}
	if h.OnAnswered != nil {
		h.OnAnswered(id, answers)
	}
	return true
}

// RejectAll fails every outstanding question with reason and clears the
// table. Invoked on shutdown or abort so blocked canUseTool calls fail and
// the agent stream unwinds.
func (h *QuestionHandler) RejectAll(reason error) {
	h.mu.Lock()
	pending := h.pending
	h.pending = map[string]chan resolution{}
	h.mu.Unlock()

	for id, ch := range pending {
		ch <- resolution{err: fmt.Errorf("question %s rejected: %w", id, reason)}
	}
}

// PendingCount returns the number of in-flight questions.
func (h *QuestionHandler) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

func (h *QuestionHandler) remove(id string) {
	h.mu.Lock()
	delete(h.pending, id)
	h.mu.Unlock()
}

// mergeAnswers returns the original tool input with an "answers" key added.
func mergeAnswers(input json.RawMessage, answers map[string]string) (json.RawMessage, error) {
	var obj map[string]any
	if err := json.Unmarshal(input, &obj); err != nil {
		return nil, fmt.Errorf("merging answers into tool input: %w", err)
	}
	obj["answers"] = answers
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("merging answers into tool input: %w", err)
	}
	return out, nil
}
