// Package state holds the autopilot's persistent snapshot: the phase plan,
// pending questions, error history, and branch port leases.
//
// The orchestrator process is the single writer; it persists through Store,
// which serializes mutations and writes atomically (temp file + rename) so
// the dashboard process never observes a torn snapshot. The dashboard reads
// through Reader, which re-parses only when the file content actually
// changed.
package state

import "time"

// Status is the top-level autopilot status.
type Status string

// Autopilot statuses.
const (
	StatusIdle            Status = "idle"
	StatusRunning         Status = "running"
	StatusWaitingForHuman Status = "waiting_for_human"
	StatusError           Status = "error"
	StatusComplete        Status = "complete"
)

// PhaseStatus is the lifecycle status of one phase.
type PhaseStatus string

// Phase statuses.
const (
	PhasePending    PhaseStatus = "pending"
	PhaseInProgress PhaseStatus = "in_progress"
	PhaseCompleted  PhaseStatus = "completed"
	PhaseFailed     PhaseStatus = "failed"
	PhaseSkipped    PhaseStatus = "skipped"
)

// StepValue is the stored value of one step slot. While a step runs its slot
// holds the step's own name; a finished step holds StepDone.
type StepValue string

// Step values. StepIdle means not yet started.
const (
	StepIdle    StepValue = "idle"
	StepDiscuss StepValue = "discuss"
	StepPlan    StepValue = "plan"
	StepExecute StepValue = "execute"
	StepVerify  StepValue = "verify"
	StepDone    StepValue = "done"
)

// StepNames lists the four step slots in execution order.
var StepNames = []StepValue{StepDiscuss, StepPlan, StepExecute, StepVerify}

// StepSet holds the four per-phase step slots.
type StepSet struct {
	Discuss StepValue `json:"discuss"`
	Plan    StepValue `json:"plan"`
	Execute StepValue `json:"execute"`
	Verify  StepValue `json:"verify"`
}

// NewStepSet returns a StepSet with every slot idle.
func NewStepSet() StepSet {
	return StepSet{Discuss: StepIdle, Plan: StepIdle, Execute: StepIdle, Verify: StepIdle}
}

// Get returns the slot value for the named step.
func (s StepSet) Get(step StepValue) StepValue {
	switch step {
	case StepDiscuss:
		return s.Discuss
	case StepPlan:
		return s.Plan
	case StepExecute:
		return s.Execute
	case StepVerify:
		return s.Verify
	}
	return StepIdle
}

// Set stores value into the named step's slot.
func (s *StepSet) Set(step, value StepValue) {
	switch step {
	case StepDiscuss:
		s.Discuss = value
	case StepPlan:
		s.Plan = value
	case StepExecute:
		s.Execute = value
	case StepVerify:
		s.Verify = value
	}
}

// DoneCount returns how many of the four slots are done.
func (s StepSet) DoneCount() int {
	n := 0
	for _, step := range StepNames {
		if s.Get(step) == StepDone {
			n++
		}
	}
	return n
}

// Commit records one git commit attached to a phase.
type Commit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// Phase is one named unit of the build plan. Number is kept as a string so
// decimal phase numbers ("3.1") survive round-trips unchanged.
type Phase struct {
	Number        string      `json:"number"`
	Name          string      `json:"name"`
	Status        PhaseStatus `json:"status"`
	Steps         StepSet     `json:"steps"`
	StartedAt     *time.Time  `json:"startedAt,omitempty"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
	Commits       []Commit    `json:"commits"`
	GapIterations int         `json:"gapIterations"`
	Inserted      bool        `json:"inserted,omitempty"`
}

// QuestionOption is one selectable answer for a question item.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// QuestionItem is a single prompt within a Question.
type QuestionItem struct {
	Question    string           `json:"question"`
	Header      string           `json:"header"`
	Options     []QuestionOption `json:"options"`
	MultiSelect bool             `json:"multiSelect"`
}

// Question is a structured multi-item prompt raised by the agent during a
// tool use. It must be answered before the agent proceeds.
type Question struct {
	ID         string            `json:"id"`
	Phase      int               `json:"phase"`
	Step       string            `json:"step"`
	Items      []QuestionItem    `json:"items"`
	CreatedAt  time.Time         `json:"createdAt"`
	AnsweredAt *time.Time        `json:"answeredAt,omitempty"`
	Answers    map[string]string `json:"answers,omitempty"`
}

// ErrorRecord is one escalated agent-command failure.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     int       `json:"phase"`
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Output    string    `json:"output,omitempty"`
}

// BranchLease records the dashboard port assigned to one git branch.
type BranchLease struct {
	Port       int       `json:"port"`
	AssignedAt time.Time `json:"assignedAt"`
}

// AutopilotState is the single persisted snapshot.
type AutopilotState struct {
	Status           Status                 `json:"status"`
	CurrentPhase     int                    `json:"currentPhase"`
	CurrentStep      StepValue              `json:"currentStep"`
	Phases           []Phase                `json:"phases"`
	PendingQuestions []Question             `json:"pendingQuestions"`
	ErrorHistory     []ErrorRecord          `json:"errorHistory"`
	StartedAt        time.Time              `json:"startedAt"`
	LastUpdatedAt    time.Time              `json:"lastUpdatedAt"`
	Branches         map[string]BranchLease `json:"branches"`
	ProjectDir       string                 `json:"projectDir"`
}

// maxErrorHistory bounds ErrorHistory; the oldest records are dropped first.
const maxErrorHistory = 50

// maxErrorOutput bounds the captured agent output per ErrorRecord.
const maxErrorOutput = 500

// AppendError appends a record, truncating its output and dropping the
// oldest entries beyond the history bound.
func (s *AutopilotState) AppendError(rec ErrorRecord) {
	if len(rec.Output) > maxErrorOutput {
		rec.Output = rec.Output[:maxErrorOutput]
	}
	s.ErrorHistory = append(s.ErrorHistory, rec)
	if n := len(s.ErrorHistory); n > maxErrorHistory {
		s.ErrorHistory = append([]ErrorRecord(nil), s.ErrorHistory[n-maxErrorHistory:]...)
	}
}

// PhaseByNumber returns the phase with the given number, or nil.
func (s *AutopilotState) PhaseByNumber(number string) *Phase {
	for i := range s.Phases {
		if s.Phases[i].Number == number {
			return &s.Phases[i]
		}
	}
	return nil
}

// PendingQuestion returns the pending question with the given id, or nil.
func (s *AutopilotState) PendingQuestion(id string) *Question {
	for i := range s.PendingQuestions {
		if s.PendingQuestions[i].ID == id {
			return &s.PendingQuestions[i]
		}
	}
	return nil
}

// RemovePendingQuestion deletes the pending question with the given id.
// It reports whether a question was removed.
func (s *AutopilotState) RemovePendingQuestion(id string) bool {
	for i := range s.PendingQuestions {
		if s.PendingQuestions[i].ID == id {
			s.PendingQuestions = append(s.PendingQuestions[:i], s.PendingQuestions[i+1:]...)
			return true
		}
	}
	return false
}

// Progress computes the overall completion percentage: the share of done
// steps across 4*N step slots, rounded to the nearest integer. Zero phases
// yields zero.
func (s *AutopilotState) Progress() int {
	n := len(s.Phases)
	if n == 0 {
		return 0
	}
	done := 0
	for i := range s.Phases {
		done += s.Phases[i].Steps.DoneCount()
	}
	return int(float64(done)/float64(4*n)*100 + 0.5)
}

// Clone returns a deep copy so callers can never mutate the store's copy.
func (s *AutopilotState) Clone() AutopilotState {
	out := *s

	out.Phases = make([]Phase, len(s.Phases))
	copy(out.Phases, s.Phases)
	for i := range out.Phases {
		if len(s.Phases[i].Commits) > 0 {
			out.Phases[i].Commits = append([]Commit(nil), s.Phases[i].Commits...)
		}
		if s.Phases[i].StartedAt != nil {
			t := *s.Phases[i].StartedAt
			out.Phases[i].StartedAt = &t
		}
		if s.Phases[i].CompletedAt != nil {
			t := *s.Phases[i].CompletedAt
			out.Phases[i].CompletedAt = &t
		}
	}

	out.PendingQuestions = make([]Question, len(s.PendingQuestions))
	copy(out.PendingQuestions, s.PendingQuestions)
	for i := range out.PendingQuestions {
		out.PendingQuestions[i] = cloneQuestion(s.PendingQuestions[i])
	}

	out.ErrorHistory = append([]ErrorRecord(nil), s.ErrorHistory...)

	out.Branches = make(map[string]BranchLease, len(s.Branches))
	for k, v := range s.Branches {
		out.Branches[k] = v
	}

	return out
}

func cloneQuestion(q Question) Question {
	out := q
	out.Items = make([]QuestionItem, len(q.Items))
	copy(out.Items, q.Items)
	for i := range out.Items {
		out.Items[i].Options = append([]QuestionOption(nil), q.Items[i].Options...)
	}
	if q.Answers != nil {
		out.Answers = make(map[string]string, len(q.Answers))
		for k, v := range q.Answers {
			out.Answers[k] = v
		}
	}
	if q.AnsweredAt != nil {
		t := *q.AnsweredAt
		out.AnsweredAt = &t
	}
	return out
}
