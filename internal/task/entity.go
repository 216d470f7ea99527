package task

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the task-level state machine. planning and executing are the
// live states; the rest are terminal.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var taskTransitions = map[Status][]Status{
	StatusPlanning:  {StatusExecuting, StatusFailed, StatusCancelled},
	StatusExecuting: {StatusCompleted, StatusFailed, StatusCancelled},
}

func ValidTaskTransition(from, to Status) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Mode decides whether confirmation-gated actions wait for a human. It is
// consulted in exactly one place, the orchestrator's confirmation gate.
type Mode string

const (
	ModeSupervised Mode = "supervised"
	ModeAutonomous Mode = "autonomous"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSupervised, ModeAutonomous:
		return Mode(s), nil
	case "":
		return ModeSupervised, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

type StepStatus string

const (
	StepPending              StepStatus = "pending"
	StepRunning              StepStatus = "running"
	StepAwaitingConfirmation StepStatus = "awaiting_confirmation"
	StepSucceeded            StepStatus = "succeeded"
	StepFailed               StepStatus = "failed"
	StepSkipped              StepStatus = "skipped"
)

func (s StepStatus) Terminal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepSkipped:
		return true
	}
	return false
}

var stepTransitions = map[StepStatus][]StepStatus{
	StepPending:              {StepRunning, StepSkipped},
	StepRunning:              {StepSucceeded, StepFailed, StepAwaitingConfirmation, StepSkipped},
	StepAwaitingConfirmation: {StepRunning, StepFailed, StepSkipped},
}

func ValidStepTransition(from, to StepStatus) bool {
	for _, next := range stepTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Verdict is the sandbox policy decision attached to an Action. It is
// always decided before anything runs.
type Verdict string

const (
	VerdictAllowed           Verdict = "allowed"
	VerdictDenied            Verdict = "denied"
	VerdictNeedsConfirmation Verdict = "needs_confirmation"
)

// Task wraps one immutable Goal with an execution mode and the full plan
// history. The last plan is the active one; earlier revisions are kept for
// audit.
type Task struct {
	ID           string    `yaml:"id" json:"id"`
	Goal         string    `yaml:"goal" json:"goal"`
	Mode         Mode      `yaml:"mode" json:"mode"`
	Status       Status    `yaml:"status" json:"status"`
	StatusReason string    `yaml:"status_reason,omitempty" json:"status_reason,omitempty"`
	Plans        []*Plan   `yaml:"plans,omitempty" json:"plans,omitempty"`
	CreatedAt    time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt    time.Time `yaml:"updated_at" json:"updated_at"`
}

func NewTask(goal string, mode Mode) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        ulid.Make().String(),
		Goal:      goal,
		Mode:      mode,
		Status:    StatusPlanning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ActivePlan returns the latest plan revision, or nil before planning has
// produced one.
func (t *Task) ActivePlan() *Plan {
	if len(t.Plans) == 0 {
		return nil
	}
	return t.Plans[len(t.Plans)-1]
}

// CurrentRevision returns 0 when the task has no plan yet.
func (t *Task) CurrentRevision() int {
	if p := t.ActivePlan(); p != nil {
		return p.Revision
	}
	return 0
}

// FindStep looks the step up in the active plan only. Steps of superseded
// revisions are frozen history.
func (t *Task) FindStep(stepID string) *Step {
	p := t.ActivePlan()
	if p == nil {
		return nil
	}
	for _, s := range p.Steps {
		if s.ID == stepID {
			return s
		}
	}
	return nil
}

type Plan struct {
	Revision  int       `yaml:"revision" json:"revision"`
	Reason    string    `yaml:"reason,omitempty" json:"reason,omitempty"`
	Steps     []*Step   `yaml:"steps" json:"steps"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

type Step struct {
	ID           string     `yaml:"id" json:"id"`
	Description  string     `yaml:"description" json:"description"`
	Role         string     `yaml:"role" json:"role"`
	Status       StepStatus `yaml:"status" json:"status"`
	StatusReason string     `yaml:"status_reason,omitempty" json:"status_reason,omitempty"`
	DependsOn    string     `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Parallel     bool       `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	Resources    []string   `yaml:"resources,omitempty" json:"resources,omitempty"`
	Actions      []*Action  `yaml:"actions,omitempty" json:"actions,omitempty"`
	UpdatedAt    time.Time  `yaml:"updated_at" json:"updated_at"`
}

// Succeeded reports whether the step has at least one clean action, the
// condition a succeeded status must be backed by.
func (s *Step) Succeeded() bool {
	for _, a := range s.Actions {
		if a.Verdict != VerdictDenied && a.Error == "" && a.ExitCode == 0 {
			return true
		}
	}
	return false
}

// Action is one recorded tool invocation attempt. Immutable once appended
// to a step.
type Action struct {
	ID         string            `yaml:"id" json:"id"`
	Tool       string            `yaml:"tool" json:"tool"`
	Params     map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	Verdict    Verdict           `yaml:"verdict" json:"verdict"`
	Confirmed  bool              `yaml:"confirmed,omitempty" json:"confirmed,omitempty"`
	ExitCode   int               `yaml:"exit_code" json:"exit_code"`
	Stdout     string            `yaml:"stdout,omitempty" json:"stdout,omitempty"`
	Stderr     string            `yaml:"stderr,omitempty" json:"stderr,omitempty"`
	Truncated  bool              `yaml:"truncated,omitempty" json:"truncated,omitempty"`
	Error      string            `yaml:"error,omitempty" json:"error,omitempty"`
	StartedAt  time.Time         `yaml:"started_at" json:"started_at"`
	FinishedAt time.Time         `yaml:"finished_at" json:"finished_at"`
}

// StepDraft is a planner proposal before the store assigns ids and wires
// dependency order.
type StepDraft struct {
	Description string
	Role        string
	Parallel    bool
	Resources   []string
}

// BuildSteps materializes drafts into pending steps. Sequential steps
// depend on their predecessor; a parallel step shares its predecessor's
// dependency so the batch becomes eligible together.
func BuildSteps(drafts []StepDraft) []*Step {
	now := time.Now().UTC()
	steps := make([]*Step, 0, len(drafts))
	var lastSequential string
	for _, d := range drafts {
		s := &Step{
			ID:          ulid.Make().String(),
			Description: d.Description,
			Role:        d.Role,
			Status:      StepPending,
			Parallel:    d.Parallel,
			Resources:   d.Resources,
			UpdatedAt:   now,
		}
		if d.Parallel {
			s.DependsOn = lastSequential
		} else {
			if len(steps) > 0 {
				s.DependsOn = steps[len(steps)-1].ID
			}
			lastSequential = s.ID
		}
		steps = append(steps, s)
	}
	return steps
}
