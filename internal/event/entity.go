package event

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type Type string

const (
	TypeTaskCreated           Type = "task.created"
	TypeTaskStatusChanged     Type = "task.status_changed"
	TypePlanAppended          Type = "plan.appended"
	TypeStepStatusChanged     Type = "step.status_changed"
	TypeActionRecorded        Type = "action.recorded"
	TypeConfirmationRequested Type = "confirmation.requested"
	TypeConfirmationResolved  Type = "confirmation.resolved"
	TypeErrorRecorded         Type = "error.recorded"
	TypeWorkspaceFileChanged  Type = "workspace.file_changed"
)

// ExecutionEvent is the append-only audit record emitted on every task,
// step, and action transition. ULID ids double as a chronological sort key
// for journal reconstruction.
type ExecutionEvent struct {
	ID        string            `yaml:"id" json:"id"`
	TaskID    string            `yaml:"task_id" json:"task_id"`
	Type      Type              `yaml:"type" json:"type"`
	StepID    string            `yaml:"step_id,omitempty" json:"step_id,omitempty"`
	ActionID  string            `yaml:"action_id,omitempty" json:"action_id,omitempty"`
	Message   string            `yaml:"message" json:"message"`
	Fields    map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
	CreatedAt time.Time         `yaml:"created_at" json:"created_at"`
}

func New(t Type, taskID string) *ExecutionEvent {
	return &ExecutionEvent{
		ID:        ulid.Make().String(),
		TaskID:    taskID,
		Type:      t,
		CreatedAt: time.Now().UTC(),
	}
}

func (e *ExecutionEvent) WithStep(stepID string) *ExecutionEvent {
	e.StepID = stepID
	return e
}

func (e *ExecutionEvent) WithAction(actionID string) *ExecutionEvent {
	e.ActionID = actionID
	return e
}

func (e *ExecutionEvent) WithMessage(msg string) *ExecutionEvent {
	e.Message = msg
	return e
}

func (e *ExecutionEvent) WithField(key, value string) *ExecutionEvent {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}
