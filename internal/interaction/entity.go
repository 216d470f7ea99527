package interaction

import (
	"time"

	"github.com/oklog/ulid/v2"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	// Expired confirmations belong to cancelled tasks; the gated action
	// never ran and never will.
	StatusExpired Status = "expired"
)

func (s Status) Resolved() bool {
	return s != StatusPending
}

// Confirmation is one durable approval request for a gated action. The
// description carries a human-readable preview (command text, file diff)
// so the approver sees the effect, not just the tool name.
type Confirmation struct {
	ID          string            `yaml:"id" json:"id"`
	TaskID      string            `yaml:"task_id" json:"task_id"`
	StepID      string            `yaml:"step_id" json:"step_id"`
	Tool        string            `yaml:"tool" json:"tool"`
	Params      map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	Description string            `yaml:"description" json:"description"`
	Status      Status            `yaml:"status" json:"status"`
	Reason      string            `yaml:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt   time.Time         `yaml:"created_at" json:"created_at"`
	ResolvedAt  *time.Time        `yaml:"resolved_at,omitempty" json:"resolved_at,omitempty"`
}

func New(taskID, stepID, tool string, params map[string]string, description string) *Confirmation {
	return &Confirmation{
		ID:          ulid.Make().String(),
		TaskID:      taskID,
		StepID:      stepID,
		Tool:        tool,
		Params:      params,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}
