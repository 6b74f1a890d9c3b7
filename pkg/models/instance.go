package models

import "time"

// InstanceStatus represents the aggregate state of one workflow execution.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
	InstanceStatusPaused    InstanceStatus = "paused"
)

// IsTerminal reports whether the status admits no further transitions.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// Instance is one execution attempt of a workflow. It runs against a frozen
// snapshot of the workflow definition taken at trigger time, so later edits
// to the workflow never alter in-flight instances.
type Instance struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id"`
	WorkflowVersion  int              `json:"workflow_version"`
	TriggerID        string           `json:"trigger_id,omitempty"`
	Definition       *GraphDefinition `json:"definition"`
	Status           InstanceStatus   `json:"status"`
	Context          map[string]any   `json:"context,omitempty"` // Shared key/value store visible to all node executions
	Input            map[string]any   `json:"input,omitempty"`
	Output           map[string]any   `json:"output,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	ParentInstanceID *string          `json:"parent_instance_id,omitempty"` // Non-owning back-reference for lookup and cascading cancel
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	FinishedAt       *time.Time       `json:"finished_at,omitempty"`
}

// InstanceView is the read model exposed by the status surface: the instance
// plus a per-node execution summary.
type InstanceView struct {
	Instance   *Instance    `json:"instance"`
	Executions []*Execution `json:"executions"`
}
