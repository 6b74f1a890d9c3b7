package models

import "time"

// ExecutionStatus represents the state of one node's execution record.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusSkipped   ExecutionStatus = "skipped"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusSkipped, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// Execution records the attempt(s) to run one node within one instance.
// Exactly one record exists per (instance, node) pair; a retried execution
// reuses the record with an incremented RetryCount instead of creating a
// new row, which keeps "attempts so far" authoritative and prevents
// duplicate dispatch.
type Execution struct {
	InstanceID  string          `json:"instance_id"`
	NodeID      string          `json:"node_id"`
	Status      ExecutionStatus `json:"status"`
	Input       map[string]any  `json:"input,omitempty"`
	Output      map[string]any  `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	NextRetryAt *time.Time      `json:"next_retry_at,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RetryDue reports whether the execution is pending and its retry delay, if
// any, has elapsed at the given time.
func (e *Execution) RetryDue(now time.Time) bool {
	if e.Status != ExecutionStatusPending {
		return false
	}

	return e.NextRetryAt == nil || !e.NextRetryAt.After(now)
}
