// Package events defines event types and structures for engine lifecycle
// notifications.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/venlock/orchid/pkg/models"
)

type EventType string

// Kafka topic carrying every engine event.
const Topic = "orchid.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Trigger events.
	WorkflowTriggeredEvent EventType = "workflow.triggered"

	// Instance lifecycle events.
	InstanceCreatedEvent   EventType = "instance.created"
	InstanceStartedEvent   EventType = "instance.started"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstanceCancelledEvent EventType = "instance.cancelled"
	InstancePausedEvent    EventType = "instance.paused"
	InstanceResumedEvent   EventType = "instance.resumed"

	// Node execution events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionRetryingEvent  EventType = "execution.retrying"
	ExecutionSkippedEvent   EventType = "execution.skipped"
	ExecutionCancelledEvent EventType = "execution.cancelled"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

type WorkflowTriggered struct {
	BaseEvent

	TriggerID   string         `json:"trigger_id"`
	TriggerType string         `json:"trigger_type"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (w WorkflowTriggered) GetType() EventType {
	return WorkflowTriggeredEvent
}

type InstanceCreated struct {
	BaseEvent

	InstanceID string         `json:"instance_id"`
	TriggerID  string         `json:"trigger_id,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
}

func (i InstanceCreated) GetType() EventType {
	return InstanceCreatedEvent
}

type InstanceStarted struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
}

func (i InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceCompleted struct {
	BaseEvent

	InstanceID string         `json:"instance_id"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (i InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceFailed struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	Error      string `json:"error"`
	FailedNode string `json:"failed_node,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (i InstanceFailed) GetType() EventType {
	return InstanceFailedEvent
}

type InstanceCancelled struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	Reason     string `json:"reason,omitempty"`
}

func (i InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

type InstancePaused struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
}

func (i InstancePaused) GetType() EventType {
	return InstancePausedEvent
}

type InstanceResumed struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
}

func (i InstanceResumed) GetType() EventType {
	return InstanceResumedEvent
}

type ExecutionStarted struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	NodeID     string `json:"node_id"`
	NodeType   string `json:"node_type"`
	Attempt    int    `json:"attempt"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	InstanceID string         `json:"instance_id"`
	NodeID     string         `json:"node_id"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	NodeID     string `json:"node_id"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionRetrying struct {
	BaseEvent

	InstanceID  string    `json:"instance_id"`
	NodeID      string    `json:"node_id"`
	Error       string    `json:"error"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	NextRetryAt time.Time `json:"next_retry_at"`
}

func (e ExecutionRetrying) GetType() EventType {
	return ExecutionRetryingEvent
}

type ExecutionSkipped struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	NodeID     string `json:"node_id"`
	Reason     string `json:"reason,omitempty"`
}

func (e ExecutionSkipped) GetType() EventType {
	return ExecutionSkippedEvent
}

type ExecutionCancelled struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	NodeID     string `json:"node_id"`
}

func (e ExecutionCancelled) GetType() EventType {
	return ExecutionCancelledEvent
}

// InstanceStatusEvent maps an instance status to its lifecycle event type.
func InstanceStatusEvent(status models.InstanceStatus) (EventType, bool) {
	switch status {
	case models.InstanceStatusRunning:
		return InstanceStartedEvent, true
	case models.InstanceStatusCompleted:
		return InstanceCompletedEvent, true
	case models.InstanceStatusFailed:
		return InstanceFailedEvent, true
	case models.InstanceStatusCancelled:
		return InstanceCancelledEvent, true
	case models.InstanceStatusPaused:
		return InstancePausedEvent, true
	default:
		return "", false
	}
}
