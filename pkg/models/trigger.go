package models

import "time"

// TriggerType classifies how a trigger is fired.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeAPI      TriggerType = "api"
)

// Trigger config keys interpreted by the trigger runtimes.
const (
	TriggerConfigCron      = "cron"       // schedule: cron expression
	TriggerConfigPath      = "path"       // webhook: request path
	TriggerConfigEventName = "event_name" // event: event name to match
)

// Trigger converts external events into new workflow instances. A trigger
// belongs to exactly one workflow and can be deactivated independently of
// the workflow's own status.
type Trigger struct {
	ID            string         `json:"id"          validate:"required"`
	WorkflowID    string         `json:"workflow_id" validate:"required"`
	Name          string         `json:"name"        validate:"required,min=1"`
	Type          TriggerType    `json:"type"        validate:"required"`
	Config        map[string]any `json:"config,omitempty"`
	Active        bool           `json:"active"`
	LastTriggered *time.Time     `json:"last_triggered,omitempty"`
	TriggerCount  int64          `json:"trigger_count"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// CronExpression returns the schedule trigger's cron expression, if any.
func (t *Trigger) CronExpression() string {
	if expr, ok := t.Config[TriggerConfigCron].(string); ok {
		return expr
	}

	return ""
}

// WebhookPath returns the webhook trigger's request path, if any.
func (t *Trigger) WebhookPath() string {
	if path, ok := t.Config[TriggerConfigPath].(string); ok {
		return path
	}

	return ""
}

// EventName returns the event trigger's subscribed event name, if any.
func (t *Trigger) EventName() string {
	if name, ok := t.Config[TriggerConfigEventName].(string); ok {
		return name
	}

	return ""
}
