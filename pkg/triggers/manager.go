// Package triggers turns trigger firings into workflow instances. The
// manager is the single entry point; the schedule, webhook and queue
// subpackages feed it activations from their respective sources.
package triggers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/venlock/orchid/pkg/eventbus"
	"github.com/venlock/orchid/pkg/events"
	"github.com/venlock/orchid/pkg/graph"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
)

var (
	// ErrWorkflowNotTriggerable rejects activation of workflows that are
	// not in active status.
	ErrWorkflowNotTriggerable = errors.New("workflow is not triggerable")

	// ErrTriggerInactive rejects activation through a deactivated trigger.
	ErrTriggerInactive = errors.New("trigger is not active")
)

// Manager creates instances from trigger activations and manual starts.
type Manager struct {
	store     persistence.Persistence
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
	wake      func()
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		publisher: publisher,
		logger:    logger.With("module", "triggers"),
		now:       func() time.Time { return time.Now().UTC() },
		wake:      func() {},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetWake registers the dispatcher wake hook.
func (m *Manager) SetWake(wake func()) {
	if wake != nil {
		m.wake = wake
	}
}

// StartOption adjusts how an instance is started.
type StartOption func(*models.Instance)

// WithTriggerID records the trigger the instance was started from.
func WithTriggerID(triggerID string) StartOption {
	return func(instance *models.Instance) { instance.TriggerID = triggerID }
}

// WithParent links a sub-workflow instance to the instance that spawned it.
func WithParent(parentInstanceID string) StartOption {
	return func(instance *models.Instance) { instance.ParentInstanceID = &parentInstanceID }
}

// WithContext seeds the shared instance context.
func WithContext(context map[string]any) StartOption {
	return func(instance *models.Instance) { instance.Context = context }
}

// Activate fires a stored trigger: the trigger must be active and its
// workflow must be triggerable. The trigger's counters are updated
// atomically and a WorkflowTriggered event is published alongside the
// instance creation.
func (m *Manager) Activate(ctx context.Context, triggerID string, payload map[string]any) (*models.Instance, error) {
	trigger, err := m.store.TriggerRepository().GetByID(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	if !trigger.Active {
		return nil, fmt.Errorf("trigger %s: %w", triggerID, ErrTriggerInactive)
	}

	instance, err := m.StartInstance(ctx, trigger.WorkflowID, payload, WithTriggerID(trigger.ID))
	if err != nil {
		return nil, err
	}

	now := m.now()

	if _, err := m.store.TriggerRepository().Update(ctx, trigger.ID, func(trigger *models.Trigger) error {
		trigger.TriggerCount++
		trigger.LastTriggered = &now
		trigger.UpdatedAt = now

		return nil
	}); err != nil {
		m.logger.Warn("failed to update trigger counters",
			"trigger_id", trigger.ID, "error", err)
	}

	m.publish(ctx, instance.ID, events.WorkflowTriggered{
		BaseEvent:   events.NewBaseEvent(events.WorkflowTriggeredEvent, trigger.WorkflowID),
		TriggerID:   trigger.ID,
		TriggerType: string(trigger.Type),
		Payload:     payload,
	})

	return instance, nil
}

// StartInstance creates a pending instance for a workflow: the manual and
// api path, and the backend of Activate. The workflow definition is
// re-validated as a cheap guard against corrupted storage, then frozen
// onto the instance, and one pending execution record is created for every
// node up front so the status surface can report never-dispatched nodes.
func (m *Manager) StartInstance(ctx context.Context, workflowID string, input map[string]any, opts ...StartOption) (*models.Instance, error) {
	workflow, err := m.store.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.IsTriggerable() {
		return nil, fmt.Errorf("workflow %s is %s: %w", workflowID, workflow.Status, ErrWorkflowNotTriggerable)
	}

	if _, err := graph.Validate(workflow.Definition); err != nil {
		return nil, fmt.Errorf("workflow %s definition is invalid: %w", workflowID, err)
	}

	now := m.now()
	instance := &models.Instance{
		ID:              uuid.New().String(),
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		Definition:      workflow.Definition.Clone(),
		Status:          models.InstanceStatusPending,
		Input:           input,
		CreatedAt:       now,
	}

	for _, opt := range opts {
		opt(instance)
	}

	if err := m.store.InstanceRepository().Save(ctx, instance); err != nil {
		return nil, err
	}

	for _, node := range instance.Definition.Nodes {
		execution := &models.Execution{
			InstanceID: instance.ID,
			NodeID:     node.ID,
			Status:     models.ExecutionStatusPending,
			MaxRetries: node.RetryBudget(),
			UpdatedAt:  now,
		}

		if err := m.store.ExecutionRepository().Save(ctx, execution); err != nil {
			return nil, fmt.Errorf("failed to seed execution for node %s: %w", node.ID, err)
		}
	}

	m.logger.Info("instance created",
		"instance_id", instance.ID, "workflow_id", workflow.ID, "version", workflow.Version)

	m.publish(ctx, instance.ID, events.InstanceCreated{
		BaseEvent:  events.NewBaseEvent(events.InstanceCreatedEvent, workflow.ID),
		InstanceID: instance.ID,
		TriggerID:  instance.TriggerID,
		Input:      input,
	})

	m.wake()

	return instance, nil
}

func (m *Manager) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.publisher == nil {
		return
	}

	if err := m.publisher.Publish(ctx, key, event); err != nil {
		m.logger.Warn("failed to publish engine event",
			"event_type", event.GetType(), "error", err)
	}
}
