// Package tracker owns every execution status transition. All writes go
// through the execution repository's atomic read-modify-write, so a stale
// caller (a racing duplicate dispatch, a late result on a cancelled node)
// is rejected inside the mutate callback instead of clobbering state.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/venlock/orchid/pkg/eventbus"
	"github.com/venlock/orchid/pkg/events"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
	"github.com/xeipuuv/gojsonschema"
)

// Observer is notified after every effective execution transition. The
// lifecycle manager registers itself here to recompute instance state.
type Observer interface {
	ExecutionUpdated(ctx context.Context, instance *models.Instance, execution *models.Execution)
}

// Tracker applies execution transitions, publishes the matching engine
// events, and notifies the observer and wake hook.
type Tracker struct {
	executions persistence.ExecutionRepository
	publisher  eventbus.EventPublisher
	logger     *slog.Logger
	backoff    BackoffPolicy
	now        func() time.Time
	observer   Observer
	wake       func()
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithBackoff overrides the default retry backoff policy.
func WithBackoff(policy BackoffPolicy) Option {
	return func(t *Tracker) { t.backoff = policy }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(executions persistence.ExecutionRepository, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		executions: executions,
		publisher:  publisher,
		logger:     logger.With("module", "tracker"),
		backoff:    DefaultBackoffPolicy(),
		now:        func() time.Time { return time.Now().UTC() },
		wake:       func() {},
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// SetObserver registers the lifecycle observer. Must be called before the
// engine starts dispatching.
func (t *Tracker) SetObserver(observer Observer) {
	t.observer = observer
}

// SetWake registers the dispatcher wake hook.
func (t *Tracker) SetWake(wake func()) {
	if wake != nil {
		t.wake = wake
	}
}

// RecordStart moves a pending execution to running. A second concurrent
// start of the same node loses the race inside the mutate callback and gets
// ErrInvalidTransition, which is the duplicate-dispatch guard.
func (t *Tracker) RecordStart(ctx context.Context, instance *models.Instance, node *models.Node, input map[string]any) (*models.Execution, error) {
	now := t.now()

	execution, err := t.executions.Update(ctx, instance.ID, node.ID, func(execution *models.Execution) error {
		if execution.Status != models.ExecutionStatusPending {
			return fmt.Errorf("cannot start %s execution: %w", execution.Status, persistence.ErrInvalidTransition)
		}

		execution.Status = models.ExecutionStatusRunning
		execution.Input = input
		execution.StartedAt = &now
		execution.NextRetryAt = nil
		execution.UpdatedAt = now

		return nil
	})
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "RecordStart", InstanceID: instance.ID, NodeID: node.ID, Err: err}
	}

	t.publish(ctx, instance.ID, events.ExecutionStarted{
		BaseEvent:  events.NewBaseEvent(events.ExecutionStartedEvent, instance.WorkflowID),
		InstanceID: instance.ID,
		NodeID:     node.ID,
		NodeType:   node.Type,
		Attempt:    execution.RetryCount + 1,
	})
	t.notify(ctx, instance, execution)

	return execution, nil
}

// RecordResult records the outcome of a run. A nil execErr is a success,
// subject to output-schema validation; any schema mismatch is converted
// into a failure outcome and consumes a retry like any other failure.
// A failure below the retry budget re-arms the execution as pending with
// a backoff delay; at the budget it is terminally failed.
//
// A result arriving after cancellation is stored for the record but the
// status stays cancelled and no recompute is triggered.
func (t *Tracker) RecordResult(ctx context.Context, instance *models.Instance, node *models.Node, output map[string]any, execErr error) (*models.Execution, error) {
	if execErr == nil && len(node.OutputSchema) > 0 {
		if schemaErr := validateOutput(node.OutputSchema, output); schemaErr != nil {
			execErr = schemaErr
		}
	}

	now := t.now()
	late := false

	var retryAt time.Time

	execution, err := t.executions.Update(ctx, instance.ID, node.ID, func(execution *models.Execution) error {
		if execution.Status == models.ExecutionStatusCancelled {
			// Late result: keep the data, keep the status.
			late = true
			execution.Output = output

			if execErr != nil {
				execution.Error = execErr.Error()
			}

			execution.UpdatedAt = now

			return nil
		}

		if execution.Status != models.ExecutionStatusRunning {
			return fmt.Errorf("cannot record result on %s execution: %w", execution.Status, persistence.ErrInvalidTransition)
		}

		execution.UpdatedAt = now

		if execErr == nil {
			execution.Status = models.ExecutionStatusCompleted
			execution.Output = output
			execution.Error = ""
			execution.FinishedAt = &now
			execution.NextRetryAt = nil

			return nil
		}

		execution.Error = execErr.Error()
		execution.RetryCount++

		if execution.RetryCount < execution.MaxRetries {
			retryAt = now.Add(t.backoff.Delay(execution.RetryCount))
			execution.Status = models.ExecutionStatusPending
			execution.NextRetryAt = &retryAt
			execution.StartedAt = nil

			return nil
		}

		execution.Status = models.ExecutionStatusFailed
		execution.FinishedAt = &now
		execution.NextRetryAt = nil

		return nil
	})
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "RecordResult", InstanceID: instance.ID, NodeID: node.ID, Err: err}
	}

	if late {
		t.logger.Debug("stored late result on cancelled execution",
			"instance_id", instance.ID, "node_id", node.ID)

		return execution, nil
	}

	switch execution.Status {
	case models.ExecutionStatusCompleted:
		t.publish(ctx, instance.ID, events.ExecutionCompleted{
			BaseEvent:  events.NewBaseEvent(events.ExecutionCompletedEvent, instance.WorkflowID),
			InstanceID: instance.ID,
			NodeID:     node.ID,
			Output:     execution.Output,
			DurationMs: durationMs(execution.StartedAt, now),
		})
	case models.ExecutionStatusPending:
		t.publish(ctx, instance.ID, events.ExecutionRetrying{
			BaseEvent:   events.NewBaseEvent(events.ExecutionRetryingEvent, instance.WorkflowID),
			InstanceID:  instance.ID,
			NodeID:      node.ID,
			Error:       execution.Error,
			RetryCount:  execution.RetryCount,
			MaxRetries:  execution.MaxRetries,
			NextRetryAt: retryAt,
		})
	case models.ExecutionStatusFailed:
		t.publish(ctx, instance.ID, events.ExecutionFailed{
			BaseEvent:  events.NewBaseEvent(events.ExecutionFailedEvent, instance.WorkflowID),
			InstanceID: instance.ID,
			NodeID:     node.ID,
			Error:      execution.Error,
			RetryCount: execution.RetryCount,
		})
	}

	t.notify(ctx, instance, execution)

	return execution, nil
}

// RecordSkip marks a pending execution skipped. Skips are terminal and only
// valid from pending; callers filter out already-terminal records.
func (t *Tracker) RecordSkip(ctx context.Context, instance *models.Instance, nodeID, reason string) (*models.Execution, error) {
	now := t.now()

	execution, err := t.executions.Update(ctx, instance.ID, nodeID, func(execution *models.Execution) error {
		if execution.Status != models.ExecutionStatusPending {
			return fmt.Errorf("cannot skip %s execution: %w", execution.Status, persistence.ErrInvalidTransition)
		}

		execution.Status = models.ExecutionStatusSkipped
		execution.Error = reason
		execution.FinishedAt = &now
		execution.NextRetryAt = nil
		execution.UpdatedAt = now

		return nil
	})
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "RecordSkip", InstanceID: instance.ID, NodeID: nodeID, Err: err}
	}

	t.publish(ctx, instance.ID, events.ExecutionSkipped{
		BaseEvent:  events.NewBaseEvent(events.ExecutionSkippedEvent, instance.WorkflowID),
		InstanceID: instance.ID,
		NodeID:     nodeID,
		Reason:     reason,
	})
	t.notify(ctx, instance, execution)

	return execution, nil
}

// RecordCancel cancels a pending or running execution. Already-terminal
// records are left untouched, which makes instance cancellation idempotent
// under races with completing workers.
func (t *Tracker) RecordCancel(ctx context.Context, instance *models.Instance, nodeID string) (*models.Execution, error) {
	now := t.now()
	alreadyTerminal := false

	execution, err := t.executions.Update(ctx, instance.ID, nodeID, func(execution *models.Execution) error {
		if execution.Status.IsTerminal() {
			alreadyTerminal = true

			return nil
		}

		execution.Status = models.ExecutionStatusCancelled
		execution.FinishedAt = &now
		execution.NextRetryAt = nil
		execution.UpdatedAt = now

		return nil
	})
	if err != nil {
		return nil, &persistence.ExecutionError{Op: "RecordCancel", InstanceID: instance.ID, NodeID: nodeID, Err: err}
	}

	if alreadyTerminal {
		return execution, nil
	}

	t.publish(ctx, instance.ID, events.ExecutionCancelled{
		BaseEvent:  events.NewBaseEvent(events.ExecutionCancelledEvent, instance.WorkflowID),
		InstanceID: instance.ID,
		NodeID:     nodeID,
	})
	t.wake()

	return execution, nil
}

func (t *Tracker) publish(ctx context.Context, key string, event eventbus.Event) {
	if t.publisher == nil {
		return
	}

	if err := t.publisher.Publish(ctx, key, event); err != nil {
		t.logger.Warn("failed to publish engine event",
			"event_type", event.GetType(), "error", err)
	}
}

func (t *Tracker) notify(ctx context.Context, instance *models.Instance, execution *models.Execution) {
	if t.observer != nil {
		t.observer.ExecutionUpdated(ctx, instance, execution)
	}

	t.wake()
}

// validateOutput checks the node output against its declared JSON schema.
func validateOutput(schema, output map[string]any) error {
	if output == nil {
		output = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(output))
	if err != nil {
		return fmt.Errorf("output schema validation failed: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		details = append(details, resultErr.String())
	}

	return fmt.Errorf("output does not match declared schema: %s", strings.Join(details, "; "))
}

func durationMs(start *time.Time, end time.Time) int64 {
	if start == nil {
		return 0
	}

	return end.Sub(*start).Milliseconds()
}
