// Package lifecycle owns instance status transitions. Every recompute for
// an instance runs under that instance's mutex, so concurrent execution
// updates cannot interleave their skip propagation or terminal evaluation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/venlock/orchid/pkg/condition"
	"github.com/venlock/orchid/pkg/eventbus"
	"github.com/venlock/orchid/pkg/events"
	"github.com/venlock/orchid/pkg/graph"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/tracker"
)

// ErrInstanceTerminal rejects updates against completed, failed or
// cancelled instances.
var ErrInstanceTerminal = errors.New("instance is in a terminal status")

// Manager recomputes instance state from execution records and applies the
// explicit lifecycle operations (cancel, pause, resume).
type Manager struct {
	store     persistence.Persistence
	tracker   *tracker.Tracker
	evaluator *condition.Evaluator
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	// canceller interrupts in-flight executors of an instance; the
	// dispatcher registers itself here at engine assembly.
	canceller func(instanceID string)

	// wake nudges the dispatcher after resume.
	wake func()

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(store persistence.Persistence, trk *tracker.Tracker, evaluator *condition.Evaluator, publisher eventbus.EventPublisher, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		tracker:   trk,
		evaluator: evaluator,
		publisher: publisher,
		logger:    logger.With("module", "lifecycle"),
		now:       func() time.Time { return time.Now().UTC() },
		canceller: func(string) {},
		wake:      func() {},
		locks:     make(map[string]*sync.Mutex),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetCanceller registers the dispatcher's per-instance context canceller.
func (m *Manager) SetCanceller(canceller func(instanceID string)) {
	if canceller != nil {
		m.canceller = canceller
	}
}

// SetWake registers the dispatcher wake hook.
func (m *Manager) SetWake(wake func()) {
	if wake != nil {
		m.wake = wake
	}
}

// ExecutionUpdated implements tracker.Observer. The recompute runs on its
// own goroutine: the tracker may be calling from inside a recompute of the
// same instance (skip cascades), and the per-instance lock is not
// reentrant.
func (m *Manager) ExecutionUpdated(ctx context.Context, instance *models.Instance, _ *models.Execution) {
	recomputeCtx := context.WithoutCancel(ctx)

	go func() {
		if err := m.Recompute(recomputeCtx, instance.ID); err != nil {
			m.logger.Error("instance recompute failed",
				"instance_id", instance.ID, "error", err)
		}
	}()
}

func (m *Manager) lockFor(instanceID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[instanceID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[instanceID] = lock
	}

	return lock
}

// Recompute propagates skips and evaluates terminal state for one instance.
func (m *Manager) Recompute(ctx context.Context, instanceID string) error {
	lock := m.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	instance, err := m.store.InstanceRepository().GetByID(ctx, instanceID)
	if err != nil {
		return err
	}

	if instance.Status.IsTerminal() || instance.Status == models.InstanceStatusPaused {
		return nil
	}

	g, err := graph.Validate(instance.Definition)
	if err != nil {
		return fmt.Errorf("stored definition no longer validates: %w", err)
	}

	byNode, err := m.executionsByNode(ctx, instanceID)
	if err != nil {
		return err
	}

	if err := m.propagateSkips(ctx, instance, g, byNode); err != nil {
		return err
	}

	return m.evaluateTerminal(ctx, instance, g, byNode)
}

func (m *Manager) executionsByNode(ctx context.Context, instanceID string) (map[string]*models.Execution, error) {
	executions, err := m.store.ExecutionRepository().ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	byNode := make(map[string]*models.Execution, len(executions))
	for _, execution := range executions {
		byNode[execution.NodeID] = execution
	}

	return byNode, nil
}

// propagateSkips marks pending nodes that can never run. Benign blocks
// (false conditions, skipped sources, untaken failure paths), disabled
// nodes, and nodes stranded behind a failure all become skips; whether the
// failure itself sinks the instance is terminal evaluation's call, via the
// handled-failure rule. Skipping a node can block its successors, so this
// loops to a fixpoint.
func (m *Manager) propagateSkips(ctx context.Context, instance *models.Instance, g *graph.ValidatedGraph, byNode map[string]*models.Execution) error {
	for {
		changed := false

		for _, node := range instance.Definition.Nodes {
			execution, ok := byNode[node.ID]
			if !ok || execution.Status != models.ExecutionStatusPending {
				continue
			}

			var reason string

			switch {
			case !node.Enabled:
				reason = "node is disabled"
			default:
				disposition, resolutions := graph.ResolveNode(m.evaluator, g, node.ID, byNode)
				switch disposition {
				case graph.NodeBlockedBenign:
					reason = blockReason(resolutions, graph.EdgeBlockedBenign)
				case graph.NodeBlockedFailure:
					reason = blockReason(resolutions, graph.EdgeBlockedFailure)
				default:
					continue
				}
			}

			skipped, err := m.tracker.RecordSkip(ctx, instance, node.ID, reason)
			if err != nil {
				if persistence.IsInvalidTransition(err) {
					// Lost a race with a concurrent transition; the next
					// recompute sees the new state.
					continue
				}

				return err
			}

			byNode[node.ID] = skipped
			changed = true
		}

		if !changed {
			return nil
		}
	}
}

func blockReason(resolutions []graph.EdgeResolution, state graph.EdgeState) string {
	for _, resolution := range resolutions {
		if resolution.State == state {
			return resolution.Reason
		}
	}

	return "blocked by upstream state"
}

// evaluateTerminal finishes the instance once no execution can make further
// progress. An instance completes only when every failed node was routed
// around by a satisfied failure-path edge; any unhandled failure fails the
// instance.
func (m *Manager) evaluateTerminal(ctx context.Context, instance *models.Instance, g *graph.ValidatedGraph, byNode map[string]*models.Execution) error {
	var failed []*models.Execution

	for _, execution := range byNode {
		switch execution.Status {
		case models.ExecutionStatusPending, models.ExecutionStatusRunning:
			// Still runnable; nothing to conclude yet.
			return nil
		case models.ExecutionStatusFailed:
			failed = append(failed, execution)
		}
	}

	status := models.InstanceStatusCompleted

	var failureReason, failedNode string

	for _, execution := range failed {
		if handledFailure(m.evaluator, g, execution, byNode) {
			continue
		}

		status = models.InstanceStatusFailed
		failedNode = execution.NodeID
		failureReason = fmt.Sprintf("node %s failed: %s", execution.NodeID, execution.Error)
	}

	output := collectOutput(g, byNode)

	return m.finishInstance(ctx, instance, status, output, failureReason, failedNode)
}

// handledFailure reports whether a failed execution was routed around by at
// least one satisfied failure-path edge.
func handledFailure(evaluator *condition.Evaluator, g *graph.ValidatedGraph, execution *models.Execution, byNode map[string]*models.Execution) bool {
	for _, edge := range g.Outbound[execution.NodeID] {
		if !edge.OnFailure {
			continue
		}

		if resolution := graph.ResolveEdge(evaluator, edge, execution); resolution.State == graph.EdgeSatisfied {
			// The failure path must itself have run to completion.
			if target, ok := byNode[edge.TargetNodeID]; ok && target.Status == models.ExecutionStatusCompleted {
				return true
			}
		}
	}

	return false
}

// collectOutput gathers the outputs of completed sink nodes, keyed by node
// id. Sinks are nodes with no outbound edges.
func collectOutput(g *graph.ValidatedGraph, byNode map[string]*models.Execution) map[string]any {
	output := make(map[string]any)

	for nodeID, execution := range byNode {
		if len(g.Outbound[nodeID]) > 0 || execution.Status != models.ExecutionStatusCompleted {
			continue
		}

		output[nodeID] = execution.Output
	}

	if len(output) == 0 {
		return nil
	}

	return output
}

func (m *Manager) finishInstance(ctx context.Context, instance *models.Instance, status models.InstanceStatus, output map[string]any, errorMessage, failedNode string) error {
	now := m.now()
	alreadyTerminal := false

	updated, err := m.store.InstanceRepository().Update(ctx, instance.ID, func(instance *models.Instance) error {
		if instance.Status.IsTerminal() {
			alreadyTerminal = true

			return nil
		}

		instance.Status = status
		instance.Output = output
		instance.ErrorMessage = errorMessage
		instance.FinishedAt = &now

		return nil
	})
	if err != nil {
		return err
	}

	if alreadyTerminal {
		return nil
	}

	m.logger.Info("instance finished",
		"instance_id", instance.ID, "workflow_id", instance.WorkflowID, "status", status)

	switch status {
	case models.InstanceStatusCompleted:
		m.publish(ctx, updated.ID, events.InstanceCompleted{
			BaseEvent:  events.NewBaseEvent(events.InstanceCompletedEvent, updated.WorkflowID),
			InstanceID: updated.ID,
			Output:     output,
			DurationMs: instanceDurationMs(updated, now),
		})
	case models.InstanceStatusFailed:
		m.publish(ctx, updated.ID, events.InstanceFailed{
			BaseEvent:  events.NewBaseEvent(events.InstanceFailedEvent, updated.WorkflowID),
			InstanceID: updated.ID,
			Error:      errorMessage,
			FailedNode: failedNode,
			DurationMs: instanceDurationMs(updated, now),
		})
	}

	return nil
}

// MarkRunning implements the dispatcher's InstanceStarter: the first
// eligible dispatch moves a pending instance to running. Calling it on an
// already running instance is a no-op.
func (m *Manager) MarkRunning(ctx context.Context, instanceID string) (*models.Instance, error) {
	now := m.now()
	started := false

	updated, err := m.store.InstanceRepository().Update(ctx, instanceID, func(instance *models.Instance) error {
		switch instance.Status {
		case models.InstanceStatusRunning:
			return nil
		case models.InstanceStatusPending:
			instance.Status = models.InstanceStatusRunning
			instance.StartedAt = &now
			started = true

			return nil
		case models.InstanceStatusPaused:
			return fmt.Errorf("cannot start paused instance: %w", persistence.ErrInvalidTransition)
		default:
			return ErrInstanceTerminal
		}
	})
	if err != nil {
		return nil, err
	}

	if started {
		m.publish(ctx, updated.ID, events.InstanceStarted{
			BaseEvent:  events.NewBaseEvent(events.InstanceStartedEvent, updated.WorkflowID),
			InstanceID: updated.ID,
		})
	}

	return updated, nil
}

// Cancel terminates a non-terminal instance: its dispatch context is
// cancelled, every pending or running execution is cancelled, and the
// cancellation cascades to child instances. Late executor completions find
// their execution records already cancelled and cannot resurrect anything.
func (m *Manager) Cancel(ctx context.Context, instanceID, reason string) error {
	lock := m.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	now := m.now()

	updated, err := m.store.InstanceRepository().Update(ctx, instanceID, func(instance *models.Instance) error {
		if instance.Status.IsTerminal() {
			return ErrInstanceTerminal
		}

		instance.Status = models.InstanceStatusCancelled
		instance.ErrorMessage = reason
		instance.FinishedAt = &now

		return nil
	})
	if err != nil {
		return err
	}

	m.canceller(instanceID)

	executions, err := m.store.ExecutionRepository().ListByInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	for _, execution := range executions {
		if execution.Status.IsTerminal() {
			continue
		}

		if _, err := m.tracker.RecordCancel(ctx, updated, execution.NodeID); err != nil {
			m.logger.Error("failed to cancel execution",
				"instance_id", instanceID, "node_id", execution.NodeID, "error", err)
		}
	}

	m.publish(ctx, updated.ID, events.InstanceCancelled{
		BaseEvent:  events.NewBaseEvent(events.InstanceCancelledEvent, updated.WorkflowID),
		InstanceID: updated.ID,
		Reason:     reason,
	})

	m.logger.Info("instance cancelled", "instance_id", instanceID, "reason", reason)

	return m.cancelChildren(ctx, instanceID, reason)
}

func (m *Manager) cancelChildren(ctx context.Context, parentID, reason string) error {
	children, err := m.store.InstanceRepository().ListByParent(ctx, parentID)
	if err != nil {
		return err
	}

	for _, child := range children {
		if child.Status.IsTerminal() {
			continue
		}

		if err := m.Cancel(ctx, child.ID, "parent instance cancelled: "+reason); err != nil && !errors.Is(err, ErrInstanceTerminal) {
			return err
		}
	}

	return nil
}

// Pause excludes a running instance from dispatch. In-flight executions
// finish and are recorded; nothing new dispatches until Resume.
func (m *Manager) Pause(ctx context.Context, instanceID string) error {
	updated, err := m.store.InstanceRepository().Update(ctx, instanceID, func(instance *models.Instance) error {
		if instance.Status.IsTerminal() {
			return ErrInstanceTerminal
		}

		if instance.Status != models.InstanceStatusRunning {
			return fmt.Errorf("cannot pause %s instance: %w", instance.Status, persistence.ErrInvalidTransition)
		}

		instance.Status = models.InstanceStatusPaused

		return nil
	})
	if err != nil {
		return err
	}

	m.publish(ctx, updated.ID, events.InstancePaused{
		BaseEvent:  events.NewBaseEvent(events.InstancePausedEvent, updated.WorkflowID),
		InstanceID: updated.ID,
	})

	return nil
}

// Resume returns a paused instance to running and wakes the dispatcher.
func (m *Manager) Resume(ctx context.Context, instanceID string) error {
	updated, err := m.store.InstanceRepository().Update(ctx, instanceID, func(instance *models.Instance) error {
		if instance.Status.IsTerminal() {
			return ErrInstanceTerminal
		}

		if instance.Status != models.InstanceStatusPaused {
			return fmt.Errorf("cannot resume %s instance: %w", instance.Status, persistence.ErrInvalidTransition)
		}

		instance.Status = models.InstanceStatusRunning

		return nil
	})
	if err != nil {
		return err
	}

	m.publish(ctx, updated.ID, events.InstanceResumed{
		BaseEvent:  events.NewBaseEvent(events.InstanceResumedEvent, updated.WorkflowID),
		InstanceID: updated.ID,
	})

	m.wake()

	// A pause may have swallowed the recompute for results recorded while
	// paused.
	return m.Recompute(ctx, instanceID)
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

func instanceDurationMs(instance *models.Instance, end time.Time) int64 {
	if instance.StartedAt == nil {
		return 0
	}

	return end.Sub(*instance.StartedAt).Milliseconds()
}
