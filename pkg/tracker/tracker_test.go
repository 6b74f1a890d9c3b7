package tracker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venlock/orchid/pkg/eventbus"
	"github.com/venlock/orchid/pkg/events"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/persistence/memory"
)

type capturingPublisher struct {
	events []eventbus.Event
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.events = append(p.events, event)

	return nil
}

func (p *capturingPublisher) types() []events.EventType {
	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

type capturingObserver struct {
	updates []*models.Execution
}

func (o *capturingObserver) ExecutionUpdated(_ context.Context, _ *models.Instance, execution *models.Execution) {
	o.updates = append(o.updates, execution)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestTracker(t *testing.T) (*Tracker, persistence.ExecutionRepository, *capturingPublisher, *capturingObserver) {
	t.Helper()

	store := memory.NewPersistence()
	publisher := &capturingPublisher{}
	observer := &capturingObserver{}

	tr := NewTracker(store.ExecutionRepository(), publisher, slog.Default(),
		WithBackoff(BackoffPolicy{Base: time.Second, Max: 5 * time.Minute}),
		WithClock(fixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))),
	)
	tr.SetObserver(observer)

	return tr, store.ExecutionRepository(), publisher, observer
}

func seedExecution(t *testing.T, repo persistence.ExecutionRepository, status models.ExecutionStatus, retryCount, maxRetries int) (*models.Instance, *models.Node) {
	t.Helper()

	instance := &models.Instance{ID: "inst-1", WorkflowID: "wf-1", Status: models.InstanceStatusRunning}
	node := &models.Node{ID: "node-a", Type: "log", Name: "Node A", Enabled: true}

	err := repo.Save(context.Background(), &models.Execution{
		InstanceID: instance.ID,
		NodeID:     node.ID,
		Status:     status,
		RetryCount: retryCount,
		MaxRetries: maxRetries,
	})
	require.NoError(t, err)

	return instance, node
}

func TestRecordStartTransitionsPendingToRunning(t *testing.T) {
	tr, repo, publisher, observer := newTestTracker(t)
	instance, node := seedExecution(t, repo, models.ExecutionStatusPending, 0, 3)

	execution, err := tr.RecordStart(context.Background(), instance, node, map[string]any{"k": "v"})
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	require.NotNil(t, execution.StartedAt)
	assert.Equal(t, []events.EventType{events.ExecutionStartedEvent}, publisher.types())
	require.Len(t, observer.updates, 1)

	started, ok := publisher.events[0].(events.ExecutionStarted)
	require.True(t, ok)
	assert.Equal(t, 1, started.Attempt)
}

func TestRecordStartRejectsDuplicateDispatch(t *testing.T) {
	tr, repo, _, _ := newTestTracker(t)
	instance, node := seedExecution(t, repo, models.ExecutionStatusPending, 0, 3)

	_, err := tr.RecordStart(context.Background(), instance, node, nil)
	require.NoError(t, err)

	_, err = tr.RecordStart(context.Background(), instance, node, nil)
	require.Error(t, err)
	assert.True(t, persistence.IsInvalidTransition(err))
}

func TestRecordResultSuccessCompletes(t *testing.T) {
	tr, repo, publisher, _ := newTestTracker(t)
	instance, node := seedExecution(t, repo, models.ExecutionStatusRunning, 0, 3)

	output := map[string]any{"rows": 42}

	execution, err := tr.RecordResult(context.Background(), instance, node, output, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, output, execution.Output)
	assert.Empty(t, execution.Error)
	require.NotNil(t, execution.FinishedAt)
	assert.Equal(t, []events.EventType{events.ExecutionCompletedEvent}, publisher.types())
}

func TestRecordResultFailureBelowBudgetRearmsWithBackoff(t *testing.T) {
	tr, repo, publisher, _ := newTestTracker(t)
	instance, node := seedExecution(t, repo, models.ExecutionStatusRunning, 0, 3)

	execution, err := tr.RecordResult(context.Background(), instance, node, nil, errors.New("connection refused"))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, 1, execution.RetryCount)
	assert.Equal(t, "connection refused", execution.Error)
	require.NotNil(t, execution.NextRetryAt)
	assert.True(t, execution.NextRetryAt.After(tr.now()))
	assert.Nil(t, execution.FinishedAt)
	assert.Equal(t, []events.EventType{events.ExecutionRetryingEvent}, publisher.types())
}

func TestRecordResultFailureAtBudgetIsTerminal(t *testing.T) {
	tr, repo, publisher, _ := newTestTracker(t)
	instance, node := seedExecution(t, repo, models.ExecutionStatusRunning, 2, 3)

	execution, err := tr.RecordResult(context.Background(), instance, node, nil, errors.New("still broken"))
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 3, execution.RetryCount)
	assert.Nil(t, execution.NextRetryAt)
	require.NotNil(t, execution.FinishedAt)
	assert.Equal(t, []events.EventType{events.ExecutionFailedEvent}, publisher.types())
}

func TestRecordResultRetryCountReachingBudgetFailsImmediately(t *testing.T) {
	tr, repo, publisher, _ := newTestTracker(t)
	instance, node := seedExecution(t, repo, models.ExecutionStatusRunning, 0, 1)

	execution, err := tr.RecordResult(context.Background(), instance, node, nil, errors.New("boom"))
	require.NoError(t, err)

	// The failure brings RetryCount up to MaxRetries: no extra attempt.
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 1, execution.RetryCount)
	assert.Nil(t, execution.NextRetryAt)
	require.NotNil(t, execution.FinishedAt)
	assert.Equal(t, []events.EventType{events.ExecutionFailedEvent}, publisher.types())
}

func TestRecordResultOutputSchemaMismatchIsFailure(t *testing.T) {
	tr, repo, publisher, _ := newTestTracker(t)
	instance, node := seedExecution(t, repo, models.ExecutionStatusRunning, 0, 3)
	node.OutputSchema = map[string]any{
		"type":     "object",
		"required": []any{"status"},
		"properties": map[string]any{
			"status": map[string]any{"type": "string"},
		},
	}

	execution, err := tr.RecordResult(context.Background(), instance, node, map[string]any{"other": 1}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, 1, execution.RetryCount, "schema mismatch must consume a retry")
	assert.Contains(t, execution.Error, "schema")
	assert.Equal(t, []events.EventType{events.ExecutionRetryingEvent}, publisher.types())
}

func TestRecordResultOnCancelledStoresButKeepsStatus(t *testing.T) {
	tr, repo, publisher, observer := newTestTracker(t)
	instance, node := seedExecution(t, repo, models.ExecutionStatusCancelled, 0, 3)

	execution, err := tr.RecordResult(context.Background(), instance, node, map[string]any{"late": true}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, map[string]any{"late": true}, execution.Output)
	assert.Empty(t, publisher.events, "late result must not publish events")
	assert.Empty(t, observer.updates, "late result must not trigger recompute")
}

func TestRecordSkipOnlyFromPending(t *testing.T) {
	tr, repo, publisher, _ := newTestTracker(t)
	instance, _ := seedExecution(t, repo, models.ExecutionStatusPending, 0, 3)

	execution, err := tr.RecordSkip(context.Background(), instance, "node-a", "condition not met")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSkipped, execution.Status)
	assert.Equal(t, []events.EventType{events.ExecutionSkippedEvent}, publisher.types())

	_, err = tr.RecordSkip(context.Background(), instance, "node-a", "again")
	require.Error(t, err)
	assert.True(t, persistence.IsInvalidTransition(err))
}

func TestRecordCancelIsIdempotentOnTerminal(t *testing.T) {
	tr, repo, publisher, _ := newTestTracker(t)
	instance, _ := seedExecution(t, repo, models.ExecutionStatusRunning, 0, 3)

	execution, err := tr.RecordCancel(context.Background(), instance, "node-a")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	require.Len(t, publisher.events, 1)

	execution, err = tr.RecordCancel(context.Background(), instance, "node-a")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Len(t, publisher.events, 1, "second cancel must not publish again")
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	policy := BackoffPolicy{Base: time.Second, Max: 8 * time.Second}

	assert.Equal(t, 1*time.Second, policy.Delay(1))
	assert.Equal(t, 2*time.Second, policy.Delay(2))
	assert.Equal(t, 4*time.Second, policy.Delay(3))
	assert.Equal(t, 8*time.Second, policy.Delay(4))
	assert.Equal(t, 8*time.Second, policy.Delay(10))
}

func TestBackoffJitterStaysInBounds(t *testing.T) {
	policy := BackoffPolicy{Base: time.Second, Max: time.Minute, Jitter: 0.2}

	for range 100 {
		delay := policy.Delay(3)
		assert.GreaterOrEqual(t, delay, 3200*time.Millisecond)
		assert.LessOrEqual(t, delay, 4800*time.Millisecond)
	}
}
