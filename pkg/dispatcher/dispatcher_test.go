package dispatcher_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venlock/orchid/pkg/condition"
	"github.com/venlock/orchid/pkg/dispatcher"
	"github.com/venlock/orchid/pkg/lifecycle"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence/memory"
	"github.com/venlock/orchid/pkg/protocol"
	"github.com/venlock/orchid/pkg/registry"
	"github.com/venlock/orchid/pkg/testutil"
	"github.com/venlock/orchid/pkg/tracker"
	"github.com/venlock/orchid/pkg/triggers"
)

// harness wires a full engine over the in-memory store with a scriptable
// step executor and a fast poll/backoff configuration.
type harness struct {
	store   *memory.Persistence
	fake    *testutil.FakeStep
	manager *triggers.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewPersistence()
	logger := slog.Default()
	fake := testutil.NewFakeStep()

	reg := registry.NewRegistry(logger)
	reg.RegisterStep(testutil.FakeStepFactory{TypeID: "log", Step: fake})

	evaluator := condition.NewEvaluator()

	trk := tracker.NewTracker(store.ExecutionRepository(), nil, logger,
		tracker.WithBackoff(tracker.BackoffPolicy{
			Base:   5 * time.Millisecond,
			Max:    10 * time.Millisecond,
			Jitter: 0.1,
		}))

	lc := lifecycle.NewManager(store, trk, evaluator, nil, logger)
	trk.SetObserver(lc)

	disp := dispatcher.NewDispatcher(store, trk, reg, evaluator, lc, logger,
		dispatcher.WithWorkerLimit(4),
		dispatcher.WithPollInterval(20*time.Millisecond))

	trk.SetWake(disp.Wake)
	lc.SetWake(disp.Wake)
	lc.SetCanceller(disp.CancelInstance)

	manager := triggers.NewManager(store, nil, logger)
	manager.SetWake(disp.Wake)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = disp.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{store: store, fake: fake, manager: manager}
}

func (h *harness) start(t *testing.T, definition *models.GraphDefinition, input map[string]any) *models.Instance {
	t.Helper()

	workflow := testutil.CreateTestWorkflow(definition)
	require.NoError(t, h.store.WorkflowRepository().Save(context.Background(), workflow))

	instance, err := h.manager.StartInstance(context.Background(), workflow.ID, input)
	require.NoError(t, err)

	return instance
}

func (h *harness) instanceStatus(t *testing.T, instanceID string) models.InstanceStatus {
	t.Helper()

	instance, err := h.store.InstanceRepository().GetByID(context.Background(), instanceID)
	require.NoError(t, err)

	return instance.Status
}

func (h *harness) waitTerminal(t *testing.T, instanceID string) models.InstanceStatus {
	t.Helper()

	require.Eventually(t, func() bool {
		return h.instanceStatus(t, instanceID).IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	return h.instanceStatus(t, instanceID)
}

func TestRunCompletesLinearWorkflow(t *testing.T) {
	h := newHarness(t)

	instance := h.start(t, testutil.LinearDefinition("a", "b", "c"), map[string]any{"seed": "x"})

	assert.Equal(t, models.InstanceStatusCompleted, h.waitTerminal(t, instance.ID))

	// Every node ran exactly once, in topological order.
	calls := h.fake.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "a", calls[0].NodeID)
	assert.Equal(t, "b", calls[1].NodeID)
	assert.Equal(t, "c", calls[2].NodeID)

	// The entry node received the instance input.
	assert.Equal(t, map[string]any{"seed": "x"}, calls[0].Input)
}

func TestRunRetriesTransientFailure(t *testing.T) {
	h := newHarness(t)
	h.fake.QueueError("b", errors.New("connection reset"))

	definition := testutil.LinearDefinition("a", "b")

	instance := h.start(t, definition, nil)

	assert.Equal(t, models.InstanceStatusCompleted, h.waitTerminal(t, instance.ID))

	execution, err := h.store.ExecutionRepository().Get(context.Background(), instance.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 1, execution.RetryCount)
}

func TestRunFailsAfterRetryBudget(t *testing.T) {
	h := newHarness(t)

	for range 2 {
		h.fake.QueueError("b", errors.New("boom"))
	}

	definition := &models.GraphDefinition{
		Nodes: []*models.Node{
			testutil.CreateTestNode(testutil.WithID("a")),
			testutil.CreateTestNode(testutil.WithID("b"), testutil.WithMaxRetries(2)),
		},
		Edges: []*models.Edge{testutil.CreateTestEdge("a", "b")},
	}

	instance := h.start(t, definition, nil)

	assert.Equal(t, models.InstanceStatusFailed, h.waitTerminal(t, instance.ID))

	reloaded, err := h.store.InstanceRepository().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Contains(t, reloaded.ErrorMessage, "node b failed")

	execution, err := h.store.ExecutionRepository().Get(context.Background(), instance.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, execution.RetryCount)
}

func TestRunFollowsConditionalBranch(t *testing.T) {
	h := newHarness(t)
	h.fake.QueueResult("a", &protocol.StepResult{Output: map[string]any{"count": 5}})

	definition := &models.GraphDefinition{
		Nodes: []*models.Node{
			testutil.CreateTestNode(testutil.WithID("a")),
			testutil.CreateTestNode(testutil.WithID("big")),
			testutil.CreateTestNode(testutil.WithID("small")),
		},
		Edges: []*models.Edge{
			testutil.CreateTestEdge("a", "big", testutil.WithCondition("count > 10")),
			testutil.CreateTestEdge("a", "small", testutil.WithCondition("count <= 10")),
		},
	}

	instance := h.start(t, definition, nil)

	assert.Equal(t, models.InstanceStatusCompleted, h.waitTerminal(t, instance.ID))

	big, err := h.store.ExecutionRepository().Get(context.Background(), instance.ID, "big")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSkipped, big.Status)

	small, err := h.store.ExecutionRepository().Get(context.Background(), instance.ID, "small")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, small.Status)
}

func TestTwoEnginesDoNotInterfere(t *testing.T) {
	h1 := newHarness(t)
	h2 := newHarness(t)

	instance1 := h1.start(t, testutil.LinearDefinition("a", "b"), nil)
	instance2 := h2.start(t, testutil.LinearDefinition("a", "b"), nil)

	assert.Equal(t, models.InstanceStatusCompleted, h1.waitTerminal(t, instance1.ID))
	assert.Equal(t, models.InstanceStatusCompleted, h2.waitTerminal(t, instance2.ID))

	// Each engine only saw its own store's work.
	assert.Len(t, h1.fake.Calls(), 2)
	assert.Len(t, h2.fake.Calls(), 2)
}
