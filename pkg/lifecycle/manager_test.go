package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venlock/orchid/pkg/condition"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence/memory"
	"github.com/venlock/orchid/pkg/tracker"
)

type harness struct {
	store   *memory.Persistence
	tracker *tracker.Tracker
	manager *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewPersistence()
	trk := tracker.NewTracker(store.ExecutionRepository(), nil, slog.Default())
	manager := NewManager(store, trk, condition.NewEvaluator(), nil, slog.Default())

	return &harness{store: store, tracker: trk, manager: manager}
}

func node(id string) *models.Node {
	return &models.Node{ID: id, Type: "log", Name: id, Enabled: true}
}

// seedInstance stores a running instance with one pending execution per node.
func (h *harness) seedInstance(t *testing.T, id string, def *models.GraphDefinition) *models.Instance {
	t.Helper()

	instance := &models.Instance{
		ID:         id,
		WorkflowID: "wf-1",
		Definition: def,
		Status:     models.InstanceStatusRunning,
	}
	require.NoError(t, h.store.InstanceRepository().Save(context.Background(), instance))

	for _, n := range def.Nodes {
		require.NoError(t, h.store.ExecutionRepository().Save(context.Background(), &models.Execution{
			InstanceID: id,
			NodeID:     n.ID,
			Status:     models.ExecutionStatusPending,
			MaxRetries: n.RetryBudget(),
		}))
	}

	return instance
}

func (h *harness) complete(t *testing.T, instance *models.Instance, n *models.Node, output map[string]any) {
	t.Helper()

	_, err := h.tracker.RecordStart(context.Background(), instance, n, nil)
	require.NoError(t, err)
	_, err = h.tracker.RecordResult(context.Background(), instance, n, output, nil)
	require.NoError(t, err)
}

func (h *harness) failTerminally(t *testing.T, instance *models.Instance, n *models.Node, reason string) {
	t.Helper()

	for {
		_, err := h.tracker.RecordStart(context.Background(), instance, n, nil)
		require.NoError(t, err)

		execution, err := h.tracker.RecordResult(context.Background(), instance, n, nil, errors.New(reason))
		require.NoError(t, err)

		if execution.Status == models.ExecutionStatusFailed {
			return
		}
	}
}

func (h *harness) instanceStatus(t *testing.T, id string) models.InstanceStatus {
	t.Helper()

	instance, err := h.store.InstanceRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return instance.Status
}

func (h *harness) executionStatus(t *testing.T, instanceID, nodeID string) models.ExecutionStatus {
	t.Helper()

	execution, err := h.store.ExecutionRepository().Get(context.Background(), instanceID, nodeID)
	require.NoError(t, err)

	return execution.Status
}

func TestRecomputeCompletesLinearChain(t *testing.T) {
	h := newHarness(t)

	def := &models.GraphDefinition{
		Nodes: []*models.Node{node("a"), node("b")},
		Edges: []*models.Edge{{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"}},
	}
	instance := h.seedInstance(t, "inst-1", def)

	h.complete(t, instance, def.Nodes[0], map[string]any{"step": "a"})
	require.NoError(t, h.manager.Recompute(context.Background(), instance.ID))
	assert.Equal(t, models.InstanceStatusRunning, h.instanceStatus(t, instance.ID))

	h.complete(t, instance, def.Nodes[1], map[string]any{"step": "b"})
	require.NoError(t, h.manager.Recompute(context.Background(), instance.ID))
	assert.Equal(t, models.InstanceStatusCompleted, h.instanceStatus(t, instance.ID))

	final, err := h.store.InstanceRepository().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	require.NotNil(t, final.FinishedAt)
	assert.Equal(t, map[string]any{"b": map[string]any{"step": "b"}}, final.Output)
}

func TestRecomputeSkipCascadeStillCompletes(t *testing.T) {
	h := newHarness(t)

	// a -> b (count > 10) -> c: a completes with count=3, so b and c skip
	// and the instance still completes.
	def := &models.GraphDefinition{
		Nodes: []*models.Node{node("a"), node("b"), node("c")},
		Edges: []*models.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "b", Condition: "count > 10"},
			{ID: "e2", SourceNodeID: "b", TargetNodeID: "c"},
		},
	}
	instance := h.seedInstance(t, "inst-1", def)

	h.complete(t, instance, def.Nodes[0], map[string]any{"count": 3})
	require.NoError(t, h.manager.Recompute(context.Background(), instance.ID))

	assert.Equal(t, models.ExecutionStatusSkipped, h.executionStatus(t, instance.ID, "b"))
	assert.Equal(t, models.ExecutionStatusSkipped, h.executionStatus(t, instance.ID, "c"))
	assert.Equal(t, models.InstanceStatusCompleted, h.instanceStatus(t, instance.ID))
}

func TestRecomputeUnhandledFailureFailsInstance(t *testing.T) {
	h := newHarness(t)

	zero := 0
	failing := node("a")
	failing.MaxRetries = &zero

	def := &models.GraphDefinition{
		Nodes: []*models.Node{failing, node("b")},
		Edges: []*models.Edge{{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"}},
	}
	instance := h.seedInstance(t, "inst-1", def)

	h.failTerminally(t, instance, failing, "disk full")
	require.NoError(t, h.manager.Recompute(context.Background(), instance.ID))

	assert.Equal(t, models.ExecutionStatusSkipped, h.executionStatus(t, instance.ID, "b"))
	assert.Equal(t, models.InstanceStatusFailed, h.instanceStatus(t, instance.ID))

	final, err := h.store.InstanceRepository().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Contains(t, final.ErrorMessage, "a")
}

func TestRecomputeHandledFailureCompletes(t *testing.T) {
	h := newHarness(t)

	zero := 0
	failing := node("a")
	failing.MaxRetries = &zero
	recovery := node("recover")

	def := &models.GraphDefinition{
		Nodes: []*models.Node{failing, node("b"), recovery},
		Edges: []*models.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "e2", SourceNodeID: "a", TargetNodeID: "recover", OnFailure: true},
		},
	}
	instance := h.seedInstance(t, "inst-1", def)

	h.failTerminally(t, instance, failing, "disk full")
	require.NoError(t, h.manager.Recompute(context.Background(), instance.ID))

	// The happy path is skipped, the failure path stays runnable.
	assert.Equal(t, models.ExecutionStatusSkipped, h.executionStatus(t, instance.ID, "b"))
	assert.Equal(t, models.ExecutionStatusPending, h.executionStatus(t, instance.ID, "recover"))
	assert.Equal(t, models.InstanceStatusRunning, h.instanceStatus(t, instance.ID))

	h.complete(t, instance, recovery, map[string]any{"recovered": true})
	require.NoError(t, h.manager.Recompute(context.Background(), instance.ID))

	assert.Equal(t, models.InstanceStatusCompleted, h.instanceStatus(t, instance.ID))
}

func TestRecomputeSkipsDisabledNode(t *testing.T) {
	h := newHarness(t)

	disabled := node("b")
	disabled.Enabled = false

	def := &models.GraphDefinition{
		Nodes: []*models.Node{node("a"), disabled},
		Edges: []*models.Edge{{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"}},
	}
	instance := h.seedInstance(t, "inst-1", def)

	h.complete(t, instance, def.Nodes[0], nil)
	require.NoError(t, h.manager.Recompute(context.Background(), instance.ID))

	assert.Equal(t, models.ExecutionStatusSkipped, h.executionStatus(t, instance.ID, "b"))
	assert.Equal(t, models.InstanceStatusCompleted, h.instanceStatus(t, instance.ID))
}

func TestMarkRunningTransitions(t *testing.T) {
	h := newHarness(t)

	def := &models.GraphDefinition{Nodes: []*models.Node{node("a")}}
	instance := h.seedInstance(t, "inst-1", def)

	_, err := h.store.InstanceRepository().Update(context.Background(), instance.ID, func(i *models.Instance) error {
		i.Status = models.InstanceStatusPending

		return nil
	})
	require.NoError(t, err)

	started, err := h.manager.MarkRunning(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, started.Status)
	require.NotNil(t, started.StartedAt)

	// Idempotent on running.
	again, err := h.manager.MarkRunning(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, again.Status)

	require.NoError(t, h.manager.Cancel(context.Background(), instance.ID, "test"))

	_, err = h.manager.MarkRunning(context.Background(), instance.ID)
	assert.ErrorIs(t, err, ErrInstanceTerminal)
}

func TestCancelCancelsExecutionsAndCascades(t *testing.T) {
	h := newHarness(t)

	cancelled := ""
	h.manager.SetCanceller(func(instanceID string) { cancelled = instanceID })

	def := &models.GraphDefinition{
		Nodes: []*models.Node{node("a"), node("b")},
		Edges: []*models.Edge{{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"}},
	}
	parent := h.seedInstance(t, "parent", def)

	childDef := &models.GraphDefinition{Nodes: []*models.Node{node("x")}}
	child := h.seedInstance(t, "child", childDef)
	_, err := h.store.InstanceRepository().Update(context.Background(), child.ID, func(i *models.Instance) error {
		parentID := parent.ID
		i.ParentInstanceID = &parentID

		return nil
	})
	require.NoError(t, err)

	_, err = h.tracker.RecordStart(context.Background(), parent, def.Nodes[0], nil)
	require.NoError(t, err)

	require.NoError(t, h.manager.Cancel(context.Background(), parent.ID, "operator request"))

	assert.Equal(t, parent.ID, cancelled)
	assert.Equal(t, models.InstanceStatusCancelled, h.instanceStatus(t, parent.ID))
	assert.Equal(t, models.ExecutionStatusCancelled, h.executionStatus(t, parent.ID, "a"))
	assert.Equal(t, models.ExecutionStatusCancelled, h.executionStatus(t, parent.ID, "b"))
	assert.Equal(t, models.InstanceStatusCancelled, h.instanceStatus(t, child.ID))
	assert.Equal(t, models.ExecutionStatusCancelled, h.executionStatus(t, child.ID, "x"))

	err = h.manager.Cancel(context.Background(), parent.ID, "again")
	assert.ErrorIs(t, err, ErrInstanceTerminal)
}

func TestLateResultDoesNotResurrectCancelledInstance(t *testing.T) {
	h := newHarness(t)

	def := &models.GraphDefinition{Nodes: []*models.Node{node("a")}}
	instance := h.seedInstance(t, "inst-1", def)

	_, err := h.tracker.RecordStart(context.Background(), instance, def.Nodes[0], nil)
	require.NoError(t, err)

	require.NoError(t, h.manager.Cancel(context.Background(), instance.ID, "shutdown"))

	// The executor finishes after the cancel.
	execution, err := h.tracker.RecordResult(context.Background(), instance, def.Nodes[0], map[string]any{"late": true}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusCancelled, execution.Status)
	assert.Equal(t, map[string]any{"late": true}, execution.Output)
	assert.Equal(t, models.InstanceStatusCancelled, h.instanceStatus(t, instance.ID))
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t)

	def := &models.GraphDefinition{
		Nodes: []*models.Node{node("a"), node("b")},
		Edges: []*models.Edge{{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"}},
	}
	instance := h.seedInstance(t, "inst-1", def)

	require.NoError(t, h.manager.Pause(context.Background(), instance.ID))
	assert.Equal(t, models.InstanceStatusPaused, h.instanceStatus(t, instance.ID))

	// Results recorded while paused do not finish the instance.
	h.complete(t, instance, def.Nodes[0], nil)
	h.complete(t, instance, def.Nodes[1], nil)
	require.NoError(t, h.manager.Recompute(context.Background(), instance.ID))
	assert.Equal(t, models.InstanceStatusPaused, h.instanceStatus(t, instance.ID))

	woken := false
	h.manager.SetWake(func() { woken = true })

	// Resume recomputes and finishes.
	require.NoError(t, h.manager.Resume(context.Background(), instance.ID))
	assert.True(t, woken)
	assert.Equal(t, models.InstanceStatusCompleted, h.instanceStatus(t, instance.ID))

	err := h.manager.Pause(context.Background(), instance.ID)
	assert.ErrorIs(t, err, ErrInstanceTerminal)
}
