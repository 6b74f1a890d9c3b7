package triggers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/persistence/memory"
)

func activeWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:      "wf-1",
		Name:    "Scan pipeline",
		Status:  models.WorkflowStatusActive,
		Version: 3,
		Definition: &models.GraphDefinition{
			Nodes: []*models.Node{
				{ID: "a", Type: "log", Name: "A", Enabled: true},
				{ID: "b", Type: "log", Name: "B", Enabled: true},
			},
			Edges: []*models.Edge{{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"}},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	manager := NewManager(store, nil, slog.Default(),
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }))

	return manager, store
}

func TestStartInstanceFreezesDefinitionAndSeedsExecutions(t *testing.T) {
	manager, store := newTestManager(t)
	workflow := activeWorkflow()
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), workflow))

	woken := false
	manager.SetWake(func() { woken = true })

	instance, err := manager.StartInstance(context.Background(), workflow.ID, map[string]any{"target": "10.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusPending, instance.Status)
	assert.Equal(t, workflow.Version, instance.WorkflowVersion)
	assert.True(t, woken)

	// The snapshot is a copy: later workflow edits must not reach it.
	workflow.Definition.Nodes[0].Name = "renamed"
	assert.Equal(t, "A", instance.Definition.Nodes[0].Name)

	executions, err := store.ExecutionRepository().ListByInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Len(t, executions, 2)

	for _, execution := range executions {
		assert.Equal(t, models.ExecutionStatusPending, execution.Status)
		assert.Equal(t, models.DefaultMaxRetries, execution.MaxRetries)
	}
}

func TestStartInstanceRejectsNonActiveWorkflow(t *testing.T) {
	manager, store := newTestManager(t)
	workflow := activeWorkflow()
	workflow.Status = models.WorkflowStatusDraft
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), workflow))

	_, err := manager.StartInstance(context.Background(), workflow.ID, nil)
	assert.ErrorIs(t, err, ErrWorkflowNotTriggerable)
}

func TestStartInstanceRejectsUnknownWorkflow(t *testing.T) {
	manager, _ := newTestManager(t)

	_, err := manager.StartInstance(context.Background(), "missing", nil)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestActivateUpdatesTriggerCounters(t *testing.T) {
	manager, store := newTestManager(t)
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), activeWorkflow()))
	require.NoError(t, store.TriggerRepository().Save(context.Background(), &models.Trigger{
		ID:         "trg-1",
		WorkflowID: "wf-1",
		Name:       "nightly",
		Type:       models.TriggerTypeSchedule,
		Config:     map[string]any{models.TriggerConfigCron: "0 2 * * *"},
		Active:     true,
	}))

	instance, err := manager.Activate(context.Background(), "trg-1", map[string]any{"scheduled_at": "2025-06-01T02:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, "trg-1", instance.TriggerID)

	trigger, err := store.TriggerRepository().GetByID(context.Background(), "trg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), trigger.TriggerCount)
	require.NotNil(t, trigger.LastTriggered)
}

func TestActivateRejectsInactiveTrigger(t *testing.T) {
	manager, store := newTestManager(t)
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), activeWorkflow()))
	require.NoError(t, store.TriggerRepository().Save(context.Background(), &models.Trigger{
		ID:         "trg-1",
		WorkflowID: "wf-1",
		Name:       "nightly",
		Type:       models.TriggerTypeSchedule,
		Active:     false,
	}))

	_, err := manager.Activate(context.Background(), "trg-1", nil)
	assert.ErrorIs(t, err, ErrTriggerInactive)
}

func TestStartInstanceWithParentLink(t *testing.T) {
	manager, store := newTestManager(t)
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), activeWorkflow()))

	instance, err := manager.StartInstance(context.Background(), "wf-1", nil, WithParent("parent-1"))
	require.NoError(t, err)
	require.NotNil(t, instance.ParentInstanceID)
	assert.Equal(t, "parent-1", *instance.ParentInstanceID)

	children, err := store.InstanceRepository().ListByParent(context.Background(), "parent-1")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, instance.ID, children[0].ID)
}
