package services

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venlock/orchid/pkg/condition"
	"github.com/venlock/orchid/pkg/lifecycle"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence/memory"
	"github.com/venlock/orchid/pkg/tracker"
	"github.com/venlock/orchid/pkg/triggers"
)

func newInstanceService(t *testing.T) (*Instance, *memory.Persistence, string) {
	t.Helper()

	store := memory.NewPersistence()
	logger := slog.Default()
	trk := tracker.NewTracker(store.ExecutionRepository(), nil, logger)
	lc := lifecycle.NewManager(store, trk, condition.NewEvaluator(), nil, logger)
	starter := triggers.NewManager(store, nil, logger)
	service := NewInstance(store, starter, lc)

	workflows := NewWorkflow(store)

	created, err := workflows.Create(context.Background(), &models.Workflow{
		Name:       "Nightly sync",
		Definition: validDefinition(),
	})
	require.NoError(t, err)

	_, err = workflows.Activate(context.Background(), created.ID)
	require.NoError(t, err)

	return service, store, created.ID
}

func TestStartCreatesInstance(t *testing.T) {
	service, _, workflowID := newInstanceService(t)

	instance, err := service.Start(context.Background(), workflowID, map[string]any{"day": "monday"})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusPending, instance.Status)
	assert.Equal(t, workflowID, instance.WorkflowID)
}

func TestViewIncludesExecutions(t *testing.T) {
	service, _, workflowID := newInstanceService(t)

	instance, err := service.Start(context.Background(), workflowID, nil)
	require.NoError(t, err)

	view, err := service.View(context.Background(), instance.ID)
	require.NoError(t, err)

	assert.Equal(t, instance.ID, view.Instance.ID)
	assert.Len(t, view.Executions, 2)

	for _, execution := range view.Executions {
		assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	}
}

func TestViewUnknownInstance(t *testing.T) {
	service, _, _ := newInstanceService(t)

	_, err := service.View(context.Background(), "no-such-instance")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestCancelMarksInstanceCancelled(t *testing.T) {
	service, store, workflowID := newInstanceService(t)

	instance, err := service.Start(context.Background(), workflowID, nil)
	require.NoError(t, err)

	require.NoError(t, service.Cancel(context.Background(), instance.ID, "operator request"))

	reloaded, err := store.InstanceRepository().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, reloaded.Status)
}

func TestPauseResumeRoundTrip(t *testing.T) {
	service, store, workflowID := newInstanceService(t)

	instance, err := service.Start(context.Background(), workflowID, nil)
	require.NoError(t, err)

	// Pause applies to running instances only.
	_, err = store.InstanceRepository().Update(context.Background(), instance.ID, func(i *models.Instance) error {
		i.Status = models.InstanceStatusRunning

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, service.Pause(context.Background(), instance.ID))

	paused, err := service.FetchByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusPaused, paused.Status)

	require.NoError(t, service.Resume(context.Background(), instance.ID))

	resumed, err := service.FetchByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRunning, resumed.Status)
}
