package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
)

func TestWorkflowRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	workflow := &models.Workflow{
		ID:        "wf-1",
		Name:      "patch rollout",
		Status:    models.WorkflowStatusDraft,
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))

	loaded, err := store.WorkflowRepository().GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "patch rollout", loaded.Name)

	_, err = store.WorkflowRepository().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepositoryListFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	now := time.Now().UTC()
	active := models.WorkflowStatusActive

	for i, spec := range []struct {
		id     string
		status models.WorkflowStatus
	}{
		{"wf-a", models.WorkflowStatusActive},
		{"wf-b", models.WorkflowStatusActive},
		{"wf-c", models.WorkflowStatusDraft},
	} {
		require.NoError(t, store.WorkflowRepository().Save(ctx, &models.Workflow{
			ID:        spec.id,
			Name:      spec.id,
			Status:    spec.status,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	result, err := store.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
		Status: &active,
		Limit:  1,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.TotalCount)
	assert.Len(t, result.Workflows, 1)
	assert.True(t, result.HasNextPage)
	assert.Equal(t, "wf-a", result.Workflows[0].ID)

	_, err = store.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{SortBy: "bogus"})
	assert.ErrorIs(t, err, persistence.ErrInvalidSortField)
}

func TestExecutionRepositoryAtomicUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	require.NoError(t, store.ExecutionRepository().Save(ctx, &models.Execution{
		InstanceID: "inst-1",
		NodeID:     "node-a",
		Status:     models.ExecutionStatusPending,
		MaxRetries: 3,
	}))

	// Concurrent increments must not lose updates.
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := store.ExecutionRepository().Update(ctx, "inst-1", "node-a", func(e *models.Execution) error {
				e.RetryCount++

				return nil
			})
			require.NoError(t, err)
		}()
	}

	wg.Wait()

	execution, err := store.ExecutionRepository().Get(ctx, "inst-1", "node-a")
	require.NoError(t, err)
	assert.Equal(t, 50, execution.RetryCount)
}

func TestExecutionRepositoryUpdateRejection(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	require.NoError(t, store.ExecutionRepository().Save(ctx, &models.Execution{
		InstanceID: "inst-1",
		NodeID:     "node-a",
		Status:     models.ExecutionStatusPending,
	}))

	sentinel := assert.AnError

	_, err := store.ExecutionRepository().Update(ctx, "inst-1", "node-a", func(e *models.Execution) error {
		e.Status = models.ExecutionStatusRunning

		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	// Rejected mutation must not be visible.
	execution, err := store.ExecutionRepository().Get(ctx, "inst-1", "node-a")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
}

func TestInstanceRepositoryParentLookupAndCascade(t *testing.T) {
	ctx := context.Background()
	store := NewPersistence()

	parent := "inst-parent"

	require.NoError(t, store.InstanceRepository().Save(ctx, &models.Instance{
		ID: parent, Status: models.InstanceStatusRunning, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.InstanceRepository().Save(ctx, &models.Instance{
		ID: "inst-child", Status: models.InstanceStatusRunning, ParentInstanceID: &parent,
		CreatedAt: time.Now().UTC().Add(time.Second),
	}))

	children, err := store.InstanceRepository().ListByParent(ctx, parent)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "inst-child", children[0].ID)

	require.NoError(t, store.ExecutionRepository().Save(ctx, &models.Execution{
		InstanceID: parent, NodeID: "node-a", Status: models.ExecutionStatusPending,
	}))
	require.NoError(t, store.ExecutionRepository().DeleteByInstance(ctx, parent))

	executions, err := store.ExecutionRepository().ListByInstance(ctx, parent)
	require.NoError(t, err)
	assert.Empty(t, executions)
}
