package schedule

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence/memory"
)

type fakeActivator struct {
	mu       sync.Mutex
	calls    []string
	payloads []map[string]any
}

func (f *fakeActivator) Activate(_ context.Context, triggerID string, payload map[string]any) (*models.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, triggerID)
	f.payloads = append(f.payloads, payload)

	return &models.Instance{ID: "inst-" + triggerID}, nil
}

func seedScheduleTrigger(t *testing.T, store *memory.Persistence, id, expression string) {
	t.Helper()

	require.NoError(t, store.TriggerRepository().Save(context.Background(), &models.Trigger{
		ID:         id,
		WorkflowID: "wf-1",
		Name:       "nightly",
		Type:       models.TriggerTypeSchedule,
		Config:     map[string]any{models.TriggerConfigCron: expression},
		Active:     true,
	}))
}

func TestSyncRegistersAndRemovesEntries(t *testing.T) {
	store := memory.NewPersistence()
	runner := NewRunner(store, &fakeActivator{}, slog.Default())

	seedScheduleTrigger(t, store, "trig-1", "0 2 * * *")

	require.NoError(t, runner.Sync(context.Background()))
	assert.Contains(t, runner.entries, "trig-1")

	_, err := store.TriggerRepository().Update(context.Background(), "trig-1",
		func(trigger *models.Trigger) error {
			trigger.Active = false

			return nil
		})
	require.NoError(t, err)

	require.NoError(t, runner.Sync(context.Background()))
	assert.Empty(t, runner.entries)
}

func TestSyncSkipsInvalidExpression(t *testing.T) {
	store := memory.NewPersistence()
	runner := NewRunner(store, &fakeActivator{}, slog.Default())

	seedScheduleTrigger(t, store, "trig-bad", "not a cron")
	seedScheduleTrigger(t, store, "trig-ok", "*/5 * * * *")

	require.NoError(t, runner.Sync(context.Background()))

	assert.NotContains(t, runner.entries, "trig-bad")
	assert.Contains(t, runner.entries, "trig-ok")
}

func TestSyncIsIdempotent(t *testing.T) {
	store := memory.NewPersistence()
	runner := NewRunner(store, &fakeActivator{}, slog.Default())

	seedScheduleTrigger(t, store, "trig-1", "0 2 * * *")

	require.NoError(t, runner.Sync(context.Background()))
	first := runner.entries["trig-1"]

	require.NoError(t, runner.Sync(context.Background()))
	assert.Equal(t, first, runner.entries["trig-1"])
	assert.Len(t, runner.entries, 1)
}

func TestSyncReregistersChangedExpression(t *testing.T) {
	store := memory.NewPersistence()
	runner := NewRunner(store, &fakeActivator{}, slog.Default())

	seedScheduleTrigger(t, store, "trig-1", "0 2 * * *")

	require.NoError(t, runner.Sync(context.Background()))
	before := runner.entries["trig-1"]
	assert.Equal(t, "0 2 * * *", before.expression)

	_, err := store.TriggerRepository().Update(context.Background(), "trig-1",
		func(trigger *models.Trigger) error {
			trigger.Config[models.TriggerConfigCron] = "0 4 * * *"

			return nil
		})
	require.NoError(t, err)

	require.NoError(t, runner.Sync(context.Background()))

	after := runner.entries["trig-1"]
	assert.Equal(t, "0 4 * * *", after.expression)
	assert.NotEqual(t, before.id, after.id)
	assert.Len(t, runner.entries, 1)
}

func TestFireActivatesTrigger(t *testing.T) {
	store := memory.NewPersistence()
	activator := &fakeActivator{}
	runner := NewRunner(store, activator, slog.Default())

	runner.fire("trig-1")

	require.Len(t, activator.calls, 1)
	assert.Equal(t, "trig-1", activator.calls[0])

	scheduledAt, ok := activator.payloads[0]["scheduled_at"].(string)
	require.True(t, ok)

	_, err := time.Parse(time.RFC3339, scheduledAt)
	assert.NoError(t, err)
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	runner := NewRunner(memory.NewPersistence(), &fakeActivator{}, slog.Default())

	assert.NoError(t, runner.Stop(context.Background()))
}
