// Package schedule runs cron-based triggers. One cron entry exists per
// active schedule trigger; Sync reconciles the entries against the store so
// trigger churn takes effect without a restart.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
)

// Activator is the slice of the trigger manager the runner needs.
type Activator interface {
	Activate(ctx context.Context, triggerID string, payload map[string]any) (*models.Instance, error)
}

// Runner keeps one cron entry per active schedule trigger.
type Runner struct {
	store     persistence.Persistence
	activator Activator
	logger    *slog.Logger
	cron      *cron.Cron

	// syncInterval controls how often the entries are reconciled with the
	// trigger store.
	syncInterval time.Duration

	mu      sync.Mutex
	entries map[string]cronEntry
	started bool
	done    chan struct{}
}

// cronEntry remembers the expression an entry was registered with so a
// changed expression can be detected on the next sync.
type cronEntry struct {
	id         cron.EntryID
	expression string
}

// Option customizes a Runner.
type Option func(*Runner)

// WithSyncInterval overrides how often triggers are re-synced.
func WithSyncInterval(interval time.Duration) Option {
	return func(r *Runner) {
		if interval > 0 {
			r.syncInterval = interval
		}
	}
}

func NewRunner(store persistence.Persistence, activator Activator, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		store:        store,
		activator:    activator,
		logger:       logger.With("module", "schedule"),
		cron:         cron.New(),
		syncInterval: time.Minute,
		entries:      make(map[string]cronEntry),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ValidateExpression checks a cron expression without registering it.
func ValidateExpression(expression string) error {
	_, err := cron.ParseStandard(expression)

	return err
}

// Start syncs the entries, starts the cron scheduler and begins periodic
// re-syncing.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	if err := r.syncLocked(ctx); err != nil {
		return err
	}

	r.cron.Start()
	r.done = make(chan struct{})
	r.started = true

	go r.resyncLoop(ctx)

	r.logger.Info("schedule runner started", "entries", len(r.entries))

	return nil
}

// Stop halts the scheduler and waits for running activations to finish.
func (r *Runner) Stop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}

	close(r.done)
	<-r.cron.Stop().Done()
	r.started = false

	r.logger.Info("schedule runner stopped")

	return nil
}

// Sync reconciles cron entries against the currently active schedule
// triggers: new triggers gain entries, removed or deactivated ones lose
// theirs, and changed expressions are re-registered.
func (r *Runner) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.syncLocked(ctx)
}

func (r *Runner) syncLocked(ctx context.Context) error {
	triggers, err := r.store.TriggerRepository().ListActiveByType(ctx, models.TriggerTypeSchedule)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(triggers))

	for _, trigger := range triggers {
		seen[trigger.ID] = true
		expression := trigger.CronExpression()

		if existing, exists := r.entries[trigger.ID]; exists {
			if existing.expression == expression {
				continue
			}

			// Expression changed: drop the old entry and re-register.
			r.cron.Remove(existing.id)
			delete(r.entries, trigger.ID)
		}

		if expression == "" {
			r.logger.Warn("schedule trigger without cron expression",
				"trigger_id", trigger.ID)

			continue
		}

		triggerID := trigger.ID

		entryID, err := r.cron.AddFunc(expression, func() { r.fire(triggerID) })
		if err != nil {
			r.logger.Error("failed to register cron entry",
				"trigger_id", trigger.ID, "expression", expression, "error", err)

			continue
		}

		r.entries[trigger.ID] = cronEntry{id: entryID, expression: expression}
		r.logger.Info("registered schedule trigger",
			"trigger_id", trigger.ID, "expression", expression)
	}

	for triggerID, entry := range r.entries {
		if !seen[triggerID] {
			r.cron.Remove(entry.id)
			delete(r.entries, triggerID)
			r.logger.Info("removed schedule trigger", "trigger_id", triggerID)
		}
	}

	return nil
}

func (r *Runner) resyncLoop(ctx context.Context) {
	ticker := time.NewTicker(r.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.Sync(ctx); err != nil {
				r.logger.Error("trigger sync failed", "error", err)
			}
		}
	}
}

func (r *Runner) fire(triggerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	payload := map[string]any{"scheduled_at": time.Now().UTC().Format(time.RFC3339)}

	instance, err := r.activator.Activate(ctx, triggerID, payload)
	if err != nil {
		r.logger.Error("schedule activation failed",
			"trigger_id", triggerID, "error", err)

		return
	}

	r.logger.Info("schedule fired",
		"trigger_id", triggerID, "instance_id", instance.ID)
}
