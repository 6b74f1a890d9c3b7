// Package main provides the Orchid engine runtime: the dispatcher loop and
// its collaborators wired over one persistence backend.
package main

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/venlock/orchid/pkg/condition"
	"github.com/venlock/orchid/pkg/config"
	"github.com/venlock/orchid/pkg/dispatcher"
	"github.com/venlock/orchid/pkg/eventbus"
	"github.com/venlock/orchid/pkg/lifecycle"
	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/registry"
	"github.com/venlock/orchid/pkg/tracker"
)

// Engine owns the dispatch loop and the execution state machinery behind it.
type Engine struct {
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
}

// NewEngine wires tracker, lifecycle manager and dispatcher together. The
// cross-component hooks (observer, canceller, wake) close the loop: result
// recording triggers recompute, recompute wakes dispatch, cancellation
// interrupts in-flight executors.
func NewEngine(
	store persistence.Persistence,
	eventBus eventbus.EventBus,
	reg *registry.Registry,
	cfg config.EngineConfig,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Engine {
	evaluator := condition.NewEvaluator()

	trk := tracker.NewTracker(store.ExecutionRepository(), eventBus, logger,
		tracker.WithBackoff(tracker.BackoffPolicy{
			Base:   cfg.Backoff.Base,
			Max:    cfg.Backoff.Max,
			Jitter: cfg.Backoff.Jitter,
		}))

	lc := lifecycle.NewManager(store, trk, evaluator, eventBus, logger)
	trk.SetObserver(lc)

	opts := []dispatcher.Option{
		dispatcher.WithWorkerLimit(cfg.WorkerLimit),
		dispatcher.WithPollInterval(cfg.PollInterval),
	}
	if tracer != nil {
		opts = append(opts, dispatcher.WithTracer(tracer))
	}

	disp := dispatcher.NewDispatcher(store, trk, reg, evaluator, lc, logger, opts...)

	trk.SetWake(disp.Wake)
	lc.SetWake(disp.Wake)
	lc.SetCanceller(disp.CancelInstance)

	return &Engine{
		dispatcher: disp,
		logger:     logger.With("module", "engine"),
	}
}

// Run drives the dispatch loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "Starting engine")

	return e.dispatcher.Run(ctx)
}
