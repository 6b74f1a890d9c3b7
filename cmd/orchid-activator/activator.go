// Package main provides the Orchid activator: it turns schedules, webhooks
// and queue events into workflow instances.
package main

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/venlock/orchid/pkg/persistence"
	"github.com/venlock/orchid/pkg/triggers"
	"github.com/venlock/orchid/pkg/triggers/queue"
	"github.com/venlock/orchid/pkg/triggers/schedule"
	"github.com/venlock/orchid/pkg/triggers/webhook"
)

// Activator hosts the three trigger runtimes over one trigger manager.
type Activator struct {
	id       string
	schedule *schedule.Runner
	webhook  *webhook.Server
	queue    *queue.Listener
	logger   *slog.Logger
}

func NewActivator(
	id string,
	store persistence.Persistence,
	manager *triggers.Manager,
	subscriber message.Subscriber,
	webhookPort int,
	logger *slog.Logger,
) *Activator {
	return &Activator{
		id:       id,
		schedule: schedule.NewRunner(store, manager, logger),
		webhook:  webhook.NewServer(store, manager, logger, webhookPort),
		queue:    queue.NewListener(store, manager, subscriber, logger),
		logger:   logger.With("module", "activator"),
	}
}

// Run starts all trigger runtimes and blocks until ctx is cancelled.
func (a *Activator) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "Starting activator", "activator_id", a.id)

	if err := a.schedule.Start(ctx); err != nil {
		return err
	}

	if err := a.queue.Start(ctx); err != nil {
		return err
	}

	errs := make(chan error, 1)

	go func() {
		// Blocks until Stop.
		errs <- a.webhook.Start(ctx)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down activator")

	shutdownCtx := context.WithoutCancel(ctx)

	if err := a.webhook.Stop(shutdownCtx); err != nil {
		a.logger.Error("Failed to stop webhook server", "error", err)
	}

	if err := a.schedule.Stop(shutdownCtx); err != nil {
		a.logger.Error("Failed to stop schedule runner", "error", err)
	}

	return nil
}
