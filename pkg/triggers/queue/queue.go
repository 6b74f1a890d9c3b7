// Package queue activates event triggers from a watermill subscription.
// Messages carry a JSON object with an "event" name; every active event
// trigger configured for that name is activated with the message payload.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/venlock/orchid/pkg/models"
	"github.com/venlock/orchid/pkg/persistence"
)

// Topic carrying external activation events.
const Topic = "orchid.activations"

// Activator is the slice of the trigger manager the listener needs.
type Activator interface {
	Activate(ctx context.Context, triggerID string, payload map[string]any) (*models.Instance, error)
}

// Envelope is the expected message shape.
type Envelope struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Listener consumes activation messages and fires matching triggers.
type Listener struct {
	store      persistence.Persistence
	activator  Activator
	subscriber message.Subscriber
	logger     *slog.Logger
}

func NewListener(store persistence.Persistence, activator Activator, subscriber message.Subscriber, logger *slog.Logger) *Listener {
	return &Listener{
		store:      store,
		activator:  activator,
		subscriber: subscriber,
		logger:     logger.With("module", "queue"),
	}
}

// Start consumes the activation topic until ctx is cancelled. Malformed
// messages are acked and dropped; activation failures are acked too, since
// redelivery cannot fix an inactive trigger or a non-active workflow.
func (l *Listener) Start(ctx context.Context) error {
	messages, err := l.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	l.logger.Info("queue listener started", "topic", Topic)

	go func() {
		for msg := range messages {
			l.handle(ctx, msg)
			msg.Ack()
		}
	}()

	return nil
}

func (l *Listener) handle(ctx context.Context, msg *message.Message) {
	var envelope Envelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil || envelope.Event == "" {
		l.logger.Warn("dropping malformed activation message", "message_id", msg.UUID)

		return
	}

	triggers, err := l.store.TriggerRepository().ListActiveByType(ctx, models.TriggerTypeEvent)
	if err != nil {
		l.logger.Error("failed to list event triggers", "error", err)

		return
	}

	for _, trigger := range triggers {
		if trigger.EventName() != envelope.Event {
			continue
		}

		instance, err := l.activator.Activate(ctx, trigger.ID, envelope.Payload)
		if err != nil {
			l.logger.Error("event activation failed",
				"trigger_id", trigger.ID, "event", envelope.Event, "error", err)

			continue
		}

		l.logger.Info("event trigger fired",
			"trigger_id", trigger.ID, "event", envelope.Event, "instance_id", instance.ID)
	}
}
