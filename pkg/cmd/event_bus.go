package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/venlock/orchid/pkg/channels/gochannel"
	"github.com/venlock/orchid/pkg/channels/kafka"
	"github.com/venlock/orchid/pkg/eventbus"
)

// NewEventBus builds an event bus from the provider name. "gochannel" is the
// in-process bus; "kafka" reads the broker list from kafkaBrokers.
func NewEventBus(provider, kafkaBrokers, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	switch provider {
	case "gochannel", "":
		pub, sub, err = gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	case "kafka":
		pub, sub, err = kafka.CreateChannel(watermill.NewSlogLogger(logger), kafkaBrokers, serviceName)
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s pub/sub: %w", provider, err)
	}

	return eventbus.NewWatermillEventBus(pub, sub), nil
}
