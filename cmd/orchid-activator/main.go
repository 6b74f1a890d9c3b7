package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/venlock/orchid/pkg/channels/gochannel"
	"github.com/venlock/orchid/pkg/channels/kafka"
	"github.com/venlock/orchid/pkg/cmd"
	"github.com/venlock/orchid/pkg/log"
	"github.com/venlock/orchid/pkg/triggers"
)

const defaultWebhookPort = 8085

func main() {
	command := &cli.Command{
		Name:                  "orchid-activator",
		Usage:                 "Start the Orchid trigger activator",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "activator-id",
				Aliases: []string{"id"},
				Usage:   "Custom activator ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ACTIVATOR_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker list",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "webhook-port",
				Usage:   "Port for the webhook HTTP server",
				Value:   defaultWebhookPort,
				Sources: cli.EnvVars("WEBHOOK_PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			activatorID := command.String("activator-id")
			if activatorID == "" {
				activatorID = fmt.Sprintf("activator-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("orchid-activator").With("activator_id", activatorID)
			logger.InfoContext(ctx, "Initializing Orchid Activator")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(
				command.String("event-bus"),
				command.String("kafka-brokers"),
				"orchid-activator",
				logger,
			)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			subscriber, err := newActivationSubscriber(
				command.String("event-bus"),
				command.String("kafka-brokers"),
				logger,
			)
			if err != nil {
				return err
			}

			manager := triggers.NewManager(persistence, eventBus, logger)

			activator := NewActivator(
				activatorID,
				persistence,
				manager,
				subscriber,
				command.Int("webhook-port"),
				logger,
			)

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return activator.Run(runCtx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

// newActivationSubscriber builds the subscriber for the external activation
// topic, separate from the engine event bus subscription so activation
// consumption gets its own consumer group.
func newActivationSubscriber(provider, kafkaBrokers string, logger *slog.Logger) (message.Subscriber, error) {
	switch provider {
	case "gochannel", "":
		_, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))

		return sub, err
	case "kafka":
		_, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), kafkaBrokers, "orchid-activations")

		return sub, err
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
