// Package log provides the built-in log step. It writes its input to the
// engine log and echoes it back as output, which makes it useful for smoke
// tests and as a template for real executors.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/venlock/orchid/pkg/protocol"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) ID() string {
	return "log"
}

func (*Factory) Create(config map[string]any, logger *slog.Logger) (protocol.StepExecutor, error) {
	if config == nil {
		config = map[string]any{}
	}

	level := slog.LevelInfo

	if raw, ok := config["level"].(string); ok {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", raw, err)
		}
	}

	message, _ := config["message"].(string)

	return &Step{logger: logger, level: level, message: message}, nil
}

type Step struct {
	logger  *slog.Logger
	level   slog.Level
	message string
}

func (s *Step) Execute(ctx context.Context, request protocol.StepRequest) (*protocol.StepResult, error) {
	message := s.message
	if message == "" {
		message = "log step"
	}

	s.logger.Log(ctx, s.level, message,
		"instance_id", request.InstanceID,
		"node_id", request.NodeID,
		"input", request.Input,
	)

	return &protocol.StepResult{Output: request.Input}, nil
}
