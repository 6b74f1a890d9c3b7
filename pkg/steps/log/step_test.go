package log

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venlock/orchid/pkg/protocol"
)

func TestFactoryID(t *testing.T) {
	assert.Equal(t, "log", NewFactory().ID())
}

func TestFactoryCreate(t *testing.T) {
	factory := NewFactory()

	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "empty config", config: map[string]any{}},
		{name: "message and level", config: map[string]any{"message": "hi", "level": "debug"}},
		{name: "invalid level", config: map[string]any{"level": "shout"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step, err := factory.Create(tt.config, slog.Default())
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, step)
		})
	}
}

func TestStepEchoesInput(t *testing.T) {
	step, err := NewFactory().Create(map[string]any{"message": "checkpoint"}, slog.Default())
	require.NoError(t, err)

	input := map[string]any{"finding": "open port"}

	result, err := step.Execute(context.Background(), protocol.StepRequest{
		InstanceID: "inst-1",
		NodeID:     "node-a",
		NodeType:   "log",
		Input:      input,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Error)
	assert.Equal(t, input, result.Output)
}
