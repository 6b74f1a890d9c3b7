package cmd

import (
	"log/slog"

	logstep "github.com/venlock/orchid/pkg/steps/log"

	"github.com/venlock/orchid/pkg/registry"
)

// NewRegistry builds a step registry with the built-in steps registered and
// any .so plugins under pluginsPath loaded.
func NewRegistry(logger *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(logger)

	reg.RegisterStep(logstep.NewFactory())

	if pluginsPath != "" {
		factories, err := reg.LoadStepPlugins(pluginsPath)
		if err != nil {
			return nil, err
		}

		for _, factory := range factories {
			reg.RegisterStep(factory)
		}
	}

	return reg, nil
}
