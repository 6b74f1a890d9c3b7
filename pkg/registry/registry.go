// Package registry maps node types to step executor factories.
package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"

	"github.com/venlock/orchid/pkg/protocol"
)

type Registry struct {
	logger        *slog.Logger
	stepFactories map[string]protocol.StepFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:        logger,
		stepFactories: make(map[string]protocol.StepFactory),
	}
}

func (r *Registry) RegisterStep(factory protocol.StepFactory) {
	r.stepFactories[factory.ID()] = factory
}

// CreateStep builds an executor for the given node type, or fails when the
// type is not registered.
func (r *Registry) CreateStep(nodeType string, config map[string]any) (protocol.StepExecutor, error) {
	factory, ok := r.stepFactories[nodeType]
	if !ok {
		return nil, fmt.Errorf("step type '%s' not registered", nodeType)
	}

	return factory.Create(config, r.logger)
}

// AvailableSteps lists the registered node types.
func (r *Registry) AvailableSteps() []string {
	types := make([]string, 0, len(r.stepFactories))
	for nodeType := range r.stepFactories {
		types = append(types, nodeType)
	}

	return types
}

// LoadStepPlugins loads step factories from .so plugins under
// pluginsPath/steps, each exporting a `Step` symbol.
func (r *Registry) LoadStepPlugins(pluginsPath string) ([]protocol.StepFactory, error) {
	rootPath := pluginsPath + "/steps"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	logger := r.logger.With(slog.String("path", rootPath))
	logger.Info("Loading step plugins")

	factories := make([]protocol.StepFactory, 0, len(pluginPathList))

	for _, pluginPath := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + pluginPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", pluginPath, err)
		}

		symbol, err := plg.Lookup("Step")
		if err != nil {
			return nil, fmt.Errorf("plugin %s does not export Step: %w", pluginPath, err)
		}

		factory, ok := symbol.(protocol.StepFactory)
		if !ok {
			return nil, fmt.Errorf("plugin %s Step symbol is not a StepFactory", pluginPath)
		}

		factories = append(factories, factory)

		logger.Info("Loaded step plugin", slog.String("plugin", pluginPath))
	}

	return factories, nil
}
