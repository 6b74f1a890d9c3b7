// Package config provides configuration loading for the engine and trigger
// runtimes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfigFile represents the structure of the engine.yaml file.
type EngineConfigFile struct {
	WorkerLimit  int           `yaml:"worker_limit"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PluginsPath  string        `yaml:"plugins_path"`
	Backoff      BackoffFile   `yaml:"backoff"`
}

// BackoffFile holds the retry backoff settings.
type BackoffFile struct {
	Base   time.Duration `yaml:"base"`
	Max    time.Duration `yaml:"max"`
	Jitter float64       `yaml:"jitter"`
}

// EngineConfig is the resolved engine configuration with defaults applied.
type EngineConfig struct {
	WorkerLimit  int
	PollInterval time.Duration
	PluginsPath  string
	Backoff      BackoffConfig
}

// BackoffConfig is the resolved retry backoff configuration.
type BackoffConfig struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultEngineConfig returns the engine defaults used when no config file
// is given.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		WorkerLimit:  16,
		PollInterval: 5 * time.Second,
		Backoff: BackoffConfig{
			Base:   time.Second,
			Max:    5 * time.Minute,
			Jitter: 0.2,
		},
	}
}

// LoadEngineConfig loads engine configuration from a YAML file, filling in
// defaults for omitted fields. An empty path returns the defaults.
func LoadEngineConfig(filepath string) (EngineConfig, error) {
	config := DefaultEngineConfig()

	if filepath == "" {
		return config, nil
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file EngineConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return EngineConfig{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if file.WorkerLimit > 0 {
		config.WorkerLimit = file.WorkerLimit
	}

	if file.PollInterval > 0 {
		config.PollInterval = file.PollInterval
	}

	if file.PluginsPath != "" {
		config.PluginsPath = file.PluginsPath
	}

	if file.Backoff.Base > 0 {
		config.Backoff.Base = file.Backoff.Base
	}

	if file.Backoff.Max > 0 {
		config.Backoff.Max = file.Backoff.Max
	}

	if file.Backoff.Jitter > 0 {
		config.Backoff.Jitter = file.Backoff.Jitter
	}

	if config.Backoff.Jitter >= 1 {
		return EngineConfig{}, fmt.Errorf("backoff jitter must be below 1, got %v", config.Backoff.Jitter)
	}

	return config, nil
}
