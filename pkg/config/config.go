package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Provider describes one realtime feed source. Headers are sent verbatim on
// every fetch (API keys etc.).
type Provider struct {
	Name           string            `yaml:"name"`
	TripUpdatesURL string            `yaml:"tripupdates_url" validate:"required,url"`
	AlertsURL      string            `yaml:"alerts_url" validate:"omitempty,url"`
	Headers        map[string]string `yaml:"headers"`
}

// Config is the static provider registry, loaded once at startup and passed
// explicitly into the poller.
type Config struct {
	Providers map[string]Provider `yaml:"providers"`
}

// Load reads and validates the provider registry from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("config %s declares no providers", path)
	}

	v := validator.New()
	for id, p := range cfg.Providers {
		if err := v.Struct(p); err != nil {
			return nil, fmt.Errorf("invalid provider %q: %w", id, err)
		}
	}

	return &cfg, nil
}
