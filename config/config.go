// Package config loads the run configuration from YAML or JSON with
// environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/ebusdepot/core/metrics"
	"github.com/kilianp07/ebusdepot/core/simulation"
	"github.com/kilianp07/ebusdepot/core/smartcharging"
	"github.com/kilianp07/ebusdepot/infra/mqtt"
)

// EnvPrefix marks environment overrides. EBD_SIMULATION__HORIZON sets
// simulation.horizon.
const EnvPrefix = "EBD_"

type Config struct {
	Simulation simulation.Settings `json:"simulation"`
	// SmartCharging replaces simulation.smart_charging.
	SmartCharging smartcharging.Config `json:"smart_charging"`
	Logging       LoggingConfig        `json:"logging"`
	Metrics       metrics.Config       `json:"metrics"`
	Trace         TraceConfig          `json:"trace"`
	MQTT          mqtt.Config          `json:"mqtt"`
	Sentry        SentryConfig         `json:"sentry"`
	Scenario      ScenarioConfig       `json:"scenario"`
}

// ScenarioConfig points at the scenario file. A relative path is resolved
// against the directory of the configuration file.
type ScenarioConfig struct {
	Path  string `json:"path"`
	RunID string `json:"run_id"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if cfg.Scenario.Path != "" && !filepath.IsAbs(cfg.Scenario.Path) {
		cfg.Scenario.Path = filepath.Join(filepath.Dir(path), cfg.Scenario.Path)
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize applies defaults and validates every section.
func (c *Config) Finalize() error {
	c.Simulation.SmartCharging = c.SmartCharging
	c.Simulation.SetDefaults()
	c.SmartCharging = c.Simulation.SmartCharging
	c.Logging.SetDefaults()
	c.Trace.SetDefaults()
	c.MQTT.SetDefaults()
	c.Sentry.SetDefaults()

	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Trace.Validate(); err != nil {
		return fmt.Errorf("trace: %w", err)
	}
	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := c.Sentry.Validate(); err != nil {
		return fmt.Errorf("sentry: %w", err)
	}
	for i, s := range c.Metrics.Sinks {
		if s.Type == "" {
			return fmt.Errorf("metrics: sink %d has no type", i)
		}
	}
	return nil
}
