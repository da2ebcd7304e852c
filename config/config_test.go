package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kilianp07/ebusdepot/core/simulation"
)

func writeConfig(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

//nolint:gocyclo
func TestLoad(t *testing.T) {
	path := writeConfig(t, "config.yaml", `simulation:
  horizon: 86400
  lead_time_match: 3600
  energy_reserve: 0.1
  charge_target: full
  allow_partial_dispatch: true
  max_departure_delay: 900
  dispatch_retrigger_interval: 60
  dispatch_strategy: first
  voltage_level_factors:
    mv: 1.2
smart_charging:
  mode: lp
  accuracy: 0.05
logging:
  level: debug
metrics:
  sinks:
    - type: "nop"
  prometheus_addr: ":9090"
trace:
  backend: sqlite
mqtt:
  broker: "tcp://localhost:1883"
  qos: 1
sentry:
  dsn: ""
scenario:
  path: scenarios/base.yaml
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"horizon", cfg.Simulation.Horizon, 86400.0},
		{"lead_time_match", cfg.Simulation.LeadTimeMatch, 3600.0},
		{"charge_target", cfg.Simulation.ChargeTarget, simulation.TargetFull},
		{"allow_partial_dispatch", cfg.Simulation.AllowPartialDispatch, true},
		{"smart_charging.mode", cfg.Simulation.SmartCharging.Mode, "lp"},
		{"smart_charging.max_rounds", cfg.SmartCharging.MaxRounds, 10},
		{"min_power_policy", cfg.Simulation.MinPowerPolicy, "floor"},
		{"dispatch_strategy", cfg.Simulation.DispatchStrategy, "first"},
		{"voltage_level_factors.mv", cfg.Simulation.VoltageLevelFactors["mv"], 1.2},
		{"logging.level", cfg.Logging.Level, "debug"},
		{"metrics_sink", len(cfg.Metrics.Sinks) == 1 && cfg.Metrics.Sinks[0].Type == "nop", true},
		{"prometheus_addr", cfg.Metrics.PrometheusAddr, ":9090"},
		{"trace.path", cfg.Trace.Path, "trace.db"},
		{"mqtt.topic_prefix", cfg.MQTT.TopicPrefix, "ebusdepot"},
		{"mqtt.qos", cfg.MQTT.QoS, byte(1)},
		{"sentry.flush_seconds", cfg.Sentry.FlushSeconds, 2},
		{"scenario.path", cfg.Scenario.Path, filepath.Join(filepath.Dir(path), "scenarios/base.yaml")},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
	if m := cfg.Trace.Module(); m.Type != "sqlite" || m.Conf["path"] != "trace.db" {
		t.Errorf("unexpected trace module: %+v", m)
	}
}

func TestLoadJSONDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{"simulation": {"horizon": 3600}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Simulation.ChargeTarget != simulation.TargetTrip {
		t.Errorf("charge target default not applied: %q", cfg.Simulation.ChargeTarget)
	}
	if cfg.Trace.Backend != "none" || cfg.Trace.Module().Type != "" {
		t.Errorf("trace should be disabled by default: %+v", cfg.Trace)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging default not applied: %q", cfg.Logging.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "config.yaml", "simulation:\n  horizon: 3600\n")
	t.Setenv("EBD_SIMULATION__HORIZON", "7200")
	t.Setenv("EBD_LOGGING__LEVEL", "warn")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.Simulation.Horizon != 7200 {
		t.Errorf("env override not applied: %v", cfg.Simulation.Horizon)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env override not applied: %v", cfg.Logging.Level)
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]string{
		"negative horizon": "simulation:\n  horizon: -1\n",
		"charge target":    "simulation:\n  charge_target: half\n",
		"allocator mode":   "smart_charging:\n  mode: random\n",
		"log level":        "logging:\n  level: loud\n",
		"trace backend":    "trace:\n  backend: csv\n",
		"mqtt qos":         "mqtt:\n  broker: tcp://x:1883\n  qos: 5\n",
		"sample rate":      "sentry:\n  traces_sample_rate: 2\n",
		"untyped sink":     "metrics:\n  sinks:\n    - conf: {}\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, "config.yaml", data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := Load(writeConfig(t, "config.toml", "")); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestSimulationErrorsWrapInvalidConfig(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "simulation:\n  energy_reserve: 2\n"))
	if !errors.Is(err, simulation.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
