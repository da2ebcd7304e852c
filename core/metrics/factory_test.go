package metrics

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kilianp07/ebusdepot/core/factory"
	"gopkg.in/yaml.v3"
)

type countingSink struct {
	summaries int
	power     int
	fail      bool
}

func (c *countingSink) RecordRunSummary(RunSummary) error {
	c.summaries++
	if c.fail {
		return errors.New("boom")
	}
	return nil
}

func (c *countingSink) RecordPower(PowerSample) error {
	c.power++
	return nil
}

type summaryOnly struct{ n int }

func (s *summaryOnly) RecordRunSummary(RunSummary) error {
	s.n++
	return nil
}

func init() {
	_ = RegisterMetricsSink("counting", func(map[string]any) (MetricsSink, error) {
		return &countingSink{}, nil
	})
}

func TestNewMetricsSink(t *testing.T) {
	s, err := NewMetricsSink(nil)
	if err != nil {
		t.Fatalf("empty config: %v", err)
	}
	if _, ok := s.(NopSink); !ok {
		t.Fatalf("expected NopSink, got %T", s)
	}
	s, err = NewMetricsSink([]factory.ModuleConfig{{Type: "counting"}})
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	if _, ok := s.(*countingSink); !ok {
		t.Fatalf("expected countingSink, got %T", s)
	}
	if _, err := NewMetricsSink([]factory.ModuleConfig{{Type: "missing"}}); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestNewMetricsSinkSkipsEmptyAndNop(t *testing.T) {
	_ = RegisterMetricsSink("nop", func(map[string]any) (MetricsSink, error) { return NopSink{}, nil })

	s, err := NewMetricsSink([]factory.ModuleConfig{{Type: ""}, {Type: "nop"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := s.(NopSink); !ok {
		t.Fatalf("expected NopSink, got %T", s)
	}
	s, err = NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "counting"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := s.(*countingSink); !ok {
		t.Fatalf("expected countingSink alone, got %T", s)
	}
	_, err = NewMetricsSink([]factory.ModuleConfig{{Type: "counting"}, {Type: "missing"}})
	if err == nil || !strings.Contains(err.Error(), "metrics sink 1 (missing)") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestMetricsConfigDecodeYAML(t *testing.T) {
	data := `sinks:
  - type: counting
  - type: counting
prometheus_addr: ":9090"
`
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(data), &raw); err != nil {
		t.Fatalf("yaml unmarshal: %v", err)
	}
	b, _ := json.Marshal(raw)
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		t.Fatalf("json unmarshal: %v", err)
	}
	if cfg.PrometheusAddr != ":9090" {
		t.Fatalf("unexpected addr %q", cfg.PrometheusAddr)
	}
	s, err := NewMetricsSink(cfg.Sinks)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := s.(*MultiSink); !ok {
		t.Fatalf("expected MultiSink")
	}
}

func TestMultiSinkForwardsOptionalRecorders(t *testing.T) {
	a := &countingSink{}
	b := &summaryOnly{}
	m := NewMultiSink(a, b, NopSink{})
	if err := m.RecordRunSummary(RunSummary{Served: 1}); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if err := m.RecordPower(PowerSample{GridKW: 10}); err != nil {
		t.Fatalf("power: %v", err)
	}
	if a.summaries != 1 || b.n != 1 || a.power != 1 {
		t.Fatalf("unexpected counts: %+v %+v", a, b)
	}
	a.fail = true
	if err := m.RecordRunSummary(RunSummary{}); err == nil {
		t.Fatal("expected first error to be returned")
	}
	if b.n != 1 {
		t.Fatal("later sinks must not run after an error")
	}
}
