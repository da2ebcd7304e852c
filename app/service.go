// Package app wires configuration, scenario and output layers around one
// simulation run.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/ebusdepot/config"
	"github.com/kilianp07/ebusdepot/core/events"
	coremetrics "github.com/kilianp07/ebusdepot/core/metrics"
	coremon "github.com/kilianp07/ebusdepot/core/monitoring"
	"github.com/kilianp07/ebusdepot/core/scenario"
	"github.com/kilianp07/ebusdepot/core/simulation"
	"github.com/kilianp07/ebusdepot/core/trace"
	"github.com/kilianp07/ebusdepot/infra/logger"
	"github.com/kilianp07/ebusdepot/infra/metrics"
	"github.com/kilianp07/ebusdepot/infra/monitoring"
	"github.com/kilianp07/ebusdepot/infra/mqtt"
	"github.com/kilianp07/ebusdepot/internal/eventbus"
)

// ErrNoScenario is returned when neither the configuration nor the caller
// names a scenario file.
var ErrNoScenario = errors.New("no scenario configured")

// Service runs one simulation with the configured outputs.
type Service struct {
	cfg      *config.Config
	scenario *scenario.Scenario
	sink     coremetrics.MetricsSink
	store    trace.Store
	monitor  coremon.Monitor
	log      logger.Logger
	runID    string
}

// New creates a Service from the configuration. The scenario is loaded from
// cfg.Scenario.Path.
func New(cfg *config.Config) (*Service, error) {
	logger.SetLevel(cfg.Logging.Level)
	log := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	sc, err := LoadScenario(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	store, err := trace.NewStore(cfg.Trace.Module())
	if err != nil {
		return nil, err
	}
	runID := cfg.Scenario.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Service{
		cfg:      cfg,
		scenario: sc,
		sink:     sink,
		store:    store,
		monitor:  mon,
		log:      log,
		runID:    runID,
	}, nil
}

// LoadScenario reads the scenario named by the configuration.
func LoadScenario(cfg *config.Config) (*scenario.Scenario, error) {
	if cfg.Scenario.Path == "" {
		return nil, ErrNoScenario
	}
	sc, err := scenario.Load(cfg.Scenario.Path)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", cfg.Scenario.Path, err)
	}
	return sc, nil
}

// Validate builds the run without executing it.
func Validate(cfg *config.Config) error {
	sc, err := LoadScenario(cfg)
	if err != nil {
		return err
	}
	in, err := sc.Input()
	if err != nil {
		return err
	}
	_, err = simulation.New(in, cfg.Simulation)
	return err
}

// RunID returns the identifier of the run.
func (s *Service) RunID() string { return s.runID }

// Run executes the simulation and returns its report. Metrics, the trace
// store and the MQTT publisher are fed while the run progresses.
func (s *Service) Run(ctx context.Context) (*simulation.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in, err := s.scenario.Input()
	if err != nil {
		return nil, err
	}

	if s.cfg.Metrics.PrometheusAddr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusAddr, nil); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	bus := eventbus.NewTyped[events.Event](eventbus.WithBuffer(1024), eventbus.WithBlocking())
	opts := []simulation.Option{
		simulation.WithLogger(logger.New("simulation")),
		simulation.WithBus(bus),
		simulation.WithRunID(s.runID),
	}

	var storeRec *trace.StoreRecorder
	if s.store != nil {
		storeRec = trace.NewStoreRecorder(ctx, s.store)
		opts = append(opts, simulation.WithRecorder(storeRec))
	}
	sink := s.sink
	var pub *mqtt.TracePublisher
	if s.cfg.MQTT.Enabled() {
		pub, err = mqtt.NewTracePublisher(s.cfg.MQTT, s.runID)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		defer pub.Disconnect()
		opts = append(opts, simulation.WithRecorder(pub))
		sink = coremetrics.NewMultiSink(sink, pub)
	}
	collected := metrics.StartEventCollector(ctx, bus, sink)

	sim, err := simulation.New(in, s.cfg.Simulation, opts...)
	if err != nil {
		bus.Close()
		collected.Wait()
		return nil, err
	}
	s.log.Infof("starting run %s: scenario %q, %d vehicles, %d trips", s.runID, s.scenario.Name, len(in.Vehicles), len(in.Trips))

	var report *simulation.Report
	err = coremon.Guard(map[string]string{"run_id": s.runID, "scenario": s.scenario.Name}, func() error {
		var runErr error
		report, runErr = sim.Run(ctx)
		return runErr
	})
	bus.Close()
	collected.Wait()
	if err != nil {
		return nil, err
	}

	if storeRec != nil {
		if err := storeRec.Err(); err != nil {
			s.log.Errorf("trace store: %v", err)
			coremon.CaptureException(err, map[string]string{"run_id": s.runID, "component": "trace"})
		}
	}
	if pub != nil {
		if err := pub.Err(); err != nil {
			s.log.Warnf("mqtt trace incomplete after %d messages: %v", pub.Sent(), err)
		}
	}
	if n := len(report.Unresolved); n > 0 {
		s.log.Warnf("%d vehicles unresolved at %.0f s", n, float64(report.End))
	}
	return report, nil
}

// Close releases the trace store and flushes the monitor.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	closeSink(s.sink)
	s.monitor.Flush(time.Duration(s.cfg.Sentry.FlushSeconds) * time.Second)
	return errors.Join(errs...)
}

func closeSink(sink coremetrics.MetricsSink) {
	switch v := sink.(type) {
	case interface{ Close() }:
		v.Close()
	case *coremetrics.MultiSink:
		for _, inner := range v.Sinks {
			closeSink(inner)
		}
	}
}
