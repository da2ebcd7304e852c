package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/ebusdepot/core/metrics"
	"github.com/kilianp07/ebusdepot/core/sim"
	"github.com/kilianp07/ebusdepot/infra/logger"
)

// InfluxSink writes simulation samples to InfluxDB. Simulated seconds are
// placed on the time axis relative to Epoch.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
	// Epoch is the wall-clock time of simulated second zero.
	Epoch time.Time
	// RunID tags every point when set.
	RunID string
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
		Epoch:    time.Unix(0, 0).UTC(),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func (s *InfluxSink) at(t sim.Time) time.Time {
	return s.Epoch.Add(time.Duration(float64(t) * float64(time.Second)))
}

func (s *InfluxSink) point(measurement string, t sim.Time) *write.Point {
	p := write.NewPointWithMeasurement(measurement).SetTime(s.at(t))
	if s.RunID != "" {
		p = p.AddTag("run_id", s.RunID)
	}
	return p
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPower writes the grid load and one point per charging vehicle.
// An unlimited grid is written without a limit field.
func (s *InfluxSink) RecordPower(ps coremetrics.PowerSample) error {
	p := s.point("grid_power", ps.Time).AddField("power_kw", round3(ps.GridKW))
	if !math.IsInf(ps.LimitKW, 0) {
		p = p.AddField("limit_kw", round3(ps.LimitKW))
	}
	if err := s.write(p); err != nil {
		return err
	}
	for id, kw := range ps.Vehicles {
		vp := s.point("vehicle_power", ps.Time).
			AddTag("vehicle_id", id).
			AddField("power_kw", round3(kw))
		if err := s.write(vp); err != nil {
			return err
		}
	}
	return nil
}

// RecordOccupancy writes an area occupancy change.
func (s *InfluxSink) RecordOccupancy(o coremetrics.OccupancySample) error {
	p := s.point("area_occupancy", o.Time).
		AddTag("area", o.Area).
		AddField("occupancy", o.Occupancy).
		AddField("capacity", o.Capacity)
	return s.write(p)
}

// RecordVehicleState writes a vehicle transition with its SoC.
func (s *InfluxSink) RecordVehicleState(v coremetrics.VehicleStateSample) error {
	p := s.point("vehicle_state", v.Time).
		AddTag("vehicle_id", v.Vehicle).
		AddTag("state", v.State).
		AddField("soc", round3(v.SoC))
	return s.write(p)
}

// RecordTripUnmet writes an unmet trip.
func (s *InfluxSink) RecordTripUnmet(t coremetrics.TripUnmetSample) error {
	p := s.point("trip_unmet", t.Time).
		AddTag("trip_id", t.Trip).
		AddField("reason", t.Reason)
	return s.write(p)
}

// RecordRunSummary writes the run figures at the end time.
func (s *InfluxSink) RecordRunSummary(r coremetrics.RunSummary) error {
	p := write.NewPointWithMeasurement("run_summary").
		AddTag("run_id", r.RunID).
		AddField("served", r.Served).
		AddField("unmet", r.Unmet).
		AddField("unresolved", r.Unresolved).
		AddField("idle", r.Idle).
		AddField("energy_kwh", round3(r.EnergyKWh)).
		AddField("peak_kw", round3(r.PeakKW)).
		AddField("cost", round3(r.Cost)).
		SetTime(s.at(r.End))
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
