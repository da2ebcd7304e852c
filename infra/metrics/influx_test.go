package metrics

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/ebusdepot/core/metrics"
)

type lineServer struct {
	mu     sync.Mutex
	bodies []string
	srv    *httptest.Server
}

func newLineServer(t *testing.T) *lineServer {
	t.Helper()
	ls := &lineServer{}
	ls.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		ls.mu.Lock()
		ls.bodies = append(ls.bodies, strings.TrimSpace(string(b)))
		ls.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ls.srv.Close)
	return ls
}

func (ls *lineServer) lines() []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]string(nil), ls.bodies...)
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordPower(t *testing.T) {
	ls := newLineServer(t)
	sink := NewInfluxSink(ls.srv.URL, "token", "org", "bucket")
	sink.RunID = "r1"
	epoch := sink.Epoch

	err := sink.RecordPower(coremetrics.PowerSample{
		Time:     60,
		GridKW:   150,
		LimitKW:  200,
		Vehicles: map[string]float64{"v1": 150},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	grid := write.NewPointWithMeasurement("grid_power").
		SetTime(epoch.Add(time.Minute)).
		AddTag("run_id", "r1").
		AddField("power_kw", 150.0).
		AddField("limit_kw", 200.0)
	veh := write.NewPointWithMeasurement("vehicle_power").
		SetTime(epoch.Add(time.Minute)).
		AddTag("run_id", "r1").
		AddTag("vehicle_id", "v1").
		AddField("power_kw", 150.0)
	got := ls.lines()
	if len(got) != 2 || got[0] != line(grid) || got[1] != line(veh) {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestInfluxSink_UnlimitedGridHasNoLimitField(t *testing.T) {
	ls := newLineServer(t)
	sink := NewInfluxSink(ls.srv.URL, "token", "org", "bucket")
	if err := sink.RecordPower(coremetrics.PowerSample{GridKW: 10, LimitKW: math.Inf(1)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	got := ls.lines()
	if len(got) != 1 || strings.Contains(got[0], "limit_kw") {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestInfluxSink_RecordVehicleState(t *testing.T) {
	ls := newLineServer(t)
	sink := NewInfluxSink(ls.srv.URL, "token", "org", "bucket")
	epoch := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	sink.Epoch = epoch

	err := sink.RecordVehicleState(coremetrics.VehicleStateSample{Time: 3600, Vehicle: "v1", State: "CHARGING", SoC: 0.51234})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	p := write.NewPointWithMeasurement("vehicle_state").
		SetTime(epoch.Add(time.Hour)).
		AddTag("vehicle_id", "v1").
		AddTag("state", "CHARGING").
		AddField("soc", 0.512)
	got := ls.lines()
	if len(got) != 1 || got[0] != line(p) {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestInfluxSink_RecordRunSummary(t *testing.T) {
	ls := newLineServer(t)
	sink := NewInfluxSink(ls.srv.URL, "token", "org", "bucket")
	r := coremetrics.RunSummary{RunID: "r1", Served: 3, Unmet: 1, EnergyKWh: 240, PeakKW: 150, End: 10}
	if err := sink.RecordRunSummary(r); err != nil {
		t.Fatalf("record: %v", err)
	}
	p := write.NewPointWithMeasurement("run_summary").
		AddTag("run_id", "r1").
		AddField("served", 3).
		AddField("unmet", 1).
		AddField("unresolved", 0).
		AddField("idle", 0).
		AddField("energy_kwh", 240.0).
		AddField("peak_kw", 150.0).
		AddField("cost", 0.0).
		SetTime(sink.Epoch.Add(10 * time.Second))
	got := ls.lines()
	if len(got) != 1 || got[0] != line(p) {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestInfluxSink_OccupancyAndUnmet(t *testing.T) {
	ls := newLineServer(t)
	sink := NewInfluxSink(ls.srv.URL, "token", "org", "bucket")
	if err := sink.RecordOccupancy(coremetrics.OccupancySample{Area: "A", Occupancy: 2, Capacity: 4}); err != nil {
		t.Fatalf("occupancy: %v", err)
	}
	if err := sink.RecordTripUnmet(coremetrics.TripUnmetSample{Trip: "t9", Reason: "no eligible vehicle"}); err != nil {
		t.Fatalf("unmet: %v", err)
	}
	got := ls.lines()
	if len(got) != 2 {
		t.Fatalf("unexpected bodies: %#v", got)
	}
	if !strings.HasPrefix(got[0], "area_occupancy,area=A") || !strings.HasPrefix(got[1], "trip_unmet,trip_id=t9") {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
