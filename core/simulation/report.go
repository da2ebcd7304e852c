package simulation

import (
	"fmt"

	"github.com/kilianp07/ebusdepot/core/depot"
	"github.com/kilianp07/ebusdepot/core/events"
	"github.com/kilianp07/ebusdepot/core/metrics"
	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/core/sim"
	"github.com/kilianp07/ebusdepot/core/trace"
)

// IssueKind classifies an operational issue. Issues never stop a run.
type IssueKind string

const (
	IssueUnmetTrip        IssueKind = "unmet_trip"
	IssueChargeIncomplete IssueKind = "charge_incomplete"
	IssueEnergyShortfall  IssueKind = "energy_shortfall"
	IssueUnresolved       IssueKind = "unresolved"
)

// Issue is an operational problem found during the run.
type Issue struct {
	Time    sim.Time  `json:"time"`
	Kind    IssueKind `json:"kind"`
	Vehicle string    `json:"vehicle,omitempty"`
	Trip    string    `json:"trip,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// UnmetTrip is a trip that left without a vehicle.
type UnmetTrip struct {
	Trip      string   `json:"trip"`
	Departure sim.Time `json:"departure"`
	// At is when the trip was given up.
	At     sim.Time `json:"at"`
	Reason string   `json:"reason"`
}

// Stats aggregates the run.
type Stats struct {
	Served    int     `json:"served"`
	Unmet     int     `json:"unmet"`
	EnergyKWh float64 `json:"energy_kwh"`
	PeakKW    float64 `json:"peak_kw"`
	Cost      float64 `json:"cost"`
	Events    uint64  `json:"events"`
	// StationEnergy is the grid energy drawn per station in kWh.
	StationEnergy map[string]float64 `json:"station_energy"`
}

// Report is the result of a run.
type Report struct {
	RunID      string                   `json:"run_id"`
	End        sim.Time                 `json:"end"`
	Trace      []trace.Record           `json:"trace"`
	Decisions  []model.DispatchDecision `json:"decisions"`
	Unmet      []UnmetTrip              `json:"unmet"`
	Idle       []string                 `json:"idle"`
	Unresolved []string                 `json:"unresolved"`
	Issues     []Issue                  `json:"issues"`
	Stats      Stats                    `json:"stats"`
}

// Summary converts the report for metrics sinks.
func (r *Report) Summary() metrics.RunSummary {
	return metrics.RunSummary{
		RunID:      r.RunID,
		Served:     r.Stats.Served,
		Unmet:      r.Stats.Unmet,
		Unresolved: len(r.Unresolved),
		Idle:       len(r.Idle),
		EnergyKWh:  r.Stats.EnergyKWh,
		PeakKW:     r.Stats.PeakKW,
		Cost:       r.Stats.Cost,
		End:        r.End,
	}
}

// VehicleTrace returns the records of one vehicle in time order.
func (r *Report) VehicleTrace(id string) []trace.Record {
	var out []trace.Record
	for _, rec := range r.Trace {
		if rec.Vehicle == id {
			out = append(out, rec)
		}
	}
	return out
}

// IssuesOf returns the issues of the given kind.
func (r *Report) IssuesOf(kind IssueKind) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Kind == kind {
			out = append(out, is)
		}
	}
	return out
}

// finish closes the run at the current clock. Open trips that should have
// left are unmet, charged vehicles without a trip are idle and every other
// vehicle still in the depot is unresolved.
func (s *Simulation) finish() (*Report, error) {
	end := s.engine.Now()
	for _, id := range s.tripOrder {
		if tr := s.trips[id]; tr.status == tripOpen && tr.Departure <= end {
			s.markUnmet(tr, "open at end of run")
		}
	}
	r := &Report{RunID: s.runID, End: end}
	for _, id := range s.order {
		v := s.vehicles[id]
		if err := s.settle(v); err != nil {
			return nil, err
		}
		switch {
		case v.State == model.StateStandbyCharged && v.Trip == "":
			r.Idle = append(r.Idle, id)
		case v.State.InDepot() || v.waiting:
			r.Unresolved = append(r.Unresolved, id)
			s.issue(Issue{Kind: IssueUnresolved, Vehicle: id, Trip: v.Trip, Detail: v.State.String()})
		}
	}
	s.stats.Events = s.engine.Processed()
	r.Trace = s.memory.Records()
	r.Decisions = append([]model.DispatchDecision(nil), s.decisions...)
	r.Unmet = append([]UnmetTrip(nil), s.unmet...)
	r.Issues = append([]Issue(nil), s.issues...)
	r.Stats = s.stats
	s.publish(events.RunFinished{
		Time:       end,
		RunID:      s.runID,
		Served:     r.Stats.Served,
		Unmet:      r.Stats.Unmet,
		Unresolved: len(r.Unresolved),
		Idle:       len(r.Idle),
		EnergyKWh:  r.Stats.EnergyKWh,
		PeakKW:     r.Stats.PeakKW,
		Cost:       r.Stats.Cost,
	})
	s.log.Infof("run %s finished at %.0f s: served=%d unmet=%d idle=%d unresolved=%d energy=%.1f kWh peak=%.1f kW",
		s.runID, end, r.Stats.Served, r.Stats.Unmet, len(r.Idle), len(r.Unresolved), r.Stats.EnergyKWh, r.Stats.PeakKW)
	return r, nil
}

func (s *Simulation) issue(is Issue) {
	is.Time = s.engine.Now()
	s.issues = append(s.issues, is)
	s.log.Warnf("%s at %.0f: vehicle=%q trip=%q %s", is.Kind, is.Time, is.Vehicle, is.Trip, is.Detail)
	s.record(trace.Record{
		Kind:     trace.KindIssue,
		Vehicle:  is.Vehicle,
		Resource: is.Trip,
		State:    string(is.Kind),
		Detail:   is.Detail,
	})
}

// record stamps a trace record with the clock and a sequence number.
func (s *Simulation) record(rec trace.Record) {
	s.seq++
	rec.Time = s.engine.Now()
	rec.Seq = s.seq
	s.rec.Record(rec)
}

func (s *Simulation) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

// observer turns depot changes into trace records and events.
type observer struct{ s *Simulation }

func (o observer) SlotChanged(a *depot.Area, slot depot.Slot, vehicleID string) {
	state := "occupied"
	if slot.Free() {
		state = "released"
	}
	o.s.record(trace.Record{
		Kind:     trace.KindOccupancy,
		Vehicle:  vehicleID,
		Resource: a.ID(),
		State:    state,
		Value:    float64(a.Occupancy()),
		Detail:   fmt.Sprintf("slot %d", slot.Index),
	})
	o.s.publish(events.OccupancyChanged{
		Time:      o.s.engine.Now(),
		Area:      a.ID(),
		Occupancy: a.Occupancy(),
		Capacity:  a.Capacity(),
	})
}

func (o observer) PowerChanged(st *depot.Station, vehicleID string, kW float64) {
	o.s.record(trace.Record{
		Kind:     trace.KindPower,
		Vehicle:  vehicleID,
		Resource: st.ID(),
		Value:    kW,
	})
}
