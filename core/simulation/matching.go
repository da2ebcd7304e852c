package simulation

import (
	"math"

	"github.com/kilianp07/ebusdepot/core/charging"
	"github.com/kilianp07/ebusdepot/core/dispatch"
	"github.com/kilianp07/ebusdepot/core/events"
	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/core/process"
	"github.com/kilianp07/ebusdepot/core/sim"
	"github.com/kilianp07/ebusdepot/core/trace"
)

// requestMatch queues one match cycle at the current time.
func (s *Simulation) requestMatch() {
	if s.matchEv.Pending() {
		return
	}
	s.matchEv = s.schedule(s.engine.Now(), matchNow{})
}

func (s *Simulation) match() error {
	now := s.engine.Now()
	r := dispatch.Round{Now: now}
	open := false
	for _, id := range s.tripOrder {
		tr := s.trips[id]
		switch tr.status {
		case tripOpen:
			open = true
			r.Trips = append(r.Trips, tr.Trip)
		case tripAssigned:
			r.Trips = append(r.Trips, tr.Trip)
		}
	}
	if !open {
		return nil
	}
	for _, id := range s.order {
		v := s.vehicles[id]
		if !v.State.InDepot() {
			continue
		}
		if err := s.settle(v); err != nil {
			return err
		}
		area, _, _ := s.depot.Location(id)
		r.Candidates = append(r.Candidates, dispatch.Candidate{
			VehicleID: id,
			Type:      v.Type.ID,
			ArrivedAt: v.ArrivedAt,
			Trip:      v.Trip,
			Blocked:   !s.depot.CanLeave(id),
			AreaRank:  s.areaRank[area],
		})
	}

	rebalance := false
	for _, d := range s.matcher.Match(r, dispatch.ProjectorFunc(s.project)) {
		v, tr := s.vehicles[d.VehicleID], s.trips[d.TripID]
		if d.Previous != "" {
			if err := s.release(v); err != nil {
				return err
			}
		}
		tr.status = tripAssigned
		tr.vehicle = v.ID
		v.Trip = tr.ID
		s.decisions = append(s.decisions, d)
		s.record(trace.Record{
			Kind:     trace.KindDispatch,
			Vehicle:  v.ID,
			Resource: tr.ID,
			State:    "assigned",
			SoC:      v.Battery.SoC,
			Detail:   d.Previous,
		})
		if err := s.fire(v, process.Matched); err != nil {
			return err
		}
		rebalance = rebalance || v.charging
	}
	if rebalance {
		return s.reallocate()
	}
	return nil
}

// project estimates when a vehicle reaches need, charging at its current
// grant or, when it has none yet, at the power its station could give.
// Idle losses are ignored.
func (s *Simulation) project(id string, t model.Trip, need float64) dispatch.Projection {
	now := s.engine.Now()
	v := s.vehicles[id]
	b := v.Battery
	if b.SoC >= need-socTolerance {
		return dispatch.Projection{SoC: b.SoC, ReadyAt: now}
	}
	never := dispatch.Projection{SoC: b.SoC, ReadyAt: sim.Never}
	st, ok := s.depot.StationFor(id)
	if !ok || need > 1 {
		return never
	}
	start := now
	if v.service.Pending() {
		start = v.service.At
	}
	power := s.depot.Granted(id)
	if !v.charging || power <= 0 {
		power = s.nominalPower(v, st)
	}
	if power <= 0 {
		return never
	}
	dt, err := b.TimeTo(need, s.policy, power)
	if err != nil {
		return never
	}
	ready := start + sim.Time(dt)
	deadline := t.Departure
	if deadline < now {
		deadline = now
	}
	if ready <= deadline {
		return dispatch.Projection{SoC: need, ReadyAt: ready}
	}
	soc := b.SoC
	if window := float64(deadline - start); window > 0 {
		if next, err := charging.SoCAfter(b.ChargingCurve, b.SoC, window, b.Params(s.policy, power)); err == nil {
			soc = next
		}
	}
	return dispatch.Projection{SoC: soc, ReadyAt: ready}
}

// nominalPower is what a vehicle would draw alone at its station.
func (s *Simulation) nominalPower(v *vehicle, station string) float64 {
	p := v.Battery.RequestedPower(s.policy)
	if st, ok := s.depot.Station(station); ok {
		p = math.Min(p, st.Cap())
	}
	return math.Min(p, s.depot.Grid().LimitAt(s.engine.Now()))
}

func (s *Simulation) onTripDeparture(tr *trip) error {
	if tr.status != tripOpen && tr.status != tripAssigned {
		return nil
	}
	reason := "no eligible vehicle"
	if tr.vehicle != "" {
		v := s.vehicles[tr.vehicle]
		if err := s.settle(v); err != nil {
			return err
		}
		if s.depot.CanLeave(v.ID) {
			if err := s.fire(v, process.Departure); err != nil {
				return err
			}
			reason = "charge incomplete"
		} else {
			if err := s.release(v); err != nil {
				return err
			}
			reason = "vehicle blocked"
		}
		if tr.status != tripOpen {
			return nil
		}
	}
	if d := s.settings.MaxDepartureDelay; d > 0 {
		s.log.Debugf("trip %s uncovered at departure, waiting up to %.0f s", tr.ID, d)
		tr.expiry = s.schedule(tr.Departure+sim.Time(d), tripExpiry{trip: tr.ID})
		s.requestMatch()
		return nil
	}
	s.markUnmet(tr, reason)
	return nil
}

func (s *Simulation) onTripExpiry(tr *trip) error {
	tr.expiry = nil
	if tr.status == tripAssigned {
		v := s.vehicles[tr.vehicle]
		if s.depot.CanLeave(v.ID) {
			if err := s.settle(v); err != nil {
				return err
			}
			if err := s.fire(v, process.Departure); err != nil {
				return err
			}
		} else if err := s.release(v); err != nil {
			return err
		}
	}
	if tr.status == tripOpen {
		s.markUnmet(tr, "departure delay exceeded")
	}
	return nil
}

func (s *Simulation) markUnmet(tr *trip, reason string) {
	now := s.engine.Now()
	tr.status = tripUnmet
	s.cancel(tr.expiry)
	tr.expiry = nil
	s.stats.Unmet++
	s.unmet = append(s.unmet, UnmetTrip{Trip: tr.ID, Departure: tr.Departure, At: now, Reason: reason})
	s.issue(Issue{Kind: IssueUnmetTrip, Trip: tr.ID, Detail: reason})
	s.publish(events.TripUnmet{Time: now, Trip: tr.ID, Reason: reason})
}
