package simulation

import (
	"errors"
	"fmt"
	"maps"
	"math"

	"github.com/kilianp07/ebusdepot/core/charging"
	"github.com/kilianp07/ebusdepot/core/events"
	"github.com/kilianp07/ebusdepot/core/sim"
	"github.com/kilianp07/ebusdepot/core/smartcharging"
	"github.com/kilianp07/ebusdepot/core/trace"
)

// settle brings the battery up to the current time: charging at the
// current grant, or idle losses while parked.
func (s *Simulation) settle(v *vehicle) error {
	now := s.engine.Now()
	dt := float64(now - v.since)
	if dt <= 0 {
		return nil
	}
	from := v.since
	v.since = now
	if v.charging {
		st, _ := s.depot.ChargingAt(v.ID)
		kWh, err := v.Battery.Charge(dt, s.policy, s.depot.Granted(v.ID))
		if err != nil {
			return fmt.Errorf("charge vehicle %s: %w", v.ID, err)
		}
		s.account(st, from, kWh)
		return nil
	}
	if v.State.InDepot() {
		if err := v.Battery.Idle(dt); err != nil {
			return fmt.Errorf("idle vehicle %s: %w", v.ID, err)
		}
	}
	return nil
}

// account adds grid energy drawn at a station. Prices are constant over
// the interval since every price step reallocates.
func (s *Simulation) account(station string, from sim.Time, kWh float64) {
	if kWh <= 0 {
		return
	}
	s.stats.EnergyKWh += kWh
	s.stats.StationEnergy[station] += kWh
	price, ok := s.prices.At(from)
	if !ok {
		return
	}
	factor := 1 + s.depot.Grid().DistanceToGrid*s.settings.GridDistanceFactor
	if st, ok := s.depot.Station(station); ok {
		if f, ok := s.settings.VoltageLevelFactors[st.Spec.VoltageLevel]; ok {
			factor *= f
		}
	}
	s.stats.Cost += kWh * price * factor
}

// reallocate recomputes every grant and the completion times that depend
// on them.
func (s *Simulation) reallocate() error {
	now := s.engine.Now()
	limit := s.depot.Grid().LimitAt(now)
	req := smartcharging.Request{
		Now:         now,
		GridLimit:   limit,
		Prices:      s.prices,
		StationCaps: make(map[string]float64),
	}
	for _, st := range s.depot.Stations() {
		if c := st.Cap(); !math.IsInf(c, 1) {
			req.StationCaps[st.ID()] = c
		}
	}
	var active []*vehicle
	for _, id := range s.order {
		v := s.vehicles[id]
		if !v.charging {
			continue
		}
		if err := s.settle(v); err != nil {
			return err
		}
		st, ok := s.depot.ChargingAt(id)
		if !ok {
			return fmt.Errorf("vehicle %s charges without a charge point", id)
		}
		req.Demands = append(req.Demands, s.demand(v, st))
		active = append(active, v)
	}

	alloc, err := s.allocator.Allocate(req)
	if err != nil {
		return fmt.Errorf("allocate power at %.1f: %w", now, err)
	}
	grants, _ := smartcharging.Settle(s.grants, alloc, req, s.settings.SmartCharging.Accuracy)
	if err := s.depot.ApplyAllocation(grants); err != nil {
		return err
	}
	s.grants = grants
	if len(alloc.Deferred) > 0 {
		s.log.Debugf("deferred to a cheaper interval: %v", alloc.Deferred)
	}
	s.cancel(s.reviewEv)
	s.reviewEv = nil
	if alloc.Review > now && alloc.Review != sim.Never && len(active) > 0 {
		s.reviewEv = s.schedule(alloc.Review, review{})
	}
	for _, v := range active {
		if err := s.scheduleCompletion(v); err != nil {
			return err
		}
	}

	total := s.depot.GridLoad()
	if total > s.stats.PeakKW {
		s.stats.PeakKW = total
	}
	s.record(trace.Record{
		Kind:     trace.KindGrid,
		Resource: s.depot.ID,
		Value:    total,
		Detail:   fmt.Sprintf("limit %.1f", limit),
	})
	s.publish(events.PowerAllocated{Time: now, Grants: maps.Clone(grants), Total: total, GridLimit: limit})
	return nil
}

func (s *Simulation) demand(v *vehicle, station string) smartcharging.Demand {
	b := v.Battery
	target := s.target(v)
	d := smartcharging.Demand{
		VehicleID: v.ID,
		StationID: station,
		MinPower:  b.MinChargingPower,
		Deadline:  sim.Never,
	}
	if b.SoC >= target-socTolerance {
		return d
	}
	d.Requested = b.RequestedPower(s.policy)
	if b.Capacity > 0 {
		d.Energy = (target - b.SoC) * b.Capacity / b.Efficiency
	}
	tr := s.trips[v.Trip]
	if tr == nil {
		return d
	}
	d.Deadline = tr.Departure
	d.Required = d.Requested
	if window := float64(tr.Departure - s.engine.Now()); window > 0 {
		p, ok := smartcharging.LowestPower(b.ChargingCurve, b.SoC, target, window, d.Requested,
			s.settings.SmartCharging.Accuracy, b.Params(s.policy, 0))
		if ok {
			d.Required = p
		}
	}
	return d
}

// scheduleCompletion plans the ChargeComplete event for the current grant.
// A vehicle without power or with an unreachable target gets none.
func (s *Simulation) scheduleCompletion(v *vehicle) error {
	s.cancel(v.done)
	v.done = nil
	if !v.charging {
		return nil
	}
	now := s.engine.Now()
	target := s.target(v)
	if v.Battery.SoC >= target-socTolerance {
		v.done = s.schedule(now, chargeDone{vehicle: v.ID})
		return nil
	}
	g := s.depot.Granted(v.ID)
	if g <= 0 {
		return nil
	}
	dt, err := v.Battery.TimeTo(target, s.policy, g)
	if errors.Is(err, charging.ErrTargetUnreachable) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("completion of %s: %w", v.ID, err)
	}
	v.done = s.schedule(now+sim.Time(dt), chargeDone{vehicle: v.ID})
	return nil
}
