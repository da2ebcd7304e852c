package simulation

import (
	"errors"
	"fmt"
	"math"

	"github.com/kilianp07/ebusdepot/core/depot"
	"github.com/kilianp07/ebusdepot/core/events"
	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/core/process"
	"github.com/kilianp07/ebusdepot/core/trace"
)

// fire runs one transition and applies its effects in order.
func (s *Simulation) fire(v *vehicle, t process.Trigger) error {
	from := v.State
	next, effects, err := process.Transition(from, t, s.guard(v))
	if err != nil {
		return fmt.Errorf("vehicle %s at %.1f: %w", v.ID, s.engine.Now(), err)
	}
	v.State = next
	s.log.Debugf("vehicle %s: %s on %s -> %s %v", v.ID, t, from, next, effects)
	if next != from {
		s.stateChanged(v, from, t)
	}
	if t == process.Matched && next == model.StateDispatchPending && from != next {
		// a delayed trip leaves as soon as its vehicle is ready
		if tr := s.trips[v.Trip]; tr != nil && tr.Departure <= s.engine.Now() {
			s.schedule(s.engine.Now(), departNow{vehicle: v.ID})
		}
	}
	for _, e := range effects {
		if err := s.apply(v, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulation) guard(v *vehicle) process.Guard {
	soc := v.Battery.SoC
	g := process.Guard{
		NeedsService: s.needsService(v) && s.servesHere(v),
		BelowTarget:  soc < s.target(v)-socTolerance,
	}
	_, g.HasStation = s.depot.StationFor(v.ID)
	if tr := s.trips[v.Trip]; tr != nil && s.depot.CanLeave(v.ID) {
		full := soc >= tr.MinSoC+s.settings.EnergyReserve-socTolerance
		partial := s.settings.AllowPartialDispatch && (s.settings.AllowNegativeSoC || soc >= tr.MinSoC-socTolerance)
		g.CanDepart = full || partial
	}
	return g
}

// target is the SoC at which charging stops.
func (s *Simulation) target(v *vehicle) float64 {
	if s.settings.ChargeTarget == TargetFull {
		return 1
	}
	if tr := s.trips[v.Trip]; tr != nil {
		return math.Min(1, tr.MinSoC+s.settings.EnergyReserve)
	}
	return v.Type.TargetSoC
}

func (s *Simulation) priority(v *vehicle) int {
	if s.settings.PrioritizeInitStore && v.InitStore {
		return 1
	}
	return 0
}

func (s *Simulation) apply(v *vehicle, e process.Effect) error {
	now := s.engine.Now()
	switch e {
	case process.EffRequestSlot:
		return s.requestSlot(v)
	case process.EffEvaluate:
		return s.fire(v, process.Evaluate)
	case process.EffStartService:
		v.service = s.schedule(now+v.Type.ServiceDuration, serviceDone{vehicle: v.ID})
	case process.EffRequestChargePoint:
		return s.requestChargePoint(v)
	case process.EffStartCharging:
		if err := s.settle(v); err != nil {
			return err
		}
		v.charging = true
		return s.reallocate()
	case process.EffStopCharging:
		return s.stopCharging(v)
	case process.EffCancelWaits:
		if s.depot.CancelSlotWait(v.ID) {
			v.moving = false
		}
		s.depot.CancelWaits(v.ID)
	case process.EffNotifyReady:
		if v.Trip != "" && v.State == model.StateStandbyCharged {
			return s.fire(v, process.Matched)
		}
		s.requestMatch()
	case process.EffDepartNow:
		s.schedule(now, departNow{vehicle: v.ID})
	case process.EffUnassign:
		return s.unassign(v)
	case process.EffDepart:
		return s.depart(v)
	case process.EffProceed:
		return s.proceed(v)
	default:
		return fmt.Errorf("vehicle %s: unknown effect %s", v.ID, e)
	}
	return nil
}

func (s *Simulation) requestSlot(v *vehicle) error {
	id := v.ID
	opts := depot.AcquireOptions{VehicleType: v.Type.ID, Priority: s.priority(v)}
	_, _, granted, err := s.depot.Park(id, opts, func(string, int) {
		s.schedule(s.engine.Now(), slotGranted{vehicle: id})
	})
	v.waiting = true
	if errors.Is(err, depot.ErrCapacityExceeded) {
		s.log.Warnf("vehicle %s: no parking area admits type %s", id, v.Type.ID)
		return nil
	}
	if err != nil {
		return err
	}
	if granted {
		s.schedule(s.engine.Now(), slotGranted{vehicle: id})
	} else {
		s.log.Debugf("vehicle %s waits for a parking slot", id)
	}
	return nil
}

func (s *Simulation) requestChargePoint(v *vehicle) error {
	st, ok := s.depot.StationFor(v.ID)
	if !ok {
		return nil
	}
	if v.moving && s.depot.CancelSlotWait(v.ID) {
		v.moving = false
	}
	id := v.ID
	opts := depot.AcquireOptions{VehicleType: v.Type.ID, Priority: s.priority(v)}
	granted, err := s.depot.AcquireChargePoint(st, id, opts, func() {
		s.schedule(s.engine.Now(), cpGranted{vehicle: id})
	})
	if err != nil {
		return err
	}
	if granted {
		s.schedule(s.engine.Now(), cpGranted{vehicle: id})
	}
	return nil
}

func (s *Simulation) stopCharging(v *vehicle) error {
	if err := s.settle(v); err != nil {
		return err
	}
	s.cancel(v.done)
	v.done = nil
	was := v.charging
	v.charging = false
	if err := s.depot.ReleaseChargePoint(v.ID); err != nil {
		return err
	}
	if was {
		return s.reallocate()
	}
	return nil
}

// release returns the vehicle's trip to the matcher without recording an
// issue.
func (s *Simulation) release(v *vehicle) error {
	tr := s.trips[v.Trip]
	if tr == nil {
		return nil
	}
	tr.status = tripOpen
	tr.vehicle = ""
	v.Trip = ""
	s.requestMatch()
	return s.fire(v, process.Unmatched)
}

func (s *Simulation) unassign(v *vehicle) error {
	tr := s.trips[v.Trip]
	if tr == nil {
		return nil
	}
	tr.status = tripOpen
	tr.vehicle = ""
	v.Trip = ""
	s.issue(Issue{
		Kind:    IssueChargeIncomplete,
		Vehicle: v.ID,
		Trip:    tr.ID,
		Detail:  fmt.Sprintf("soc %.3f below %.3f at departure", v.Battery.SoC, tr.MinSoC+s.settings.EnergyReserve),
	})
	s.requestMatch()
	if v.charging {
		return s.reallocate()
	}
	return nil
}

func (s *Simulation) depart(v *vehicle) error {
	tr := s.trips[v.Trip]
	if tr == nil {
		return fmt.Errorf("vehicle %s departs without a trip", v.ID)
	}
	if err := s.settle(v); err != nil {
		return err
	}
	s.cancel(v.done)
	s.cancel(v.service)
	v.done, v.service = nil, nil
	was := v.charging
	v.charging = false
	if err := s.depot.Release(v.ID); err != nil {
		return err
	}
	v.Battery.Consume(tr.Energy)
	if v.Battery.SoC < 0 && !s.settings.AllowNegativeSoC {
		s.issue(Issue{
			Kind:    IssueEnergyShortfall,
			Vehicle: v.ID,
			Trip:    tr.ID,
			Detail:  fmt.Sprintf("soc %.4f clamped to 0", v.Battery.SoC),
		})
		v.Battery.SoC = 0
	}
	tr.status = tripDeparted
	s.cancel(tr.expiry)
	tr.expiry = nil
	s.stats.Served++
	v.Area, v.Slot, v.Trip = "", -1, ""
	v.moving = false
	s.record(trace.Record{
		Kind:     trace.KindDispatch,
		Vehicle:  v.ID,
		Resource: tr.ID,
		State:    "departed",
		SoC:      v.Battery.SoC,
		Detail:   fmt.Sprintf("delay %.0f", s.engine.Now()-tr.Departure),
	})
	if tr.Returns() {
		s.schedule(tr.Arrival, arrival{vehicle: v.ID})
	}
	if was {
		return s.reallocate()
	}
	return nil
}

func (s *Simulation) onArrival(v *vehicle) error {
	now := s.engine.Now()
	v.ArrivedAt = now
	v.serviced = false
	v.since = now
	v.step, v.moving = 0, false
	if r := s.settings.ResetNegativeSoC; r != nil && v.Battery.SoC < 0 {
		s.log.Debugf("vehicle %s: soc %.4f reset to %.4f", v.ID, v.Battery.SoC, *r)
		v.Battery.SoC = *r
	}
	return s.fire(v, process.Arrived)
}

func (s *Simulation) onSlotGranted(v *vehicle) error {
	area, slot, ok := s.depot.Location(v.ID)
	if !ok || v.State != model.StateArriving {
		return nil
	}
	v.Area, v.Slot = area, slot
	v.waiting = false
	v.since = s.engine.Now()
	return s.fire(v, process.SlotGranted)
}

func (s *Simulation) onServiceDone(v *vehicle) error {
	v.service = nil
	v.serviced = true
	if v.State != model.StateService {
		return nil
	}
	if err := s.settle(v); err != nil {
		return err
	}
	return s.fire(v, process.ServiceDone)
}

func (s *Simulation) onChargePointGranted(v *vehicle) error {
	if _, ok := s.depot.ChargingAt(v.ID); !ok {
		return nil
	}
	switch v.State {
	case model.StateStandby:
		if err := s.settle(v); err != nil {
			return err
		}
		return s.fire(v, process.ChargePointGranted)
	case model.StateCharging:
		return nil
	default:
		// the vehicle moved on before the grant was processed
		return s.depot.ReleaseChargePoint(v.ID)
	}
}

func (s *Simulation) onChargeDone(v *vehicle) error {
	v.done = nil
	if !v.charging || v.State != model.StateCharging {
		return nil
	}
	if err := s.settle(v); err != nil {
		return err
	}
	target := s.target(v)
	if v.Battery.SoC < target-socTolerance {
		return s.scheduleCompletion(v)
	}
	if v.Battery.SoC < target {
		v.Battery.SoC = target
	}
	return s.fire(v, process.ChargeComplete)
}

func (s *Simulation) onDepartNow(v *vehicle) error {
	if v.State != model.StateDispatchPending {
		return nil
	}
	return s.fire(v, process.Departure)
}

func (s *Simulation) stateChanged(v *vehicle, from model.State, t process.Trigger) {
	s.record(trace.Record{
		Kind:     trace.KindState,
		Vehicle:  v.ID,
		Resource: v.Area,
		State:    v.State.String(),
		SoC:      v.Battery.SoC,
		Detail:   t.String(),
	})
	s.publish(events.StateChanged{
		Time:    s.engine.Now(),
		Vehicle: v.ID,
		From:    from.String(),
		To:      v.State.String(),
		Trigger: t.String(),
		SoC:     v.Battery.SoC,
	})
}
