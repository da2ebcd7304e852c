package simulation

import (
	"errors"

	"github.com/kilianp07/ebusdepot/core/depot"
	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/core/process"
)

func (s *Simulation) needsService(v *vehicle) bool {
	return v.Type.ServiceDuration > 0 && !v.serviced
}

// servesHere reports whether service runs at the vehicle's plan step.
// Plans without a service step serve anywhere.
func (s *Simulation) servesHere(v *vehicle) bool {
	if !s.serviceSteps {
		return true
	}
	return s.depot.Plan()[v.step].Filter == depot.FilterNeedsService
}

func (s *Simulation) admits(v *vehicle, st depot.Step) bool {
	switch st.Filter {
	case depot.FilterNeedsCharge:
		return v.Battery.SoC < s.target(v)-socTolerance
	case depot.FilterNeedsService:
		return s.needsService(v)
	default:
		return true
	}
}

// proceed moves a vehicle that is done at its plan step on to the next
// step it qualifies for. Skipped steps stay available while the vehicle
// remains at its current step.
func (s *Simulation) proceed(v *vehicle) error {
	if v.moving || (v.State != model.StateStandby && v.State != model.StateStandbyCharged) {
		return nil
	}
	plan := s.depot.Plan()
	for j := v.step + 1; j < len(plan); j++ {
		if !s.admits(v, plan[j]) {
			continue
		}
		if plan[j].Has(v.Area) {
			v.step = j
			return s.fire(v, process.Evaluate)
		}
		return s.relocate(v, j)
	}
	return nil
}

func (s *Simulation) relocate(v *vehicle, step int) error {
	st := s.depot.Plan()[step]
	id := v.ID
	opts := depot.AcquireOptions{
		VehicleType:    v.Type.ID,
		Priority:       s.priority(v),
		Strategy:       st.Group.Strategy,
		RequireStation: st.Filter == depot.FilterNeedsCharge,
	}
	area, _, granted, err := s.depot.Relocate(id, st.Group.Areas, opts, func(string, int) {
		s.schedule(s.engine.Now(), relocated{vehicle: id})
	})
	if errors.Is(err, depot.ErrCapacityExceeded) {
		s.log.Debugf("vehicle %s: no area of group %s admits it", id, st.Group.ID)
		return nil
	}
	if err != nil {
		return err
	}
	v.moving, v.next = true, step
	if granted {
		s.log.Debugf("vehicle %s moves from %s to %s", id, v.Area, area)
		s.schedule(s.engine.Now(), relocated{vehicle: id})
	} else {
		s.log.Debugf("vehicle %s waits for room in group %s", id, st.Group.ID)
	}
	return nil
}

func (s *Simulation) onRelocated(v *vehicle) error {
	area, slot, ok := s.depot.Location(v.ID)
	if !ok || !v.moving {
		return nil
	}
	if err := s.settle(v); err != nil {
		return err
	}
	v.moving = false
	v.step = v.next
	v.Area, v.Slot = area, slot
	switch v.State {
	case model.StateStandby, model.StateStandbyCharged:
		return s.fire(v, process.Evaluate)
	}
	return nil
}
