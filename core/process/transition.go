// Package process defines the vehicle state machine. Transition is a pure
// function; the simulation applies the returned effects.
package process

import (
	"errors"
	"fmt"

	"github.com/kilianp07/ebusdepot/core/model"
)

// ErrInvalidTransition is returned for a trigger that is not defined in the
// current state. It signals a modeling defect.
var ErrInvalidTransition = errors.New("invalid state transition")

// Trigger is an event that drives a vehicle process.
type Trigger int

const (
	// Arrived fires when the vehicle reaches the depot gate.
	Arrived Trigger = iota
	// SlotGranted fires when the vehicle obtains a parking slot.
	SlotGranted
	// Evaluate re-examines a standing vehicle's needs.
	Evaluate
	// ServiceDone fires at the end of the service duration.
	ServiceDone
	// ChargePointGranted fires when a charge point is assigned.
	ChargePointGranted
	// ChargeComplete fires when the target SoC is reached.
	ChargeComplete
	// Matched fires when the matcher binds the vehicle to a trip.
	Matched
	// Unmatched fires when the vehicle loses its trip to reassignment.
	Unmatched
	// Departure fires at the assigned trip's departure time.
	Departure
)

func (t Trigger) String() string {
	switch t {
	case Arrived:
		return "arrived"
	case SlotGranted:
		return "slot_granted"
	case Evaluate:
		return "evaluate"
	case ServiceDone:
		return "service_done"
	case ChargePointGranted:
		return "charge_point_granted"
	case ChargeComplete:
		return "charge_complete"
	case Matched:
		return "matched"
	case Unmatched:
		return "unmatched"
	case Departure:
		return "departure"
	default:
		return "unknown"
	}
}

// Effect is a side effect the simulation performs after a transition.
type Effect int

const (
	// EffRequestSlot asks the depot for a parking slot.
	EffRequestSlot Effect = iota
	// EffEvaluate re-runs Transition with the Evaluate trigger.
	EffEvaluate
	EffStartService
	EffRequestChargePoint
	EffStartCharging
	// EffStopCharging cancels the completion wait and releases the charge
	// point together with its power.
	EffStopCharging
	// EffCancelWaits leaves every resource queue.
	EffCancelWaits
	// EffNotifyReady tells the matcher the vehicle's readiness changed.
	EffNotifyReady
	// EffDepartNow fires Departure again at the current time.
	EffDepartNow
	// EffUnassign returns the vehicle's trip to the matcher.
	EffUnassign
	// EffDepart releases all resources, consumes trip energy and schedules
	// the return trip's arrival.
	EffDepart
	// EffProceed moves the vehicle on to the next plan step it qualifies
	// for.
	EffProceed
)

func (e Effect) String() string {
	names := [...]string{
		"request_slot", "evaluate", "start_service", "request_charge_point",
		"start_charging", "stop_charging", "cancel_waits", "notify_ready",
		"depart_now", "unassign", "depart", "proceed",
	}
	if int(e) < 0 || int(e) >= len(names) {
		return "unknown"
	}
	return names[e]
}

// Guard carries the facts a transition depends on.
type Guard struct {
	// NeedsService is true until the vehicle's service has run.
	NeedsService bool
	// HasStation is true when the vehicle's slot is bound to a station.
	HasStation bool
	// BelowTarget is true while SoC is under the charge target.
	BelowTarget bool
	// CanDepart is true when an unfinished vehicle may leave on partial
	// charge.
	CanDepart bool
}

// Transition returns the next state and the effects to apply.
func Transition(s model.State, t Trigger, g Guard) (model.State, []Effect, error) {
	switch s {
	case model.StateArriving:
		switch t {
		case Arrived:
			return model.StateArriving, []Effect{EffRequestSlot}, nil
		case SlotGranted:
			return model.StateStandby, []Effect{EffEvaluate}, nil
		}
	case model.StateStandby:
		switch t {
		case Evaluate:
			return evaluate(g)
		case ChargePointGranted:
			if !g.BelowTarget {
				return model.StateStandbyCharged, []Effect{EffStopCharging, EffNotifyReady, EffProceed}, nil
			}
			return model.StateCharging, []Effect{EffStartCharging}, nil
		case Matched:
			// the trip may lower or raise the charge target
			return evaluate(g)
		case Unmatched:
			return model.StateStandby, nil, nil
		case Departure:
			if g.CanDepart {
				return model.StateDispatchPending, []Effect{EffCancelWaits, EffDepartNow}, nil
			}
			return model.StateStandby, []Effect{EffUnassign}, nil
		}
	case model.StateService:
		switch t {
		case ServiceDone:
			return model.StateStandby, []Effect{EffEvaluate}, nil
		case Matched, Unmatched:
			return model.StateService, nil, nil
		case Departure:
			return model.StateService, []Effect{EffUnassign}, nil
		}
	case model.StateCharging:
		switch t {
		case ChargeComplete:
			return model.StateStandbyCharged, []Effect{EffStopCharging, EffNotifyReady, EffProceed}, nil
		case Matched, Unmatched:
			return model.StateCharging, nil, nil
		case Departure:
			if g.CanDepart {
				return model.StateDispatchPending, []Effect{EffStopCharging, EffDepartNow}, nil
			}
			return model.StateCharging, []Effect{EffUnassign}, nil
		}
	case model.StateStandbyCharged:
		switch t {
		case Matched:
			if g.BelowTarget {
				return model.StateStandby, []Effect{EffEvaluate}, nil
			}
			return model.StateDispatchPending, nil, nil
		case Unmatched:
			return model.StateStandbyCharged, nil, nil
		case Evaluate:
			return evaluate(g)
		case Departure:
			if g.CanDepart {
				return model.StateDispatchPending, []Effect{EffDepartNow}, nil
			}
			return model.StateStandbyCharged, []Effect{EffUnassign}, nil
		}
	case model.StateDispatchPending:
		switch t {
		case Departure:
			return model.StateDeparted, []Effect{EffDepart}, nil
		case Unmatched:
			return model.StateStandbyCharged, []Effect{EffEvaluate}, nil
		case Matched:
			return model.StateDispatchPending, nil, nil
		}
	case model.StateDeparted:
		if t == Arrived {
			return model.StateArriving, []Effect{EffRequestSlot}, nil
		}
	}
	return s, nil, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, t, s)
}

func evaluate(g Guard) (model.State, []Effect, error) {
	switch {
	case g.NeedsService:
		return model.StateService, []Effect{EffStartService}, nil
	case !g.BelowTarget:
		return model.StateStandbyCharged, []Effect{EffCancelWaits, EffNotifyReady, EffProceed}, nil
	case g.HasStation:
		return model.StateStandby, []Effect{EffRequestChargePoint, EffNotifyReady}, nil
	default:
		return model.StateStandby, []Effect{EffNotifyReady, EffProceed}, nil
	}
}
