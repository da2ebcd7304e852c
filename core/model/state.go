package model

// State is the process state of a vehicle in the depot.
type State int

const (
	StateArriving State = iota
	StateStandby
	StateService
	StateCharging
	StateStandbyCharged
	StateDispatchPending
	StateDeparted
)

func (s State) String() string {
	switch s {
	case StateArriving:
		return "ARRIVING"
	case StateStandby:
		return "STANDBY"
	case StateService:
		return "SERVICE"
	case StateCharging:
		return "CHARGING"
	case StateStandbyCharged:
		return "STANDBY_CHARGED"
	case StateDispatchPending:
		return "DISPATCH_PENDING"
	case StateDeparted:
		return "DEPARTED"
	default:
		return "UNKNOWN"
	}
}

// InDepot reports whether a vehicle in this state holds depot resources.
func (s State) InDepot() bool {
	return s != StateArriving && s != StateDeparted
}
