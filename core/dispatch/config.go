package dispatch

// Dispatch strategies.
const (
	// StrategySmart prefers the vehicle ready earliest.
	StrategySmart = "smart"
	// StrategyFirst takes the first suitable vehicle in area order, FIFO
	// inside an area.
	StrategyFirst = "first"
)

// Config defines matching settings. Durations are in seconds.
type Config struct {
	// LeadTime bounds how far ahead trips are matched. Zero matches every
	// pending trip.
	LeadTime float64 `json:"lead_time_match"`
	// EnergyReserve is added to a trip's minimum SoC.
	EnergyReserve float64 `json:"energy_reserve"`
	// ReassignLock forbids taking a vehicle from a trip departing sooner
	// than this.
	ReassignLock float64 `json:"reassign_lock_time"`
	// AllowPartial admits vehicles below the requirement when nothing
	// better exists.
	AllowPartial bool `json:"allow_partial_dispatch"`
	// Strategy is StrategySmart or StrategyFirst. Empty means smart.
	Strategy string `json:"dispatch_strategy"`
}
