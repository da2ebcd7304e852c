package simulation

import (
	"errors"
	"fmt"

	"github.com/kilianp07/ebusdepot/core/charging"
	"github.com/kilianp07/ebusdepot/core/dispatch"
	"github.com/kilianp07/ebusdepot/core/smartcharging"
)

// ErrInvalidConfig reports a setting outside its allowed range.
var ErrInvalidConfig = errors.New("invalid simulation config")

// Charge targets.
const (
	// TargetTrip charges to the next trip's minimum SoC plus the reserve.
	TargetTrip = "trip"
	// TargetFull charges to 1.0.
	TargetFull = "full"
)

// Settings holds the global run settings. Durations are in seconds.
type Settings struct {
	// Horizon ends the run. Zero runs until no event is left.
	Horizon float64 `json:"horizon"`
	// LeadTimeMatch bounds how far ahead trips are matched. Zero matches
	// every pending trip.
	LeadTimeMatch float64 `json:"lead_time_match"`
	EnergyReserve float64 `json:"energy_reserve"`
	ChargeTarget  string  `json:"charge_target"`

	AllowPartialDispatch bool `json:"allow_partial_dispatch"`
	AllowNegativeSoC     bool `json:"allow_negative_soc"`
	// ResetNegativeSoC restores a negative SoC on return when set.
	ResetNegativeSoC *float64 `json:"reset_negative_soc"`

	// MaxDepartureDelay keeps an uncovered trip open past its departure.
	MaxDepartureDelay         float64 `json:"max_departure_delay"`
	ReassignLockTime          float64 `json:"reassign_lock_time"`
	DispatchRetriggerInterval float64 `json:"dispatch_retrigger_interval"`

	// DispatchStrategy is "smart" or "first".
	DispatchStrategy string `json:"dispatch_strategy"`

	// PrioritizeInitStore serves vehicles of the initial fleet first.
	PrioritizeInitStore bool `json:"prioritize_init_store"`
	// MinPowerPolicy is "floor" or "disallow".
	MinPowerPolicy string `json:"min_power_policy"`
	// GridDistanceFactor scales energy cost per meter of distance_to_grid.
	GridDistanceFactor float64 `json:"grid_distance_factor"`
	// VoltageLevelFactors scales energy cost by the voltage level a
	// station connects at. Missing levels cost the base price.
	VoltageLevelFactors map[string]float64 `json:"voltage_level_factors"`

	SmartCharging smartcharging.Config `json:"smart_charging"`
}

// SetDefaults fills unset fields.
func (s *Settings) SetDefaults() {
	if s.ChargeTarget == "" {
		s.ChargeTarget = TargetTrip
	}
	if s.DispatchStrategy == "" {
		s.DispatchStrategy = dispatch.StrategySmart
	}
	if s.MinPowerPolicy == "" {
		s.MinPowerPolicy = charging.FloorMinimum.String()
	}
	s.SmartCharging.SetDefaults()
}

// Validate checks every setting.
func (s Settings) Validate() error {
	durations := []struct {
		name  string
		value float64
	}{
		{"horizon", s.Horizon},
		{"lead_time_match", s.LeadTimeMatch},
		{"energy_reserve", s.EnergyReserve},
		{"max_departure_delay", s.MaxDepartureDelay},
		{"reassign_lock_time", s.ReassignLockTime},
		{"dispatch_retrigger_interval", s.DispatchRetriggerInterval},
		{"grid_distance_factor", s.GridDistanceFactor},
	}
	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%w: %s must be >= 0, got %.3f", ErrInvalidConfig, d.name, d.value)
		}
	}
	if s.EnergyReserve > 1 {
		return fmt.Errorf("%w: energy_reserve must be <= 1, got %.3f", ErrInvalidConfig, s.EnergyReserve)
	}
	switch s.ChargeTarget {
	case TargetTrip, TargetFull:
	default:
		return fmt.Errorf("%w: charge_target must be %q or %q, got %q", ErrInvalidConfig, TargetTrip, TargetFull, s.ChargeTarget)
	}
	switch s.DispatchStrategy {
	case dispatch.StrategySmart, dispatch.StrategyFirst:
	default:
		return fmt.Errorf("%w: dispatch_strategy must be %q or %q, got %q", ErrInvalidConfig, dispatch.StrategySmart, dispatch.StrategyFirst, s.DispatchStrategy)
	}
	for level, f := range s.VoltageLevelFactors {
		if f < 0 {
			return fmt.Errorf("%w: voltage level factor %s must be >= 0, got %.3f", ErrInvalidConfig, level, f)
		}
	}
	if s.ResetNegativeSoC != nil && (*s.ResetNegativeSoC < 0 || *s.ResetNegativeSoC > 1) {
		return fmt.Errorf("%w: reset_negative_soc must be in [0,1]", ErrInvalidConfig)
	}
	if _, err := charging.ParseFloorPolicy(s.MinPowerPolicy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := s.SmartCharging.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (s Settings) matcherConfig() dispatch.Config {
	return dispatch.Config{
		LeadTime:      s.LeadTimeMatch,
		EnergyReserve: s.EnergyReserve,
		ReassignLock:  s.ReassignLockTime,
		AllowPartial:  s.AllowPartialDispatch,
		Strategy:      s.DispatchStrategy,
	}
}
