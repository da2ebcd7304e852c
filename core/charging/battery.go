package charging

import (
	"fmt"
	"math"
)

// Battery is the energy store of a vehicle or a station.
type Battery struct {
	Capacity         float64
	SoC              float64
	ChargingCurve    Curve
	DischargeCurve   *Curve
	Efficiency       float64
	MinChargingPower float64
}

// Validate checks the static battery properties.
func (b Battery) Validate() error {
	if b.ChargingCurve.IsZero() {
		return fmt.Errorf("%w: battery has no charging curve", ErrInvalidCurve)
	}
	if b.Capacity < 0 || math.IsNaN(b.Capacity) {
		return fmt.Errorf("battery capacity must be positive, got %.3f", b.Capacity)
	}
	if b.Efficiency <= 0 || b.Efficiency > 1 {
		return fmt.Errorf("battery efficiency must be in (0,1], got %.3f", b.Efficiency)
	}
	if b.MinChargingPower < 0 {
		return fmt.Errorf("%w: min charging power %.3f", ErrNegativePower, b.MinChargingPower)
	}
	if b.SoC > 1 || math.IsNaN(b.SoC) {
		return fmt.Errorf("%w: initial soc %.4f", ErrInvalidSoC, b.SoC)
	}
	return nil
}

// Params returns integration parameters for charging under powerCap.
func (b Battery) Params(policy FloorPolicy, powerCap float64) Params {
	capacity := b.Capacity
	if capacity == 0 {
		capacity = math.Inf(1)
	}
	return Params{
		Capacity:   capacity,
		Efficiency: b.Efficiency,
		MinPower:   b.MinChargingPower,
		Policy:     policy,
		PowerCap:   powerCap,
	}
}

// RequestedPower is the power the battery accepts at its current SoC.
func (b Battery) RequestedPower(policy FloorPolicy) float64 {
	soc := math.Max(0, math.Min(1, b.SoC))
	p, err := b.Params(policy, 0).Effective(b.ChargingCurve, soc)
	if err != nil {
		return 0
	}
	return p
}

// TimeTo returns the seconds to reach target at the given cap.
func (b Battery) TimeTo(target float64, policy FloorPolicy, powerCap float64) (float64, error) {
	return TimeToTarget(b.ChargingCurve, b.SoC, target, b.Params(policy, powerCap))
}

// Charge advances the battery by dt seconds at up to powerCap kW and
// returns the energy drawn from the grid in kWh.
func (b *Battery) Charge(dt float64, policy FloorPolicy, powerCap float64) (float64, error) {
	if powerCap < 0 {
		return 0, fmt.Errorf("%w: %.3f", ErrNegativePower, powerCap)
	}
	if powerCap == 0 || dt <= 0 {
		return 0, nil
	}
	p := b.Params(policy, powerCap)
	next, err := SoCAfter(b.ChargingCurve, b.SoC, dt, p)
	if err != nil {
		return 0, err
	}
	drawn := 0.0
	if !math.IsInf(p.Capacity, 1) {
		drawn = (next - b.SoC) * p.Capacity / b.Efficiency
	}
	b.SoC = next
	return drawn, nil
}

// Idle applies passive losses over dt seconds when a discharge curve is set.
func (b *Battery) Idle(dt float64) error {
	if b.DischargeCurve == nil || b.Capacity == 0 {
		return nil
	}
	next, err := Discharge(*b.DischargeCurve, b.SoC, dt, b.Capacity)
	if err != nil {
		return err
	}
	b.SoC = next
	return nil
}

// Consume removes energy in kWh, e.g. for a trip. The result may be negative;
// callers decide how to treat it.
func (b *Battery) Consume(kWh float64) {
	if b.Capacity == 0 {
		return
	}
	b.SoC -= kWh / b.Capacity
}
