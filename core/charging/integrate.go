package charging

import (
	"fmt"
	"math"
	"sort"
)

const epsilon = 1e-12

// FloorPolicy selects how curve values below the minimum charging power are
// treated.
type FloorPolicy int

const (
	// FloorMinimum raises power below the minimum to the minimum.
	FloorMinimum FloorPolicy = iota
	// DisallowBelowMinimum stops charging where the curve drops below the
	// minimum.
	DisallowBelowMinimum
)

func (p FloorPolicy) String() string {
	if p == DisallowBelowMinimum {
		return "disallow"
	}
	return "floor"
}

// ParseFloorPolicy maps a configuration value to a FloorPolicy.
func ParseFloorPolicy(s string) (FloorPolicy, error) {
	switch s {
	case "", "floor":
		return FloorMinimum, nil
	case "disallow":
		return DisallowBelowMinimum, nil
	default:
		return FloorMinimum, fmt.Errorf("unknown min power policy %q", s)
	}
}

// Params holds the battery and charger properties used for integration.
type Params struct {
	// Capacity in kWh. Zero or +Inf means unbounded.
	Capacity float64
	// Efficiency in (0,1]. Zero is treated as 1.
	Efficiency float64
	// MinPower is the lowest power the battery accepts, in kW.
	MinPower float64
	Policy   FloorPolicy
	// PowerCap bounds delivered power. Zero or negative means no cap.
	PowerCap float64
}

func (p Params) seconds() float64 {
	eff := p.Efficiency
	if eff <= 0 {
		eff = 1
	}
	if p.Capacity <= 0 || math.IsInf(p.Capacity, 1) {
		return math.Inf(1)
	}
	return p.Capacity * 3600 / eff
}

func (p Params) effective(raw float64) float64 {
	v := raw
	if p.MinPower > 0 && raw < p.MinPower {
		if p.Policy == DisallowBelowMinimum {
			v = 0
		} else {
			v = p.MinPower
		}
	}
	if p.PowerCap > 0 && v > p.PowerCap {
		v = p.PowerCap
	}
	return v
}

// Effective returns the power the charger delivers at soc after the floor
// policy and the cap are applied.
func (p Params) Effective(c Curve, soc float64) (float64, error) {
	raw, err := c.PowerAt(soc)
	if err != nil {
		return 0, err
	}
	return p.effective(raw), nil
}

// piece is a SoC interval on which effective power is linear.
type piece struct {
	a, b   float64
	pa, pb float64
}

func (pc piece) slope() float64 { return (pc.pb - pc.pa) / (pc.b - pc.a) }

func (pc piece) powerAt(s float64) float64 { return pc.pa + pc.slope()*(s-pc.a) }

// duration returns the time in units of k to move from s0 to s1 within pc.
func (pc piece) duration(s0, s1, k float64) float64 {
	if s1 <= s0 {
		return 0
	}
	p0, p1 := pc.powerAt(s0), pc.powerAt(s1)
	if p0 <= epsilon || p1 <= epsilon {
		return math.Inf(1)
	}
	m := pc.slope()
	if math.Abs(m) < epsilon {
		return k * (s1 - s0) / p0
	}
	return k * math.Log(p1/p0) / m
}

// pieces splits the curve above from into intervals on which the effective
// power is linear. SoC below zero uses the power at zero.
func pieces(c Curve, p Params, from float64) []piece {
	var out []piece
	if from < 0 {
		v := p.effective(c.points[0].Power)
		out = append(out, piece{a: from, b: 0, pa: v, pb: v})
	}
	for i := 0; i+1 < len(c.points); i++ {
		x0, x1 := c.points[i].SoC, c.points[i+1].SoC
		if x1 <= from {
			continue
		}
		y0, y1 := c.points[i].Power, c.points[i+1].Power
		raw := func(s float64) float64 { return y0 + (y1-y0)*(s-x0)/(x1-x0) }
		cuts := []float64{x0, x1}
		for _, level := range []float64{p.MinPower, p.PowerCap} {
			if level <= 0 || y0 == y1 {
				continue
			}
			s := x0 + (level-y0)*(x1-x0)/(y1-y0)
			if s > x0 && s < x1 {
				cuts = append(cuts, s)
			}
		}
		sort.Float64s(cuts)
		for j := 0; j+1 < len(cuts); j++ {
			u, v := cuts[j], cuts[j+1]
			if v <= from || v-u < epsilon {
				continue
			}
			if u < from {
				u = from
			}
			mid := raw((u + v) / 2)
			var pc piece
			switch {
			case p.MinPower > 0 && mid < p.MinPower:
				e := p.effective(mid)
				pc = piece{a: u, b: v, pa: e, pb: e}
			case p.PowerCap > 0 && mid > p.PowerCap:
				pc = piece{a: u, b: v, pa: p.PowerCap, pb: p.PowerCap}
			default:
				pc = piece{a: u, b: v, pa: raw(u), pb: raw(v)}
			}
			out = append(out, pc)
		}
	}
	return out
}

func checkRange(soc float64, allowNegative bool) error {
	if math.IsNaN(soc) || soc > 1 || (soc < 0 && !allowNegative) {
		return fmt.Errorf("%w: %.4f", ErrInvalidSoC, soc)
	}
	return nil
}

// TimeToTarget returns the seconds needed to charge from start to target.
// Efficiency scales the energy delivered. The result is zero when target is
// not above start. A start below zero is accepted for batteries that were
// allowed to run negative.
func TimeToTarget(c Curve, start, target float64, p Params) (float64, error) {
	if c.IsZero() {
		return 0, ErrInvalidCurve
	}
	if err := checkRange(start, true); err != nil {
		return 0, err
	}
	if err := checkRange(target, false); err != nil {
		return 0, err
	}
	if target <= start {
		return 0, nil
	}
	k := p.seconds()
	if math.IsInf(k, 1) {
		return math.Inf(1), fmt.Errorf("%w: unbounded capacity", ErrTargetUnreachable)
	}
	total := 0.0
	for _, pc := range pieces(c, p, start) {
		if pc.a >= target {
			break
		}
		hi := math.Min(pc.b, target)
		lo := math.Max(pc.a, start)
		d := pc.duration(lo, hi, k)
		if math.IsInf(d, 1) {
			return math.Inf(1), fmt.Errorf("%w: no power at soc %.4f", ErrTargetUnreachable, lo)
		}
		total += d
	}
	return total, nil
}

// SoCAfter returns the state of charge reached after charging for dt
// seconds from start. Charging stops at 1.
func SoCAfter(c Curve, start, dt float64, p Params) (float64, error) {
	if c.IsZero() {
		return start, ErrInvalidCurve
	}
	if err := checkRange(start, true); err != nil {
		return start, err
	}
	if dt <= 0 || start >= 1 {
		return start, nil
	}
	k := p.seconds()
	if math.IsInf(k, 1) {
		return start, nil
	}
	soc := start
	remaining := dt
	for _, pc := range pieces(c, p, start) {
		lo := math.Max(pc.a, soc)
		need := pc.duration(lo, pc.b, k)
		if need <= remaining {
			remaining -= need
			soc = pc.b
			continue
		}
		p0 := pc.powerAt(lo)
		if p0 <= epsilon {
			return lo, nil
		}
		m := pc.slope()
		if math.Abs(m) < epsilon {
			return lo + remaining*p0/k, nil
		}
		return lo + (p0*math.Exp(m*remaining/k)-p0)/m, nil
	}
	return math.Min(soc, 1), nil
}

// Discharge applies passive losses from the discharge curve over dt
// seconds. The result never drops below zero.
func Discharge(c Curve, start, dt, capacity float64) (float64, error) {
	if c.IsZero() {
		return start, ErrInvalidCurve
	}
	if err := checkRange(start, true); err != nil {
		return start, err
	}
	if dt <= 0 || start <= 0 {
		return start, nil
	}
	k := Params{Capacity: capacity, Efficiency: 1}.seconds()
	if math.IsInf(k, 1) {
		return start, nil
	}
	ps := pieces(c, Params{}, 0)
	soc := start
	remaining := dt
	for i := len(ps) - 1; i >= 0; i-- {
		pc := ps[i]
		if pc.a >= soc {
			continue
		}
		hi := math.Min(pc.b, soc)
		need := pc.duration(pc.a, hi, k)
		if need <= remaining {
			remaining -= need
			soc = pc.a
			continue
		}
		p1 := pc.powerAt(hi)
		if p1 <= epsilon {
			return hi, nil
		}
		m := pc.slope()
		if math.Abs(m) < epsilon {
			return hi - remaining*p1/k, nil
		}
		return hi + (p1*math.Exp(-m*remaining/k)-p1)/m, nil
	}
	return math.Max(soc, 0), nil
}
