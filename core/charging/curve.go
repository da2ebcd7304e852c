package charging

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrInvalidSoC is returned when a curve is queried outside [0,1].
	ErrInvalidSoC = errors.New("soc outside [0,1]")
	// ErrInvalidCurve reports a malformed curve definition.
	ErrInvalidCurve = errors.New("invalid charging curve")
	// ErrNegativePower is returned for negative power requests.
	ErrNegativePower = errors.New("negative power")
	// ErrTargetUnreachable is returned when the target SoC cannot be reached
	// with the available power.
	ErrTargetUnreachable = errors.New("target soc unreachable")
)

// Point is a curve breakpoint mapping a state of charge to a power in kW.
type Point struct {
	SoC   float64 `json:"soc" yaml:"soc"`
	Power float64 `json:"power" yaml:"power"`
}

// Curve is a piecewise-linear function from SoC to power.
type Curve struct {
	points []Point
}

// NewCurve validates breakpoints given as [soc, power] pairs. The first
// breakpoint must be at SoC 0 and the last at SoC 1, with strictly
// increasing SoC in between.
func NewCurve(pairs [][2]float64) (Curve, error) {
	pts := make([]Point, len(pairs))
	for i, p := range pairs {
		pts[i] = Point{SoC: p[0], Power: p[1]}
	}
	return NewCurveFromPoints(pts)
}

// NewCurveFromPoints is NewCurve for Point slices.
func NewCurveFromPoints(pts []Point) (Curve, error) {
	if len(pts) < 2 {
		return Curve{}, fmt.Errorf("%w: need at least two breakpoints, got %d", ErrInvalidCurve, len(pts))
	}
	for i, p := range pts {
		if math.IsNaN(p.SoC) || math.IsNaN(p.Power) || math.IsInf(p.Power, 0) {
			return Curve{}, fmt.Errorf("%w: breakpoint %d is not finite", ErrInvalidCurve, i)
		}
		if p.Power < 0 {
			return Curve{}, fmt.Errorf("%w: breakpoint %d has negative power %.3f", ErrInvalidCurve, i, p.Power)
		}
		if i > 0 && p.SoC <= pts[i-1].SoC {
			return Curve{}, fmt.Errorf("%w: breakpoints not strictly increasing at %d", ErrInvalidCurve, i)
		}
	}
	if pts[0].SoC != 0 || pts[len(pts)-1].SoC != 1 {
		return Curve{}, fmt.Errorf("%w: endpoints must be soc 0 and 1", ErrInvalidCurve)
	}
	cp := make([]Point, len(pts))
	copy(cp, pts)
	return Curve{points: cp}, nil
}

// ConstantCurve returns a flat curve at power kW.
func ConstantCurve(power float64) Curve {
	return Curve{points: []Point{{0, power}, {1, power}}}
}

// MustCurve is NewCurve that panics on error. Intended for tests and
// package-level fixtures.
func MustCurve(pairs [][2]float64) Curve {
	c, err := NewCurve(pairs)
	if err != nil {
		panic(err)
	}
	return c
}

// Points returns a copy of the breakpoints.
func (c Curve) Points() []Point {
	out := make([]Point, len(c.points))
	copy(out, c.points)
	return out
}

// IsZero reports whether the curve is undefined.
func (c Curve) IsZero() bool { return len(c.points) == 0 }

// PowerAt interpolates the curve at soc.
func (c Curve) PowerAt(soc float64) (float64, error) {
	if math.IsNaN(soc) || soc < 0 || soc > 1 {
		return 0, fmt.Errorf("%w: %.4f", ErrInvalidSoC, soc)
	}
	if c.IsZero() {
		return 0, ErrInvalidCurve
	}
	return c.at(soc), nil
}

// at interpolates without range checks. SoC below 0 maps to the first
// breakpoint.
func (c Curve) at(soc float64) float64 {
	if soc <= 0 {
		return c.points[0].Power
	}
	i := sort.Search(len(c.points), func(i int) bool { return c.points[i].SoC >= soc })
	if i >= len(c.points) {
		return c.points[len(c.points)-1].Power
	}
	if c.points[i].SoC == soc {
		return c.points[i].Power
	}
	a, b := c.points[i-1], c.points[i]
	return a.Power + (b.Power-a.Power)*(soc-a.SoC)/(b.SoC-a.SoC)
}

// Max returns the highest power on the curve.
func (c Curve) Max() float64 {
	m := 0.0
	for _, p := range c.points {
		if p.Power > m {
			m = p.Power
		}
	}
	return m
}
