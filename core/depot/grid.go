package depot

import (
	"math"

	"github.com/kilianp07/ebusdepot/core/sim"
)

// Grid is the depot's connection to the public grid.
type Grid struct {
	limit          sim.StepFunction
	DistanceToGrid float64
}

func newGrid(spec GridSpec) (*Grid, error) {
	f, err := sim.NewStepFunction(spec.PowerLimit)
	if err != nil {
		return nil, err
	}
	return &Grid{limit: f, DistanceToGrid: spec.DistanceToGrid}, nil
}

// LimitAt returns the grid cap at t in kW. +Inf means unlimited.
func (g *Grid) LimitAt(t sim.Time) float64 {
	v, ok := g.limit.At(t)
	if !ok {
		return math.Inf(1)
	}
	return v
}

// NextChange returns the next time the limit changes after t.
func (g *Grid) NextChange(t sim.Time) (sim.Time, bool) { return g.limit.Next(t) }

// Schedule returns the limit steps.
func (g *Grid) Schedule() []sim.Step { return g.limit.Steps() }
