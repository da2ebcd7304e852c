package sim

import (
	"fmt"
	"math"
	"sort"
)

// Step is one segment of a step function, valid from From until the next
// step.
type Step struct {
	From  Time    `json:"from" yaml:"from"`
	Value float64 `json:"value" yaml:"value"`
}

// StepFunction is a time-indexed piecewise constant function.
type StepFunction struct {
	steps []Step
}

// NewStepFunction sorts and validates steps. Duplicate start times are
// rejected.
func NewStepFunction(steps []Step) (StepFunction, error) {
	cp := make([]Step, len(steps))
	copy(cp, steps)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].From < cp[j].From })
	for i, s := range cp {
		if math.IsNaN(s.Value) || math.IsNaN(float64(s.From)) {
			return StepFunction{}, fmt.Errorf("step %d is not a number", i)
		}
		if i > 0 && cp[i-1].From == s.From {
			return StepFunction{}, fmt.Errorf("duplicate step at %.0f", s.From)
		}
	}
	return StepFunction{steps: cp}, nil
}

// Empty reports whether the function has no steps.
func (f StepFunction) Empty() bool { return len(f.steps) == 0 }

// Steps returns a copy of the steps.
func (f StepFunction) Steps() []Step {
	out := make([]Step, len(f.steps))
	copy(out, f.steps)
	return out
}

// At returns the value at t. ok is false before the first step.
func (f StepFunction) At(t Time) (float64, bool) {
	i := sort.Search(len(f.steps), func(i int) bool { return f.steps[i].From > t })
	if i == 0 {
		return 0, false
	}
	return f.steps[i-1].Value, true
}

// Next returns the first step strictly after t.
func (f StepFunction) Next(t Time) (Time, bool) {
	i := sort.Search(len(f.steps), func(i int) bool { return f.steps[i].From > t })
	if i >= len(f.steps) {
		return Never, false
	}
	return f.steps[i].From, true
}

// MinBetween returns the lowest value taken on [from, to).
func (f StepFunction) MinBetween(from, to Time) (float64, bool) {
	v, ok := f.At(from)
	m := v
	for _, s := range f.steps {
		if s.From <= from || s.From >= to {
			continue
		}
		if !ok || s.Value < m {
			m = s.Value
			ok = true
		}
	}
	return m, ok
}
