package smartcharging

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/kilianp07/ebusdepot/core/sim"
	"gonum.org/v1/gonum/floats"
)

// Mode selects how headroom left after deadline-critical power is shared.
type Mode string

const (
	// ModeProportional shares remaining headroom in proportion to
	// outstanding requests.
	ModeProportional Mode = "proportional"
	// ModePrice defers vehicles with slack when a cheaper interval is ahead.
	ModePrice Mode = "price"
	// ModeLP solves a deadline-weighted linear program.
	ModeLP Mode = "lp"
)

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeProportional:
		return ModeProportional, nil
	case ModePrice, ModeLP:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown smart charging mode %q", s)
	}
}

// ErrNegativeRequest is returned for a demand with negative power.
var ErrNegativeRequest = errors.New("negative power request")

// Demand is one charging vehicle's power request.
type Demand struct {
	VehicleID string
	StationID string
	// Requested is the power the battery accepts now, in kW.
	Requested float64
	// Required is the lowest constant power that still meets the deadline.
	Required float64
	MinPower float64
	// Deadline is the next departure. sim.Never when none is known.
	Deadline sim.Time
	// Energy is the grid-side energy still needed, in kWh.
	Energy float64
}

// Request is the allocator input at one instant.
type Request struct {
	Now     sim.Time
	Demands []Demand
	// StationCaps holds finite station caps in kW. Missing stations are
	// uncapped.
	StationCaps map[string]float64
	// GridLimit is the depot-wide cap. +Inf means unlimited.
	GridLimit float64
	// Prices is the optional price schedule.
	Prices sim.StepFunction
}

// Allocation is the allocator result.
type Allocation struct {
	Grants map[string]float64
	// Deferred lists vehicles held back for a cheaper interval.
	Deferred []string
	// Review is the next time the result should be recomputed, e.g. a
	// price change. sim.Never when nothing is pending.
	Review sim.Time
}

// Total returns the summed grants.
func (a Allocation) Total() float64 {
	vals := make([]float64, 0, len(a.Grants))
	for _, id := range sortedKeys(a.Grants) {
		vals = append(vals, a.Grants[id])
	}
	return floats.Sum(vals)
}

// Allocator distributes grid power across charging vehicles.
type Allocator interface {
	Allocate(req Request) (Allocation, error)
}

// GreedyAllocator serves deadline-critical power in deadline order and then
// shares what is left.
type GreedyAllocator struct {
	Mode      Mode
	MaxRounds int
}

// NewGreedyAllocator returns an allocator with default rounds.
func NewGreedyAllocator(mode Mode) *GreedyAllocator {
	return &GreedyAllocator{Mode: mode, MaxRounds: 10}
}

type headroom struct {
	grid     float64
	stations map[string]float64
}

func newHeadroom(req Request) *headroom {
	h := &headroom{grid: req.GridLimit, stations: make(map[string]float64, len(req.StationCaps))}
	if req.GridLimit <= 0 && !math.IsInf(req.GridLimit, 1) {
		h.grid = 0
	}
	for id, c := range req.StationCaps {
		h.stations[id] = c
	}
	return h
}

func (h *headroom) room(station string) float64 {
	r := h.grid
	if c, ok := h.stations[station]; ok && c < r {
		r = c
	}
	return math.Max(0, r)
}

func (h *headroom) take(station string, kw float64) {
	h.grid -= kw
	if _, ok := h.stations[station]; ok {
		h.stations[station] -= kw
	}
}

// Allocate implements Allocator.
func (a *GreedyAllocator) Allocate(req Request) (Allocation, error) {
	for _, d := range req.Demands {
		if d.Requested < 0 || d.Required < 0 || math.IsNaN(d.Requested) {
			return Allocation{}, fmt.Errorf("%w: %s", ErrNegativeRequest, d.VehicleID)
		}
	}
	demands := sortByDeadline(req.Demands)
	excluded := map[string]bool{}
	var deferred []string
	review := sim.Never
	if a.Mode == ModePrice {
		deferred, review = deferrable(req, demands)
		for _, id := range deferred {
			excluded[id] = true
		}
	}
	for iter := 0; iter <= len(demands); iter++ {
		grants := a.pass(req, demands, excluded)
		dropped := false
		for _, d := range demands {
			g := grants[d.VehicleID]
			if g > 0 && g < d.MinPower && !excluded[d.VehicleID] {
				excluded[d.VehicleID] = true
				dropped = true
			}
		}
		if !dropped {
			return Allocation{Grants: grants, Deferred: deferred, Review: review}, nil
		}
	}
	return Allocation{}, fmt.Errorf("allocation did not settle for %d demands", len(demands))
}

// pass runs the deadline pass and the sharing pass once. Excluded vehicles
// get zero.
func (a *GreedyAllocator) pass(req Request, demands []Demand, excluded map[string]bool) map[string]float64 {
	h := newHeadroom(req)
	grants := make(map[string]float64, len(demands))
	for _, d := range demands {
		grants[d.VehicleID] = 0
	}
	for _, d := range demands {
		if excluded[d.VehicleID] {
			continue
		}
		need := math.Min(d.Requested, d.Required)
		if d.Deadline <= req.Now {
			need = d.Requested
		}
		g := math.Min(need, h.room(d.StationID))
		if g <= 0 {
			continue
		}
		grants[d.VehicleID] = g
		h.take(d.StationID, g)
	}
	list := make([]candidate, 0, len(demands))
	for _, d := range demands {
		if excluded[d.VehicleID] {
			continue
		}
		if rest := d.Requested - grants[d.VehicleID]; rest > 0 {
			list = append(list, candidate{id: d.VehicleID, station: d.StationID, weight: rest, capacity: rest})
		}
	}
	a.share(list, h, grants)
	return grants
}

type candidate struct {
	id       string
	station  string
	weight   float64
	capacity float64
}

// share hands out grid headroom in proportional rounds. Each round caps a
// candidate at its outstanding request and its station's room.
func (a *GreedyAllocator) share(list []candidate, h *headroom, grants map[string]float64) {
	rounds := 0
	for len(list) > 0 && h.grid > 1e-9 && (a.MaxRounds == 0 || rounds < a.MaxRounds) {
		weightSum := 0.0
		for _, c := range list {
			weightSum += c.weight
		}
		if weightSum <= 0 {
			return
		}
		pool := h.grid
		if math.IsInf(pool, 1) {
			pool = weightSum
		}
		consumed := 0.0
		next := list[:0]
		for _, c := range list {
			share := pool * c.weight / weightSum
			limit := math.Min(c.capacity, h.room(c.station))
			g := math.Min(share, limit)
			if g > 0 {
				grants[c.id] += g
				h.take(c.station, g)
				c.capacity -= g
				consumed += g
			}
			if c.capacity > 1e-9 && h.room(c.station) > 1e-9 {
				next = append(next, c)
			}
		}
		list = next
		if consumed <= 1e-12 {
			return
		}
		rounds++
	}
}

// deferrable returns vehicles whose deadline leaves room to wait for a
// cheaper price, and the next price change.
func deferrable(req Request, demands []Demand) ([]string, sim.Time) {
	if req.Prices.Empty() {
		return nil, sim.Never
	}
	review, _ := req.Prices.Next(req.Now)
	current, ok := req.Prices.At(req.Now)
	if !ok {
		return nil, review
	}
	var out []string
	for _, d := range demands {
		if d.Deadline == sim.Never || d.Requested <= 0 || d.Energy <= 0 {
			continue
		}
		need := sim.Time(d.Energy / d.Requested * 3600)
		latest := d.Deadline - need
		if latest <= req.Now {
			continue
		}
		if cheapest, ok := req.Prices.MinBetween(req.Now, latest); ok && cheapest < current {
			out = append(out, d.VehicleID)
		}
	}
	return out, review
}

func sortByDeadline(in []Demand) []Demand {
	out := make([]Demand, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Deadline != out[j].Deadline {
			return out[i].Deadline < out[j].Deadline
		}
		return out[i].VehicleID < out[j].VehicleID
	})
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Settle keeps the previous grants when they still fit the request and no
// grant moved by more than accuracy relative to the larger value.
func Settle(prev map[string]float64, next Allocation, req Request, accuracy float64) (map[string]float64, bool) {
	if accuracy <= 0 || prev == nil || len(prev) != len(next.Grants) {
		return next.Grants, false
	}
	for id, g := range next.Grants {
		p, ok := prev[id]
		if !ok {
			return next.Grants, false
		}
		if math.Abs(g-p) > accuracy*math.Max(g, p) {
			return next.Grants, false
		}
	}
	if !Feasible(prev, req) {
		return next.Grants, false
	}
	return prev, true
}

// Feasible reports whether grants respect every cap and request in req.
func Feasible(grants map[string]float64, req Request) bool {
	station := make(map[string]float64)
	total := 0.0
	for _, d := range req.Demands {
		g := grants[d.VehicleID]
		if g < 0 || g > d.Requested+1e-9 {
			return false
		}
		station[d.StationID] += g
		total += g
	}
	for id, c := range req.StationCaps {
		if station[id] > c+1e-6 {
			return false
		}
	}
	return total <= req.GridLimit+1e-6
}
