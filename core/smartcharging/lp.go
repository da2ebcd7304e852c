package smartcharging

import (
	"errors"
	"math"
	"sort"

	"github.com/kilianp07/ebusdepot/core/sim"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// ErrInfeasible indicates the LP had no usable solution.
var ErrInfeasible = errors.New("lp infeasible")

// LPAllocator maximises deadline-weighted power with a linear program.
// Earlier deadlines carry larger weights. It falls back to the greedy
// allocator when the solver fails.
type LPAllocator struct {
	Fallback *GreedyAllocator
}

// NewLPAllocator returns an LP allocator with a proportional fallback.
func NewLPAllocator() *LPAllocator {
	return &LPAllocator{Fallback: NewGreedyAllocator(ModeProportional)}
}

type lpProblem struct {
	weights  []float64
	caps     []float64
	stations [][]int
	limits   []float64
	grid     float64
}

// solveLP maximises weights·x subject to 0 <= x <= caps, per-station sums
// and the grid limit, using a slack variable for the grid row.
func solveLP(p lpProblem) ([]float64, error) {
	n := len(p.weights)
	nVar := n + 1
	c := make([]float64, nVar)
	for i, w := range p.weights {
		c[i] = -w
	}
	rows := 2*n + 1 + len(p.stations)
	g := mat.NewDense(rows, nVar, nil)
	h := make([]float64, rows)
	r := 0
	for i := 0; i < n; i++ {
		g.Set(r, i, 1)
		h[r] = p.caps[i]
		r++
		g.Set(r, i, -1)
		r++
	}
	g.Set(r, n, -1)
	r++
	for s, members := range p.stations {
		for _, i := range members {
			g.Set(r, i, 1)
		}
		h[r] = p.limits[s]
		r++
	}
	a := mat.NewDense(1, nVar, nil)
	for i := 0; i < nVar; i++ {
		a.Set(0, i, 1)
	}
	b := []float64{p.grid}

	cStd, aStd, bStd := lp.Convert(c, g, h, a, b)
	_, sol, err := lp.Simplex(cStd, aStd, bStd, 1e-7, nil)
	if err != nil {
		return nil, err
	}
	x := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = sol[i] - sol[nVar+i]
	}
	return x, nil
}

// lpSolve can be replaced in tests to simulate solver failures.
var lpSolve = solveLP

// Allocate implements Allocator.
func (a *LPAllocator) Allocate(req Request) (Allocation, error) {
	alloc, err := a.AllocateStrict(req)
	if err != nil {
		return a.Fallback.Allocate(req)
	}
	return alloc, nil
}

// AllocateStrict solves the LP without falling back.
func (a *LPAllocator) AllocateStrict(req Request) (Allocation, error) {
	for _, d := range req.Demands {
		if d.Requested < 0 || math.IsNaN(d.Requested) {
			return Allocation{}, ErrNegativeRequest
		}
	}
	demands := sortByDeadline(req.Demands)
	grants := make(map[string]float64, len(demands))
	if len(demands) == 0 {
		return Allocation{Grants: grants, Review: sim.Never}, nil
	}
	p := lpProblem{weights: make([]float64, len(demands)), caps: make([]float64, len(demands))}
	sum := 0.0
	byStation := map[string][]int{}
	for i, d := range demands {
		p.weights[i] = float64(len(demands) - i)
		p.caps[i] = d.Requested
		sum += d.Requested
		if _, ok := req.StationCaps[d.StationID]; ok {
			byStation[d.StationID] = append(byStation[d.StationID], i)
		}
	}
	ids := make([]string, 0, len(byStation))
	for id := range byStation {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p.stations = append(p.stations, byStation[id])
		p.limits = append(p.limits, req.StationCaps[id])
	}
	p.grid = req.GridLimit
	if math.IsInf(p.grid, 1) || p.grid > sum {
		p.grid = sum
	}
	x, err := lpSolve(p)
	if err != nil {
		return Allocation{}, err
	}
	for i, d := range demands {
		v := math.Max(0, math.Min(x[i], d.Requested))
		if v < d.MinPower {
			v = 0
		}
		grants[d.VehicleID] = v
	}
	if !Feasible(grants, req) {
		return Allocation{}, ErrInfeasible
	}
	return Allocation{Grants: grants, Review: sim.Never}, nil
}
