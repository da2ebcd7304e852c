package dispatch

import (
	"sort"
	"time"

	"github.com/kilianp07/ebusdepot/core/logger"
	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/core/sim"
)

const socTolerance = 1e-9

// Matcher binds vehicles to trips.
type Matcher struct {
	cfg    Config
	filter Filter
	logger logger.Logger
}

// NewMatcher creates a matcher. A nil filter accepts every unblocked
// vehicle of a requested type without substitutes.
func NewMatcher(cfg Config, filter Filter, log logger.Logger) *Matcher {
	if filter == nil {
		filter = TypeFilter{}
	}
	return &Matcher{cfg: cfg, filter: filter, logger: log}
}

// Config returns the matcher settings.
func (m *Matcher) Config() Config { return m.cfg }

// Need returns the SoC a vehicle must hold to serve the trip in full.
func (m *Matcher) Need(trip model.Trip) float64 {
	return trip.MinSoC + m.cfg.EnergyReserve
}

type option struct {
	c       Candidate
	p       Projection
	partial bool
	steal   bool
}

// Match runs one cycle. Open trips are served in departure order. A vehicle
// changes trip at most once per cycle.
func (m *Matcher) Match(r Round, proj Projector) []model.DispatchDecision {
	start := time.Now()
	defer func() {
		matchCycles.Inc()
		matchLatency.Observe(time.Since(start).Seconds())
	}()
	trips := make([]model.Trip, len(r.Trips))
	copy(trips, r.Trips)
	sort.SliceStable(trips, func(i, j int) bool {
		if trips[i].Departure != trips[j].Departure {
			return trips[i].Departure < trips[j].Departure
		}
		return trips[i].ID < trips[j].ID
	})
	byID := make(map[string]model.Trip, len(trips))
	for _, t := range trips {
		byID[t.ID] = t
	}

	cands := make([]Candidate, len(r.Candidates))
	copy(cands, r.Candidates)
	sort.Slice(cands, func(i, j int) bool { return cands[i].VehicleID < cands[j].VehicleID })
	holder := make(map[string]string)
	for _, c := range cands {
		if c.Trip != "" {
			holder[c.Trip] = c.VehicleID
		}
	}

	touched := make(map[string]bool)
	var out []model.DispatchDecision
	for _, t := range trips {
		if m.cfg.LeadTime > 0 && t.Departure-r.Now > sim.Time(m.cfg.LeadTime) {
			break
		}
		if holder[t.ID] != "" {
			continue
		}
		best, ok := m.pick(r.Now, t, cands, proj, byID, touched)
		if !ok {
			m.logger.Debugf("trip %s: no candidate", t.ID)
			unmatchedChecks.Inc()
			continue
		}
		d := model.DispatchDecision{TripID: t.ID, VehicleID: best.c.VehicleID, DecidedAt: r.Now}
		if best.steal {
			d.Previous = best.c.Trip
			delete(holder, best.c.Trip)
			m.logger.Infof("vehicle %s reassigned from trip %s to %s", best.c.VehicleID, best.c.Trip, t.ID)
		}
		for i := range cands {
			if cands[i].VehicleID == best.c.VehicleID {
				cands[i].Trip = t.ID
			}
		}
		holder[t.ID] = best.c.VehicleID
		touched[best.c.VehicleID] = true
		m.logger.Debugw("trip matched", map[string]any{
			"trip":     t.ID,
			"vehicle":  d.VehicleID,
			"soc":      best.p.SoC,
			"ready_at": float64(best.p.ReadyAt),
			"partial":  best.partial,
		})
		decisionsTotal.WithLabelValues(decisionKind(best)).Inc()
		out = append(out, d)
	}
	return out
}

func (m *Matcher) pick(now sim.Time, t model.Trip, cands []Candidate, proj Projector, byID map[string]model.Trip, touched map[string]bool) (option, bool) {
	need := m.Need(t)
	// a delayed trip leaves as soon as a vehicle is ready
	deadline := t.Departure
	if deadline < now {
		deadline = now
	}
	var opts []option
	for _, c := range m.filter.Filter(cands, t) {
		if touched[c.VehicleID] {
			continue
		}
		steal := false
		if c.Trip != "" {
			old, ok := byID[c.Trip]
			if !ok || old.Departure <= t.Departure {
				continue
			}
			if old.Departure-now <= sim.Time(m.cfg.ReassignLock) {
				continue
			}
			steal = true
		}
		p := proj.Project(c.VehicleID, t, need)
		full := p.SoC >= need-socTolerance && p.ReadyAt <= deadline
		if !full && (!m.cfg.AllowPartial || steal) {
			continue
		}
		opts = append(opts, option{c: c, p: p, partial: !full, steal: steal})
	}
	if len(opts) == 0 {
		return option{}, false
	}
	first := m.cfg.Strategy == StrategyFirst
	sort.SliceStable(opts, func(i, j int) bool { return better(opts[i], opts[j], first) })
	return opts[0], true
}

// better orders full candidates before partial ones and free vehicles before
// vehicles held by a later trip. With first, full candidates are taken in
// area order instead of by readiness.
func better(a, b option, first bool) bool {
	if a.partial != b.partial {
		return !a.partial
	}
	if a.steal != b.steal {
		return !a.steal
	}
	switch {
	case a.partial:
		if a.p.SoC != b.p.SoC {
			return a.p.SoC > b.p.SoC
		}
	case first:
		if a.c.AreaRank != b.c.AreaRank {
			return a.c.AreaRank < b.c.AreaRank
		}
	case a.p.ReadyAt != b.p.ReadyAt:
		return a.p.ReadyAt < b.p.ReadyAt
	}
	if a.c.ArrivedAt != b.c.ArrivedAt {
		return a.c.ArrivedAt < b.c.ArrivedAt
	}
	return a.c.VehicleID < b.c.VehicleID
}
