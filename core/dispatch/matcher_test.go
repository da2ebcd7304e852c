package dispatch

import (
	"testing"

	"github.com/kilianp07/ebusdepot/core/model"
	"github.com/kilianp07/ebusdepot/core/sim"
	"github.com/kilianp07/ebusdepot/infra/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticProjector returns fixed projections per vehicle.
type staticProjector map[string]Projection

func (s staticProjector) Project(id string, _ model.Trip, _ float64) Projection {
	return s[id]
}

func trip(id string, dep sim.Time, types ...string) model.Trip {
	return model.Trip{ID: id, Departure: dep, VehicleTypes: types, MinSoC: 0.5}
}

func TestTypeFilter(t *testing.T) {
	f := TypeFilter{Groups: model.SubstitutionGroups{"EB": {"EBL"}}}
	cands := []Candidate{
		{VehicleID: "a", Type: "EB"},
		{VehicleID: "b", Type: "EBL"},
		{VehicleID: "c", Type: "DD"},
		{VehicleID: "d", Type: "EB", Blocked: true},
	}
	res := f.Filter(cands, trip("t", 100, "EB"))
	if len(res) != 2 || res[0].VehicleID != "a" || res[1].VehicleID != "b" {
		t.Fatalf("unexpected filter result: %+v", res)
	}
}

func TestMatchPrefersEarliestReady(t *testing.T) {
	m := NewMatcher(Config{EnergyReserve: 0.1}, nil, logger.NopLogger{})
	proj := staticProjector{
		"a": {SoC: 0.9, ReadyAt: 500},
		"b": {SoC: 0.9, ReadyAt: 200},
		"c": {SoC: 0.55, ReadyAt: sim.Never},
	}
	cands := []Candidate{{VehicleID: "a", Type: "EB"}, {VehicleID: "b", Type: "EB"}, {VehicleID: "c", Type: "EB"}}
	out := m.Match(Round{Now: 0, Trips: []model.Trip{trip("t1", 1000, "EB")}, Candidates: cands}, proj)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].VehicleID)
	assert.Equal(t, "t1", out[0].TripID)
}

func TestMatchTieBreaksOnArrivalThenID(t *testing.T) {
	m := NewMatcher(Config{}, nil, logger.NopLogger{})
	proj := staticProjector{"a": {SoC: 1}, "b": {SoC: 1}, "c": {SoC: 1}}
	cands := []Candidate{
		{VehicleID: "c", Type: "EB", ArrivedAt: 10},
		{VehicleID: "b", Type: "EB", ArrivedAt: 5},
		{VehicleID: "a", Type: "EB", ArrivedAt: 5},
	}
	trips := []model.Trip{trip("t2", 200, "EB"), trip("t1", 100, "EB")}
	out := m.Match(Round{Trips: trips, Candidates: cands}, proj)
	require.Len(t, out, 2)
	assert.Equal(t, model.DispatchDecision{TripID: "t1", VehicleID: "a"}, out[0])
	assert.Equal(t, model.DispatchDecision{TripID: "t2", VehicleID: "b"}, out[1])
}

func TestMatchRespectsLeadTime(t *testing.T) {
	m := NewMatcher(Config{LeadTime: 3600}, nil, logger.NopLogger{})
	proj := staticProjector{"a": {SoC: 1}, "b": {SoC: 1}}
	cands := []Candidate{{VehicleID: "a", Type: "EB"}, {VehicleID: "b", Type: "EB"}}
	out := m.Match(Round{Now: 1000, Trips: []model.Trip{trip("near", 4000, "EB"), trip("far", 5000, "EB")}, Candidates: cands}, proj)
	require.Len(t, out, 1)
	assert.Equal(t, "near", out[0].TripID)
}

func TestMatchWithoutEligibleTypeLeavesTripOpen(t *testing.T) {
	m := NewMatcher(Config{}, TypeFilter{}, logger.NopLogger{})
	proj := staticProjector{"a": {SoC: 1}}
	out := m.Match(Round{Trips: []model.Trip{trip("t", 10, "DD")}, Candidates: []Candidate{{VehicleID: "a", Type: "EB"}}}, proj)
	assert.Empty(t, out)
}

func TestMatchPartialOnlyWhenAllowed(t *testing.T) {
	proj := staticProjector{"a": {SoC: 0.4, ReadyAt: sim.Never}, "b": {SoC: 0.3, ReadyAt: sim.Never}}
	cands := []Candidate{{VehicleID: "a", Type: "EB"}, {VehicleID: "b", Type: "EB"}}
	r := Round{Trips: []model.Trip{trip("t", 100, "EB")}, Candidates: cands}

	strict := NewMatcher(Config{}, nil, logger.NopLogger{})
	assert.Empty(t, strict.Match(r, proj))

	partial := NewMatcher(Config{AllowPartial: true}, nil, logger.NopLogger{})
	out := partial.Match(r, proj)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].VehicleID, "highest projected soc wins among partial candidates")
}

func TestMatchReassignsFromLaterTrip(t *testing.T) {
	m := NewMatcher(Config{ReassignLock: 600}, nil, logger.NopLogger{})
	proj := staticProjector{"a": {SoC: 1}, "b": {SoC: 0.6, ReadyAt: 3000}}
	cands := []Candidate{
		{VehicleID: "a", Type: "EB", Trip: "late"},
		{VehicleID: "b", Type: "EB"},
	}
	trips := []model.Trip{trip("early", 1000, "EB"), trip("late", 5000, "EB")}
	out := m.Match(Round{Now: 0, Trips: trips, Candidates: cands}, proj)
	require.Len(t, out, 2)
	assert.Equal(t, model.DispatchDecision{TripID: "early", VehicleID: "a", Previous: "late"}, out[0])
	assert.Equal(t, model.DispatchDecision{TripID: "late", VehicleID: "b"}, out[1])
}

func TestMatchPrefersFreeVehicleOverReassignment(t *testing.T) {
	m := NewMatcher(Config{}, nil, logger.NopLogger{})
	proj := staticProjector{"a": {SoC: 1}, "b": {SoC: 1, ReadyAt: 50}}
	cands := []Candidate{{VehicleID: "a", Type: "EB", Trip: "late"}, {VehicleID: "b", Type: "EB"}}
	trips := []model.Trip{trip("early", 100, "EB"), trip("late", 500, "EB")}
	out := m.Match(Round{Trips: trips, Candidates: cands}, proj)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].VehicleID)
	assert.Empty(t, out[0].Previous)
}

func TestMatchReassignLock(t *testing.T) {
	m := NewMatcher(Config{ReassignLock: 600}, nil, logger.NopLogger{})
	proj := staticProjector{"a": {SoC: 1}}
	cands := []Candidate{{VehicleID: "a", Type: "EB", Trip: "late"}}
	trips := []model.Trip{trip("early", 700, "EB"), trip("late", 900, "EB")}
	out := m.Match(Round{Now: 400, Trips: trips, Candidates: cands}, proj)
	assert.Empty(t, out, "late departs within the lock window")
}

func TestMatchAtMostOneReassignmentPerCycle(t *testing.T) {
	m := NewMatcher(Config{}, nil, logger.NopLogger{})
	proj := staticProjector{"a": {SoC: 1}}
	cands := []Candidate{{VehicleID: "a", Type: "EB", Trip: "t3"}}
	trips := []model.Trip{trip("t1", 100, "EB"), trip("t2", 200, "EB"), trip("t3", 300, "EB")}
	out := m.Match(Round{Trips: trips, Candidates: cands}, proj)
	require.Len(t, out, 1)
	assert.Equal(t, "t1", out[0].TripID)
	assert.Equal(t, "t3", out[0].Previous)
}

func TestProjectorFunc(t *testing.T) {
	var got float64
	p := ProjectorFunc(func(_ string, _ model.Trip, need float64) Projection {
		got = need
		return Projection{SoC: need}
	})
	m := NewMatcher(Config{EnergyReserve: 0.2}, nil, logger.NopLogger{})
	out := m.Match(Round{Trips: []model.Trip{trip("t", 10, "EB")}, Candidates: []Candidate{{VehicleID: "a", Type: "EB"}}}, p)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.7, got, 1e-12)
	assert.InDelta(t, 0.7, m.Need(trip("t", 10, "EB")), 1e-12)
}

func TestMatchDelayedTripAcceptsVehiclesReadyNow(t *testing.T) {
	m := NewMatcher(Config{}, nil, logger.NopLogger{})
	proj := staticProjector{"a": {SoC: 0.9, ReadyAt: 700}, "b": {SoC: 0.9, ReadyAt: 900}}
	cands := []Candidate{{VehicleID: "a", Type: "EB"}, {VehicleID: "b", Type: "EB"}}
	out := m.Match(Round{Now: 800, Trips: []model.Trip{trip("late", 500, "EB")}, Candidates: cands}, proj)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].VehicleID)
}

func TestMatchFirstStrategyFollowsAreaOrder(t *testing.T) {
	proj := staticProjector{"a": {SoC: 0.9, ReadyAt: 600}, "b": {SoC: 0.9, ReadyAt: 100}, "c": {SoC: 0.9, ReadyAt: 50}}
	cands := []Candidate{
		{VehicleID: "a", Type: "EB", AreaRank: 0, ArrivedAt: 20},
		{VehicleID: "b", Type: "EB", AreaRank: 1, ArrivedAt: 10},
		{VehicleID: "c", Type: "EB", AreaRank: 0, ArrivedAt: 30},
	}
	r := Round{Now: 0, Trips: []model.Trip{trip("t1", 1000, "EB")}, Candidates: cands}

	first := NewMatcher(Config{Strategy: StrategyFirst}, nil, logger.NopLogger{})
	out := first.Match(r, proj)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].VehicleID)

	smart := NewMatcher(Config{Strategy: StrategySmart}, nil, logger.NopLogger{})
	out = smart.Match(r, proj)
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].VehicleID)
}
