// Package trace records the simulation's time-ordered history and persists
// it through pluggable stores.
package trace

import (
	"context"

	"github.com/kilianp07/ebusdepot/core/sim"
)

// Kind classifies a trace record.
type Kind string

const (
	KindState     Kind = "state"
	KindOccupancy Kind = "occupancy"
	KindPower     Kind = "power"
	KindGrid      Kind = "grid"
	KindDispatch  Kind = "dispatch"
	KindIssue     Kind = "issue"
)

// Record is one entry of the simulation trace.
type Record struct {
	Time sim.Time `json:"time"`
	// Seq orders records written at the same time.
	Seq     uint64 `json:"seq"`
	Kind    Kind   `json:"kind"`
	Vehicle string `json:"vehicle,omitempty"`
	// Resource is an area, station or trip id depending on Kind.
	Resource string `json:"resource,omitempty"`
	State    string `json:"state,omitempty"`
	// Value holds occupancy, kW or the limit depending on Kind.
	Value  float64 `json:"value"`
	SoC    float64 `json:"soc,omitempty"`
	Detail string  `json:"detail,omitempty"`
}

// Query defines filters for retrieving records. Zero fields match all.
type Query struct {
	Start   sim.Time
	End     sim.Time
	Vehicle string
	Kind    Kind
}

// Match reports whether r passes the filters.
func (q Query) Match(r Record) bool {
	if q.Start != 0 && r.Time < q.Start {
		return false
	}
	if q.End != 0 && r.Time > q.End {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.Vehicle != "" && r.Vehicle != q.Vehicle {
		return false
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
