package trace

import (
	"context"
	"sync"
)

// Recorder receives trace records as the simulation produces them.
type Recorder interface {
	Record(rec Record)
}

// NopRecorder drops every record.
type NopRecorder struct{}

func (NopRecorder) Record(Record) {}

// MemoryRecorder keeps records in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryRecorder returns an empty recorder.
func NewMemoryRecorder() *MemoryRecorder { return &MemoryRecorder{} }

func (m *MemoryRecorder) Record(rec Record) {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
}

// Records returns a copy of the recorded trace.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Query filters the recorded trace.
func (m *MemoryRecorder) Query(q Query) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if q.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// StoreRecorder writes records to a Store. The first append error is kept
// and later records are dropped.
type StoreRecorder struct {
	ctx   context.Context
	store Store
	mu    sync.Mutex
	err   error
}

// NewStoreRecorder wraps store.
func NewStoreRecorder(ctx context.Context, store Store) *StoreRecorder {
	return &StoreRecorder{ctx: ctx, store: store}
}

func (s *StoreRecorder) Record(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = s.store.Append(s.ctx, rec)
}

// Err returns the first append error.
func (s *StoreRecorder) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// MultiRecorder fans records out to several recorders in order.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(rec Record) {
	for _, r := range m {
		if r != nil {
			r.Record(rec)
		}
	}
}
