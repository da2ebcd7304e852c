package trace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kilianp07/ebusdepot/core/factory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() []Record {
	return []Record{
		{Time: 0, Seq: 1, Kind: KindState, Vehicle: "v1", State: "arriving"},
		{Time: 10, Seq: 2, Kind: KindOccupancy, Resource: "A", Value: 1},
		{Time: 10, Seq: 3, Kind: KindPower, Vehicle: "v1", Resource: "S1", Value: 150},
		{Time: 50, Seq: 4, Kind: KindState, Vehicle: "v2", State: "standby"},
	}
}

func exercise(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	for _, r := range sample() {
		require.NoError(t, store.Append(ctx, r))
	}
	all, err := store.Query(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, sample(), all)

	v1, err := store.Query(ctx, Query{Vehicle: "v1"})
	require.NoError(t, err)
	assert.Len(t, v1, 2)

	states, err := store.Query(ctx, Query{Kind: KindState, Start: 5})
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "v2", states[0].Vehicle)

	early, err := store.Query(ctx, Query{End: 10})
	require.NoError(t, err)
	assert.Len(t, early, 3)
}

func TestJSONLStore(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "trace.jsonl"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	exercise(t, store)
}

func TestRotatingJSONLStore(t *testing.T) {
	store, err := NewRotatingJSONLStore(filepath.Join(t.TempDir(), "sub", "trace.jsonl"), 1, 2, 1)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	exercise(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore("file:trace_test.db?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	exercise(t, store)
}

func TestMemoryRecorderQuery(t *testing.T) {
	m := NewMemoryRecorder()
	for _, r := range sample() {
		m.Record(r)
	}
	assert.Len(t, m.Records(), 4)
	assert.Len(t, m.Query(Query{Kind: KindPower}), 1)
}

type failingStore struct{ calls int }

func (f *failingStore) Append(context.Context, Record) error {
	f.calls++
	return assert.AnError
}
func (f *failingStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (f *failingStore) Close() error                                   { return nil }

func TestStoreRecorderKeepsFirstError(t *testing.T) {
	fs := &failingStore{}
	rec := NewStoreRecorder(context.Background(), fs)
	m := NewMemoryRecorder()
	multi := MultiRecorder{rec, m, nil}
	for _, r := range sample() {
		multi.Record(r)
	}
	assert.ErrorIs(t, rec.Err(), assert.AnError)
	assert.Equal(t, 1, fs.calls)
	assert.Len(t, m.Records(), 4)
}

func TestNewStoreFromConfig(t *testing.T) {
	s, err := NewStore(factory.ModuleConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewStore(factory.ModuleConfig{Type: "jsonl", Conf: map[string]any{"path": filepath.Join(t.TempDir(), "t.jsonl")}})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	_, ok := s.(*JSONLStore)
	assert.True(t, ok)

	_, err = NewStore(factory.ModuleConfig{Type: "nope"})
	assert.Error(t, err)
}
