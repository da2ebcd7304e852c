package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineOrdersByTimeThenSequence(t *testing.T) {
	e := NewEngine(0)
	var got []string
	h := HandlerFunc(func(ev *Event) error {
		got = append(got, ev.Payload.(string))
		return nil
	})
	for _, tc := range []struct {
		at Time
		id string
	}{{5, "c"}, {1, "a"}, {5, "d"}, {1, "b"}, {3, "x"}} {
		_, err := e.Schedule(tc.at, h, tc.id)
		require.NoError(t, err)
	}
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, []string{"a", "b", "x", "c", "d"}, got)
	assert.Equal(t, Time(5), e.Now())
	assert.Equal(t, uint64(5), e.Processed())
}

func TestEngineRejectsPastEvents(t *testing.T) {
	e := NewEngine(0)
	h := HandlerFunc(func(ev *Event) error { return nil })
	_, err := e.Schedule(10, h, nil)
	require.NoError(t, err)
	_, err = e.Advance()
	require.NoError(t, err)
	if _, err := e.Schedule(9, h, nil); !errors.Is(err, ErrPastEvent) {
		t.Fatalf("expected ErrPastEvent, got %v", err)
	}
	if _, err := e.Schedule(11, nil, nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected ErrNilHandler, got %v", err)
	}
}

func TestEngineStopsAtHorizon(t *testing.T) {
	e := NewEngine(100)
	count := 0
	h := HandlerFunc(func(ev *Event) error {
		count++
		if ev.At < 200 {
			_, err := e.After(60, ev.Target, nil)
			return err
		}
		return nil
	})
	_, _ = e.Schedule(0, h, nil)
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 2, count) // t=0 and t=60; t=120 is past the horizon
	assert.Equal(t, Time(100), e.Now())
	assert.Equal(t, 1, e.Pending())
}

func TestEngineCancel(t *testing.T) {
	e := NewEngine(0)
	fired := map[string]bool{}
	h := HandlerFunc(func(ev *Event) error {
		fired[ev.Payload.(string)] = true
		return nil
	})
	a, _ := e.Schedule(1, h, "a")
	b, _ := e.Schedule(2, h, "b")
	e.Cancel(a)
	e.Cancel(a)
	assert.False(t, a.Pending())
	assert.True(t, b.Pending())
	require.NoError(t, e.Run(context.Background()))
	assert.False(t, fired["a"])
	assert.True(t, fired["b"])
	e.Cancel(b)
}

func TestEngineHandlerErrorStopsRun(t *testing.T) {
	e := NewEngine(0)
	boom := errors.New("boom")
	_, _ = e.Schedule(1, HandlerFunc(func(*Event) error { return boom }), nil)
	_, _ = e.Schedule(2, HandlerFunc(func(*Event) error { t.Fatal("should not run"); return nil }), nil)
	if err := e.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestEngineContextCancel(t *testing.T) {
	e := NewEngine(0)
	ctx, cancel := context.WithCancel(context.Background())
	_, _ = e.Schedule(1, HandlerFunc(func(*Event) error { cancel(); return nil }), nil)
	_, _ = e.Schedule(2, HandlerFunc(func(*Event) error { return nil }), nil)
	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, e.Pending())
}

func TestEngineDeterministicTrace(t *testing.T) {
	run := func() []uint64 {
		e := NewEngine(50)
		var trace []uint64
		e.Observe(func(ev *Event) { trace = append(trace, ev.Seq) })
		var h HandlerFunc
		h = func(ev *Event) error {
			n := ev.Payload.(int)
			if n > 0 {
				_, _ = e.After(Time(n%3), h, n-1)
				_, _ = e.After(Time(n%2), h, n-2)
			}
			return nil
		}
		_, _ = e.Schedule(0, h, 8)
		_ = e.Run(context.Background())
		return trace
	}
	assert.Equal(t, run(), run())
}
