package sim

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
)

// Time is simulated time in seconds since the start of the run.
type Time float64

// Never is a timestamp that is never reached.
const Never = Time(math.MaxFloat64)

var (
	// ErrPastEvent is returned when an event is scheduled before the current clock.
	ErrPastEvent = errors.New("event scheduled in the past")
	// ErrNilHandler is returned when an event has no target.
	ErrNilHandler = errors.New("event has no handler")
)

// Handler receives dispatched events.
type Handler interface {
	Handle(ev *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ev *Event) error

// Handle calls f(ev).
func (f HandlerFunc) Handle(ev *Event) error { return f(ev) }

// Event is a scheduled callback. Events with equal timestamps are dispatched
// in the order they were scheduled.
type Event struct {
	At      Time
	Seq     uint64
	Target  Handler
	Payload any

	index int
}

// Pending reports whether the event is still queued.
func (e *Event) Pending() bool { return e != nil && e.index >= 0 }

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].At != h[j].At {
		return h[i].At < h[j].At
	}
	return h[i].Seq < h[j].Seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*Event)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}

// Engine is a single-threaded discrete event scheduler. It owns the clock.
type Engine struct {
	now       Time
	horizon   Time
	seq       uint64
	queue     eventHeap
	processed uint64
	observer  func(*Event)
}

// NewEngine returns an engine that stops dispatching after horizon. A
// non-positive horizon means the engine runs until the queue is empty.
func NewEngine(horizon Time) *Engine {
	if horizon <= 0 {
		horizon = Never
	}
	return &Engine{horizon: horizon}
}

// Now returns the current simulated time.
func (e *Engine) Now() Time { return e.now }

// Horizon returns the configured end of the run.
func (e *Engine) Horizon() Time { return e.horizon }

// Pending returns the number of queued events.
func (e *Engine) Pending() int { return len(e.queue) }

// Processed returns the number of dispatched events.
func (e *Engine) Processed() uint64 { return e.processed }

// Observe installs a hook called before every dispatch. It is used to build
// event traces in tests.
func (e *Engine) Observe(fn func(*Event)) { e.observer = fn }

// Schedule queues payload for target at the given time.
func (e *Engine) Schedule(at Time, target Handler, payload any) (*Event, error) {
	if target == nil {
		return nil, ErrNilHandler
	}
	if at < e.now || math.IsNaN(float64(at)) {
		return nil, fmt.Errorf("%w: at=%.3f now=%.3f", ErrPastEvent, at, e.now)
	}
	e.seq++
	ev := &Event{At: at, Seq: e.seq, Target: target, Payload: payload}
	heap.Push(&e.queue, ev)
	return ev, nil
}

// After schedules an event delay seconds from now.
func (e *Engine) After(delay Time, target Handler, payload any) (*Event, error) {
	if delay < 0 {
		delay = 0
	}
	return e.Schedule(e.now+delay, target, payload)
}

// Cancel removes a pending event. Cancelling a dispatched or already
// cancelled event is a no-op.
func (e *Engine) Cancel(ev *Event) {
	if !ev.Pending() {
		return
	}
	heap.Remove(&e.queue, ev.index)
}

// Advance dispatches the earliest event. It returns false when the queue is
// empty or the next event lies beyond the horizon.
func (e *Engine) Advance() (bool, error) {
	if len(e.queue) == 0 {
		return false, nil
	}
	if e.queue[0].At > e.horizon {
		return false, nil
	}
	ev := heap.Pop(&e.queue).(*Event)
	e.now = ev.At
	e.processed++
	if e.observer != nil {
		e.observer(ev)
	}
	if err := ev.Target.Handle(ev); err != nil {
		return true, err
	}
	return true, nil
}

// Run advances until the queue is drained, the horizon is passed or ctx is
// cancelled. The clock is moved to the horizon when events remain beyond it.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := e.Advance()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	if len(e.queue) > 0 && e.horizon != Never {
		e.now = e.horizon
	}
	return nil
}
