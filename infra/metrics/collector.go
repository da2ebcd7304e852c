package metrics

import (
	"context"
	"sync"

	"github.com/kilianp07/ebusdepot/core/events"
	coremetrics "github.com/kilianp07/ebusdepot/core/metrics"
	"github.com/kilianp07/ebusdepot/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and forwards simulation
// events to the sink recorders it implements. It stops when the context is
// canceled or the bus is closed. The returned WaitGroup is done once the
// subscriber has drained.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.Event], sink coremetrics.MetricsSink) *sync.WaitGroup {
	var wg sync.WaitGroup
	if bus == nil || sink == nil {
		return &wg
	}
	sub := bus.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				// A blocking publisher may be waiting on sub; drain until
				// the unsubscribe closes it.
				go bus.Unsubscribe(sub)
				for range sub {
				}
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				_ = forward(ev, sink)
			}
		}
	}()
	return &wg
}

func forward(ev events.Event, sink coremetrics.MetricsSink) error {
	switch e := ev.(type) {
	case events.PowerAllocated:
		if r, ok := sink.(coremetrics.PowerRecorder); ok {
			return r.RecordPower(coremetrics.PowerSample{Time: e.Time, GridKW: e.Total, LimitKW: e.GridLimit, Vehicles: e.Grants})
		}
	case events.OccupancyChanged:
		if r, ok := sink.(coremetrics.OccupancyRecorder); ok {
			return r.RecordOccupancy(coremetrics.OccupancySample{Time: e.Time, Area: e.Area, Occupancy: e.Occupancy, Capacity: e.Capacity})
		}
	case events.StateChanged:
		if r, ok := sink.(coremetrics.VehicleStateRecorder); ok {
			return r.RecordVehicleState(coremetrics.VehicleStateSample{Time: e.Time, Vehicle: e.Vehicle, State: e.To, SoC: e.SoC})
		}
	case events.TripUnmet:
		if r, ok := sink.(coremetrics.TripRecorder); ok {
			return r.RecordTripUnmet(coremetrics.TripUnmetSample{Time: e.Time, Trip: e.Trip, Reason: e.Reason})
		}
	case events.RunFinished:
		return sink.RecordRunSummary(coremetrics.RunSummary{
			RunID:      e.RunID,
			Served:     e.Served,
			Unmet:      e.Unmet,
			Unresolved: e.Unresolved,
			Idle:       e.Idle,
			EnergyKWh:  e.EnergyKWh,
			PeakKW:     e.PeakKW,
			Cost:       e.Cost,
			End:        e.Time,
		})
	}
	return nil
}
