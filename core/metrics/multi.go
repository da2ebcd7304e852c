package metrics

// MultiSink fans records out to multiple sinks. Optional recorders are only
// called on sinks that implement them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordRunSummary forwards the summary to all sinks, returning the first error encountered.
func (m *MultiSink) RecordRunSummary(s RunSummary) error {
	for _, sink := range m.Sinks {
		if err := sink.RecordRunSummary(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordPower forwards power samples.
func (m *MultiSink) RecordPower(s PowerSample) error {
	for _, sink := range m.Sinks {
		if rec, ok := sink.(PowerRecorder); ok {
			if err := rec.RecordPower(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordOccupancy forwards occupancy samples.
func (m *MultiSink) RecordOccupancy(s OccupancySample) error {
	for _, sink := range m.Sinks {
		if rec, ok := sink.(OccupancyRecorder); ok {
			if err := rec.RecordOccupancy(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordVehicleState forwards vehicle transitions.
func (m *MultiSink) RecordVehicleState(s VehicleStateSample) error {
	for _, sink := range m.Sinks {
		if rec, ok := sink.(VehicleStateRecorder); ok {
			if err := rec.RecordVehicleState(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordTripUnmet forwards unmet trips.
func (m *MultiSink) RecordTripUnmet(s TripUnmetSample) error {
	for _, sink := range m.Sinks {
		if rec, ok := sink.(TripRecorder); ok {
			if err := rec.RecordTripUnmet(s); err != nil {
				return err
			}
		}
	}
	return nil
}
