package metrics

// Package metrics defines the sinks that observe a simulation run. Sinks
// like PromSink and InfluxSink record power, occupancy, vehicle states and
// the run summary and can be combined with a MultiSink. The factory helpers
// return a MultiSink automatically when multiple sinks are configured.
