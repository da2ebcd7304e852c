// Package events defines the simulation events emitted on the event bus.
//
// Available event types:
//   - StateChanged: vehicle process transition
//   - PowerAllocated: new smart charging result
//   - OccupancyChanged: area occupancy update
//   - TripUnmet: trip left without a vehicle
//   - RunFinished: run summary at the horizon
package events
