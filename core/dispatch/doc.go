// Package dispatch matches depot vehicles to timetable trips.
//
// Key components:
//   - Filter: restricts candidates to the types a trip accepts.
//   - Projector: estimates a vehicle's SoC and ready time at a departure.
//   - Matcher: runs one match cycle and returns dispatch decisions.
//
// Match flow:
//  1. Collect trips departing within the lead time, earliest first
//  2. Filter candidates by substitution set
//  3. Keep vehicles whose projected SoC meets the trip minimum plus reserve
//  4. Prefer the earliest ready time, then the earliest arrival, then the ID
//  5. Take a vehicle from a later trip when no free vehicle qualifies
//
// The matcher holds no state between cycles. The caller applies the
// decisions in order.
package dispatch
