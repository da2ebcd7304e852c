package depot

import (
	"fmt"
	"math"
	"sort"

	"github.com/kilianp07/ebusdepot/core/logger"
	"github.com/kilianp07/ebusdepot/core/sim"
)

const powerTolerance = 1e-6

// AcquireOptions qualifies a slot or charge point request.
type AcquireOptions struct {
	VehicleType    string
	RequireStation bool
	// NonBlocking makes the call fail with ErrCapacityExceeded instead of
	// queueing.
	NonBlocking bool
	// Priority orders waiters; higher values are served first. Waiters of
	// equal priority are served in arrival order.
	Priority int
	// Strategy picks the area when several have room.
	Strategy ParkingStrategy
}

// SlotWake is called when a queued slot request is granted.
type SlotWake func(area string, slot int)

// Observer is notified after every committed change. SlotChanged carries
// the vehicle that took or left the slot; a released slot is Free.
type Observer interface {
	SlotChanged(area *Area, slot Slot, vehicleID string)
	PowerChanged(station *Station, vehicleID string, kW float64)
}

type slotRef struct {
	area string
	slot int
}

type waiter struct {
	vehicle  string
	areas    []string
	station  string
	opts     AcquireOptions
	seq      uint64
	wakeSlot SlotWake
	wakeCP   func()
	// relocate marks a parked vehicle waiting to move to another area.
	relocate bool
}

// Depot owns the areas, stations and grid connection. All occupancy and
// power changes go through its methods.
type Depot struct {
	ID string

	areas        map[string]*Area
	areaOrder    []string
	stations     map[string]*Station
	stationOrder []string
	grid         *Grid
	plan         []Step

	parked    map[string]slotRef
	vtype     map[string]string
	chargeAt  map[string]string
	slotQueue []*waiter
	cpQueues  map[string][]*waiter
	seq       uint64

	clock    func() sim.Time
	observer Observer
	log      logger.Logger
}

// New builds a depot from its template.
func New(spec Spec, log logger.Logger) (*Depot, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	grid, err := newGrid(spec.Grid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDepot, err)
	}
	d := &Depot{
		ID:       spec.ID,
		areas:    make(map[string]*Area, len(spec.Areas)),
		stations: make(map[string]*Station, len(spec.Stations)),
		grid:     grid,
		plan:     buildPlan(spec),
		parked:   make(map[string]slotRef),
		vtype:    make(map[string]string),
		chargeAt: make(map[string]string),
		cpQueues: make(map[string][]*waiter),
		clock:    func() sim.Time { return 0 },
		log:      log,
	}
	for _, st := range spec.Stations {
		d.stations[st.ID] = newStation(st, log)
		d.stationOrder = append(d.stationOrder, st.ID)
	}
	for _, a := range spec.Areas {
		d.areas[a.ID] = newArea(a)
		d.areaOrder = append(d.areaOrder, a.ID)
	}
	return d, nil
}

// SetClock sets the time source used for the grid limit.
func (d *Depot) SetClock(fn func() sim.Time) { d.clock = fn }

// SetObserver installs the change observer.
func (d *Depot) SetObserver(o Observer) { d.observer = o }

// Plan returns the activity plan. The first step is where vehicles park on
// arrival.
func (d *Depot) Plan() []Step { return d.plan }

// Grid returns the grid connection.
func (d *Depot) Grid() *Grid { return d.grid }

// Area looks up an area.
func (d *Depot) Area(id string) (*Area, bool) {
	a, ok := d.areas[id]
	return a, ok
}

// Areas returns the areas in template order.
func (d *Depot) Areas() []*Area {
	out := make([]*Area, 0, len(d.areaOrder))
	for _, id := range d.areaOrder {
		out = append(out, d.areas[id])
	}
	return out
}

// Station looks up a station.
func (d *Depot) Station(id string) (*Station, bool) {
	s, ok := d.stations[id]
	return s, ok
}

// Stations returns the stations in template order.
func (d *Depot) Stations() []*Station {
	out := make([]*Station, 0, len(d.stationOrder))
	for _, id := range d.stationOrder {
		out = append(out, d.stations[id])
	}
	return out
}

// Location returns the area and slot held by a vehicle.
func (d *Depot) Location(vehicleID string) (string, int, bool) {
	ref, ok := d.parked[vehicleID]
	return ref.area, ref.slot, ok
}

// StationFor returns the station bound to the vehicle's slot.
func (d *Depot) StationFor(vehicleID string) (string, bool) {
	ref, ok := d.parked[vehicleID]
	if !ok {
		return "", false
	}
	s := d.areas[ref.area].slots[ref.slot]
	return s.Station, s.Station != ""
}

// ChargingAt returns the station where the vehicle holds a charge point.
func (d *Depot) ChargingAt(vehicleID string) (string, bool) {
	st, ok := d.chargeAt[vehicleID]
	return st, ok
}

// CanLeave reports whether the vehicle can leave its area now.
func (d *Depot) CanLeave(vehicleID string) bool {
	ref, ok := d.parked[vehicleID]
	if !ok {
		return false
	}
	return !d.areas[ref.area].blocked(ref.slot)
}

// Waiting reports whether the vehicle is queued for a slot or charge point.
func (d *Depot) Waiting(vehicleID string) bool {
	for _, w := range d.slotQueue {
		if w.vehicle == vehicleID {
			return true
		}
	}
	for _, q := range d.cpQueues {
		for _, w := range q {
			if w.vehicle == vehicleID {
				return true
			}
		}
	}
	return false
}

// AcquireSlot requests a slot in one area. It returns granted=false when
// the request was queued; wake is then called once a slot is assigned.
func (d *Depot) AcquireSlot(areaID, vehicleID string, opts AcquireOptions, wake SlotWake) (int, bool, error) {
	_, slot, granted, err := d.acquire([]string{areaID}, vehicleID, opts, wake)
	return slot, granted, err
}

// Park requests a slot in the group of the first plan step, placed by the
// group's parking strategy.
func (d *Depot) Park(vehicleID string, opts AcquireOptions, wake SlotWake) (string, int, bool, error) {
	g := d.plan[0].Group
	opts.Strategy = g.Strategy
	return d.acquire(g.Areas, vehicleID, opts, wake)
}

// Relocate requests a slot for a parked vehicle in another area. The old
// slot is released in the same step the new one is taken. A vehicle
// blocked in a line or holding a charge point waits until it is free to
// go. It returns granted=false when queued.
func (d *Depot) Relocate(vehicleID string, areaIDs []string, opts AcquireOptions, wake SlotWake) (string, int, bool, error) {
	ref, ok := d.parked[vehicleID]
	if !ok {
		return "", -1, false, invariant("relocate", "vehicle %s holds no slot", vehicleID)
	}
	var compatible []string
	for _, id := range areaIDs {
		a, ok := d.areas[id]
		if !ok {
			return "", -1, false, fmt.Errorf("%w: %s", ErrUnknownArea, id)
		}
		if id != ref.area && a.accepts(opts) {
			compatible = append(compatible, id)
		}
	}
	if len(compatible) == 0 {
		return "", -1, false, fmt.Errorf("%w: no compatible slot for %s", ErrCapacityExceeded, vehicleID)
	}
	if d.canMove(vehicleID) && !d.hasQueuedFor(compatible, opts) {
		if id, i := d.choose(compatible, opts); id != "" {
			if err := d.move(vehicleID, id, i); err != nil {
				return "", -1, false, err
			}
			return id, i, true, nil
		}
	}
	if opts.NonBlocking {
		return "", -1, false, fmt.Errorf("%w: %v full", ErrCapacityExceeded, compatible)
	}
	for _, w := range d.slotQueue {
		if w.vehicle == vehicleID {
			return "", -1, false, invariant("relocate", "vehicle %s already queued", vehicleID)
		}
	}
	d.seq++
	d.slotQueue = enqueue(d.slotQueue, &waiter{vehicle: vehicleID, areas: compatible, opts: opts, seq: d.seq, wakeSlot: wake, relocate: true})
	return "", -1, false, nil
}

func (d *Depot) canMove(vehicleID string) bool {
	ref := d.parked[vehicleID]
	if d.areas[ref.area].blocked(ref.slot) {
		return false
	}
	_, charging := d.chargeAt[vehicleID]
	return !charging
}

// move takes the new slot and frees the old one.
func (d *Depot) move(vehicleID, areaID string, slot int) error {
	from := d.parked[vehicleID]
	if err := d.vacate(from.area, from.slot); err != nil {
		return err
	}
	return d.occupy(areaID, slot, vehicleID, d.vtype[vehicleID])
}

func (d *Depot) acquire(areaIDs []string, vehicleID string, opts AcquireOptions, wake SlotWake) (string, int, bool, error) {
	if ref, ok := d.parked[vehicleID]; ok {
		return "", -1, false, invariant("acquire_slot", "vehicle %s already holds %s/%d", vehicleID, ref.area, ref.slot)
	}
	var compatible []string
	for _, id := range areaIDs {
		a, ok := d.areas[id]
		if !ok {
			return "", -1, false, fmt.Errorf("%w: %s", ErrUnknownArea, id)
		}
		if a.accepts(opts) {
			compatible = append(compatible, id)
		}
	}
	if len(compatible) == 0 {
		return "", -1, false, fmt.Errorf("%w: no compatible slot for %s", ErrCapacityExceeded, vehicleID)
	}
	if !d.hasQueuedFor(compatible, opts) {
		if id, i := d.choose(compatible, opts); id != "" {
			if err := d.occupy(id, i, vehicleID, opts.VehicleType); err != nil {
				return "", -1, false, err
			}
			return id, i, true, nil
		}
	}
	if opts.NonBlocking {
		return "", -1, false, fmt.Errorf("%w: %v full", ErrCapacityExceeded, compatible)
	}
	for _, w := range d.slotQueue {
		if w.vehicle == vehicleID {
			return "", -1, false, invariant("acquire_slot", "vehicle %s already queued", vehicleID)
		}
	}
	d.seq++
	d.slotQueue = enqueue(d.slotQueue, &waiter{vehicle: vehicleID, areas: compatible, opts: opts, seq: d.seq, wakeSlot: wake})
	return "", -1, false, nil
}

// hasQueuedFor reports whether an earlier waiter of equal or higher
// priority is queued for one of the areas, so a newcomer cannot overtake it.
func (d *Depot) hasQueuedFor(areaIDs []string, opts AcquireOptions) bool {
	for _, w := range d.slotQueue {
		if w.opts.Priority < opts.Priority {
			continue
		}
		if w.relocate && !d.canMove(w.vehicle) {
			continue
		}
		for _, a := range w.areas {
			for _, b := range areaIDs {
				if a == b && d.areas[a].freeSlot(w.opts) >= 0 {
					return true
				}
			}
		}
	}
	return false
}

func enqueue(q []*waiter, w *waiter) []*waiter {
	i := sort.Search(len(q), func(i int) bool {
		if q[i].opts.Priority != w.opts.Priority {
			return q[i].opts.Priority < w.opts.Priority
		}
		return q[i].seq > w.seq
	})
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = w
	return q
}

func (d *Depot) occupy(areaID string, slot int, vehicleID, vehicleType string) error {
	a := d.areas[areaID]
	if slot == len(a.slots) && a.unbounded() {
		a.slots = append(a.slots, a.newSlot(slot))
	}
	if !a.slots[slot].Free() {
		return invariant("acquire_slot", "slot %s/%d already held by %s", areaID, slot, a.slots[slot].Occupant)
	}
	a.slots[slot].Occupant = vehicleID
	a.occupancy++
	d.parked[vehicleID] = slotRef{area: areaID, slot: slot}
	d.vtype[vehicleID] = vehicleType
	if err := d.validate("acquire_slot"); err != nil {
		return err
	}
	if d.observer != nil {
		d.observer.SlotChanged(a, a.slots[slot], vehicleID)
	}
	return nil
}

// ReleaseSlot frees a slot. Releasing a free slot is a no-op.
func (d *Depot) ReleaseSlot(areaID string, slot int) error {
	a, ok := d.areas[areaID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownArea, areaID)
	}
	s, ok := a.Slot(slot)
	if !ok || s.Free() {
		return nil
	}
	if a.blocked(slot) {
		return fmt.Errorf("%w: %s at %s/%d", ErrLineBlocked, s.Occupant, areaID, slot)
	}
	if st, ok := d.chargeAt[s.Occupant]; ok {
		return invariant("release_slot", "vehicle %s still holds a charge point at %s", s.Occupant, st)
	}
	if err := d.vacate(areaID, slot); err != nil {
		return err
	}
	delete(d.vtype, s.Occupant)
	return d.admitSlotWaiters()
}

// vacate empties a slot and reports the leaving vehicle to the observer.
func (d *Depot) vacate(areaID string, slot int) error {
	a := d.areas[areaID]
	occupant := a.slots[slot].Occupant
	a.slots[slot].Occupant = ""
	a.occupancy--
	delete(d.parked, occupant)
	if err := d.validate("release_slot"); err != nil {
		return err
	}
	if d.observer != nil {
		d.observer.SlotChanged(a, a.slots[slot], occupant)
	}
	return nil
}

func (d *Depot) admitSlotWaiters() error {
	type grant struct {
		w    *waiter
		area string
		slot int
	}
	var granted []grant
	// a relocation frees a slot, so passes repeat until nothing moves
	for progress := true; progress; {
		progress = false
		remaining := d.slotQueue[:0:0]
		for _, w := range d.slotQueue {
			id, i := "", -1
			if !w.relocate || d.canMove(w.vehicle) {
				id, i = d.choose(w.areas, w.opts)
			}
			if id == "" {
				remaining = append(remaining, w)
				continue
			}
			var err error
			if w.relocate {
				err = d.move(w.vehicle, id, i)
			} else {
				err = d.occupy(id, i, w.vehicle, w.opts.VehicleType)
			}
			if err != nil {
				return err
			}
			granted = append(granted, grant{w, id, i})
			progress = true
		}
		d.slotQueue = remaining
	}
	for _, g := range granted {
		if g.w.wakeSlot != nil {
			g.w.wakeSlot(g.area, g.slot)
		}
	}
	return nil
}

// AcquireChargePoint requests a charge point at a station. It returns
// granted=false when queued; wake is called once a point frees up.
func (d *Depot) AcquireChargePoint(stationID, vehicleID string, opts AcquireOptions, wake func()) (bool, error) {
	st, ok := d.stations[stationID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownStation, stationID)
	}
	if other, ok := d.chargeAt[vehicleID]; ok {
		if other == stationID {
			return true, nil
		}
		return false, invariant("acquire_charge_point", "vehicle %s already charging at %s", vehicleID, other)
	}
	if st.hasFreePoint() && len(d.cpQueues[stationID]) == 0 {
		d.takePoint(st, vehicleID)
		return true, d.validate("acquire_charge_point")
	}
	if opts.NonBlocking {
		return false, fmt.Errorf("%w: station %s", ErrCapacityExceeded, stationID)
	}
	for _, w := range d.cpQueues[stationID] {
		if w.vehicle == vehicleID {
			return false, nil
		}
	}
	d.seq++
	d.cpQueues[stationID] = enqueue(d.cpQueues[stationID], &waiter{vehicle: vehicleID, station: stationID, opts: opts, seq: d.seq, wakeCP: wake})
	return false, nil
}

func (d *Depot) takePoint(st *Station, vehicleID string) {
	st.grants[vehicleID] = 0
	d.chargeAt[vehicleID] = st.ID()
}

// ReleaseChargePoint frees the vehicle's charge point and its power. It is
// a no-op when the vehicle holds none.
func (d *Depot) ReleaseChargePoint(vehicleID string) error {
	stID, ok := d.chargeAt[vehicleID]
	if !ok {
		return nil
	}
	st := d.stations[stID]
	had := st.grants[vehicleID]
	delete(st.grants, vehicleID)
	delete(d.chargeAt, vehicleID)
	if err := d.validate("release_charge_point"); err != nil {
		return err
	}
	if had != 0 && d.observer != nil {
		d.observer.PowerChanged(st, vehicleID, 0)
	}
	var woken []*waiter
	q := d.cpQueues[stID]
	for len(q) > 0 && st.hasFreePoint() {
		w := q[0]
		q = q[1:]
		d.takePoint(st, w.vehicle)
		woken = append(woken, w)
	}
	d.cpQueues[stID] = q
	if err := d.validate("release_charge_point"); err != nil {
		return err
	}
	for _, w := range woken {
		if w.wakeCP != nil {
			w.wakeCP()
		}
	}
	// the vehicle may now be free to relocate
	return d.admitSlotWaiters()
}

// CancelSlotWait removes the vehicle from the slot queue only. It reports
// whether the vehicle was queued.
func (d *Depot) CancelSlotWait(vehicleID string) bool {
	keep := d.slotQueue[:0:0]
	for _, w := range d.slotQueue {
		if w.vehicle != vehicleID {
			keep = append(keep, w)
		}
	}
	found := len(keep) < len(d.slotQueue)
	d.slotQueue = keep
	return found
}

// CancelWaits removes the vehicle from every queue.
func (d *Depot) CancelWaits(vehicleID string) {
	d.CancelSlotWait(vehicleID)
	for id, q := range d.cpQueues {
		k := q[:0:0]
		for _, w := range q {
			if w.vehicle != vehicleID {
				k = append(k, w)
			}
		}
		d.cpQueues[id] = k
	}
}

// Queued returns the vehicles waiting for a slot, in service order.
func (d *Depot) Queued() []string {
	out := make([]string, 0, len(d.slotQueue))
	for _, w := range d.slotQueue {
		out = append(out, w.vehicle)
	}
	return out
}

// ReservePower grants up to requested kW to a vehicle holding a charge
// point at the station, bounded by the station cap and the grid limit.
func (d *Depot) ReservePower(stationID, vehicleID string, requested float64) (float64, error) {
	if requested < 0 || math.IsNaN(requested) {
		return 0, fmt.Errorf("%w: %.3f", ErrNegativePower, requested)
	}
	st, ok := d.stations[stationID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownStation, stationID)
	}
	if !st.holds(vehicleID) {
		return 0, fmt.Errorf("%w: %s at %s", ErrNotCharging, vehicleID, stationID)
	}
	prev := st.grants[vehicleID]
	stationRoom := st.Cap() - (st.Load() - prev)
	gridRoom := d.grid.LimitAt(d.clock()) - (d.GridLoad() - prev)
	g := math.Max(0, math.Min(requested, math.Min(stationRoom, gridRoom)))
	st.grants[vehicleID] = g
	if err := d.validate("reserve_power"); err != nil {
		st.grants[vehicleID] = prev
		return 0, err
	}
	if g != prev && d.observer != nil {
		d.observer.PowerChanged(st, vehicleID, g)
	}
	return g, nil
}

// ApplyAllocation commits a set of grants at once. Vehicles not listed keep
// their grant. Any cap breach rolls the whole set back.
func (d *Depot) ApplyAllocation(grants map[string]float64) error {
	ids := make([]string, 0, len(grants))
	for id := range grants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	prev := make(map[string]float64, len(ids))
	for _, id := range ids {
		g := grants[id]
		if g < 0 || math.IsNaN(g) {
			return fmt.Errorf("%w: %s %.3f", ErrNegativePower, id, g)
		}
		stID, ok := d.chargeAt[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotCharging, id)
		}
		prev[id] = d.stations[stID].grants[id]
	}
	for _, id := range ids {
		d.stations[d.chargeAt[id]].grants[id] = grants[id]
	}
	if err := d.validate("apply_allocation"); err != nil {
		for _, id := range ids {
			d.stations[d.chargeAt[id]].grants[id] = prev[id]
		}
		return err
	}
	if d.observer != nil {
		for _, id := range ids {
			if grants[id] != prev[id] {
				d.observer.PowerChanged(d.stations[d.chargeAt[id]], id, grants[id])
			}
		}
	}
	return nil
}

// ReleasePower drops the vehicle's grant to zero but keeps its charge point.
func (d *Depot) ReleasePower(vehicleID string) error {
	stID, ok := d.chargeAt[vehicleID]
	if !ok {
		return nil
	}
	st := d.stations[stID]
	if st.grants[vehicleID] == 0 {
		return nil
	}
	st.grants[vehicleID] = 0
	if err := d.validate("release_power"); err != nil {
		return err
	}
	if d.observer != nil {
		d.observer.PowerChanged(st, vehicleID, 0)
	}
	return nil
}

// Granted returns the power granted to a vehicle.
func (d *Depot) Granted(vehicleID string) float64 {
	stID, ok := d.chargeAt[vehicleID]
	if !ok {
		return 0
	}
	return d.stations[stID].grants[vehicleID]
}

// GridLoad returns the total granted power.
func (d *Depot) GridLoad() float64 {
	total := 0.0
	for _, id := range d.stationOrder {
		total += d.stations[id].Load()
	}
	return total
}

// Release frees every resource held by the vehicle: power, charge point,
// slot and queue positions. Nothing is released when the vehicle is
// blocked in a line.
func (d *Depot) Release(vehicleID string) error {
	ref, parked := d.parked[vehicleID]
	if parked && d.areas[ref.area].blocked(ref.slot) {
		return fmt.Errorf("%w: %s", ErrLineBlocked, vehicleID)
	}
	d.CancelWaits(vehicleID)
	if err := d.ReleaseChargePoint(vehicleID); err != nil {
		return err
	}
	if parked {
		return d.ReleaseSlot(ref.area, ref.slot)
	}
	return nil
}

// validate checks every resource invariant.
func (d *Depot) validate(op string) error {
	seen := make(map[string]string)
	for _, id := range d.areaOrder {
		a := d.areas[id]
		n := 0
		for _, s := range a.slots {
			if s.Free() {
				continue
			}
			n++
			if prev, dup := seen[s.Occupant]; dup {
				return invariant(op, "vehicle %s in %s and %s", s.Occupant, prev, id)
			}
			seen[s.Occupant] = id
			if ref, ok := d.parked[s.Occupant]; !ok || ref.area != id || ref.slot != s.Index {
				return invariant(op, "index mismatch for %s in %s/%d", s.Occupant, id, s.Index)
			}
		}
		if n != a.occupancy {
			return invariant(op, "area %s occupancy %d, counted %d", id, a.occupancy, n)
		}
		if a.occupancy < 0 || (!a.unbounded() && a.occupancy > a.Spec.Capacity) {
			return invariant(op, "area %s occupancy %d outside [0,%d]", id, a.occupancy, a.Spec.Capacity)
		}
	}
	if len(seen) != len(d.parked) {
		return invariant(op, "%d parked vehicles, %d occupied slots", len(d.parked), len(seen))
	}
	total := 0.0
	for _, id := range d.stationOrder {
		st := d.stations[id]
		if st.Spec.ChargePoints > 0 && len(st.grants) > st.Spec.ChargePoints {
			return invariant(op, "station %s has %d vehicles on %d points", id, len(st.grants), st.Spec.ChargePoints)
		}
		for v, g := range st.grants {
			if g < 0 {
				return invariant(op, "negative grant %.3f for %s", g, v)
			}
		}
		load := st.Load()
		if load > st.Cap()+powerTolerance {
			return invariant(op, "station %s load %.3f kW above cap %.3f kW", id, load, st.Cap())
		}
		total += load
	}
	if limit := d.grid.LimitAt(d.clock()); total > limit+powerTolerance {
		return invariant(op, "grid load %.3f kW above limit %.3f kW", total, limit)
	}
	return nil
}
