package depot

// Slot is a parking position. Occupant holds a vehicle id or is empty.
type Slot struct {
	Index    int
	Station  string
	Occupant string
}

// Free reports whether the slot is vacant.
func (s Slot) Free() bool { return s.Occupant == "" }

// Area is a set of slots with a shared admission policy.
type Area struct {
	Spec      AreaSpec
	slots     []Slot
	occupancy int
	types     map[string]bool
}

func newArea(spec AreaSpec) *Area {
	a := &Area{Spec: spec}
	if len(spec.VehicleTypes) > 0 {
		a.types = make(map[string]bool, len(spec.VehicleTypes))
		for _, t := range spec.VehicleTypes {
			a.types[t] = true
		}
	}
	for i := 0; i < spec.Capacity; i++ {
		a.slots = append(a.slots, a.newSlot(i))
	}
	return a
}

func (a *Area) newSlot(i int) Slot {
	st := a.Spec.Station
	if s, ok := a.Spec.SlotStations[i]; ok {
		st = s
	}
	return Slot{Index: i, Station: st}
}

// ID returns the area identifier.
func (a *Area) ID() string { return a.Spec.ID }

// Kind returns the admission policy.
func (a *Area) Kind() AreaKind { return a.Spec.Kind }

// Occupancy returns the number of occupied slots.
func (a *Area) Occupancy() int { return a.occupancy }

// Capacity returns the slot count, or -1 when unbounded.
func (a *Area) Capacity() int {
	if a.unbounded() {
		return -1
	}
	return a.Spec.Capacity
}

func (a *Area) unbounded() bool {
	return a.Spec.Kind == BackgroundStore && a.Spec.Capacity == 0
}

// Slots returns a copy of the slots.
func (a *Area) Slots() []Slot {
	out := make([]Slot, len(a.slots))
	copy(out, a.slots)
	return out
}

// Slot returns the slot at index i.
func (a *Area) Slot(i int) (Slot, bool) {
	if i < 0 || i >= len(a.slots) {
		return Slot{}, false
	}
	return a.slots[i], true
}

// Occupants returns the vehicles in slot order.
func (a *Area) Occupants() []string {
	var out []string
	for _, s := range a.slots {
		if !s.Free() {
			out = append(out, s.Occupant)
		}
	}
	return out
}

// accepts reports whether any slot of the area could ever hold the vehicle.
func (a *Area) accepts(opts AcquireOptions) bool {
	if a.types != nil && !a.types[opts.VehicleType] {
		return false
	}
	if !opts.RequireStation {
		return true
	}
	if a.unbounded() {
		return a.Spec.Station != ""
	}
	for _, s := range a.slots {
		if s.Station != "" {
			return true
		}
	}
	return false
}

// freeSlot returns the slot a new vehicle would take, or -1. Unbounded
// stores return len(slots) when every existing slot is taken.
func (a *Area) freeSlot(opts AcquireOptions) int {
	if !a.accepts(opts) {
		return -1
	}
	fits := func(i int) bool { return !opts.RequireStation || a.slots[i].Station != "" }
	switch a.Spec.Kind {
	case LineArea:
		// Vehicles enter from the back and stop behind the last occupied
		// position.
		p := len(a.slots)
		for p > 0 && a.slots[p-1].Free() {
			p--
		}
		for i := p; i < len(a.slots); i++ {
			if fits(i) {
				return i
			}
		}
		return -1
	default:
		for i := range a.slots {
			if a.slots[i].Free() && fits(i) {
				return i
			}
		}
		if a.unbounded() {
			return len(a.slots)
		}
		return -1
	}
}

// blocked reports whether the vehicle at slot i has occupied positions
// ahead of it.
func (a *Area) blocked(i int) bool {
	if a.Spec.Kind != LineArea {
		return false
	}
	for j := 0; j < i; j++ {
		if !a.slots[j].Free() {
			return true
		}
	}
	return false
}

// Front returns the vehicle that may leave a line area first, or the first
// occupant of any other area.
func (a *Area) Front() (string, bool) {
	for _, s := range a.slots {
		if !s.Free() {
			return s.Occupant, true
		}
	}
	return "", false
}

// VacantAccessible counts free slots a new vehicle can reach.
func (a *Area) VacantAccessible() int {
	if a.unbounded() {
		return -1
	}
	if a.Spec.Kind != LineArea {
		return a.Spec.Capacity - a.occupancy
	}
	n := 0
	for i := len(a.slots) - 1; i >= 0 && a.slots[i].Free(); i-- {
		n++
	}
	return n
}

// VacantBlocked counts free line positions that sit ahead of a parked
// vehicle and cannot be reached.
func (a *Area) VacantBlocked() int {
	if a.Spec.Kind != LineArea {
		return 0
	}
	return a.Spec.Capacity - a.occupancy - a.VacantAccessible()
}
