package dispatch

import "github.com/kilianp07/ebusdepot/core/model"

// TypeFilter keeps candidates whose type the trip accepts, substitutes
// included. Blocked line vehicles are dropped.
type TypeFilter struct {
	Groups model.SubstitutionGroups
}

func (f TypeFilter) Filter(cands []Candidate, trip model.Trip) []Candidate {
	allowed := f.Groups.Allowed(trip.VehicleTypes)
	var res []Candidate
	for _, c := range cands {
		if c.Blocked || !allowed[c.Type] {
			continue
		}
		res = append(res, c)
	}
	return res
}
