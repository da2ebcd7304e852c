package depot

import (
	"math"
	"sort"

	"github.com/kilianp07/ebusdepot/core/logger"
)

// Station is a charging station with a limited number of charge points
// and a power cap.
type Station struct {
	Spec   StationSpec
	cap    float64
	grants map[string]float64
}

func newStation(spec StationSpec, log logger.Logger) *Station {
	s := &Station{Spec: spec, grants: make(map[string]float64)}
	s.cap = effectiveCap(spec, log)
	return s
}

// effectiveCap returns the tightest of the configured bounds.
func effectiveCap(spec StationSpec, log logger.Logger) float64 {
	c := math.Inf(1)
	for _, v := range []float64{spec.CSPower, spec.GCPower} {
		if v > 0 && v < c {
			c = v
		}
	}
	if spec.Battery != nil {
		soc := math.Max(0, math.Min(1, spec.Battery.SoC))
		bp, err := spec.Battery.ChargingCurve.PowerAt(soc)
		if err == nil {
			if spec.CSPower > 0 && bp != spec.CSPower {
				log.Warnf("station %s: cs_power %.1f kW conflicts with battery curve %.1f kW, using %.1f kW",
					spec.ID, spec.CSPower, bp, math.Min(c, bp))
			}
			if bp < c {
				c = bp
			}
		}
	}
	return c
}

// ID returns the station identifier.
func (s *Station) ID() string { return s.Spec.ID }

// Cap returns the effective power cap in kW. +Inf means uncapped.
func (s *Station) Cap() float64 { return s.cap }

// Load returns the power currently granted at the station.
func (s *Station) Load() float64 {
	total := 0.0
	for _, id := range s.Charging() {
		total += s.grants[id]
	}
	return total
}

// Charging returns the vehicles holding a charge point, sorted by id.
func (s *Station) Charging() []string {
	out := make([]string, 0, len(s.grants))
	for id := range s.grants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Grant returns the power granted to a vehicle.
func (s *Station) Grant(vehicleID string) float64 { return s.grants[vehicleID] }

func (s *Station) holds(vehicleID string) bool {
	_, ok := s.grants[vehicleID]
	return ok
}

func (s *Station) hasFreePoint() bool {
	return s.Spec.ChargePoints == 0 || len(s.grants) < s.Spec.ChargePoints
}
