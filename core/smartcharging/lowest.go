package smartcharging

import (
	"math"

	"github.com/kilianp07/ebusdepot/core/charging"
)

// LowestPower bisects the lowest constant power cap that still charges from
// start to target within window seconds. The search stops once the bracket
// is narrower than accuracy times maxPower. ok is false when even maxPower
// cannot meet the window; maxPower is returned then.
func LowestPower(curve charging.Curve, start, target, window, maxPower, accuracy float64, p charging.Params) (float64, bool) {
	if target <= start || maxPower <= 0 {
		return 0, true
	}
	fits := func(power float64) bool {
		q := p
		q.PowerCap = power
		d, err := charging.TimeToTarget(curve, start, target, q)
		return err == nil && d <= window
	}
	if window <= 0 || !fits(maxPower) {
		return maxPower, false
	}
	if accuracy <= 0 {
		accuracy = 0.01
	}
	lo, hi := math.Max(p.MinPower, 0), maxPower
	if lo >= hi || (lo > 0 && fits(lo)) {
		return math.Min(lo, hi), true
	}
	for hi-lo > accuracy*maxPower {
		mid := (lo + hi) / 2
		if fits(mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, true
}
