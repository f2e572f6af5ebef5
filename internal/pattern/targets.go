package pattern

import (
	"github.com/shopspring/decimal"

	"stratengine/internal/model"
)

const (
	// MaxTargets caps the target ladder.
	MaxTargets = 5

	// levels closer than this fraction of the trigger are not targets
	minTargetDistance = 0.001
)

// Targets walks closed bars newest first and collects the highs (bull) or
// lows (bear) at or beyond first. Each accepted level must extend the one
// before it, so the ladder moves away from the trigger. Levels within 0.1%
// of the trigger are skipped.
func Targets(closed []model.Bar, dir model.Direction, trigger, first float64) []float64 {
	if first <= 0 || trigger <= 0 {
		return nil
	}
	tr := decimal.NewFromFloat(trigger)
	minDist := decimal.NewFromFloat(minTargetDistance)

	var out []float64
	for i := len(closed) - 1; i >= 0 && len(out) < MaxTargets; i-- {
		v := closed[i].High
		if dir == model.Bear {
			v = closed[i].Low
		}
		if (dir == model.Bull && v < first) || (dir == model.Bear && v > first) {
			continue
		}
		if decimal.NewFromFloat(v).Sub(tr).Abs().Div(tr).LessThan(minDist) {
			continue
		}
		if n := len(out); n > 0 {
			if (dir == model.Bull && v <= out[n-1]) || (dir == model.Bear && v >= out[n-1]) {
				continue
			}
		}
		out = append(out, v)
	}
	return out
}
