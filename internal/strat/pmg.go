package strat

import "stratengine/internal/model"

// PMG counts consecutive lower highs (bull) or higher lows (bear) walking
// back from the newest bar in bars.
func PMG(bars []model.Bar, dir model.Direction) int {
	n := 0
	for i := len(bars) - 1; i > 0; i-- {
		cur, prev := bars[i], bars[i-1]
		if dir == model.Bull && cur.High < prev.High {
			n++
			continue
		}
		if dir == model.Bear && cur.Low > prev.Low {
			n++
			continue
		}
		break
	}
	return n
}
