package lifecycle

import "stratengine/internal/timeframe"

// Thresholds holds the per-timeframe negation limits.
type Thresholds struct {
	// RRMin is the minimum risk:reward; setups below it are negated unless
	// they are potential outsides. Missing timeframes use DefaultRRMin.
	RRMin map[timeframe.Timeframe]float64

	// MagnitudePct is the minimum |trigger-target| as a percentage of the
	// trigger. Missing timeframes fall back to the defaults below.
	MagnitudePct map[timeframe.Timeframe]float64

	// RetireOnMagnitude ends a setup once its magnitude alert went out.
	RetireOnMagnitude bool
}

const (
	DefaultRRMin           = 1.0
	DefaultIntradayMagPct  = 0.10
	DefaultMagPct          = 1.0
	potentialOutsideMagPct = 0
)

// DefaultThresholds returns the stock tables.
func DefaultThresholds() Thresholds {
	return Thresholds{RetireOnMagnitude: true}
}

func (t Thresholds) rrMin(tf timeframe.Timeframe) float64 {
	if v, ok := t.RRMin[tf]; ok {
		return v
	}
	return DefaultRRMin
}

func (t Thresholds) magnitude(tf timeframe.Timeframe, potentialOutside bool) float64 {
	if potentialOutside {
		return potentialOutsideMagPct
	}
	if v, ok := t.MagnitudePct[tf]; ok {
		return v
	}
	if tf.Intraday() && tf.Duration() <= timeframe.H1.Duration() {
		return DefaultIntradayMagPct
	}
	return DefaultMagPct
}
