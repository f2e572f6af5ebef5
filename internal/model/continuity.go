package model

import (
	"math"

	"stratengine/internal/timeframe"
)

// TFCTimeframes are the higher timeframes whose open bars make up the
// continuity table.
var TFCTimeframes = []timeframe.Timeframe{
	timeframe.Day, timeframe.Week, timeframe.Month, timeframe.Quarter, timeframe.Year,
}

// Candle colours relative to the open.
const (
	ColorGreen = "green"
	ColorRed   = "red"
	ColorWhite = "white"
)

// TFCState is where price sits against one timeframe's open.
type TFCState struct {
	Open     float64 `json:"open"`
	Distance float64 `json:"distance"` // price - open
	Ratio    float64 `json:"ratio"`    // distance / open, 5 places
	Color    string  `json:"color"`
}

// Continuity maps each timeframe with a known open to its state.
type Continuity map[timeframe.Timeframe]TFCState

// ContinuityOf builds the table for price from the open of each timeframe.
// Opens that are not positive are skipped.
func ContinuityOf(price float64, opens map[timeframe.Timeframe]float64) Continuity {
	if price <= 0 || len(opens) == 0 {
		return nil
	}
	c := make(Continuity, len(opens))
	for tf, open := range opens {
		if open <= 0 {
			continue
		}
		d := price - open
		ratio := math.Round(d/open*1e5) / 1e5
		color := ColorWhite
		switch {
		case ratio > 0:
			color = ColorGreen
		case ratio < 0:
			color = ColorRed
		}
		c[tf] = TFCState{Open: open, Distance: d, Ratio: ratio, Color: color}
	}
	return c
}

// OpensOf collects the open of each series' current bar for the given
// timeframes. lookup returns the live series for a timeframe.
func OpensOf(tfs []timeframe.Timeframe, lookup func(timeframe.Timeframe) (BarSeries, bool)) map[timeframe.Timeframe]float64 {
	opens := make(map[timeframe.Timeframe]float64, len(tfs))
	for _, tf := range tfs {
		s, ok := lookup(tf)
		if !ok {
			continue
		}
		if cur, ok := s.Current(); ok && cur.Open > 0 {
			opens[tf] = cur.Open
		}
	}
	return opens
}

// Full reports full timeframe continuity: price above every open (Bull)
// or below every open (Bear). An empty table has none.
func (c Continuity) Full() (Direction, bool) {
	if len(c) == 0 {
		return 0, false
	}
	up, down := true, true
	for _, st := range c {
		up = up && st.Distance > 0
		down = down && st.Distance < 0
	}
	switch {
	case up:
		return Bull, true
	case down:
		return Bear, true
	}
	return 0, false
}

// Extremes returns the lowest and highest ratio in the table.
func (c Continuity) Extremes() (lo, hi float64) {
	first := true
	for _, st := range c {
		if first || st.Ratio < lo {
			lo = st.Ratio
		}
		if first || st.Ratio > hi {
			hi = st.Ratio
		}
		first = false
	}
	return lo, hi
}
