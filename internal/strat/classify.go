// Package strat classifies bars with the STRAT taxonomy: inside (1),
// directional (2U/2D) and outside (3), plus hammer/shooter candle shapes
// and the setup priority ladder.
package strat

import "stratengine/internal/model"

// Shape of a single candle.
type Shape string

const (
	ShapeNone    Shape = ""
	ShapeHammer  Shape = "hammer"
	ShapeShooter Shape = "shooter"
)

const (
	closeZone    = 0.3 // close in the outer 30% of the range
	shadowToBody = 1.5
)

// ID classifies cur against prev.
func ID(prev, cur model.Bar) model.StratID {
	switch {
	case cur.High <= prev.High && cur.Low >= prev.Low:
		return model.StratInside
	case cur.High > prev.High && cur.Low < prev.Low:
		return model.StratOutside
	case cur.High > prev.High:
		return model.Strat2U
	case cur.Low < prev.Low:
		return model.Strat2D
	}
	return model.StratNone
}

// Classify stamps StratID on every bar after the first, each against its
// predecessor. The first bar keeps whatever it had.
func Classify(bars []model.Bar) {
	for i := 1; i < len(bars); i++ {
		bars[i].StratID = ID(bars[i-1], bars[i])
	}
}

// ShapeOf returns the candle shape of b. A zero-range bar has no shape.
// Shooter is checked last so it wins if both ever held.
func ShapeOf(b model.Bar) Shape {
	rng := b.High - b.Low
	if rng <= 0 {
		return ShapeNone
	}
	body := b.Close - b.Open
	if body < 0 {
		body = -body
	}
	upper := b.High - max(b.Open, b.Close)
	lower := min(b.Open, b.Close) - b.Low
	closePos := (b.Close - b.Low) / rng

	shape := ShapeNone
	if closePos >= 1-closeZone && lower >= shadowToBody*body {
		shape = ShapeHammer
	}
	if closePos <= closeZone && upper >= shadowToBody*body {
		shape = ShapeShooter
	}
	return shape
}
