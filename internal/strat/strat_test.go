package strat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stratengine/internal/model"
)

func bar(o, h, l, c float64) model.Bar {
	return model.Bar{Open: o, High: h, Low: l, Close: c}
}

func TestID(t *testing.T) {
	prev := bar(100, 110, 90, 105)
	cases := []struct {
		name string
		cur  model.Bar
		want model.StratID
	}{
		{"inside", bar(100, 108, 92, 101), model.StratInside},
		{"inside equal extremes", bar(100, 110, 90, 101), model.StratInside},
		{"outside", bar(100, 111, 89, 101), model.StratOutside},
		{"two up", bar(100, 112, 95, 111), model.Strat2U},
		{"two down", bar(100, 105, 85, 86), model.Strat2D},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ID(prev, tc.cur))
		})
	}
}

func TestClassify_StampsRelativeToPredecessor(t *testing.T) {
	bars := []model.Bar{
		bar(100, 110, 90, 105),
		bar(105, 115, 95, 112),
		bar(112, 113, 96, 100),
	}
	Classify(bars)
	assert.Equal(t, model.StratNone, bars[0].StratID)
	assert.Equal(t, model.Strat2U, bars[1].StratID)
	assert.Equal(t, model.StratInside, bars[2].StratID)
}

func TestShapeOf(t *testing.T) {
	assert.Equal(t, ShapeHammer, ShapeOf(bar(98, 100, 90, 99)))
	assert.Equal(t, ShapeShooter, ShapeOf(bar(92, 100, 90, 91)))
	assert.Equal(t, ShapeNone, ShapeOf(bar(91, 100, 90, 99)))
	assert.Equal(t, ShapeNone, ShapeOf(bar(100, 100, 100, 100)), "zero range has no shape")
}

func TestPriority(t *testing.T) {
	inside := func(b model.Bar) model.Bar { b.StratID = model.StratInside; return b }
	withID := func(b model.Bar, id model.StratID) model.Bar { b.StratID = id; return b }

	target := withID(bar(100, 110, 90, 105), model.Strat2U)

	// red 2D hammer is still priority 2, green 2D hammer is priority 1
	greenHammer := withID(bar(97, 100, 89, 99), model.Strat2D)
	assert.Equal(t, 1, Priority(target, greenHammer))
	assert.Equal(t, 1, Priority(inside(bar(1, 2, 0, 1)), greenHammer), "regardless of target")

	redShooter := withID(bar(92, 112, 90, 91), model.Strat2U)
	assert.Equal(t, 1, Priority(target, redShooter))

	assert.Equal(t, 1, Priority(inside(bar(100, 110, 90, 100)), inside(bar(100, 105, 95, 101))))

	redHammer := withID(bar(99.5, 100, 89, 99.4), model.Strat2D)
	assert.Equal(t, 2, Priority(target, redHammer))

	red2U := withID(bar(111, 112, 100, 105), model.Strat2U)
	assert.Equal(t, 2, Priority(target, red2U))

	green2U := withID(bar(100, 112, 99, 111), model.Strat2U)
	assert.Equal(t, 3, Priority(target, green2U))

	outside := withID(bar(100, 120, 80, 101), model.StratOutside)
	assert.Equal(t, 4, Priority(target, outside))

	assert.Equal(t, 4, Priority(target, inside(bar(100, 105, 95, 101))))
	assert.Equal(t, 0, Priority(target, bar(100, 105, 95, 101)), "unclassified trigger matches nothing")
}

func TestPMG(t *testing.T) {
	bars := []model.Bar{
		bar(0, 120, 80, 0),
		bar(0, 115, 85, 0),
		bar(0, 110, 90, 0),
		bar(0, 105, 95, 0),
	}
	assert.Equal(t, 3, PMG(bars, model.Bull))
	assert.Equal(t, 3, PMG(bars, model.Bear))

	bars = append(bars, bar(0, 106, 94, 0))
	assert.Equal(t, 0, PMG(bars, model.Bull))
	assert.Equal(t, 0, PMG(bars, model.Bear))
}
