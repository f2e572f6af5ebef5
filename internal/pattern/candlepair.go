// Package pattern turns freshly closed bar pairs into setups: trigger and
// target levels, stop, risk:reward, priority and calendar expiry.
package pattern

import (
	"github.com/shopspring/decimal"

	"stratengine/internal/model"
	"stratengine/internal/strat"
)

// CandlePair is the two newest closed bars of a series.
type CandlePair struct {
	Target  model.Bar // second-newest closed
	Trigger model.Bar // newest closed
}

// Pattern is [target.strat, trigger.strat].
func (p CandlePair) Pattern() model.Pattern {
	return model.Pattern{p.Target.StratID, p.Trigger.StratID}
}

// Priority ranks the pair; 0 means no setup.
func (p CandlePair) Priority() int {
	return strat.Priority(p.Target, p.Trigger)
}

// Shape is the trigger bar's candle shape.
func (p CandlePair) Shape() strat.Shape {
	return strat.ShapeOf(p.Trigger)
}

// Stop is the midpoint of the trigger bar.
func (p CandlePair) Stop() float64 {
	return Midpoint(p.Trigger)
}

// Directions lists the setup directions the trigger bar allows.
func (p CandlePair) Directions() []model.Direction {
	switch p.Trigger.StratID {
	case model.StratInside:
		return []model.Direction{model.Bull, model.Bear}
	case model.Strat2D:
		return []model.Direction{model.Bull}
	case model.Strat2U:
		return []model.Direction{model.Bear}
	}
	return nil
}

// lookbackPatterns take their target one bar further back.
var lookbackPatterns = map[model.Pattern]bool{
	{model.StratInside, model.Strat2U}:     true,
	{model.StratInside, model.StratInside}: true,
	{model.StratInside, model.Strat2D}:     true,
}

// Midpoint is high - (high-low)/2, computed in decimal.
func Midpoint(b model.Bar) float64 {
	h := decimal.NewFromFloat(b.High)
	l := decimal.NewFromFloat(b.Low)
	return h.Sub(h.Sub(l).Div(decimal.NewFromInt(2))).InexactFloat64()
}

// RiskReward is |target-trigger| / |trigger-stop| rounded to 2 places,
// 0 when there is no target or the risk is zero.
func RiskReward(trigger, target, stop float64) float64 {
	if target <= 0 {
		return 0
	}
	tr := decimal.NewFromFloat(trigger)
	risk := tr.Sub(decimal.NewFromFloat(stop)).Abs()
	if !risk.IsPositive() {
		return 0
	}
	reward := decimal.NewFromFloat(target).Sub(tr).Abs()
	return reward.Div(risk).Round(2).InexactFloat64()
}

// MagnitudePct is |trigger-target| / trigger * 100 rounded to 2 places.
func MagnitudePct(trigger, target float64) float64 {
	if trigger <= 0 || target <= 0 {
		return 0
	}
	tr := decimal.NewFromFloat(trigger)
	diff := tr.Sub(decimal.NewFromFloat(target)).Abs()
	return diff.Div(tr).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
}
