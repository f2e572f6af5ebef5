package strat

import "stratengine/internal/model"

// barInfo is the tuple the priority ladder matches on.
type barInfo struct {
	id    model.StratID
	shape Shape
	green bool
	red   bool
}

func infoOf(b model.Bar) barInfo {
	return barInfo{id: b.StratID, shape: ShapeOf(b), green: b.Green(), red: b.Red()}
}

// match is a predicate over one bar; nil fields match anything.
type match struct {
	id    model.StratID // "" = any
	shape Shape         // "" = any
	green *bool
	red   *bool
}

func (m match) ok(b barInfo) bool {
	if m.id != "" && m.id != b.id {
		return false
	}
	if m.shape != "" && m.shape != b.shape {
		return false
	}
	if m.green != nil && *m.green != b.green {
		return false
	}
	if m.red != nil && *m.red != b.red {
		return false
	}
	return true
}

type rule struct {
	target   match
	trigger  match
	priority int
}

var (
	yes = ptr(true)
	no  = ptr(false)
)

func ptr(b bool) *bool { return &b }

// ladder is evaluated top to bottom; the first matching row wins.
var ladder = []rule{
	{trigger: match{id: model.Strat2U, shape: ShapeShooter, green: no, red: yes}, priority: 1},
	{trigger: match{id: model.Strat2D, shape: ShapeHammer, green: yes, red: no}, priority: 1},
	{target: match{id: model.StratInside}, trigger: match{id: model.StratInside}, priority: 1},
	{trigger: match{id: model.Strat2U, shape: ShapeShooter}, priority: 2},
	{trigger: match{id: model.Strat2D, shape: ShapeHammer}, priority: 2},
	{trigger: match{id: model.Strat2U, green: no, red: yes}, priority: 2},
	{trigger: match{id: model.Strat2D, green: yes, red: no}, priority: 2},
	{trigger: match{id: model.Strat2U}, priority: 3},
	{trigger: match{id: model.Strat2D}, priority: 3},
	{trigger: match{id: model.StratOutside}, priority: 4},
	{target: match{id: model.StratInside}, priority: 4},
	{trigger: match{id: model.StratInside}, priority: 4},
	{target: match{id: model.StratOutside}, priority: 4},
}

// Priority ranks a [target, trigger] pair, 1 being strongest. Zero means
// the pair matches no row and yields no setup.
func Priority(target, trigger model.Bar) int {
	tg, tr := infoOf(target), infoOf(trigger)
	for _, r := range ladder {
		if r.target.ok(tg) && r.trigger.ok(tr) {
			return r.priority
		}
	}
	return 0
}
