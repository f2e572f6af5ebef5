// Package lifecycle evaluates a setup against the latest price and bar on
// every scheduler tick: negation checks, potential-outside repointing,
// in-force and magnitude tracking, and at-most-once alert gating.
package lifecycle

import (
	"time"

	"stratengine/internal/model"
	"stratengine/internal/pattern"
	"stratengine/internal/timeframe"
)

// Input is what one evaluation sees.
type Input struct {
	Price     float64          // 0 when no fresh quote exists
	Series    *model.BarSeries // live series of the setup's timeframe, may be nil
	DailyOpen float64          // open of the current daily bar, 0 if unknown
	Now       time.Time
}

// Result of one evaluation.
type Result struct {
	Deferred  bool // no price; nothing was evaluated
	Triggered bool // in force after this evaluation
	Alerts    []model.AlertEvent
}

// Engine is stateless apart from its thresholds; all per-setup state
// lives on the setup itself.
type Engine struct {
	th Thresholds
}

// New creates an Engine.
func New(th Thresholds) *Engine {
	return &Engine{th: th}
}

// Evaluate runs the checks in order and stops at the first negation.
// Terminal setups are left untouched.
func (e *Engine) Evaluate(s *model.Setup, in Input) Result {
	if s.State.Terminal() {
		return Result{}
	}
	if !s.Expires.IsZero() && !in.Now.Before(s.Expires) {
		s.Expire()
		return Result{}
	}
	if in.Price <= 0 {
		return Result{Deferred: true}
	}

	cur, hasCur := currentAfter(in.Series, s.Timestamp)

	if continuation(s, in.Series) {
		s.Negate(model.ReasonContinuation)
		return Result{}
	}
	if tfcConflict(s, in.Price, in.DailyOpen) {
		s.Negate(model.ReasonTFCConflict)
		return Result{}
	}
	if s.HasTarget() && pattern.MagnitudePct(s.Trigger, s.Target) < e.th.magnitude(s.TF, s.PotentialOutside) {
		s.Negate(model.ReasonMagThreshold)
		return Result{}
	}
	if s.RR < e.th.rrMin(s.TF) && !s.PotentialOutside {
		s.Negate(model.ReasonRRMinimum)
		return Result{}
	}

	if hasCur && !s.InForce && !s.PotentialOutside && !shortIntraday(s.TF) {
		checkPotentialOutside(s, in.Price, cur)
	}

	inForce := in.Price > s.Trigger
	if s.Direction == model.Bear {
		inForce = in.Price < s.Trigger
	}
	s.SetInForce(inForce, in.Now)

	if s.HasTarget() && hitMagnitude(s, in.Price, cur, hasCur) {
		s.MarkHitMagnitude()
	}

	res := Result{Triggered: s.InForce}
	if s.InForce && !s.InForceAlerted {
		res.Alerts = append(res.Alerts, s.Alert(model.MilestoneInForce, in.Price, in.Now))
		s.MarkInForceAlerted(in.Now)
	}
	if s.HitMagnitude && !s.MagnitudeAlerted {
		res.Alerts = append(res.Alerts, s.Alert(model.MilestoneMagnitude, in.Price, in.Now))
		s.MarkMagnitudeAlerted(in.Now)
		if e.th.RetireOnMagnitude {
			s.Retire()
		}
	}
	return res
}

func shortIntraday(tf timeframe.Timeframe) bool {
	return tf == timeframe.M15 || tf == timeframe.M30
}

// currentAfter returns the series' open bar if it started after ts.
func currentAfter(series *model.BarSeries, ts time.Time) (model.Bar, bool) {
	if series == nil {
		return model.Bar{}, false
	}
	cur, ok := series.Current()
	if !ok || !cur.TS.After(ts) {
		return model.Bar{}, false
	}
	return cur, true
}

// continuation reports whether the bar following the trigger bar has
// closed as a continuation of it.
func continuation(s *model.Setup, series *model.BarSeries) bool {
	if series == nil {
		return false
	}
	for _, b := range series.Closed() {
		if !b.TS.After(s.Timestamp) {
			continue
		}
		trig := s.TriggerBar.StratID
		return b.StratID == trig || (trig == model.StratOutside && b.StratID != model.StratInside)
	}
	return false
}

// tfcConflict applies to 15 and 30 minute setups. The setup fights the
// daily candle when its trigger sits on the wrong side of the daily open,
// or when price has moved from the open against its direction.
func tfcConflict(s *model.Setup, price, dailyOpen float64) bool {
	if !shortIntraday(s.TF) || dailyOpen <= 0 {
		return false
	}
	if s.Direction == model.Bear {
		return s.Trigger > dailyOpen || price > dailyOpen
	}
	return s.Trigger < dailyOpen || price < dailyOpen
}

// checkPotentialOutside repoints the trigger to the trigger bar midpoint
// when price is back through it after the open bar took out the opposite
// extreme.
func checkPotentialOutside(s *model.Setup, price float64, cur model.Bar) {
	tb := s.TriggerBar
	mid := pattern.Midpoint(tb)
	switch s.Direction {
	case model.Bull:
		if price >= mid && cur.Low < tb.Low {
			s.MarkPotentialOutside()
			s.SetTrigger(mid)
			s.SetTarget(tb.High)
		}
	case model.Bear:
		if price <= mid && cur.High > tb.High {
			s.MarkPotentialOutside()
			s.SetTrigger(mid)
			s.SetTarget(tb.Low)
		}
	}
}

func hitMagnitude(s *model.Setup, price float64, cur model.Bar, hasCur bool) bool {
	if s.Direction == model.Bull {
		return price >= s.Target || (hasCur && cur.High >= s.Target)
	}
	return price <= s.Target || (hasCur && cur.Low <= s.Target)
}
