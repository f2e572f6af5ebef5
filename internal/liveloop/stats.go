package liveloop

import (
	"time"

	"stratengine/internal/model"
	"stratengine/internal/timeframe"
)

// stats accumulates tick reports over one flush window.
type stats struct {
	cur model.LoopRun
}

func newStats(loopID string, class timeframe.SymbolType) *stats {
	return &stats{cur: model.LoopRun{LoopID: loopID, Class: class}}
}

func (s *stats) add(rep TickReport, start time.Time, dur time.Duration, failed bool) {
	if s.cur.Started.IsZero() {
		s.cur.Started = start
	}
	s.cur.Ticks++
	if failed {
		s.cur.Failed++
	}
	s.cur.Examined += rep.Examined
	s.cur.Updated += rep.Updated
	s.cur.Triggered += rep.Triggered
	s.cur.AlertsAttempted += rep.AlertsAttempted
	s.cur.AlertsFailed += rep.AlertsFailed
	s.cur.TotalDuration += dur
	if dur > s.cur.MaxDuration {
		s.cur.MaxDuration = dur
	}
}

// take returns the window and starts a new one. ok is false when no tick
// ran since the last take.
func (s *stats) take(now time.Time) (model.LoopRun, bool) {
	if s.cur.Ticks == 0 {
		return model.LoopRun{}, false
	}
	run := s.cur
	run.Ended = now
	s.cur = model.LoopRun{LoopID: run.LoopID, Class: run.Class}
	return run, true
}
