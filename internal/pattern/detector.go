package pattern

import (
	"log/slog"
	"time"

	"stratengine/internal/model"
	"stratengine/internal/strat"
	"stratengine/internal/timeframe"
)

// Detector builds setups from closed-bar snapshots. One detector per
// shard; it remembers the last pair seen per series so that a series only
// yields setups once per new pair.
type Detector struct {
	class    timeframe.SymbolType
	lastPair map[string][2]int64
	log      *slog.Logger
}

// NewDetector creates a detector for one symbol class.
func NewDetector(class timeframe.SymbolType, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		class:    class,
		lastPair: make(map[string][2]int64, 256),
		log:      logger.With(slog.String("component", "pattern")),
	}
}

// Detect inspects a series snapshot taken right after a bar closed. It
// returns nothing when the pair was already seen, the history is too
// short, or the pair does not qualify.
func (d *Detector) Detect(s model.BarSeries) []model.Setup {
	closed := s.Closed()
	if len(closed) < 2 {
		return nil
	}
	pair := CandlePair{Target: closed[len(closed)-2], Trigger: closed[len(closed)-1]}

	key := s.Key()
	seen := [2]int64{pair.Target.TS.Unix(), pair.Trigger.TS.Unix()}
	if d.lastPair[key] == seen {
		return nil
	}
	d.lastPair[key] = seen

	priority := pair.Priority()
	dirs := pair.Directions()
	if priority == 0 || len(dirs) == 0 {
		return nil
	}

	pattern := pair.Pattern()
	stop := pair.Stop()
	shape := string(pair.Shape())

	var lookback *model.Bar
	if lookbackPatterns[pattern] && len(closed) >= 3 {
		lookback = &closed[len(closed)-3]
	}

	expires, err := Expiry(d.class, s.TF, pair.Trigger.TS)
	if err != nil {
		d.log.Debug("expiry unresolved, will retry",
			slog.String("series", key), slog.Any("error", err))
		expires = time.Time{}
	}

	setups := make([]model.Setup, 0, len(dirs))
	for _, dir := range dirs {
		trigger, target := pair.Trigger.High, pair.Target.High
		if lookback != nil {
			target = lookback.High
		}
		if dir == model.Bear {
			trigger, target = pair.Trigger.Low, pair.Target.Low
			if lookback != nil {
				target = lookback.Low
			}
		}

		setups = append(setups, model.Setup{
			Symbol:     s.Symbol,
			Class:      d.class,
			TF:         s.TF,
			Direction:  dir,
			Timestamp:  pair.Trigger.TS,
			Pattern:    pattern,
			Priority:   priority,
			Shape:      shape,
			PMG:        strat.PMG(closed, dir),
			Trigger:    trigger,
			Target:     target,
			Stop:       stop,
			Targets:    Targets(closed, dir, trigger, target),
			RR:         RiskReward(trigger, target, stop),
			TriggerBar: pair.Trigger,
			TargetBar:  pair.Target,
			State:      model.StatePending,
			Expires:    expires,
		})
	}
	return setups
}
