// Package liveloop runs the per-class scheduler that re-evaluates every
// active setup against fresh prices and bar snapshots, persists what
// changed and hands milestone alerts to the sink.
package liveloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stratengine/internal/lifecycle"
	"stratengine/internal/logger"
	"stratengine/internal/metrics"
	"stratengine/internal/model"
	"stratengine/internal/pattern"
	"stratengine/internal/timeframe"
)

// ErrTickAborted wraps every failure that rolled a tick back.
var ErrTickAborted = errors.New("tick aborted")

// Config tunes one loop instance.
type Config struct {
	Class          timeframe.SymbolType
	Timeframes     []timeframe.Timeframe // scanned; defaults to timeframe.ScanTimeframes(Class)
	MinTick        time.Duration         // minimum tick period
	PriceStaleness time.Duration         // quotes older than this are ignored
	StatsFlush     time.Duration         // loop_runs write interval
	SymbolRefresh  time.Duration
	SetupRefresh   time.Duration

	// RequireFTFC drops alerts whose direction disagrees with full
	// timeframe continuity. The milestone still counts as alerted.
	RequireFTFC bool
}

func (c *Config) defaults() {
	if len(c.Timeframes) == 0 {
		c.Timeframes = timeframe.ScanTimeframes(c.Class)
	}
	if c.MinTick <= 0 {
		c.MinTick = time.Second
	}
	if c.PriceStaleness <= 0 {
		c.PriceStaleness = 30 * time.Second
	}
	if c.StatsFlush <= 0 {
		c.StatsFlush = 30 * time.Second
	}
	if c.SymbolRefresh <= 0 {
		c.SymbolRefresh = time.Minute
	}
	if c.SetupRefresh <= 0 {
		c.SetupRefresh = 5 * time.Second
	}
}

// Deps are the collaborators of a loop. Bars, Runs, Metrics and Health
// may be nil.
type Deps struct {
	Store   model.SetupStore
	Bars    model.SeriesReader
	Sink    model.AlertSink
	Runs    model.RunRecorder
	Engine  *lifecycle.Engine
	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus
	Logger  *slog.Logger
}

// TickReport summarises one committed tick.
type TickReport struct {
	Examined        int
	Updated         int
	Triggered       int
	Deferred        int
	AlertsAttempted int
	AlertsFailed    int
	AlertsFiltered  int
}

// Loop is one scheduler instance. It is not safe for concurrent use; Run
// drives it from a single goroutine.
type Loop struct {
	cfg   Config
	deps  Deps
	cache *Cache
	stats *stats
	log   *slog.Logger
	id    string
	run   uint64

	now func() time.Time
}

// New creates a loop with its own cache.
func New(cfg Config, deps Deps) *Loop {
	cfg.defaults()
	if deps.Engine == nil {
		deps.Engine = lifecycle.New(lifecycle.DefaultThresholds())
	}
	lg := deps.Logger
	if lg == nil {
		lg = slog.Default()
	}
	id := uuid.NewString()
	lg = lg.With(slog.String("loop_id", id), slog.String("class", string(cfg.Class)))
	return &Loop{
		cfg:   cfg,
		deps:  deps,
		cache: NewCache(cfg.Class, cfg.Timeframes, cfg.SymbolRefresh, cfg.SetupRefresh),
		stats: newStats(id, cfg.Class),
		log:   lg,
		id:    id,
		now:   time.Now,
	}
}

// ID returns the loop instance id.
func (l *Loop) ID() string { return l.id }

// Run ticks until ctx is cancelled. Tick failures are logged and never end
// the loop. Statistics are flushed every StatsFlush and on exit.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("live loop started",
		slog.Any("timeframes", l.cfg.Timeframes),
		slog.Duration("min_tick", l.cfg.MinTick),
	)
	lastFlush := l.now()
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		start := l.now()
		if _, err := l.Tick(ctx); err != nil && ctx.Err() == nil {
			l.log.Error("tick failed", slog.Uint64("run", l.run), slog.String("error", err.Error()))
		}
		if l.now().Sub(lastFlush) >= l.cfg.StatsFlush {
			l.flushStats(ctx)
			lastFlush = l.now()
		}

		wait := l.cfg.MinTick - l.now().Sub(start)
		if wait <= 0 {
			wait = 0
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			l.flushStats(context.Background())
			l.log.Info("live loop stopped", slog.Uint64("runs", l.run))
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tick runs one evaluation pass inside a single store transaction. On any
// error, or a panic, the transaction is rolled back, the cache is fully
// invalidated and the returned error wraps ErrTickAborted.
func (l *Loop) Tick(ctx context.Context) (rep TickReport, err error) {
	l.run++
	ctx = logger.WithTraceID(ctx, logger.TickTraceID(string(l.cfg.Class), l.run))
	start := l.now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrTickAborted, r)
		}
		l.observe(rep, start, l.now().Sub(start), err != nil)
	}()

	alerts, rep, err := l.evaluate(ctx, start)
	if err != nil {
		return rep, err
	}

	for _, ev := range alerts {
		if l.cfg.RequireFTFC && ev.FTFC != ev.Direction {
			rep.AlertsFiltered++
			l.log.Debug("alert filtered, no continuity",
				append(logger.LogWithTrace(ctx),
					slog.Int64("setup_id", ev.SetupID),
					slog.String("milestone", string(ev.Milestone)))...,
			)
			continue
		}
		rep.AlertsAttempted++
		if serr := l.deps.Sink.Send(ctx, ev); serr != nil {
			rep.AlertsFailed++
			l.log.Warn("alert delivery failed",
				append(logger.LogWithTrace(ctx),
					slog.Int64("setup_id", ev.SetupID),
					slog.String("milestone", string(ev.Milestone)),
					slog.String("error", serr.Error()))...,
			)
			continue
		}
		if m := l.deps.Metrics; m != nil {
			m.AlertsSent.WithLabelValues(string(l.cfg.Class), string(ev.Milestone)).Inc()
		}
	}
	return rep, nil
}

// evaluate covers everything up to and including the commit. Alerts are
// returned rather than sent so that nothing leaves the process for a tick
// that did not commit.
func (l *Loop) evaluate(ctx context.Context, now time.Time) (alerts []model.AlertEvent, rep TickReport, err error) {
	tx, err := l.deps.Store.Begin(ctx)
	if err != nil {
		l.cache.Invalidate()
		return nil, rep, fmt.Errorf("%w: begin: %v", ErrTickAborted, err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rerr := tx.Rollback(); rerr != nil {
			l.log.Warn("rollback failed", slog.String("error", rerr.Error()))
		}
		l.cache.Invalidate()
	}()

	if err := l.cache.refresh(ctx, tx, now); err != nil {
		return nil, rep, fmt.Errorf("%w: %v", ErrTickAborted, err)
	}

	prices, err := tx.FreshPrices(ctx, l.cfg.Class, now.Add(-l.cfg.PriceStaleness))
	if err != nil {
		return nil, rep, fmt.Errorf("%w: prices: %v", ErrTickAborted, err)
	}
	series := l.readSeries(ctx)

	var dirty []*model.Setup
	for _, sym := range l.cache.order {
		price := prices[sym]
		opens := model.OpensOf(model.TFCTimeframes, func(tf timeframe.Timeframe) (model.BarSeries, bool) {
			bs, ok := series[model.SeriesKey(l.cfg.Class, sym, tf)]
			return bs, ok
		})
		dailyOpen := opens[timeframe.Day]
		cont := model.ContinuityOf(price, opens)
		ftfc, _ := cont.Full()
		for _, s := range l.cache.bySymbol[sym] {
			rep.Examined++
			if s.Expires.IsZero() {
				l.resolveExpiry(ctx, s)
			}
			in := lifecycle.Input{Price: price, DailyOpen: dailyOpen, Now: now}
			if bs, ok := series[model.SeriesKey(l.cfg.Class, sym, s.TF)]; ok {
				in.Series = &bs
			}
			res := l.deps.Engine.Evaluate(s, in)
			if res.Deferred {
				rep.Deferred++
			}
			if res.Triggered {
				rep.Triggered++
			}
			for _, ev := range res.Alerts {
				ev.TFC, ev.FTFC = cont, ftfc
				alerts = append(alerts, ev)
			}
			if s.Dirty() != 0 {
				dirty = append(dirty, s)
			}
		}
	}

	if len(dirty) > 0 {
		n, err := tx.UpdateSetups(ctx, dirty)
		if err != nil {
			return nil, rep, fmt.Errorf("%w: update setups: %v", ErrTickAborted, err)
		}
		rep.Updated = n
	}
	if err := tx.Commit(); err != nil {
		return nil, rep, fmt.Errorf("%w: commit: %v", ErrTickAborted, err)
	}
	committed = true

	for _, s := range dirty {
		s.ClearDirty()
	}
	l.cache.prune()
	return alerts, rep, nil
}

// readSeries fetches bar snapshots. A bar cache outage degrades the tick
// to price-only evaluation instead of failing it.
func (l *Loop) readSeries(ctx context.Context) map[string]model.BarSeries {
	if l.deps.Bars == nil || len(l.cache.seriesKeys) == 0 {
		return nil
	}
	series, err := l.deps.Bars.ReadSeries(ctx, l.cache.seriesKeys)
	if err != nil {
		l.log.Warn("bar cache read failed",
			append(logger.LogWithTrace(ctx), slog.String("error", err.Error()))...)
		return nil
	}
	return series
}

func (l *Loop) resolveExpiry(ctx context.Context, s *model.Setup) {
	exp, err := pattern.Expiry(s.Class, s.TF, s.Timestamp)
	if err != nil {
		l.log.Debug("expiry unresolved",
			append(logger.LogWithTrace(ctx),
				slog.Int64("setup_id", s.ID),
				slog.String("error", err.Error()))...,
		)
		return
	}
	s.SetExpires(exp)
}

func (l *Loop) observe(rep TickReport, start time.Time, dur time.Duration, failed bool) {
	l.stats.add(rep, start, dur, failed)
	if h := l.deps.Health; h != nil && !failed {
		h.SetLastLoopTick(l.now())
	}
	m := l.deps.Metrics
	if m == nil {
		return
	}
	class := string(l.cfg.Class)
	m.LoopTicks.WithLabelValues(class).Inc()
	m.LoopTickDur.WithLabelValues(class).Observe(dur.Seconds())
	if failed {
		m.LoopTickErrors.WithLabelValues(class).Inc()
		return
	}
	m.SetupsExamined.WithLabelValues(class).Add(float64(rep.Examined))
	m.SetupsUpdated.WithLabelValues(class).Add(float64(rep.Updated))
	m.SetupsTriggered.WithLabelValues(class).Add(float64(rep.Triggered))
	m.SetupsDeferred.WithLabelValues(class).Add(float64(rep.Deferred))
	m.AlertsFailed.WithLabelValues(class).Add(float64(rep.AlertsFailed))
	m.AlertsFiltered.WithLabelValues(class).Add(float64(rep.AlertsFiltered))
}

func (l *Loop) flushStats(ctx context.Context) {
	run, ok := l.stats.take(l.now())
	if !ok || l.deps.Runs == nil {
		return
	}
	if err := l.deps.Runs.RecordRun(ctx, run); err != nil {
		l.log.Warn("record loop run failed", slog.String("error", err.Error()))
	}
}
