// Package tfbuilder folds ingest records into bounded per-(symbol, timeframe)
// bar histories. Each series keeps one open bar plus the most recent closed
// bars; a record in a later bucket freezes the open bar and starts a new one.
package tfbuilder

import (
	"context"
	"log"
	"time"

	"stratengine/internal/model"
	"stratengine/internal/strat"
	"stratengine/internal/timeframe"
)

// DefaultDepth is the history length, open bar included.
const DefaultDepth = 5

// Result reports what one record did to a series.
type Result int

const (
	Dropped Result = iota // older than the open bar's bucket
	Opened                // first bar of a new series
	Merged                // folded into the open bar
	Rolled                // closed the open bar and opened the next
)

// Builder maintains bar series for one symbol class.
// Not goroutine-safe: run one builder per shard goroutine.
type Builder struct {
	class timeframe.SymbolType
	tfs   []timeframe.Timeframe
	depth int

	series  map[string]*model.BarSeries
	touched map[string]struct{}

	flushInterval time.Duration

	// Hooks (optional)
	OnBarClosed func(s model.BarSeries)      // snapshot taken right after a roll
	OnStale     func(tf timeframe.Timeframe) // called when a record is dropped
	OnFlush     func(series []model.BarSeries)
}

// New creates a builder for the given class and timeframes.
func New(class timeframe.SymbolType, tfs []timeframe.Timeframe, depth int) *Builder {
	if depth < 3 {
		depth = DefaultDepth
	}
	return &Builder{
		class:         class,
		tfs:           tfs,
		depth:         depth,
		series:        make(map[string]*model.BarSeries, 256),
		touched:       make(map[string]struct{}, 256),
		flushInterval: 250 * time.Millisecond,
	}
}

// TFs returns the enabled timeframes.
func (b *Builder) TFs() []timeframe.Timeframe { return b.tfs }

// Seed installs a persisted history for warm start. The last bar becomes
// the open bar. Existing state for the series is replaced.
func (b *Builder) Seed(s model.BarSeries) {
	if len(s.Bars) == 0 {
		return
	}
	if len(s.Bars) > b.depth {
		s.Bars = s.Bars[len(s.Bars)-b.depth:]
	}
	s.Class = b.class
	cp := s.Clone()
	strat.Classify(cp.Bars)
	b.series[cp.Key()] = &cp
}

// IngestRecord applies one record to every enabled timeframe and returns
// the number of bars it closed.
func (b *Builder) IngestRecord(r model.IngestRecord) int {
	o, h, l, c := r.OHLC()
	closed := 0
	for _, tf := range b.tfs {
		if b.Ingest(r.Symbol, tf, r.TS, o, h, l, c, r.Volume) == Rolled {
			closed++
		}
	}
	return closed
}

// Ingest applies one event to the (symbol, tf) series.
func (b *Builder) Ingest(symbol string, tf timeframe.Timeframe, ts time.Time, o, h, l, c, v float64) Result {
	key := model.SeriesKey(b.class, symbol, tf)
	bucket := timeframe.Bucket(ts, tf, b.class)

	s, ok := b.series[key]
	if !ok {
		s = &model.BarSeries{Symbol: symbol, Class: b.class, TF: tf}
		s.Bars = append(make([]model.Bar, 0, b.depth+1), newBar(bucket, o, h, l, c, v))
		b.series[key] = s
		b.touched[key] = struct{}{}
		return Opened
	}

	n := len(s.Bars)
	cur := &s.Bars[n-1]

	if ts.Before(cur.TS) {
		if b.OnStale != nil {
			b.OnStale(tf)
		}
		return Dropped
	}

	b.touched[key] = struct{}{}

	if bucket.Equal(cur.TS) {
		if h > cur.High {
			cur.High = h
		}
		if l < cur.Low {
			cur.Low = l
		}
		cur.Close = c
		cur.Volume += v
		if n > 1 {
			cur.StratID = strat.ID(s.Bars[n-2], *cur)
		}
		return Merged
	}

	next := newBar(bucket, o, h, l, c, v)
	next.StratID = strat.ID(*cur, next)
	s.Bars = append(s.Bars, next)
	if len(s.Bars) > b.depth {
		s.Bars = append(s.Bars[:0], s.Bars[len(s.Bars)-b.depth:]...)
	}
	if b.OnBarClosed != nil {
		b.OnBarClosed(s.Clone())
	}
	return Rolled
}

func newBar(bucket time.Time, o, h, l, c, v float64) model.Bar {
	// o/h/l default to c upstream, but a pre-aggregated bar may still
	// carry a close outside its own range.
	return model.Bar{
		TS:     bucket,
		Open:   o,
		High:   max(h, o, c),
		Low:    min(l, o, c),
		Close:  c,
		Volume: v,
	}
}

// Series returns a snapshot of one series.
func (b *Builder) Series(symbol string, tf timeframe.Timeframe) (model.BarSeries, bool) {
	s, ok := b.series[model.SeriesKey(b.class, symbol, tf)]
	if !ok {
		return model.BarSeries{}, false
	}
	return s.Clone(), true
}

// DrainTouched returns snapshots of every series changed since the last
// drain, for the bar cache writer.
func (b *Builder) DrainTouched() []model.BarSeries {
	if len(b.touched) == 0 {
		return nil
	}
	out := make([]model.BarSeries, 0, len(b.touched))
	for key := range b.touched {
		if s, ok := b.series[key]; ok {
			out = append(out, s.Clone())
		}
		delete(b.touched, key)
	}
	return out
}

// Run consumes records until ctx is cancelled or in is closed. Closed-bar
// snapshots go to out; touched series are handed to OnFlush periodically.
func (b *Builder) Run(ctx context.Context, in <-chan model.IngestRecord, out chan<- model.BarSeries) {
	prev := b.OnBarClosed
	b.OnBarClosed = func(s model.BarSeries) {
		if prev != nil {
			prev(s)
		}
		emit(out, s)
	}
	defer func() { b.OnBarClosed = prev }()

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush()
			return
		case r, ok := <-in:
			if !ok {
				b.flush()
				return
			}
			b.IngestRecord(r)
		case <-ticker.C:
			b.flush()
		}
	}
}

func (b *Builder) flush() {
	if b.OnFlush == nil {
		return
	}
	if touched := b.DrainTouched(); len(touched) > 0 {
		b.OnFlush(touched)
	}
}

// emit sends a closed-bar snapshot. Non-blocking to avoid deadlocks.
func emit(out chan<- model.BarSeries, s model.BarSeries) {
	if out == nil {
		return
	}
	select {
	case out <- s:
	default:
		log.Printf("[tfbuilder] out full, dropping closed series %s", s.Key())
	}
}
