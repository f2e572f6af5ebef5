// Package ingest wires the market data path: stream records are validated
// and deduplicated per class, sharded by symbol, folded into bar series and
// scanned for setups as bars close.
//
//	[stream] → demux(class) → [Normalizer] → tee(prices) → [Router] → N × [Builder + Detector]
//	                                                                    ├─ closed bars → Sinks.Bars
//	                                                                    ├─ setups      → Sinks.Setups
//	                                                                    └─ touched     → Sinks.Series
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"stratengine/internal/marketdata/agg"
	"stratengine/internal/marketdata/bus"
	"stratengine/internal/marketdata/tfbuilder"
	"stratengine/internal/metrics"
	"stratengine/internal/model"
	"stratengine/internal/pattern"
	"stratengine/internal/timeframe"
)

// Config sizes the pipeline.
type Config struct {
	// Timeframes built per class. Classes absent from the map are rejected.
	Timeframes map[timeframe.SymbolType][]timeframe.Timeframe

	Shards      int
	BufSize     int
	Depth       int
	DedupWindow int
}

// Sinks receive pipeline output. Channel sends block, so the consumers
// must keep up; Series is written from the shard goroutines.
type Sinks struct {
	Series model.SeriesWriter
	Setups chan<- model.Setup
	Bars   chan<- model.BarSeries
	Prices chan<- model.SymbolRec
}

// Pipeline owns one normalizer, router and set of shard builders per class.
type Pipeline struct {
	cfg    Config
	sinks  Sinks
	m      *metrics.Metrics
	log    *slog.Logger
	fanout map[timeframe.SymbolType]*classPipe
}

type classPipe struct {
	class     timeframe.SymbolType
	in        chan model.IngestRecord
	norm      *agg.Normalizer
	router    *bus.Router
	builders  []*tfbuilder.Builder
	detectors []*pattern.Detector
}

// New builds the pipeline. m may be nil.
func New(cfg Config, sinks Sinks, m *metrics.Metrics, logger *slog.Logger) (*Pipeline, error) {
	if len(cfg.Timeframes) == 0 {
		return nil, fmt.Errorf("ingest: no classes configured")
	}
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if cfg.BufSize <= 0 {
		cfg.BufSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:    cfg,
		sinks:  sinks,
		m:      m,
		log:    logger.With(slog.String("component", "ingest")),
		fanout: make(map[timeframe.SymbolType]*classPipe, len(cfg.Timeframes)),
	}
	for class, tfs := range cfg.Timeframes {
		cp := &classPipe{
			class:  class,
			in:     make(chan model.IngestRecord, cfg.BufSize),
			norm:   agg.New(class, cfg.DedupWindow),
			router: bus.New(cfg.Shards, cfg.BufSize),
		}
		if m != nil {
			cp.norm.OnDuplicate = m.DuplicateRecords.Inc
			cp.norm.OnInvalid = m.InvalidRecords.Inc
		}
		for i := 0; i < cfg.Shards; i++ {
			cp.builders = append(cp.builders, tfbuilder.New(class, WithDaily(tfs), cfg.Depth))
			cp.detectors = append(cp.detectors, pattern.NewDetector(class, logger))
		}
		p.fanout[class] = cp
	}
	return p, nil
}

// WithDaily appends D when a timeframe that needs the daily open for its
// continuity check is built without it.
func WithDaily(tfs []timeframe.Timeframe) []timeframe.Timeframe {
	needs, has := false, false
	for _, tf := range tfs {
		switch tf {
		case timeframe.M15, timeframe.M30:
			needs = true
		case timeframe.Day:
			has = true
		}
	}
	if needs && !has {
		return append(append([]timeframe.Timeframe(nil), tfs...), timeframe.Day)
	}
	return tfs
}

// Classes lists the configured classes.
func (p *Pipeline) Classes() []timeframe.SymbolType {
	out := make([]timeframe.SymbolType, 0, len(p.fanout))
	for c := range p.fanout {
		out = append(out, c)
	}
	return out
}

// Timeframes returns the timeframes built for a class.
func (p *Pipeline) Timeframes(class timeframe.SymbolType) []timeframe.Timeframe {
	cp, ok := p.fanout[class]
	if !ok {
		return nil
	}
	return cp.builders[0].TFs()
}

// Seed installs a warm-start series on the shard that owns its symbol.
// Call before Run.
func (p *Pipeline) Seed(s model.BarSeries) {
	cp, ok := p.fanout[s.Class]
	if !ok {
		return
	}
	key := (&model.IngestRecord{Symbol: s.Symbol, Class: s.Class}).Key()
	cp.builders[cp.router.ShardFor(key)].Seed(s)
}

// Run consumes in until it closes or ctx is cancelled and returns once
// every stage has drained.
func (p *Pipeline) Run(ctx context.Context, in <-chan model.IngestRecord) {
	var wg sync.WaitGroup

	for _, cp := range p.fanout {
		normOut := make(chan model.IngestRecord, p.cfg.BufSize)
		routed := make(chan model.IngestRecord, p.cfg.BufSize)

		wg.Add(3)
		go func(cp *classPipe) {
			defer wg.Done()
			cp.norm.Run(ctx, cp.in, normOut)
		}(cp)
		go func(cp *classPipe) {
			defer wg.Done()
			p.tee(ctx, cp.class, normOut, routed)
		}(cp)
		go func(cp *classPipe) {
			defer wg.Done()
			cp.router.Run(ctx, routed)
		}(cp)

		for i := range cp.builders {
			wg.Add(1)
			go func(cp *classPipe, i int) {
				defer wg.Done()
				p.runShard(ctx, cp, i)
			}(cp, i)
		}
	}

	p.demux(ctx, in)
	wg.Wait()
	p.log.Info("pipeline drained")
}

// demux hands each record to its class pipe. Records with no class go to
// the only pipe when exactly one class is configured.
func (p *Pipeline) demux(ctx context.Context, in <-chan model.IngestRecord) {
	defer func() {
		for _, cp := range p.fanout {
			close(cp.in)
		}
	}()

	var only *classPipe
	if len(p.fanout) == 1 {
		for _, cp := range p.fanout {
			only = cp
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			cp, found := p.fanout[r.Class]
			if !found && r.Class == "" && only != nil {
				cp, found = only, true
			}
			if !found {
				if p.m != nil {
					p.m.InvalidRecords.Inc()
				}
				continue
			}
			select {
			case cp.in <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

// tee forwards accepted records to the router and publishes each as the
// symbol's latest price.
func (p *Pipeline) tee(ctx context.Context, class timeframe.SymbolType, in <-chan model.IngestRecord, out chan<- model.IngestRecord) {
	defer close(out)
	for r := range in {
		if p.m != nil {
			p.m.RecordsTotal.WithLabelValues(string(class)).Inc()
		}
		if p.sinks.Prices != nil {
			select {
			case p.sinks.Prices <- model.SymbolRec{Symbol: r.Symbol, Class: r.Class, Price: r.Close, AsOf: r.TS}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- r:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) runShard(ctx context.Context, cp *classPipe, i int) {
	b, det := cp.builders[i], cp.detectors[i]

	b.OnStale = func(timeframe.Timeframe) {
		if p.m != nil {
			p.m.StaleRecords.Inc()
		}
	}
	b.OnBarClosed = func(s model.BarSeries) {
		if p.m != nil {
			p.m.BarsClosed.WithLabelValues(s.TF.String()).Inc()
		}
		setups := det.Detect(s)
		if len(setups) > 0 && p.m != nil {
			p.m.SetupsDetected.WithLabelValues(s.TF.String()).Add(float64(len(setups)))
		}
		if p.sinks.Setups == nil {
			return
		}
		for _, su := range setups {
			select {
			case p.sinks.Setups <- su:
			case <-ctx.Done():
				return
			}
		}
	}
	b.OnFlush = func(series []model.BarSeries) {
		if p.sinks.Series == nil {
			return
		}
		// the last flush runs after ctx is cancelled
		wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		start := time.Now()
		if err := p.sinks.Series.WriteSeries(wctx, series); err != nil {
			p.log.Warn("series write failed", slog.String("class", string(cp.class)),
				slog.Int("shard", i), slog.Int("series", len(series)), slog.Any("error", err))
			return
		}
		if p.m != nil {
			p.m.RedisWriteDur.Observe(time.Since(start).Seconds())
		}
	}

	b.Run(ctx, cp.router.Shard(i), p.sinks.Bars)
}

// ReportSaturation samples shard channel fill every interval until ctx ends.
func (p *Pipeline) ReportSaturation(ctx context.Context, interval time.Duration) {
	if p.m == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for class, cp := range p.fanout {
				for i, s := range cp.router.ChannelStats() {
					if s.Cap > 0 {
						pct := float64(s.Len) / float64(s.Cap) * 100
						p.m.ChannelSaturationPct.WithLabelValues(string(class) + "_shard_" + strconv.Itoa(i)).Set(pct)
					}
				}
			}
		}
	}
}
