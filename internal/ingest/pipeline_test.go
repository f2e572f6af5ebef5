package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratengine/internal/metrics"
	"stratengine/internal/model"
	"stratengine/internal/timeframe"
)

type captureWriter struct {
	mu     sync.Mutex
	series map[string]model.BarSeries
}

func (c *captureWriter) WriteSeries(_ context.Context, series []model.BarSeries) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.series == nil {
		c.series = make(map[string]model.BarSeries)
	}
	for _, s := range series {
		c.series[s.Key()] = s
	}
	return nil
}

func f(v float64) *float64 { return &v }

func bar(ts time.Time, id string, o, h, l, c float64) model.IngestRecord {
	return model.IngestRecord{
		Symbol: "btcusd", Class: timeframe.Crypto, TS: ts,
		Open: f(o), High: f(h), Low: f(l), Close: c, Volume: 1, TradeID: id,
	}
}

func TestPipeline_DetectsInsideBarSetups(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	records := []model.IngestRecord{
		bar(t0, "a", 95, 100, 90, 95),
		bar(t0.Add(15*time.Minute), "b", 100, 105, 95, 102),
		bar(t0.Add(15*time.Minute), "b", 100, 105, 95, 102), // duplicate trade id
		bar(t0.Add(30*time.Minute), "c", 100, 104, 96, 101),
		bar(t0.Add(45*time.Minute), "d", 101, 103, 100, 103),
	}

	writer := &captureWriter{}
	setups := make(chan model.Setup, 16)
	bars := make(chan model.BarSeries, 16)
	prices := make(chan model.SymbolRec, 16)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	p, err := New(Config{
		Timeframes: map[timeframe.SymbolType][]timeframe.Timeframe{timeframe.Crypto: {timeframe.M15}},
		Shards:     2,
		BufSize:    8,
		Depth:      5,
	}, Sinks{Series: writer, Setups: setups, Bars: bars, Prices: prices}, m, nil)
	require.NoError(t, err)
	assert.Equal(t, []timeframe.Timeframe{timeframe.M15, timeframe.Day}, p.Timeframes(timeframe.Crypto))

	in := make(chan model.IngestRecord, len(records))
	for _, r := range records {
		in <- r
	}
	close(in)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), in)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not drain")
	}
	close(setups)
	close(prices)

	var pair []model.Setup
	for su := range setups {
		if su.Timestamp.Equal(t0.Add(30 * time.Minute)) {
			pair = append(pair, su)
		}
	}
	require.Len(t, pair, 2)
	for _, su := range pair {
		assert.Equal(t, "BTCUSD", su.Symbol)
		assert.Equal(t, model.StratInside, su.Pattern[1])
		assert.Equal(t, 100.0, su.Stop)
		if su.Direction == model.Bull {
			assert.Equal(t, 104.0, su.Trigger)
			assert.Equal(t, 105.0, su.Target)
		} else {
			assert.Equal(t, 96.0, su.Trigger)
			assert.Equal(t, 95.0, su.Target)
		}
	}

	var last model.SymbolRec
	n := 0
	for pr := range prices {
		last = pr
		n++
	}
	assert.Equal(t, 4, n, "duplicate trade id is not priced")
	assert.Equal(t, 103.0, last.Price)

	s, ok := writer.series[model.SeriesKey(timeframe.Crypto, "BTCUSD", timeframe.M15)]
	require.True(t, ok)
	assert.Len(t, s.Bars, 4)
	_, ok = writer.series[model.SeriesKey(timeframe.Crypto, "BTCUSD", timeframe.Day)]
	assert.True(t, ok)

	assert.GreaterOrEqual(t, len(bars), 3)
}

func TestPipeline_SeedRestoresHistory(t *testing.T) {
	writer := &captureWriter{}
	setups := make(chan model.Setup, 4)
	p, err := New(Config{
		Timeframes: map[timeframe.SymbolType][]timeframe.Timeframe{timeframe.Crypto: {timeframe.M15}},
		Shards:     4,
	}, Sinks{Series: writer, Setups: setups}, nil, nil)
	require.NoError(t, err)

	t0 := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	p.Seed(model.BarSeries{Symbol: "BTCUSD", Class: timeframe.Crypto, TF: timeframe.M15, Bars: []model.Bar{
		{TS: t0, Open: 95, High: 100, Low: 90, Close: 95},
		{TS: t0.Add(15 * time.Minute), Open: 100, High: 105, Low: 95, Close: 102},
		{TS: t0.Add(30 * time.Minute), Open: 100, High: 104, Low: 96, Close: 101},
	}})

	in := make(chan model.IngestRecord, 1)
	in <- bar(t0.Add(45*time.Minute), "x", 101, 103, 100, 103)
	close(in)
	p.Run(context.Background(), in)
	close(setups)

	n := 0
	for su := range setups {
		if su.Timestamp.Equal(t0.Add(30 * time.Minute)) {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestPipeline_UnknownClassCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	p, err := New(Config{
		Timeframes: map[timeframe.SymbolType][]timeframe.Timeframe{timeframe.Crypto: {timeframe.H1}},
	}, Sinks{}, m, nil)
	require.NoError(t, err)

	in := make(chan model.IngestRecord, 1)
	in <- model.IngestRecord{Symbol: "AAPL", Class: timeframe.Stock, TS: time.Now(), Close: 1}
	close(in)
	p.Run(context.Background(), in)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "strat_ingest_invalid_records_total" {
			found = true
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

func TestWithDaily(t *testing.T) {
	assert.Equal(t, []timeframe.Timeframe{timeframe.H1}, WithDaily([]timeframe.Timeframe{timeframe.H1}))
	assert.Equal(t, []timeframe.Timeframe{timeframe.M30, timeframe.Day}, WithDaily([]timeframe.Timeframe{timeframe.M30}))
	assert.Equal(t, []timeframe.Timeframe{timeframe.M15, timeframe.Day}, WithDaily([]timeframe.Timeframe{timeframe.M15, timeframe.Day}))
}

func TestNew_RequiresClasses(t *testing.T) {
	_, err := New(Config{}, Sinks{}, nil, nil)
	assert.Error(t, err)
}
