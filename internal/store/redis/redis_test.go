package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratengine/internal/model"
	"stratengine/internal/timeframe"
)

func newTestWriter(t *testing.T) (*Writer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewFromClient(client, time.Hour), mr
}

var ts0 = time.Date(2026, 10, 12, 14, 0, 0, 0, time.UTC)

func series(sym string, high float64) model.BarSeries {
	return model.BarSeries{
		Symbol: sym,
		Class:  timeframe.Crypto,
		TF:     timeframe.H1,
		Bars: []model.Bar{
			{TS: ts0, Open: 100, High: 110, Low: 90, Close: 95, StratID: model.StratOutside},
			{TS: ts0.Add(time.Hour), Open: 95, High: high, Low: 94, Close: 96},
		},
	}
}

func TestWriter_SeriesRoundTrip(t *testing.T) {
	w, mr := newTestWriter(t)
	ctx := context.Background()

	require.NoError(t, w.WriteSeries(ctx, []model.BarSeries{series("BTCUSD", 97), series("ETHUSD", 98)}))

	assert.True(t, mr.Exists("bars:crypto:BTCUSD:60"))
	assert.Equal(t, time.Hour, mr.TTL("bars:crypto:BTCUSD:60"))

	got, err := w.ReadSeries(ctx, []string{"crypto:BTCUSD:60", "crypto:ETHUSD:60", "crypto:SOLUSD:60"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	btc := got["crypto:BTCUSD:60"]
	assert.Equal(t, timeframe.H1, btc.TF)
	require.Len(t, btc.Bars, 2)
	assert.Equal(t, model.StratOutside, btc.Bars[0].StratID)
	cur, ok := btc.Current()
	require.True(t, ok)
	assert.Equal(t, 97.0, cur.High)
	assert.True(t, cur.TS.Equal(ts0.Add(time.Hour)))
}

func TestWriter_ReadSkipsCorruptEntries(t *testing.T) {
	w, mr := newTestWriter(t)
	require.NoError(t, mr.Set("bars:crypto:BAD:60", "{not json"))
	require.NoError(t, w.WriteSeries(context.Background(), []model.BarSeries{series("BTCUSD", 97)}))

	got, err := w.ReadSeries(context.Background(), []string{"crypto:BAD:60", "crypto:BTCUSD:60"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestWriter_ReadFailsWhenRedisIsDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	w := NewFromClient(client, 0)
	mr.Close()

	_, err = w.ReadSeries(context.Background(), []string{"crypto:BTCUSD:60"})
	assert.Error(t, err)
}

// flakyWriter fails while down is set.
type flakyWriter struct {
	down    bool
	written map[string]model.BarSeries
}

func (f *flakyWriter) WriteSeries(ctx context.Context, series []model.BarSeries) error {
	if f.down {
		return errors.New("connection refused")
	}
	if f.written == nil {
		f.written = make(map[string]model.BarSeries)
	}
	for _, s := range series {
		f.written[s.Key()] = s
	}
	return nil
}

func TestBufferedWriter_HoldsNewestAndFlushesOnRecovery(t *testing.T) {
	fw := &flakyWriter{down: true}
	cb, clk := newTestBreaker(2, time.Second)
	bw := NewBufferedWriter(fw, cb, 0)
	buffered := 0
	bw.OnBuffer = func(n int) { buffered += n }
	ctx := context.Background()

	// below the threshold the error is returned, the snapshot is held
	err := bw.WriteSeries(ctx, []model.BarSeries{series("BTCUSD", 97)})
	assert.Error(t, err)
	assert.Equal(t, 1, bw.PendingCount())

	// second failure trips the breaker; later writes are absorbed
	_ = bw.WriteSeries(ctx, []model.BarSeries{series("BTCUSD", 98)})
	require.Equal(t, StateOpen, cb.CurrentState())
	require.NoError(t, bw.WriteSeries(ctx, []model.BarSeries{series("BTCUSD", 99), series("ETHUSD", 50)}))
	assert.Equal(t, 2, bw.PendingCount())
	assert.Equal(t, 4, buffered)

	fw.down = false
	clk.advance(time.Second)
	flushed := 0
	bw.OnFlush = func(n int) { flushed = n }
	require.NoError(t, bw.WriteSeries(ctx, []model.BarSeries{series("SOLUSD", 20)}))

	assert.Equal(t, StateClosed, cb.CurrentState())
	assert.Zero(t, bw.PendingCount())
	assert.Equal(t, 2, flushed)
	require.Len(t, fw.written, 3)
	btc := fw.written["crypto:BTCUSD:60"]
	cur, _ := btc.Current()
	assert.Equal(t, 99.0, cur.High, "newest held snapshot wins")
}

func TestBufferedWriter_IncomingSupersedesHeld(t *testing.T) {
	fw := &flakyWriter{down: true}
	cb, _ := newTestBreaker(5, time.Second)
	bw := NewBufferedWriter(fw, cb, 0)
	ctx := context.Background()

	_ = bw.WriteSeries(ctx, []model.BarSeries{series("BTCUSD", 97)})
	fw.down = false
	flushed := -1
	bw.OnFlush = func(n int) { flushed = n }
	require.NoError(t, bw.WriteSeries(ctx, []model.BarSeries{series("BTCUSD", 101)}))

	cur, _ := func() (model.Bar, bool) { s := fw.written["crypto:BTCUSD:60"]; return s.Current() }()
	assert.Equal(t, 101.0, cur.High)
	assert.Equal(t, -1, flushed, "superseded entries are not reported as flushed")
}

func TestBufferedWriter_BoundedKeys(t *testing.T) {
	fw := &flakyWriter{down: true}
	cb, _ := newTestBreaker(100, time.Second)
	bw := NewBufferedWriter(fw, cb, 2)
	ctx := context.Background()

	for _, sym := range []string{"A", "B", "C", "A"} {
		_ = bw.WriteSeries(ctx, []model.BarSeries{series(sym, 97)})
	}
	assert.Equal(t, 2, bw.PendingCount())
	assert.Equal(t, 1, bw.Dropped())
}

func TestAlertPublisher_PublishesOnClassChannel(t *testing.T) {
	w, _ := newTestWriter(t)
	ctx := context.Background()

	sub := w.Client().Subscribe(ctx, AlertChannel(timeframe.Stock))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewAlertPublisher(w.Client())
	ev := model.AlertEvent{SetupID: 7, Symbol: "AAPL", Class: timeframe.Stock, TF: timeframe.Day,
		Direction: model.Bull, Pattern: model.Pattern{model.Strat2D, model.Strat2U},
		Milestone: model.MilestoneInForce, Price: 106, At: ts0}
	require.NoError(t, pub.Send(ctx, ev))

	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(rctx)
	require.NoError(t, err)
	assert.Equal(t, "alerts:stock", msg.Channel)

	var got model.AlertEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, int64(7), got.SetupID)
	assert.Equal(t, model.MilestoneInForce, got.Milestone)
	assert.Equal(t, timeframe.Day, got.TF)
}
