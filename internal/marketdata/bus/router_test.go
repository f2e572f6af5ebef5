package bus

import (
	"context"
	"testing"
	"time"

	"stratengine/internal/model"
	"stratengine/internal/timeframe"
)

func TestRouter_SameSymbolSameShard(t *testing.T) {
	r := New(4, 100)
	input := make(chan model.IngestRecord, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, input)

	rec := model.IngestRecord{Symbol: "AAPL", Class: timeframe.Stock, Close: 1}
	want := r.ShardFor(rec.Key())
	for i := 0; i < 5; i++ {
		rec.Close = float64(i + 1)
		input <- rec
	}

	for i := 0; i < 5; i++ {
		select {
		case got := <-r.Shard(want):
			if got.Close != float64(i+1) {
				t.Errorf("expected in-order close %d, got %v", i+1, got.Close)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for record on shard")
		}
	}
}

func TestRouter_ClosesOutputsOnInputClose(t *testing.T) {
	r := New(2, 1)
	input := make(chan model.IngestRecord)
	close(input)
	r.Run(context.Background(), input)

	for i := 0; i < r.Shards(); i++ {
		if _, ok := <-r.Shard(i); ok {
			t.Errorf("shard %d: expected closed channel", i)
		}
	}
}

func TestRouter_ChannelStats(t *testing.T) {
	r := New(3, 8)
	stats := r.ChannelStats()
	if len(stats) != 3 {
		t.Fatalf("expected 3 stats, got %d", len(stats))
	}
	if stats[0].Cap != 8 || stats[0].Len != 0 {
		t.Errorf("unexpected stat %+v", stats[0])
	}
}
