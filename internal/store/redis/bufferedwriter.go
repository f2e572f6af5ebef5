package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"stratengine/internal/model"
)

// BufferedWriter puts a circuit breaker in front of a SeriesWriter. Failed
// or rejected snapshots are kept per series key, newest wins, and go out
// with the next write that succeeds. Writes are serialised so a stale
// pending snapshot can never overwrite a newer one.
type BufferedWriter struct {
	writer model.SeriesWriter
	cb     *CircuitBreaker

	wmu     sync.Mutex // serialises writes
	mu      sync.Mutex // guards pending
	pending map[string]model.BarSeries
	maxKeys int
	dropped int

	// Callbacks
	OnBuffer func(count int) // snapshots held back after a failed write
	OnFlush  func(count int) // previously held snapshots written
}

var _ model.SeriesWriter = (*BufferedWriter)(nil)

// NewBufferedWriter wraps w. maxKeys bounds the number of distinct series
// held while Redis is unavailable (default 10000).
func NewBufferedWriter(w model.SeriesWriter, cb *CircuitBreaker, maxKeys int) *BufferedWriter {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &BufferedWriter{
		writer:  w,
		cb:      cb,
		pending: make(map[string]model.BarSeries),
		maxKeys: maxKeys,
	}
}

// WriteSeries writes series plus anything pending. ErrCircuitOpen is
// absorbed; other write errors are returned after the batch was kept.
func (bw *BufferedWriter) WriteSeries(ctx context.Context, series []model.BarSeries) error {
	bw.wmu.Lock()
	defer bw.wmu.Unlock()

	batch, held := bw.takeWith(series)
	if len(batch) == 0 {
		return nil
	}

	err := bw.cb.Execute(func() error { return bw.writer.WriteSeries(ctx, batch) })
	if err != nil {
		bw.stash(batch)
		if bw.OnBuffer != nil {
			bw.OnBuffer(len(series))
		}
		if errors.Is(err, ErrCircuitOpen) {
			return nil
		}
		return err
	}

	if held > 0 {
		log.Printf("[buffered-writer] flushed %d held series", held)
		if bw.OnFlush != nil {
			bw.OnFlush(held)
		}
	}
	return nil
}

// Flush writes anything pending.
func (bw *BufferedWriter) Flush(ctx context.Context) error {
	return bw.WriteSeries(ctx, nil)
}

// takeWith empties pending and overlays series on it. held counts the
// pending entries that were not superseded.
func (bw *BufferedWriter) takeWith(series []model.BarSeries) (batch []model.BarSeries, held int) {
	bw.mu.Lock()
	pending := bw.pending
	bw.pending = make(map[string]model.BarSeries)
	bw.mu.Unlock()

	for i := range series {
		delete(pending, series[i].Key())
	}
	held = len(pending)
	batch = make([]model.BarSeries, 0, len(pending)+len(series))
	for _, s := range pending {
		batch = append(batch, s)
	}
	return append(batch, series...), held
}

func (bw *BufferedWriter) stash(batch []model.BarSeries) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	for i := range batch {
		k := batch[i].Key()
		if _, ok := bw.pending[k]; !ok && len(bw.pending) >= bw.maxKeys {
			bw.dropped++
			continue
		}
		bw.pending[k] = batch[i]
	}
}

// PendingCount returns the number of series waiting to be written.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.pending)
}

// Dropped returns how many snapshots were discarded because the buffer
// was full.
func (bw *BufferedWriter) Dropped() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.dropped
}
