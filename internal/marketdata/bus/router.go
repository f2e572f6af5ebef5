// Package bus routes ingest records onto per-shard channels. Records for a
// given symbol always land on the same shard, which keeps per-symbol order
// and lets each shard own its bar builder state without locks.
package bus

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"

	"stratengine/internal/model"
)

// Router hashes records by class:symbol onto N output channels.
type Router struct {
	mu      sync.RWMutex
	outputs []chan model.IngestRecord
}

// New creates a Router with the given shard count and per-shard buffer.
func New(shards, bufSize int) *Router {
	if shards < 1 {
		shards = 1
	}
	r := &Router{outputs: make([]chan model.IngestRecord, shards)}
	for i := range r.outputs {
		r.outputs[i] = make(chan model.IngestRecord, bufSize)
	}
	return r
}

// Shards returns the shard count.
func (r *Router) Shards() int { return len(r.outputs) }

// Shard returns the output channel of shard i.
func (r *Router) Shard(i int) <-chan model.IngestRecord {
	return r.outputs[i]
}

// ShardFor returns the shard index for a record key.
func (r *Router) ShardFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(r.outputs)))
}

// Run reads from in and forwards each record to its shard. A full shard
// applies backpressure rather than dropping, since a lost record would
// corrupt that symbol's bars. Output channels are closed on return.
func (r *Router) Run(ctx context.Context, in <-chan model.IngestRecord) {
	defer func() {
		r.mu.RLock()
		for _, ch := range r.outputs {
			close(ch)
		}
		r.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			r.mu.RLock()
			ch := r.outputs[r.ShardFor(rec.Key())]
			r.mu.RUnlock()
			select {
			case ch <- rec:
			case <-ctx.Done():
				return
			}
		}
	}
}

// ChannelStat is the (length, capacity) of one shard channel.
// Used for reporting channel saturation percentage.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns one entry per shard.
func (r *Router) ChannelStats() []ChannelStat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]ChannelStat, len(r.outputs))
	for i, ch := range r.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
