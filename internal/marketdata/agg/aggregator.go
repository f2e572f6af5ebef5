// Package agg normalizes raw ingest records before they reach the bar
// builders: it validates fields, fills in the symbol class and drops exact
// duplicate trades by trade id so that volume is not counted twice.
package agg

import (
	"context"
	"log"
	"strings"
	"sync"

	"stratengine/internal/model"
	"stratengine/internal/timeframe"
)

// DefaultWindow is how many recent trade ids are remembered per symbol.
const DefaultWindow = 4096

// idWindow is a fixed-size FIFO set of trade ids.
type idWindow struct {
	ids   map[string]struct{}
	order []string
	next  int
}

func newIDWindow(size int) *idWindow {
	return &idWindow{
		ids:   make(map[string]struct{}, size),
		order: make([]string, size),
	}
}

// add records id and reports false if it was already present.
func (w *idWindow) add(id string) bool {
	if _, dup := w.ids[id]; dup {
		return false
	}
	if old := w.order[w.next]; old != "" {
		delete(w.ids, old)
	}
	w.order[w.next] = id
	w.ids[id] = struct{}{}
	w.next = (w.next + 1) % len(w.order)
	return true
}

// Normalizer is safe for concurrent use, though the pipeline runs it in a
// single goroutine ahead of the shard router.
type Normalizer struct {
	mu     sync.Mutex
	class  timeframe.SymbolType
	window int
	seen   map[string]*idWindow // key = class:symbol

	// Metrics hooks (optional, set externally)
	OnDuplicate func()
	OnInvalid   func()
}

// New creates a Normalizer. Records without a class are assigned class.
func New(class timeframe.SymbolType, window int) *Normalizer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Normalizer{
		class:  class,
		window: window,
		seen:   make(map[string]*idWindow),
	}
}

// Accept normalizes r in place and reports whether it should be ingested.
func (n *Normalizer) Accept(r *model.IngestRecord) bool {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.Class == "" {
		r.Class = n.class
	}
	if r.Symbol == "" || r.TS.IsZero() || r.Close <= 0 || r.Volume < 0 || r.Class != n.class {
		if n.OnInvalid != nil {
			n.OnInvalid()
		}
		return false
	}
	r.TS = r.TS.UTC()

	if r.TradeID == "" {
		return true
	}

	key := r.Key()
	n.mu.Lock()
	w, ok := n.seen[key]
	if !ok {
		w = newIDWindow(n.window)
		n.seen[key] = w
	}
	fresh := w.add(r.TradeID)
	n.mu.Unlock()

	if !fresh && n.OnDuplicate != nil {
		n.OnDuplicate()
	}
	return fresh
}

// Run reads records from in, forwards accepted ones to out, and blocks
// until ctx is cancelled or in is closed. out is closed on return.
func (n *Normalizer) Run(ctx context.Context, in <-chan model.IngestRecord, out chan<- model.IngestRecord) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-in:
			if !ok {
				return
			}
			if !n.Accept(&r) {
				continue
			}
			select {
			case out <- r:
			case <-ctx.Done():
				log.Printf("[agg] shutdown with record %s pending", r.Key())
				return
			}
		}
	}
}
