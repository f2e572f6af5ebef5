package liveloop

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stratengine/internal/model"
	"stratengine/internal/timeframe"
)

// Cache holds what a loop reads from the store between ticks. Each layer
// is derived from the one before it, so invalidating a layer invalidates
// everything after it: symbols → setups → setup mapping → series keys.
type Cache struct {
	class  timeframe.SymbolType
	scan   map[timeframe.Timeframe]bool
	symTTL time.Duration
	setTTL time.Duration

	symbols   []model.SymbolRec
	symbolsAt time.Time
	setups    []*model.Setup
	setupsAt  time.Time

	// setup mapping: symbol → its setups, shortest timeframe first
	bySymbol map[string][]*model.Setup
	order    []string

	// series keys read from the bar cache each tick
	seriesKeys []string

	staleSymbols  bool
	staleSetups   bool
	staleMapping  bool
	staleSeriesKs bool
}

// NewCache creates a cache that reloads symbols every symTTL and setups
// every setTTL. Only setups on the scanned timeframes are kept.
func NewCache(class timeframe.SymbolType, scan []timeframe.Timeframe, symTTL, setTTL time.Duration) *Cache {
	c := &Cache{
		class:  class,
		scan:   make(map[timeframe.Timeframe]bool, len(scan)),
		symTTL: symTTL,
		setTTL: setTTL,
	}
	for _, tf := range scan {
		c.scan[tf] = true
	}
	c.Invalidate()
	return c
}

// Invalidate forces a full reload on the next refresh.
func (c *Cache) Invalidate() {
	c.staleSymbols = true
	c.invalidateSetups()
}

func (c *Cache) invalidateSetups() {
	c.staleSetups = true
	c.invalidateMapping()
}

func (c *Cache) invalidateMapping() {
	c.staleMapping = true
	c.staleSeriesKs = true
}

// refresh reloads stale layers through tx.
func (c *Cache) refresh(ctx context.Context, tx model.StoreTx, now time.Time) error {
	if c.symTTL > 0 && now.Sub(c.symbolsAt) >= c.symTTL {
		c.staleSymbols = true
	}
	if c.setTTL > 0 && now.Sub(c.setupsAt) >= c.setTTL {
		c.staleSetups = true
	}

	if c.staleSymbols {
		syms, err := tx.Symbols(ctx, c.class)
		if err != nil {
			return fmt.Errorf("load symbols: %w", err)
		}
		c.symbols, c.symbolsAt = syms, now
		c.staleSymbols = false
		c.invalidateSetups()
	}
	if c.staleSetups {
		setups, err := tx.ActiveSetups(ctx, c.class, now)
		if err != nil {
			return fmt.Errorf("load setups: %w", err)
		}
		c.setups, c.setupsAt = setups, now
		c.staleSetups = false
		c.invalidateMapping()
	}
	if c.staleMapping {
		c.buildMapping()
		c.staleMapping = false
	}
	if c.staleSeriesKs {
		c.buildSeriesKeys()
		c.staleSeriesKs = false
	}
	return nil
}

func (c *Cache) buildMapping() {
	known := make(map[string]bool, len(c.symbols))
	for _, s := range c.symbols {
		known[s.Symbol] = true
	}
	c.bySymbol = make(map[string][]*model.Setup)
	c.order = c.order[:0]
	for _, s := range c.setups {
		if !known[s.Symbol] || !c.scan[s.TF] || s.State.Terminal() {
			continue
		}
		if _, ok := c.bySymbol[s.Symbol]; !ok {
			c.order = append(c.order, s.Symbol)
		}
		c.bySymbol[s.Symbol] = append(c.bySymbol[s.Symbol], s)
	}
	sort.Strings(c.order)
	for _, list := range c.bySymbol {
		sort.SliceStable(list, func(i, j int) bool { return list[i].TF < list[j].TF })
	}
}

func (c *Cache) buildSeriesKeys() {
	seen := make(map[string]bool)
	c.seriesKeys = c.seriesKeys[:0]
	add := func(sym string, tf timeframe.Timeframe) {
		k := model.SeriesKey(c.class, sym, tf)
		if !seen[k] {
			seen[k] = true
			c.seriesKeys = append(c.seriesKeys, k)
		}
	}
	for _, sym := range c.order {
		for _, s := range c.bySymbol[sym] {
			add(sym, s.TF)
		}
		// open bars for the continuity table, daily open included
		for _, tf := range model.TFCTimeframes {
			add(sym, tf)
		}
	}
}

// prune drops terminal setups after a committed tick.
func (c *Cache) prune() {
	kept := c.setups[:0]
	for _, s := range c.setups {
		if !s.State.Terminal() {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(c.setups) {
		return
	}
	for i := len(kept); i < len(c.setups); i++ {
		c.setups[i] = nil
	}
	c.setups = kept
	c.invalidateMapping()
}

// Len returns the number of setups under evaluation.
func (c *Cache) Len() int {
	n := 0
	for _, list := range c.bySymbol {
		n += len(list)
	}
	return n
}
