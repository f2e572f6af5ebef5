// Package replay restores bar history from SQLite so detection can resume
// after a restart without waiting for depth new bars per timeframe.
package replay

import (
	"context"
	"fmt"
	"log"
	"sort"

	"stratengine/internal/model"
	"stratengine/internal/timeframe"
)

// BarSource returns recent closed bars per symbol, oldest first.
type BarSource interface {
	RecentBars(ctx context.Context, class timeframe.SymbolType, tf timeframe.Timeframe, n int) (map[string][]model.Bar, error)
}

// WarmStart reads the last depth bars of every (symbol, tf) for a class and
// hands each series to seed, symbols in sorted order. The newest persisted
// bar becomes the open bar, so it is re-closed by the first later record
// and detection resumes on the same pair the store already holds.
func WarmStart(ctx context.Context, src BarSource, class timeframe.SymbolType, tfs []timeframe.Timeframe, depth int, seed func(model.BarSeries)) (int, error) {
	seeded := 0
	for _, tf := range tfs {
		bySymbol, err := src.RecentBars(ctx, class, tf, depth)
		if err != nil {
			return seeded, fmt.Errorf("warm start %s %s: %w", class, tf, err)
		}

		symbols := make([]string, 0, len(bySymbol))
		for sym := range bySymbol {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)

		for _, sym := range symbols {
			bars := bySymbol[sym]
			if len(bars) == 0 {
				continue
			}
			seed(model.BarSeries{Symbol: sym, Class: class, TF: tf, Bars: bars})
			seeded++
		}
	}
	log.Printf("[replay] warm start %s: seeded %d series across %d timeframes", class, seeded, len(tfs))
	return seeded, nil
}
