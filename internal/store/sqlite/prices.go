package sqlite

import (
	"context"
	"fmt"
	"log"
	"time"

	"stratengine/internal/model"
)

// UpsertPrices records the latest quote per symbol. An older quote never
// overwrites a newer one.
func (s *Store) UpsertPrices(ctx context.Context, recs []model.SymbolRec) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols (symbol, class, price, as_of) VALUES (?, ?, ?, ?)
		ON CONFLICT (symbol, class) DO UPDATE SET price = excluded.price, as_of = excluded.as_of
		WHERE excluded.as_of >= symbols.as_of
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.Symbol, string(r.Class), r.Price, unixMilli(r.AsOf)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert price %s: %w", r.Symbol, err)
		}
	}
	return tx.Commit()
}

// RunPrices drains quotes from in, keeping only the newest per symbol
// within each batch.
func (s *Store) RunPrices(ctx context.Context, in <-chan model.SymbolRec) {
	batchLoop(ctx, in, func(batch []model.SymbolRec) {
		latest := make(map[string]model.SymbolRec, len(batch))
		for _, r := range batch {
			k := string(r.Class) + ":" + r.Symbol
			if cur, ok := latest[k]; !ok || !r.AsOf.Before(cur.AsOf) {
				latest[k] = r
			}
		}
		recs := make([]model.SymbolRec, 0, len(latest))
		for _, r := range latest {
			recs = append(recs, r)
		}
		start := time.Now()
		if err := s.UpsertPrices(context.Background(), recs); err != nil {
			log.Printf("[sqlite] price upsert error: %v", err)
			return
		}
		if d := time.Since(start); d > 100*time.Millisecond {
			log.Printf("[sqlite] slow price upsert: %d symbols in %v", len(recs), d)
		}
	})
}
