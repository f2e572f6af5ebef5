package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"stratengine/internal/model"
	"stratengine/internal/timeframe"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for warm starts.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// RecentBars returns, per symbol, the last n closed bars of a class and
// timeframe, oldest first.
func (r *Reader) RecentBars(ctx context.Context, class timeframe.SymbolType, tf timeframe.Timeframe, n int) (map[string][]model.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, ts, open, high, low, close, volume, strat_id FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY ts DESC) AS rn
			FROM bars
			WHERE class = ? AND tf = ?
		)
		WHERE rn <= ?
		ORDER BY symbol, ts ASC
	`, string(class), tf.String(), n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.Bar)
	for rows.Next() {
		var (
			sym   string
			ts    int64
			strat string
			b     model.Bar
		)
		if err := rows.Scan(&sym, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &strat); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = fromMilli(ts)
		b.StratID = model.StratID(strat)
		out[sym] = append(out[sym], b)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
