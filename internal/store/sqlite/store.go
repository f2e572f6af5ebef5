// Package sqlite is the store of record: symbols with their latest quote,
// setups and their lifecycle columns, closed bar history for warm starts,
// and aggregated loop statistics.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// Config configures the store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/strat.db"
}

// Store is the SQLite store of record. It serialises writers on a single
// connection; the scanner and the ingest process share the file via WAL.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

// New opens the database in WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// batchLoop drains in, calling flush with up to defaultBatchSize items or
// whatever arrived within defaultFlushDelay. It returns when ctx ends or
// in closes, after a final flush.
func batchLoop[T any](ctx context.Context, in <-chan T, flush func([]T)) {
	batch := make([]T, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	doFlush := func() {
		if len(batch) == 0 {
			return
		}
		flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			doFlush()
			return
		case v, ok := <-in:
			if !ok {
				doFlush()
				return
			}
			batch = append(batch, v)
			if len(batch) >= defaultBatchSize {
				doFlush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			doFlush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// unixMilli maps the zero time to 0.
func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
