package model

import (
	"context"
	"time"

	"stratengine/internal/timeframe"
)

// ── Storage Port Interfaces ──
// The sqlite store of record and the Redis bar cache satisfy these; the
// live loop and the ingest pipeline depend only on the interfaces.

// SetupStore is the store of record for symbols and setups.
type SetupStore interface {
	// InsertSetups creates setups. Rows that already exist under the
	// uniqueness key are skipped; the count of new rows is returned.
	InsertSetups(ctx context.Context, setups []Setup) (int, error)

	// Begin opens the transaction one scheduler tick runs in.
	Begin(ctx context.Context) (StoreTx, error)

	// Close releases underlying resources.
	Close() error
}

// StoreTx is the view a single tick has of the store. All writes made
// through it commit together or not at all.
type StoreTx interface {
	// Symbols lists symbols of a class.
	Symbols(ctx context.Context, class timeframe.SymbolType) ([]SymbolRec, error)

	// ActiveSetups lists setups of a class that are not terminal and not
	// past their expiry at now.
	ActiveSetups(ctx context.Context, class timeframe.SymbolType, now time.Time) ([]*Setup, error)

	// FreshPrices returns symbol → price for quotes with as_of ≥ since.
	FreshPrices(ctx context.Context, class timeframe.SymbolType, since time.Time) (map[string]float64, error)

	// UpdateSetups writes only the dirty fields of each setup.
	UpdateSetups(ctx context.Context, setups []*Setup) (int, error)

	Commit() error
	Rollback() error
}

// PriceWriter upserts latest quotes into the symbol table.
type PriceWriter interface {
	UpsertPrices(ctx context.Context, recs []SymbolRec) error
}

// SeriesWriter stores live bar series snapshots; ingest writes them.
type SeriesWriter interface {
	WriteSeries(ctx context.Context, series []BarSeries) error
}

// SeriesReader fetches snapshots by series key in one round trip; the
// live loop reads them. Missing keys are absent from the result.
type SeriesReader interface {
	ReadSeries(ctx context.Context, keys []string) (map[string]BarSeries, error)
}

// AlertSink receives alert events. Delivery semantics belong to the sink.
type AlertSink interface {
	Send(ctx context.Context, ev AlertEvent) error
}

// RunRecorder persists aggregated loop statistics.
type RunRecorder interface {
	RecordRun(ctx context.Context, run LoopRun) error
}

// LoopRun aggregates scheduler statistics over one flush window.
type LoopRun struct {
	LoopID          string               `json:"loop_id"`
	Class           timeframe.SymbolType `json:"class"`
	Started         time.Time            `json:"started"`
	Ended           time.Time            `json:"ended"`
	Ticks           int                  `json:"ticks"`
	Failed          int                  `json:"failed"`
	Examined        int                  `json:"examined"`
	Updated         int                  `json:"updated"`
	Triggered       int                  `json:"triggered"`
	AlertsAttempted int                  `json:"alerts_attempted"`
	AlertsFailed    int                  `json:"alerts_failed"`
	TotalDuration   time.Duration        `json:"total_duration"`
	MaxDuration     time.Duration        `json:"max_duration"`
}
