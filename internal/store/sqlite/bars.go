package sqlite

import (
	"context"
	"fmt"
	"log"
	"time"

	"stratengine/internal/model"
)

// InsertClosedBars persists the most recent closed bar of each series.
func (s *Store) InsertClosedBars(ctx context.Context, series []model.BarSeries) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (class, symbol, tf, ts, open, high, low, close, volume, strat_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range series {
		bs := &series[i]
		closed := bs.Closed()
		if len(closed) == 0 {
			continue
		}
		b := closed[len(closed)-1]
		_, err := stmt.ExecContext(ctx, string(bs.Class), bs.Symbol, bs.TF.String(), unixMilli(b.TS),
			b.Open, b.High, b.Low, b.Close, b.Volume, string(b.StratID))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert bar %s: %w", bs.Key(), err)
		}
	}
	return tx.Commit()
}

// RunBars consumes closed-bar snapshots and stores their newest closed bar.
func (s *Store) RunBars(ctx context.Context, in <-chan model.BarSeries) {
	batchLoop(ctx, in, func(batch []model.BarSeries) {
		start := time.Now()
		if err := s.InsertClosedBars(context.Background(), batch); err != nil {
			log.Printf("[sqlite] bar insert error: %v", err)
			return
		}
		log.Printf("[sqlite] committed %d closed bars in %v", len(batch), time.Since(start))
	})
}

// PurgeBars removes bar history older than the cutoff.
func (s *Store) PurgeBars(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bars WHERE ts < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge bars: %w", err)
	}
	return res.RowsAffected()
}

// RecordRun stores one window of loop statistics.
func (s *Store) RecordRun(ctx context.Context, run model.LoopRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loop_runs (loop_id, class, started, ended, ticks, failed, examined, updated,
			triggered, alerts_attempted, alerts_failed, total_ms, max_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.LoopID, string(run.Class), unixMilli(run.Started), unixMilli(run.Ended),
		run.Ticks, run.Failed, run.Examined, run.Updated, run.Triggered,
		run.AlertsAttempted, run.AlertsFailed,
		run.TotalDuration.Milliseconds(), run.MaxDuration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert loop run: %w", err)
	}
	return nil
}
