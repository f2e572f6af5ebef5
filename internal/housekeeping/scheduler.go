// Package housekeeping runs periodic maintenance on the store of record.
package housekeeping

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"stratengine/internal/metrics"
)

// Purger deletes rows older than a cutoff and reports how many went.
type Purger interface {
	PurgeTerminal(ctx context.Context, before time.Time) (int64, error)
	PurgeBars(ctx context.Context, before time.Time) (int64, error)
}

// Config sets how long terminal setups and bar history are kept.
type Config struct {
	Retention    time.Duration
	BarRetention time.Duration
}

// Scheduler owns the cron runner for maintenance jobs.
type Scheduler struct {
	Cron    *cron.Cron
	cfg     Config
	store   Purger
	metrics *metrics.Metrics
	ctx     context.Context
	now     func() time.Time
}

// NewScheduler creates a scheduler. Cron specs carry a seconds field.
func NewScheduler(ctx context.Context, cfg Config, store Purger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		Cron:    cron.New(cron.WithSeconds()),
		cfg:     cfg,
		store:   store,
		metrics: m,
		ctx:     ctx,
		now:     time.Now,
	}
}

// Register schedules the purge job.
func (s *Scheduler) Register(purgeSpec string) error {
	if _, err := s.Cron.AddFunc(purgeSpec, s.purge); err != nil {
		return fmt.Errorf("register purge job: %w", err)
	}
	return nil
}

// Start starts the cron runner.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[housekeeping] scheduler started")
}

// Stop stops the runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[housekeeping] scheduler stopped")
}

// PurgeNow runs the purge job immediately.
func (s *Scheduler) PurgeNow() (setups, bars int64) {
	return s.purgeOnce()
}

func (s *Scheduler) purge() { s.purgeOnce() }

func (s *Scheduler) purgeOnce() (setups, bars int64) {
	now := s.now()
	var err error
	if s.cfg.Retention > 0 {
		setups, err = s.store.PurgeTerminal(s.ctx, now.Add(-s.cfg.Retention))
		if err != nil {
			log.Printf("[housekeeping] purge setups: %v", err)
		} else if s.metrics != nil {
			s.metrics.SetupsPurged.Add(float64(setups))
		}
	}
	if s.cfg.BarRetention > 0 {
		bars, err = s.store.PurgeBars(s.ctx, now.Add(-s.cfg.BarRetention))
		if err != nil {
			log.Printf("[housekeeping] purge bars: %v", err)
		}
	}
	log.Printf("[housekeeping] purged %d terminal setups, %d bars", setups, bars)
	return setups, bars
}
