package outbox

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Dispatcher re-delivers a claimed Row's Message to the broker subject for
// its run. The Scheduler doesn't know about message.Envelope or broker
// subjects directly; it only needs something that can take opaque bytes
// and report success/failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, row *Row) error
}

// Scheduler runs the dispatch loop and the cleanup loop on independent
// cron schedules, mirroring the teacher's own cron-driven background work
// (internal/workflows/runtime/cron_executor.go, since repurposed as a step
// type) but applied here to the Outbox's own maintenance, per spec §4.4.
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	batchSize  int
	maxRetries int

	cron *cron.Cron
}

// Config controls dispatch/cleanup cadence and batch sizing, sourced from
// Config's wait.outbox.* or retry.outbox.* keys (internal/config).
type Config struct {
	DispatchCron  string // e.g. "@every 2s"
	CleanupCron   string // e.g. "@every 1h"
	BatchSize     int
	MaxRetries    int
	CleanupMaxAge time.Duration
}

func NewScheduler(store Store, dispatcher Dispatcher, cfg Config) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	s := &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		cron:       cron.New(),
	}
	dispatchCron := cfg.DispatchCron
	if dispatchCron == "" {
		dispatchCron = "@every 2s"
	}
	cleanupCron := cfg.CleanupCron
	if cleanupCron == "" {
		cleanupCron = "@every 1h"
	}
	maxAge := cfg.CleanupMaxAge
	if maxAge == 0 {
		maxAge = 24 * time.Hour
	}

	s.cron.AddFunc(dispatchCron, func() { s.dispatchOnce(context.Background()) })
	s.cron.AddFunc(cleanupCron, func() { s.cleanupOnce(context.Background(), maxAge) })
	return s
}

func (s *Scheduler) Start() { s.cron.Start() }
func (s *Scheduler) Stop()  { <-s.cron.Stop().Done() }

func (s *Scheduler) dispatchOnce(ctx context.Context) {
	rows, err := s.store.ClaimBatch(ctx, time.Now(), s.batchSize)
	if err != nil {
		log.Printf("outbox: claim batch failed: %v", err)
		return
	}
	for _, row := range rows {
		if err := s.dispatcher.Dispatch(ctx, row); err != nil {
			if row.AttemptCount >= s.maxRetries {
				log.Printf("outbox: row %s exhausted %d attempts, dead-lettering: %v", row.ID, row.AttemptCount, err)
				continue
			}
			backoff := time.Duration(row.AttemptCount+1) * time.Second
			if rerr := s.store.Reschedule(ctx, row.ID, time.Now().Add(backoff), err.Error()); rerr != nil {
				log.Printf("outbox: reschedule row %s failed: %v", row.ID, rerr)
			}
		}
	}
}

func (s *Scheduler) cleanupOnce(ctx context.Context, maxAge time.Duration) {
	n, err := s.store.DeleteSentBefore(ctx, time.Now().Add(-maxAge))
	if err != nil {
		log.Printf("outbox: cleanup failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("outbox: cleaned up %d sent rows older than %v", n, maxAge)
	}
}
