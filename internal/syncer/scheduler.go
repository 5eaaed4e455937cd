// internal/syncer/scheduler.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"gitfleet/internal/database"
)

// Scheduler periodically dispatches sync jobs for active auto-sync
// repositories that are due. Jobs run in parallel across repositories up to
// the concurrency limit; the engine's per-repository locks serialize work on
// the same repository.
type Scheduler struct {
	db          database.Querier
	engine      *Engine
	logger      *slog.Logger
	interval    time.Duration
	concurrency int
}

// NewScheduler creates a new Scheduler instance.
func NewScheduler(db database.Querier, engine *Engine, logger *slog.Logger, interval time.Duration, concurrency int) *Scheduler {
	return &Scheduler{
		db:          db,
		engine:      engine,
		logger:      logger,
		interval:    interval,
		concurrency: concurrency,
	}
}

// Start begins the continuous synchronization process.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting sync scheduler", "interval", s.interval.String(), "concurrency", s.concurrency)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runSyncCycle(ctx) // Initial sync

	for {
		select {
		case <-ticker.C:
			s.runSyncCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("Sync scheduler shutting down", "reason", ctx.Err())
			return
		}
	}
}

// runSyncCycle performs a synchronization pass for all due repositories
// concurrently.
func (s *Scheduler) runSyncCycle(ctx context.Context) {
	due, err := s.db.ListAutoSyncDue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("Failed to list repositories due for sync", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Info("Starting sync cycle", "due", len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, repo := range due {
		repo := repo
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			_, err := s.engine.Sync(gctx, repo.ID)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Failed to sync repository", "org", repo.Organisation, "repo", repo.Name, "error", err)
			}
			return nil
		})
	}

	_ = g.Wait()
	s.logger.Info("Sync cycle finished")
}
