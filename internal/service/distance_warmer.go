package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/pkg/jobs"
)

const jobTypeWarmDistance = "distance.warm"

// DistanceWarmer computes missing distances in the background so user-facing
// requests only ever read the cache.
type DistanceWarmer struct {
	queue  *jobs.Queue
	svc    *DistanceService
	logger *zap.Logger
}

// NewDistanceWarmer builds a warmer backed by an in-memory job queue.
func NewDistanceWarmer(svc *DistanceService, cfg jobs.QueueConfig) *DistanceWarmer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	w := &DistanceWarmer{svc: svc, logger: cfg.Logger}
	w.queue = jobs.NewQueue("distance-warmer", w.handle, cfg)
	return w
}

// Start launches the workers.
func (w *DistanceWarmer) Start(ctx context.Context) {
	w.queue.Start(ctx)
}

// Stop waits for in-flight lookups to finish.
func (w *DistanceWarmer) Stop() {
	w.queue.Stop()
}

// Warm enqueues pairs without blocking and returns how many were accepted.
// Pairs already queued are accepted without a second job.
func (w *DistanceWarmer) Warm(pairs []models.DistancePair) int {
	if w == nil {
		return 0
	}
	accepted := 0
	for _, pair := range pairs {
		err := w.queue.TryEnqueue(jobs.Job{ID: uuid.NewString(), Key: pair.Key(), Type: jobTypeWarmDistance, Payload: pair})
		if errors.Is(err, jobs.ErrQueueFull) {
			w.logger.Debug("distance warmer queue full", zap.Int("dropped", len(pairs)-accepted))
			break
		}
		if err != nil {
			w.logger.Warn("failed to enqueue distance warm", zap.Error(err))
			break
		}
		accepted++
	}
	return accepted
}

// RunPeriodic runs a batch every interval until ctx is done.
func (w *DistanceWarmer) RunPeriodic(ctx context.Context, interval time.Duration, limit int) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.svc.RunBatch(ctx, limit); err != nil {
				w.logger.Warn("periodic distance batch failed", zap.Error(err))
			}
		}
	}
}

func (w *DistanceWarmer) handle(ctx context.Context, job jobs.Job) error {
	pair, ok := job.Payload.(models.DistancePair)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	lookup, err := w.svc.Lookup(ctx, pair.InstructorID, pair.UnitID)
	if err != nil {
		return err
	}
	if !lookup.Available && lookup.Reason == models.ReasonUpstreamUnavailable {
		return fmt.Errorf("distance provider unavailable for %s", pair.Key())
	}
	return nil
}
