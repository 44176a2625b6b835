package toolserver

import (
	"context"
	"fmt"
	"time"

	"membria/internal/engram"
	"membria/internal/graph"
	"membria/internal/logging"
	"membria/internal/scheduler"
)

// Daemon-mode schedules. The health monitor runs on a plain ticker because
// the scheduler's cron grammar bottoms out at one minute.
const (
	SweepSchedule  = "*/5 * * * *"
	BatchSchedule  = "0 * * * *"
	HealthInterval = 30 * time.Second
)

// Sweeper runs one full TTL pass over every expiring label.
type Sweeper interface {
	SweepAll(ctx context.Context, nowTS int64) (graph.SweepCounts, error)
}

// WorkerDeps collects what the background jobs run against. A nil Sweeper or
// Batch skips that job; SweepEvery and BatchEvery override the default
// schedules when positive.
type WorkerDeps struct {
	Jobs    *scheduler.Scheduler
	Sweeper Sweeper
	Batch   *engram.Processor
	Logger  logging.Logger

	SweepEvery time.Duration
	BatchEvery time.Duration
}

// RegisterWorkers installs the TTL sweep and the engram batch on the
// scheduler. The caller decides when the scheduler starts.
func RegisterWorkers(d WorkerDeps) error {
	if d.Jobs == nil {
		return fmt.Errorf("toolserver: scheduler is required for workers")
	}
	logger := logging.OrNop(d.Logger)

	if d.Sweeper != nil {
		sweepSchedule := SweepSchedule
		if d.SweepEvery > 0 {
			sweepSchedule = "@every " + d.SweepEvery.String()
		}
		err := d.Jobs.Register(scheduler.Job{
			Name:     "ttl_sweep",
			Schedule: sweepSchedule,
			Run: func(ctx context.Context) error {
				counts, err := d.Sweeper.SweepAll(ctx, time.Now().Unix())
				if total := counts.Total(); total > 0 {
					logger.Info("ttl sweep deactivated %d records", total)
				}
				return err
			},
		})
		if err != nil {
			return err
		}
	}

	if d.Batch != nil {
		batchSchedule := BatchSchedule
		if d.BatchEvery > 0 {
			batchSchedule = "@every " + d.BatchEvery.String()
		}
		err := d.Jobs.Register(scheduler.Job{
			Name:     "engram_batch",
			Schedule: batchSchedule,
			Run: func(ctx context.Context) error {
				n, err := d.Batch.ProcessOnce(ctx)
				if n > 0 {
					logger.Info("engram batch ingested %d pending engrams", n)
				}
				return err
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RunHealthMonitor pings the graph engine until ctx ends. It logs only on
// state transitions so a long outage does not flood the log.
func RunHealthMonitor(ctx context.Context, source HealthSource, interval time.Duration, logger logging.Logger) {
	if source == nil {
		return
	}
	if interval <= 0 {
		interval = HealthInterval
	}
	logger = logging.OrNop(logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := source.Healthy(ctx); err != nil {
				if healthy {
					logger.Warn("graph health check failed: %v", err)
				}
				healthy = false
				continue
			}
			if !healthy {
				logger.Info("graph connection recovered")
			}
			healthy = true
		}
	}
}
