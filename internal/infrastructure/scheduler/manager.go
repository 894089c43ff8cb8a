// Package scheduler provides unified scheduler management using gocron v2.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/veilnet-io/veilnet/internal/shared/biztime"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

// BatchJob defines the interface for a scheduled batch processing job.
// Each Execute call processes a batch and returns the number of items processed.
type BatchJob interface {
	Execute(ctx context.Context) (int, error)
}

// Sweeper evicts stale state from an in-memory store and reports how many
// entries it removed.
type Sweeper interface {
	Sweep() int
}

// SchedulerManager manages all scheduled jobs using gocron v2.
type SchedulerManager struct {
	scheduler gocron.Scheduler
	logger    logger.Interface

	started   bool
	startedMu sync.RWMutex
}

// NewSchedulerManager creates a new SchedulerManager instance.
// It initializes gocron with the business timezone for cron expressions.
func NewSchedulerManager(log logger.Interface) (*SchedulerManager, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(biztime.Location()),
	)
	if err != nil {
		return nil, err
	}

	return &SchedulerManager{
		scheduler: scheduler,
		logger:    log,
	}, nil
}

// RegisterTrafficJobs registers traffic accounting jobs:
// - counter sync at the configured interval, starting immediately
// - billing-period rollover check at 00:10 business timezone every day
// - per-day traffic snapshot at 23:50 business timezone every day
func (m *SchedulerManager) RegisterTrafficJobs(
	syncJob BatchJob,
	resetJob BatchJob,
	snapshotJob BatchJob,
	syncInterval time.Duration,
) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(syncInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			m.runTrafficSync(ctx, syncJob)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("traffic", "sync"),
		gocron.WithName("traffic-sync"),
	)
	if err != nil {
		return err
	}

	_, err = m.scheduler.NewJob(
		gocron.CronJob("10 0 * * *", false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			m.runPeriodReset(ctx, resetJob)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("traffic", "period-reset"),
		gocron.WithName("traffic-period-reset"),
	)
	if err != nil {
		return err
	}

	_, err = m.scheduler.NewJob(
		gocron.CronJob("50 23 * * *", false),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			m.runDailySnapshot(ctx, snapshotJob)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("traffic", "daily-snapshot"),
		gocron.WithName("traffic-daily-snapshot"),
	)
	if err != nil {
		return err
	}

	m.logger.Infow("registered traffic jobs",
		"sync_interval", syncInterval,
		"period_reset", "00:10",
		"daily_snapshot", "23:50",
	)
	return nil
}

func (m *SchedulerManager) runTrafficSync(ctx context.Context, syncJob BatchJob) {
	m.logger.Debugw("traffic sync started")

	startTime := biztime.NowUTC()
	eventCount, err := syncJob.Execute(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Errorw("traffic sync failed",
			"error", err,
			"duration", time.Since(startTime),
		)
		return
	}

	if eventCount > 0 {
		m.logger.Infow("traffic sync completed",
			"events", eventCount,
			"duration", time.Since(startTime),
		)
	} else {
		m.logger.Debugw("traffic sync completed without events",
			"duration", time.Since(startTime),
		)
	}
}

func (m *SchedulerManager) runPeriodReset(ctx context.Context, resetJob BatchJob) {
	m.logger.Debugw("billing period reset check started")

	startTime := biztime.NowUTC()
	resetCount, err := resetJob.Execute(ctx)
	if err != nil {
		m.logger.Errorw("billing period reset failed",
			"error", err,
			"duration", time.Since(startTime),
		)
		return
	}

	if resetCount > 0 {
		m.logger.Infow("billing periods rolled over",
			"events", resetCount,
			"duration", time.Since(startTime),
		)
	}
}

func (m *SchedulerManager) runDailySnapshot(ctx context.Context, snapshotJob BatchJob) {
	m.logger.Debugw("daily traffic snapshot started")

	startTime := biztime.NowUTC()
	if _, err := snapshotJob.Execute(ctx); err != nil {
		m.logger.Errorw("daily traffic snapshot failed",
			"error", err,
			"duration", time.Since(startTime),
		)
		return
	}

	m.logger.Infow("daily traffic snapshot completed",
		"duration", time.Since(startTime),
	)
}

// RegisterSweepJobs registers a one-minute eviction pass over the given
// in-memory stores (request guard, counter cache).
func (m *SchedulerManager) RegisterSweepJobs(sweepers ...Sweeper) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			total := 0
			for _, s := range sweepers {
				total += s.Sweep()
			}
			if total > 0 {
				m.logger.Debugw("swept stale entries", "evicted", total)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("maintenance", "sweep"),
		gocron.WithName("memory-sweep"),
	)
	if err != nil {
		return err
	}

	m.logger.Infow("registered sweep jobs", "interval", "1m", "stores", len(sweepers))
	return nil
}

// Start starts the scheduler and all registered jobs.
func (m *SchedulerManager) Start() {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if m.started {
		return
	}

	m.scheduler.Start()
	m.started = true
	m.logger.Infow("scheduler manager started", "job_count", len(m.scheduler.Jobs()))
}

// Stop gracefully stops the scheduler.
// It waits for all running jobs to complete before returning.
func (m *SchedulerManager) Stop() error {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if !m.started {
		return nil
	}

	m.logger.Infow("stopping scheduler manager")

	err := m.scheduler.Shutdown()
	m.started = false

	if err != nil {
		m.logger.Errorw("scheduler manager shutdown with error", "error", err)
		return err
	}

	m.logger.Infow("scheduler manager stopped")
	return nil
}

// IsStarted returns whether the scheduler is running.
func (m *SchedulerManager) IsStarted() bool {
	m.startedMu.RLock()
	defer m.startedMu.RUnlock()
	return m.started
}

// Jobs returns all registered jobs for inspection.
func (m *SchedulerManager) Jobs() []gocron.Job {
	return m.scheduler.Jobs()
}
