// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/fiber/v2/log"
)

type MaintenanceOptions struct {
	StaleAfter   time.Duration
	ReapInterval time.Duration
	WarmInterval time.Duration
	JobTimeout   time.Duration
}

// StartMaintenanceScheduler runs the stale-submission reaper and keeps the leaderboard
// cache warm. The caller shuts the scheduler down.
func StartMaintenanceScheduler(intake *IntakeController, opts MaintenanceOptions) (gocron.Scheduler, error) {
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Minute
	}
	if opts.WarmInterval <= 0 {
		opts.WarmInterval = 5 * time.Minute
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Second
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	// Every minute: reject submissions stuck in flight
	_, err = sched.NewJob(
		gocron.DurationJob(opts.ReapInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), opts.JobTimeout)
			defer cancel()
			n, err := intake.RejectStale(ctx, opts.StaleAfter)
			if err != nil {
				log.Errorf("[Scheduler] stale sweep failed after %d rejection(s): %v", n, err)
				return
			}
			if n > 0 {
				log.Infof("⏱️  [Scheduler] rejected %d stale submission(s)", n)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(opts.WarmInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), opts.JobTimeout)
			defer cancel()
			if _, err := intake.Aggregator.Standings(ctx); err != nil {
				log.Errorf("[Scheduler] leaderboard warm-up failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
