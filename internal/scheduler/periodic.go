package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funnel_backend/platform/config"
	"funnel_backend/platform/logger"

	"github.com/hibiken/asynq"
)

const defaultSweepInterval = time.Minute

// Periodic enqueues a global sweep every SWEEP_INTERVAL. Several scheduler
// replicas may run it; the unique option keeps one pending sweep at a time.
type Periodic struct {
	scheduler *asynq.Scheduler
	interval  time.Duration
	log       *logger.Logger
}

func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*Periodic, error) {
	opt, err := RedisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	interval := cfg.GetSweepInterval()
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	task, err := NewSweepTask(SweepPayload{})
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: time.UTC,
		PostEnqueueFunc: func(_ *asynq.TaskInfo, err error) {
			if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
				log.Warn("periodic sweep enqueue failed", "error", err)
			}
		},
	})
	if _, err := scheduler.Register(CronSpec(interval), task, asynq.Queue(queueName(cfg)), asynq.Unique(interval)); err != nil {
		return nil, fmt.Errorf("register periodic sweep: %w", err)
	}

	return &Periodic{scheduler: scheduler, interval: interval, log: log}, nil
}

// CronSpec renders the interval in asynq's cron syntax.
func CronSpec(interval time.Duration) string {
	return "@every " + interval.String()
}

// Run blocks until ctx is cancelled.
func (p *Periodic) Run(ctx context.Context) error {
	if err := p.scheduler.Start(); err != nil {
		return fmt.Errorf("start periodic scheduler: %w", err)
	}
	p.log.Info("periodic sweep scheduled", "interval", p.interval.String())

	<-ctx.Done()
	p.scheduler.Shutdown()
	return nil
}
