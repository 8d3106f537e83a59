package scheduler

import (
	"context"
	"fmt"
	"time"

	"funnel_backend/internal/funnel/automation"
	"funnel_backend/platform/config"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Sweeper is the dispatcher surface the worker drives.
type Sweeper interface {
	SweepDueSteps(ctx context.Context, now time.Time) (automation.SweepReport, error)
	SweepTenant(ctx context.Context, tenantID uuid.UUID, now time.Time) (automation.SweepReport, error)
}

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	sweeper Sweeper
	log     *logger.Logger
	now     func() time.Time
}

func NewWorker(cfg config.SchedulerConfig, sweeper Sweeper, log *logger.Logger) (*Worker, error) {
	opt, err := RedisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(sweeper, log)
	w.server = server
	return w, nil
}

func newWorker(sweeper Sweeper, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{mux: mux, sweeper: sweeper, log: log, now: time.Now}
	mux.HandleFunc(TaskFunnelSweep, w.handleSweep)
	return w
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleSweep(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSweepPayload(task)
	if err != nil {
		return fmt.Errorf("parse sweep payload: %v: %w", err, asynq.SkipRetry)
	}

	now := w.now().UTC()
	if payload.TenantID == "" {
		_, err = w.sweeper.SweepDueSteps(ctx, now)
		return err
	}

	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return fmt.Errorf("invalid sweep tenant %q: %w", payload.TenantID, asynq.SkipRetry)
	}
	_, err = w.sweeper.SweepTenant(ctx, tenantID, now)
	return err
}
