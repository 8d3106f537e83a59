package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"funnel_backend/internal/funnel/automation"
	"funnel_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type schedulerConfig struct {
	redisURL string
}

func (c schedulerConfig) GetRedisURL() string             { return c.redisURL }
func (c schedulerConfig) GetRedisTLSInsecure() bool       { return false }
func (c schedulerConfig) GetAsynqQueueName() string       { return "funnel" }
func (c schedulerConfig) GetAsynqConcurrency() int        { return 2 }
func (c schedulerConfig) GetSweepInterval() time.Duration { return 30 * time.Second }

type fakeSweeper struct {
	global  int
	tenants []uuid.UUID
	err     error
}

func (f *fakeSweeper) SweepDueSteps(context.Context, time.Time) (automation.SweepReport, error) {
	f.global++
	return automation.SweepReport{}, f.err
}

func (f *fakeSweeper) SweepTenant(_ context.Context, tenantID uuid.UUID, _ time.Time) (automation.SweepReport, error) {
	f.tenants = append(f.tenants, tenantID)
	return automation.SweepReport{}, f.err
}

func TestSweepTaskRoutesByTenant(t *testing.T) {
	sweeper := &fakeSweeper{}
	w := newWorker(sweeper, logger.New("test"))
	tenantID := uuid.New()

	global, _ := NewSweepTask(SweepPayload{})
	scoped, _ := NewSweepTask(SweepPayload{TenantID: tenantID.String()})

	if err := w.handleSweep(context.Background(), global); err != nil {
		t.Fatalf("global sweep returned error: %v", err)
	}
	if err := w.handleSweep(context.Background(), scoped); err != nil {
		t.Fatalf("tenant sweep returned error: %v", err)
	}

	if sweeper.global != 1 {
		t.Fatalf("expected 1 global sweep, got %d", sweeper.global)
	}
	if len(sweeper.tenants) != 1 || sweeper.tenants[0] != tenantID {
		t.Fatalf("expected tenant sweep for %s, got %v", tenantID, sweeper.tenants)
	}
}

func TestSweepTaskErrors(t *testing.T) {
	tests := []struct {
		name      string
		task      *asynq.Task
		sweepErr  error
		skipRetry bool
	}{
		{name: "malformed payload", task: asynq.NewTask(TaskFunnelSweep, []byte("{")), skipRetry: true},
		{name: "invalid tenant", task: asynq.NewTask(TaskFunnelSweep, []byte(`{"tenantId":"nope"}`)), skipRetry: true},
		{name: "sweep failure retries", task: asynq.NewTask(TaskFunnelSweep, nil), sweepErr: errors.New("db down"), skipRetry: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorker(&fakeSweeper{err: tt.sweepErr}, logger.New("test"))
			err := w.handleSweep(context.Background(), tt.task)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, asynq.SkipRetry) != tt.skipRetry {
				t.Fatalf("expected skipRetry=%v, got %v", tt.skipRetry, err)
			}
		})
	}
}

func TestWakeAtCoalescesWithinWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(schedulerConfig{redisURL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer func() { _ = client.Close() }()

	tenantID := uuid.New()
	at := time.Date(2026, 3, 2, 10, 15, 5, 0, time.UTC)
	for _, offset := range []time.Duration{0, 20 * time.Second} {
		if err := client.WakeAt(context.Background(), tenantID, at.Add(offset)); err != nil {
			t.Fatalf("WakeAt returned error: %v", err)
		}
	}
	if err := client.WakeAt(context.Background(), tenantID, at.Add(2*time.Minute)); err != nil {
		t.Fatalf("WakeAt returned error: %v", err)
	}

	scheduled, err := mr.ZMembers("asynq:{funnel}:scheduled")
	if err != nil {
		t.Fatalf("read scheduled set: %v", err)
	}
	if len(scheduled) != 2 {
		t.Fatalf("expected 2 scheduled sweeps, got %d", len(scheduled))
	}
}

func TestRedisClientOptRequiresURL(t *testing.T) {
	if _, err := RedisClientOpt(schedulerConfig{}); err == nil {
		t.Fatal("expected error without redis url")
	}

	opt, err := RedisClientOpt(schedulerConfig{redisURL: "rediss://user:pw@cache.internal:6380/2"})
	if err != nil {
		t.Fatalf("RedisClientOpt returned error: %v", err)
	}
	if opt.Addr != "cache.internal:6380" || opt.DB != 2 || opt.Password != "pw" || opt.TLSConfig == nil {
		t.Fatalf("unexpected options: %+v", opt)
	}
}

func TestCronSpec(t *testing.T) {
	if got := CronSpec(90 * time.Second); got != "@every 1m30s" {
		t.Fatalf("unexpected cron spec %q", got)
	}
}
