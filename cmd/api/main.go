package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"funnel_backend/internal/adapters/storage"
	"funnel_backend/internal/delivery"
	"funnel_backend/internal/eventrelay"
	"funnel_backend/internal/events"
	"funnel_backend/internal/funnel"
	"funnel_backend/internal/funnel/ports"
	"funnel_backend/internal/funnel/repository"
	apphttp "funnel_backend/internal/http"
	"funnel_backend/internal/http/router"
	"funnel_backend/internal/scheduler"
	"funnel_backend/migrations"
	"funnel_backend/platform/config"
	"funnel_backend/platform/db"
	"funnel_backend/platform/lock"
	"funnel_backend/platform/logger"
	"funnel_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.GetHTTPAddr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if cfg.MigrationsEnabled {
		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, cfg, migrations.FS)
		}); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete")
	}

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)

	if cfg.IsKafkaEnabled() {
		relay := eventrelay.New(eventrelay.NewWriter(cfg), log)
		relay.Subscribe(eventBus)
		defer func() { _ = relay.Close() }()
		log.Info("kafka event relay enabled", "topic", cfg.GetKafkaFunnelTopic())
	}

	locker, waker, closeScheduler := initScheduling(cfg, log)
	defer closeScheduler()

	ready := map[string]apphttp.Pinger{"database": db.NewHealthChecker(pool)}

	var exports ports.ObjectStore
	if cfg.IsMinIOEnabled() {
		storageSvc, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		bucket := cfg.GetMinioBucketFunnelExports()
		if err := withRetry(ctx, log, "ensure funnel exports bucket", 5, 2*time.Second, func() error {
			return storageSvc.EnsureBucketExists(ctx, bucket)
		}); err != nil {
			log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
			panic("failed to ensure storage bucket exists: " + err.Error())
		}
		exports = storageSvc
		ready["storage"] = apphttp.PingerFunc(func(ctx context.Context) error {
			return storageSvc.Ping(ctx, bucket)
		})
		log.Info("storage service initialized", "funnelExportsBucket", bucket)
	} else {
		log.Warn("MINIO_ENDPOINT not configured; funnel exports disabled")
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	funnelModule, err := funnel.NewModule(funnel.Deps{
		Store:   repository.New(pool),
		Bus:     eventBus,
		Log:     log,
		Val:     validator.New(),
		Config:  cfg,
		Sender:  delivery.FromConfig(cfg, log),
		Locker:  locker,
		Waker:   waker,
		Exports: exports,
	})
	if err != nil {
		log.Error("failed to initialize funnel module", "error", err)
		panic("failed to initialize funnel module: " + err.Error())
	}

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Ready:   ready,
		Modules: []apphttp.Module{funnelModule},
	}

	srv := &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}
	eventBus.Wait()
	log.Info("server stopped")
}

// initScheduling returns the delivery lock and the wake-up client. Without
// Redis the lock is process-local and due steps wait for the periodic sweep.
func initScheduling(cfg config.SchedulerConfig, log *logger.Logger) (lock.Locker, ports.Waker, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; using in-process delivery lock and no wake-ups")
		return lock.NewMemoryLocker(), nil, func() {}
	}

	redisClient, err := scheduler.NewRedisClient(cfg)
	if err != nil {
		log.Error("failed to initialize redis client", "error", err)
		panic("failed to initialize redis client: " + err.Error())
	}
	wakeClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		panic("failed to initialize scheduler client: " + err.Error())
	}

	return lock.NewRedisLocker(redisClient, lockPrefix), wakeClient, func() {
		_ = wakeClient.Close()
		_ = redisClient.Close()
	}
}

const lockPrefix = "funnel:lock:"

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
