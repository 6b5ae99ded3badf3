// Command worker runs the Worker Pool (spec.md §4.H) against the queue
// transport, generalizing the teacher's cmd/worker/main.go wiring (tracer,
// pool, prom registry, notifier-behind-a-breaker, graceful shutdown) onto
// the vendor client and message-log dispatch domain.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/occasionhub/birthdaysvc/internal/backoff"
	"github.com/occasionhub/birthdaysvc/internal/config"
	"github.com/occasionhub/birthdaysvc/internal/db"
	"github.com/occasionhub/birthdaysvc/internal/observability"
	"github.com/occasionhub/birthdaysvc/internal/queue/redisqueue"
	"github.com/occasionhub/birthdaysvc/internal/repo/postgres"
	"github.com/occasionhub/birthdaysvc/internal/vendor"
	"github.com/occasionhub/birthdaysvc/internal/workerpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("config.load_failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if cfg.OtelEnabled {
		shutdownTracer, terr := observability.InitTracer(ctx, "birthdaysvc-worker", cfg.OtelEndpoint)
		if terr != nil {
			logger.Error("otel.init_failed", "err", terr)
			os.Exit(1)
		}
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	pool, err := db.NewPool(cfg.DBURL, cfg.DBPool)
	if err != nil {
		logger.Error("db.connect_failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	messageLogs := postgres.NewMessageLogsRepo(pool, prom)
	users := postgres.NewUsersRepo(pool)

	host, _ := os.Hostname()

	rq := redisqueue.New(redisqueue.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB, ConsumerName: host + "-" + os.Getenv("HOSTNAME")})
	defer rq.Close()
	if err := rq.EnsureGroup(ctx); err != nil {
		logger.Error("queue.ensure_group_failed", "err", err)
		os.Exit(1)
	}

	var baseClient vendor.Client
	if cfg.Env == "dev" {
		baseClient = vendor.NewLogClient()
	} else {
		baseClient = vendor.NewHTTPClient(cfg.VendorURL, cfg.VendorRequestTimeout)
	}

	breaker := vendor.NewBreaker(baseClient, vendor.BreakerConfig{
		Window:           10 * time.Second,
		ErrorThreshold:   cfg.CircuitThreshold,
		Cooldown:         cfg.CircuitReset,
		RequestTimeout:   cfg.VendorRequestTimeout,
		HalfOpenMaxCalls: 1,
	})

	wp := workerpool.New(workerpool.Config{
		Concurrency: cfg.WorkerConcurrency,
		Prefetch:    cfg.WorkerPrefetch,
		MaxRetries:  cfg.MaxWorkerRetries,
		DrainWindow: cfg.WorkerDrainWindow,
		BackoffPolicy: backoff.Policy{
			Base:   cfg.BackoffBase,
			Factor: cfg.BackoffFactor,
			Cap:    cfg.BackoffCap,
		},
	}, messageLogs, users, rq, breaker, logger)

	retryPromoter := func(ctx context.Context) {
		if n, err := rq.PromoteDueRetries(ctx); err != nil {
			logger.Error("worker.promote_due_retries_error", "err", err)
		} else if n > 0 {
			logger.Info("worker.promote_due_retries", "count", n)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wp.Run(gctx) })
	g.Go(func() error { return runRetryPromoterLoop(gctx, retryPromoter) })
	g.Go(func() error {
		router := workerHealthRouter(breaker, reg)
		return observability.RunHTTPServer(gctx, cfg.AdminAddr, router, logger)
	})

	logger.Info("worker.start", "concurrency", cfg.WorkerConcurrency, "admin_addr", cfg.AdminAddr)

	if err := g.Wait(); err != nil {
		logger.Error("worker.run_failed", "err", err)
	}

	logger.Info("worker.shutdown_complete")
}
