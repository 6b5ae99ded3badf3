// Command scheduler runs the three cron-driven singletons (spec.md §4.E/F/G)
// in one process, generalizing the teacher's cmd/api wiring shape (tracer
// init, slog+trace handler, pool, prom registry, graceful shutdown) onto the
// dispatch pipeline instead of an HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/occasionhub/birthdaysvc/internal/adminapi"
	"github.com/occasionhub/birthdaysvc/internal/config"
	"github.com/occasionhub/birthdaysvc/internal/db"
	"github.com/occasionhub/birthdaysvc/internal/observability"
	"github.com/occasionhub/birthdaysvc/internal/queue/redisqueue"
	"github.com/occasionhub/birthdaysvc/internal/repo/postgres"
	"github.com/occasionhub/birthdaysvc/internal/scheduler"
	"github.com/occasionhub/birthdaysvc/internal/timezone"
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
		shutdownTracer, terr := observability.InitTracer(ctx, "birthdaysvc-scheduler", cfg.OtelEndpoint)
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
	resolver := timezone.NewResolver()

	rq := redisqueue.New(redisqueue.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB, ConsumerName: "scheduler"})
	defer rq.Close()
	if err := rq.EnsureGroup(ctx); err != nil {
		logger.Error("queue.ensure_group_failed", "err", err)
		os.Exit(1)
	}

	daily := scheduler.NewDailyScheduler(users, messageLogs, resolver, cfg.PrecalcHorizonDays, cfg.DailyCron, logger)
	minute := scheduler.NewMinuteScheduler(messageLogs, messageLogs, rq, cfg.MinuteCron, logger)
	recovery := scheduler.NewRecoveryScheduler(messageLogs, rq, scheduler.RecoveryConfig{
		Grace:           cfg.StrandedGrace,
		MaxRetries:      cfg.MaxRecoveryRetries,
		HardLateness:    cfg.StrandedHardLateness,
		WorkerStaleness: cfg.WorkerStaleTimeout,
	}, cfg.RecoveryCron, logger)

	router := adminapi.NewRouter(messageLogs, pingablePool{pool}, rq, reg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return daily.Run(gctx, cfg.SchedulerShutdownGrace) })
	g.Go(func() error { return minute.Run(gctx, cfg.SchedulerShutdownGrace) })
	g.Go(func() error { return recovery.Run(gctx, cfg.SchedulerShutdownGrace) })
	g.Go(func() error { return observability.RunHTTPServer(gctx, cfg.AdminAddr, router, logger) })

	logger.Info("scheduler.start", "admin_addr", cfg.AdminAddr, "precalc_horizon_days", cfg.PrecalcHorizonDays)

	if err := g.Wait(); err != nil {
		logger.Error("scheduler.run_failed", "err", err)
	}

	logger.Info("scheduler.shutdown_complete")
}

type pingablePool struct {
	pool *pgxpool.Pool
}

func (p pingablePool) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }
