package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Dm1try555/banister-backend-sub000/internal/adapter/csvfile"
	cfhttp "github.com/Dm1try555/banister-backend-sub000/internal/adapter/http"
	"github.com/Dm1try555/banister-backend-sub000/internal/adapter/mcp"
	cfnats "github.com/Dm1try555/banister-backend-sub000/internal/adapter/nats"
	"github.com/Dm1try555/banister-backend-sub000/internal/adapter/natskv"
	cfotel "github.com/Dm1try555/banister-backend-sub000/internal/adapter/otel"
	"github.com/Dm1try555/banister-backend-sub000/internal/adapter/postgres"
	"github.com/Dm1try555/banister-backend-sub000/internal/adapter/ristretto"
	"github.com/Dm1try555/banister-backend-sub000/internal/adapter/tiered"
	"github.com/Dm1try555/banister-backend-sub000/internal/adapter/ws"
	"github.com/Dm1try555/banister-backend-sub000/internal/config"
	"github.com/Dm1try555/banister-backend-sub000/internal/logger"
	"github.com/Dm1try555/banister-backend-sub000/internal/middleware"
	"github.com/Dm1try555/banister-backend-sub000/internal/resilience"
	"github.com/Dm1try555/banister-backend-sub000/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		err = runAdmin(os.Args[2:])
	} else {
		err = run(os.Args[1:])
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, yamlPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"file", yamlPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"concurrency", cfg.Workers.Concurrency,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTEL, err := cfotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	queue, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	cacheKV, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("cache bucket: %w", err)
	}
	idemKV, err := queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency bucket: %w", err)
	}

	// Caches
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	snapshots := tiered.New(l1, natskv.New(cacheKV), cfg.Cache.L2TTL)

	// --- Services ---
	store := postgres.NewTaskStore(pool)
	reader := postgres.NewSourceReader(pool)
	artifacts := csvfile.New(cfg.Workers.ResultsDir)
	hub := ws.NewHub(originPattern(cfg.Server.CORSOrigin))
	defer hub.Close()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	rt := service.NewRuntime(store, reader, artifacts, hub, log, service.RuntimeConfig{
		WorkerID:               uuid.NewString(),
		MaxConsecutiveFailures: cfg.Workers.MaxConsecutiveFailures,
	})
	rt.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	rt.SetMetrics(metrics)

	workers := service.NewWorkerPool(rt, store, queue, service.PoolConfig{
		Concurrency:  cfg.Workers.Concurrency,
		PollInterval: cfg.Workers.PollInterval,
	}, log)

	recovery := service.NewRecovery(store, hub, cfg.Workers.StaleAfter, log)
	if ids, err := recovery.Sweep(ctx); err != nil {
		slog.Warn("startup stale sweep failed", "error", err)
	} else if len(ids) > 0 {
		slog.Info("failed stale tasks at startup", "count", len(ids))
	}
	retention := service.NewRetention(store, artifacts, snapshots, cfg.Retention.MaxAge, log)

	sched := service.NewScheduler(log, time.UTC)
	if err := sched.Add("stale-sweep", cfg.Workers.SweepSchedule, func(ctx context.Context) error {
		_, err := recovery.Sweep(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	if cfg.Retention.Schedule != "" {
		if err := sched.Add("retention", cfg.Retention.Schedule, func(ctx context.Context) error {
			_, err := retention.Prune(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("schedule retention: %w", err)
		}
	}

	taskSvc := service.NewTaskService(store, queue, artifacts)
	taskSvc.SetCache(snapshots, cfg.Cache.L2TTL)

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Tasks: taskSvc,
		Checks: map[string]cfhttp.HealthCheck{
			"postgres": store.Ping,
			"nats":     cfhttp.ConnectedCheck(queue.IsConnected),
		},
	}

	limiter := middleware.NewRateLimiter(cfg.Rate)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(limiter.Handler)

	r.Get("/ws", hub.HandleWS)
	if cfg.MCP.Enabled {
		mcpSrv := mcp.NewServer(mcp.ServerConfig{
			Name:    cfg.Logging.Service,
			Version: cfhttp.Version,
		}, mcp.ServerDeps{Tasks: taskSvc})
		r.Handle("/mcp", mcpSrv.Handler())
	}
	cfhttp.MountRoutes(r, handlers, middleware.Idempotency(idemKV))

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workers.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	if drainErr := queue.Drain(); drainErr != nil {
		slog.Warn("nats drain", "error", drainErr)
	}
	slog.Info("shutdown complete")
	return err
}

// originPattern turns the CORS origin into the host pattern the WebSocket
// handshake checks against.
func originPattern(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}
