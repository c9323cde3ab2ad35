// Package main is the entrypoint for the drive import server. One binary serves
// the coordinator, the worker pool or both, selected by IMPORTER_ROLE.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/driveimport/internal/api"
	"github.com/kiranshivaraju/driveimport/internal/api/handler"
	mw "github.com/kiranshivaraju/driveimport/internal/api/middleware"
	"github.com/kiranshivaraju/driveimport/internal/blob"
	"github.com/kiranshivaraju/driveimport/internal/cache"
	"github.com/kiranshivaraju/driveimport/internal/config"
	"github.com/kiranshivaraju/driveimport/internal/dispatch"
	"github.com/kiranshivaraju/driveimport/internal/drive"
	"github.com/kiranshivaraju/driveimport/internal/importer"
	"github.com/kiranshivaraju/driveimport/internal/jobs"
	"github.com/kiranshivaraju/driveimport/internal/registry"
	"github.com/kiranshivaraju/driveimport/internal/store"
	"github.com/kiranshivaraju/driveimport/internal/worker"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	slog.SetDefault(newLogger("info"))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"role", cfg.Server.Role,
		"transport", cfg.Dispatch.Transport,
		"job_store", cfg.Jobs.Store,
		"storage", cfg.Storage.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	shared, redisCache, err := newCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisCache != nil {
		defer redisCache.Close()
	}

	sink, err := blob.NewSink(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create blob sink: %w", err)
	}
	slog.Info("blob storage ready", "provider", sink.Provider())

	driveClient, err := drive.NewAPIClient(ctx, cfg.Drive)
	if err != nil {
		return fmt.Errorf("create drive client: %w", err)
	}

	tr, err := newTransport(cfg)
	if err != nil {
		return err
	}
	defer tr.close()

	records := registry.NewPostgresRegistry(pool)
	images := registry.NewService(records, sink)

	checks := []handler.HealthCheck{
		{Name: "database", Pinger: records},
		{Name: "storage", Pinger: sink},
	}
	if redisCache != nil {
		checks = append(checks, handler.HealthCheck{Name: "redis", Pinger: redisCache})
	}
	if tr.conn != nil {
		checks = append(checks, handler.HealthCheck{Name: "nats", Pinger: natsPinger{tr.conn}})
	}

	deps := api.Dependencies{
		RateLimit:          mw.NewRateLimit(shared, cfg.Server.RateLimitPerMinute),
		HealthHandler:      handler.NewHealthHandler(checks...),
		ListImagesHandler:  handler.NewListImagesHandler(images),
		AllImagesHandler:   handler.NewAllImagesHandler(images),
		GetImageHandler:    handler.NewGetImageHandler(images),
		CreateImageHandler: handler.NewCreateImageHandler(images),
		DeleteImageHandler: handler.NewDeleteImageHandler(images),
		StatsHandler:       handler.NewStatsHandler(images),
	}

	var coord *importer.Coordinator
	if cfg.RunsCoordinator() {
		jobStore, err := newJobStore(cfg, pool, redisCache)
		if err != nil {
			return err
		}
		coord = importer.NewCoordinator(driveClient, jobStore, tr.dispatcher,
			importer.Options{BatchSize: cfg.Jobs.BatchSize})

		deps.SubmitImportHandler = handler.NewSubmitImportHandler(coord)
		deps.ImportStatusHandler = handler.NewImportStatusHandler(coord)
		deps.UpdateStatusHandler = handler.NewUpdateStatusHandler(coord)
		slog.Info("coordinator enabled", "batch_size", cfg.Jobs.BatchSize)
	}

	var workers *worker.Pool
	if cfg.RunsWorker() {
		workers = worker.NewPool(
			worker.NewProcessor(driveClient, sink, records),
			tr.reporter,
			shared,
			worker.Config{
				Capacity:      cfg.Worker.Capacity,
				BacklogSize:   cfg.Worker.BacklogSize,
				ReportTimeout: reportBudget(cfg.Dispatch),
				DedupeTTL:     cfg.Jobs.Retention,
			},
		)
		// Items keep running after the signal so Shutdown can drain them.
		workers.Start(context.WithoutCancel(ctx))

		deps.AcceptBatchHandler = handler.NewAcceptBatchHandler(workers)
		deps.ProcessItemHandler = handler.NewProcessItemHandler(workers)
	}

	if err := tr.bind(coord, workers); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining...")
		return shutdown(srv, coord, workers)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

// shutdown stops intake first, then lets dispatches and queued items finish.
func shutdown(srv *http.Server, coord *importer.Coordinator, workers *worker.Pool) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if coord != nil {
		if err := coord.Wait(ctx); err != nil {
			slog.Warn("pending dispatches abandoned", "error", err)
		}
	}
	if workers != nil {
		if err := workers.Shutdown(ctx); err != nil {
			return fmt.Errorf("worker shutdown: %w", err)
		}
	}
	return nil
}

// reportBudget bounds one outcome report across all of its attempts.
func reportBudget(cfg config.DispatchConfig) time.Duration {
	return cfg.ReportTimeout * time.Duration(max(cfg.MaxRetries, 0)+1)
}

// newCache returns redis when configured, otherwise a process-local cache.
func newCache(ctx context.Context, cfg config.RedisConfig) (cache.Cache, *cache.RedisCache, error) {
	if cfg.URL == "" {
		slog.Info("REDIS_URL not set, using in-process cache")
		return cache.NewMemoryCache(), nil, nil
	}
	rc, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return rc, rc, nil
}

func newJobStore(cfg *config.Config, pool *pgxpool.Pool, rc *cache.RedisCache) (jobs.Store, error) {
	switch cfg.Jobs.Store {
	case "memory":
		return jobs.NewMemoryStore(), nil
	case "redis":
		if rc == nil {
			return nil, fmt.Errorf("job store redis needs REDIS_URL")
		}
		return jobs.NewRedisStore(rc.Client(), cfg.Jobs.Retention), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("job store postgres needs a database pool")
		}
		return jobs.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown job store %q", cfg.Jobs.Store)
	}
}

// transport bundles how batches leave the coordinator and outcomes leave the worker.
type transport struct {
	dispatcher dispatch.Dispatcher
	reporter   dispatch.Reporter
	loop       *dispatch.Loopback
	conn       *nats.Conn
	subs       []*nats.Subscription
}

func newTransport(cfg *config.Config) (*transport, error) {
	retry := dispatch.Retry{
		MaxRetries:     cfg.Dispatch.MaxRetries,
		AttemptTimeout: cfg.Dispatch.Timeout,
	}
	// Reports are bounded by REPORT_TIMEOUT per attempt, not DISPATCH_TIMEOUT.
	reportRetry := dispatch.Retry{
		MaxRetries:     cfg.Dispatch.MaxRetries,
		AttemptTimeout: cfg.Dispatch.ReportTimeout,
	}

	switch cfg.Dispatch.Transport {
	case "local":
		loop := dispatch.NewLoopback()
		return &transport{dispatcher: loop, reporter: loop, loop: loop}, nil

	case "http":
		dispatchClient := &http.Client{Timeout: cfg.Dispatch.Timeout}
		reportClient := &http.Client{Timeout: cfg.Dispatch.ReportTimeout}
		return &transport{
			dispatcher: dispatch.WithRetry(dispatch.NewHTTPDispatcher(cfg.Dispatch.WorkerURL, dispatchClient), retry),
			reporter:   dispatch.WithReportRetry(dispatch.NewHTTPReporter(cfg.Dispatch.CoordinatorURL, reportClient), reportRetry),
		}, nil

	case "nats":
		conn, err := nats.Connect(cfg.Dispatch.NATSURL,
			nats.Name("driveimport-"+cfg.Server.Role),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Warn("nats disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				slog.Info("nats reconnected", "url", c.ConnectedUrl())
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		slog.Info("nats connected", "url", conn.ConnectedUrl())
		return &transport{
			dispatcher: dispatch.WithRetry(dispatch.NewNATSDispatcher(conn), retry),
			reporter:   dispatch.WithReportRetry(dispatch.NewNATSReporter(conn), reportRetry),
			conn:       conn,
		}, nil

	default:
		return nil, fmt.Errorf("unknown dispatch transport %q", cfg.Dispatch.Transport)
	}
}

// bind connects the receiving ends once coordinator and pool exist. Either may be
// nil when this process runs a single role.
func (t *transport) bind(coord *importer.Coordinator, workers *worker.Pool) error {
	if t.loop != nil {
		if coord == nil || workers == nil {
			return fmt.Errorf("local transport needs both coordinator and worker in one process")
		}
		t.loop.Attach(workers, coord)
		return nil
	}
	if t.conn == nil {
		return nil
	}
	if workers != nil {
		sub, err := dispatch.ServeBatches(t.conn, workers)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", dispatch.SubjectBatches, err)
		}
		t.subs = append(t.subs, sub)
	}
	if coord != nil {
		sub, err := dispatch.ServeOutcomes(t.conn, coord)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", dispatch.SubjectOutcomes, err)
		}
		t.subs = append(t.subs, sub)
	}
	return nil
}

func (t *transport) close() {
	if t.conn == nil {
		return
	}
	if err := t.conn.Drain(); err != nil {
		slog.Warn("nats drain failed", "error", err)
	}
}

type natsPinger struct{ conn *nats.Conn }

func (p natsPinger) Ping(ctx context.Context) error {
	if !p.conn.IsConnected() {
		return fmt.Errorf("nats status %s", p.conn.Status())
	}
	return p.conn.FlushWithContext(ctx)
}
