package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/db"
	"github.com/yungbote/kanda-backend/internal/http"
	"github.com/yungbote/kanda-backend/internal/observability"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/platform/scheduler"
	"github.com/yungbote/kanda-backend/internal/realtime"
)

const (
	tokenReapInterval  = time.Minute
	queueDepthInterval = 15 * time.Second
	staleSweepInterval = time.Minute
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *gorm.DB
	Metrics  *observability.Metrics
	Repos    Repos
	Clients  Clients
	Services Services
	SSEHub   *realtime.SSEHub
	Server   *http.Server

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
}

// New builds every component. Nothing runs until Serve or Work is called.
func New(ctx context.Context, cfg Config) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Log: log, Cfg: cfg}
	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		Enabled:     cfg.OtelEnabled,
		ServiceName: cfg.OtelServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OtelEndpoint,
		Headers:     cfg.OtelHeaders,
		Insecure:    cfg.OtelInsecure,
		SampleRatio: cfg.OtelSampleRatio,
	})
	a.Metrics = observability.Init(cfg.MetricsEnabled)

	pg, err := OpenDB(log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pg = pg
	a.DB = pg.DB()
	if err := db.AutoMigrateAll(a.DB); err != nil {
		a.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	a.Clients, err = wireClients(ctx, log, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.SSEHub = realtime.NewSSEHub(log)
	a.Repos = wireRepos(a.DB, log)
	a.Services, err = wireServices(a.DB, log, cfg, a.Repos, a.Clients, a.SSEHub)
	if err != nil {
		a.Close()
		return nil, err
	}
	handlers := wireHandlers(a.DB, log, a.Repos, a.Clients, a.Services, a.SSEHub)
	a.Server = wireServer(log, cfg, a.Metrics, handlers, a.Services)
	return a, nil
}

// OpenDB connects using the configured driver without migrating.
func OpenDB(log *logger.Logger, cfg Config) (*db.PostgresService, error) {
	pg, err := db.NewPostgresService(log, db.Config{
		Driver:          cfg.DBDriver,
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPassword,
		Name:            cfg.PostgresName,
		SSLMode:         cfg.PostgresSSLMode,
		SQLitePath:      cfg.SQLitePath,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	})
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	return pg, nil
}

// Serve runs the HTTP API together with the job worker and maintenance
// schedule until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.Addr())
		return a.Server.Run(gctx, a.Cfg.Addr())
	})
	g.Go(func() error { return a.Services.Publisher.Forward(gctx) })
	a.startBackground(gctx, g)
	return ignoreCanceled(g.Wait())
}

// Work runs only the job worker and maintenance schedule, for deployments
// that scale workers apart from the API.
func (a *App) Work(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.startBackground(gctx, g)
	return ignoreCanceled(g.Wait())
}

func (a *App) startBackground(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return a.Services.JobWorker.Start(ctx) })
	g.Go(func() error {
		sched, err := a.newScheduler()
		if err != nil {
			return err
		}
		return sched.Start(ctx)
	})
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	sched, err := scheduler.New(a.Log)
	if err != nil {
		return nil, err
	}
	if mem := a.Clients.MemorySessions; mem != nil {
		err := sched.Every("session_reap", tokenReapInterval, func(context.Context) {
			if n := mem.Reap(); n > 0 {
				a.Log.Debug("expired sessions removed", "count", n)
			}
			a.Metrics.SetTokenStoreSize(mem.Len())
		})
		if err != nil {
			return nil, err
		}
	}
	err = sched.Every("stale_job_sweep", staleSweepInterval, func(ctx context.Context) {
		n, err := a.Services.JobWorker.SweepExhausted(ctx)
		if err != nil {
			a.Log.Warn("stale job sweep failed", "error", err)
			return
		}
		if n > 0 {
			a.Log.Info("stale jobs marked dead", "count", n)
		}
	})
	if err != nil {
		return nil, err
	}
	err = sched.Every("queue_depth", queueDepthInterval, func(ctx context.Context) {
		a.Metrics.CollectQueueDepth(ctx, a.Log, func(ctx context.Context) (map[string]int64, error) {
			return a.Services.JobService.QueueDepth(dbctx.Context{Ctx: ctx})
		})
	})
	if err != nil {
		return nil, err
	}
	return sched, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Clients.Close(ctx)
	if a.pg != nil {
		if err := a.pg.Close(); err != nil {
			a.Log.Warn("close database failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
