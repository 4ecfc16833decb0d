package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	types "github.com/yungbote/kanda-backend/internal/domain"
	jobsdomain "github.com/yungbote/kanda-backend/internal/domain/jobs"
	"github.com/yungbote/kanda-backend/internal/jobs/runtime"
	"github.com/yungbote/kanda-backend/internal/observability"
	"github.com/yungbote/kanda-backend/internal/pkg/ctxutil"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/services"
)

type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	StaleRunning      time.Duration
	HeartbeatInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.StaleRunning <= 0 {
		c.StaleRunning = 30 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	return c
}

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	cfg      Config
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, notify services.JobNotifier, cfg Config) *Worker {
	if notify == nil {
		notify = services.NopJobNotifier{}
	}
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
		cfg:      cfg.withDefaults(),
	}
}

// Start runs the worker pool until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	w.log.Info("Starting job worker pool",
		"concurrency", w.cfg.Concurrency,
		"max_attempts", w.cfg.MaxAttempts,
		"retry_delay", w.cfg.RetryDelay.String(),
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			w.runLoop(gctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			for w.RunOnce(ctx) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// RunOnce claims and executes at most one job. It reports whether a job
// was found.
func (w *Worker) RunOnce(ctx context.Context) bool {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.cfg.MaxAttempts, w.cfg.RetryDelay, w.cfg.StaleRunning)
	if err != nil {
		w.log.Warn("ClaimNextRunnable failed", "error", err)
		return false
	}
	if job == nil {
		return false
	}
	w.execute(ctx, job)
	return true
}

func (w *Worker) execute(ctx context.Context, job *types.JobRun) {
	start := time.Now()
	jc := runtime.NewContext(ctx, w.db, job, w.repo, w.notify, runtime.Policy{
		MaxAttempts: w.cfg.MaxAttempts,
		RetryDelay:  w.cfg.RetryDelay,
	})
	log := w.log.With("job_id", job.ID, "job_type", job.JobType, "attempt", job.Attempts)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		log.Warn("No handler registered for job_type")
		jc.Dead("dispatch", &missingHandlerError{JobType: job.JobType})
		observability.Current().ObserveJob(job.JobType, jc.Job.Status, time.Since(start))
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeat(hbCtx, job)

	func() {
		defer stopHeartbeat()
		defer func() {
			if r := recover(); r != nil {
				log.Error("Job handler panic", "panic", r)
				w.fail(ctx, h, jc, "panic", errFromRecover(r))
			}
		}()
		if runErr := h.Run(jc); runErr != nil && jc.Job.Status == jobsdomain.StatusRunning {
			w.fail(ctx, h, jc, "run", runErr)
		}
	}()

	if jc.Job.Status == jobsdomain.StatusRunning {
		log.Warn("Handler returned without finishing the job")
		w.fail(ctx, h, jc, "run", fmt.Errorf("handler returned without a terminal status"))
	}
	observability.Current().ObserveJob(job.JobType, jc.Job.Status, time.Since(start))
}

// fail finishes a run the handler did not finish itself. On the last attempt
// the row goes dead and the handler gets a chance to settle its entity.
func (w *Worker) fail(ctx context.Context, h runtime.Handler, jc *runtime.Context, stage string, err error) {
	if !jc.LastAttempt() {
		jc.Fail(stage, err)
		return
	}
	jc.Dead(stage, err)
	if ex, ok := h.(runtime.Exhauster); ok && jc.Job.Status == jobsdomain.StatusDead {
		ex.OnExhausted(ctxutil.Default(ctx), jc.Job, jc.Notify, err)
	}
}

// SweepExhausted moves stale running jobs that have no attempts left to dead.
// The claim query never picks them up again, so without this they would
// stay running forever.
func (w *Worker) SweepExhausted(ctx context.Context) (int, error) {
	jobs, err := w.repo.MarkStaleExhaustedDead(dbctx.Context{Ctx: ctx}, w.cfg.MaxAttempts, w.cfg.StaleRunning, errStaleExhausted.Error())
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		w.log.Warn("Stale job exhausted its attempts", "job_id", job.ID, "job_type", job.JobType, "attempts", job.Attempts)
		w.notify.JobFailed(job.OwnerUserID, job, job.Stage, job.Error)
		if h, ok := w.registry.Get(job.JobType); ok {
			if ex, ok := h.(runtime.Exhauster); ok {
				ex.OnExhausted(ctx, job, w.notify, errStaleExhausted)
			}
		}
		observability.Current().ObserveJob(job.JobType, job.Status, 0)
	}
	return len(jobs), nil
}

var errStaleExhausted = errors.New("job stopped heartbeating on its last attempt")

func (w *Worker) heartbeat(ctx context.Context, job *types.JobRun) {
	t := time.NewTicker(w.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.repo.Heartbeat(dbctx.Context{Ctx: ctx}, job.ID); err != nil {
				w.log.Warn("Job heartbeat failed", "job_id", job.ID, "error", err)
			}
		}
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return "panic: unexpected error" }
