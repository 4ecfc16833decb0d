package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

// Scheduler runs periodic maintenance tasks. Each task gets the context
// passed to Start and never overlaps with itself.
type Scheduler struct {
	log *logger.Logger
	s   gocron.Scheduler
	ctx context.Context
}

func New(log *logger.Logger) (*Scheduler, error) {
	log = log.With("component", "Scheduler")
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(gocronLogger{log: log}),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{log: log, s: s, ctx: context.Background()}, nil
}

// Every registers fn to run every interval. Register before Start.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %q: interval must be positive", name)
	}
	_, err := s.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { fn(s.ctx) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", name, err)
	}
	s.log.Info("job scheduled", "name", name, "interval", interval.String())
	return nil
}

// Start runs the registered jobs until ctx is done, then shuts down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	s.s.Start()
	<-ctx.Done()
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

type gocronLogger struct{ log *logger.Logger }

func (l gocronLogger) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }
func (l gocronLogger) Info(msg string, args ...any)  { l.log.Info(msg, args...) }
func (l gocronLogger) Warn(msg string, args ...any)  { l.log.Warn(msg, args...) }
func (l gocronLogger) Error(msg string, args ...any) { l.log.Error(msg, args...) }
