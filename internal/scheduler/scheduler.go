// Package scheduler runs periodic maintenance jobs such as session sweeps and
// source refreshes.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Job receives a context that is cancelled when the scheduler stops.
type Job func(ctx context.Context) error

type Scheduler struct {
	scheduler *gocron.Scheduler
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop halts scheduling and cancels the context handed to running jobs.
func (s *Scheduler) Stop() {
	s.cancel()
	s.scheduler.Stop()
}

// Every registers job under tag. The first run happens one interval after Start.
func (s *Scheduler) Every(tag string, interval time.Duration, job Job) error {
	_, err := s.scheduler.Every(interval).WaitForSchedule().Tag(tag).Do(s.wrap(tag, job))
	return err
}

// Cron registers job under tag using a standard five-field cron expression.
func (s *Scheduler) Cron(tag, expr string, job Job) error {
	_, err := s.scheduler.Cron(expr).Tag(tag).Do(s.wrap(tag, job))
	return err
}

func (s *Scheduler) Remove(tag string) error {
	return s.scheduler.RemoveByTag(tag)
}

func (s *Scheduler) Tags() []string {
	var tags []string
	for _, j := range s.scheduler.Jobs() {
		tags = append(tags, j.Tags()...)
	}
	return tags
}

func (s *Scheduler) wrap(tag string, job Job) func() {
	return func() {
		start := time.Now()
		if err := job(s.ctx); err != nil {
			s.logger.Error("scheduled job failed", "job", tag, "error", err, "duration", time.Since(start))
			return
		}
		s.logger.Debug("scheduled job finished", "job", tag, "duration", time.Since(start))
	}
}
