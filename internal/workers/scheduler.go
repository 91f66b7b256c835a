// Package workers schedules the background polling jobs.
package workers

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sendramp/ramp-service/pkg/logger"
)

// Job is a named unit of scheduled work.
type Job interface {
	Run(ctx context.Context)
}

// Scheduler drives jobs on cron specs. It satisfies graceful.Shutdowner so
// in-flight cycles finish before the process exits.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *logger.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler(log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
		logger: log,
	}
}

// Add registers a job on the given cron spec (e.g. "@every 1m").
func (s *Scheduler) Add(spec, name string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		job.Run(s.ctx)
	})
	if err != nil {
		return err
	}
	s.logger.Info("scheduled worker", "name", name, "spec", spec)
	return nil
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Shutdown stops scheduling and waits for running jobs up to the timeout.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.cancel()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-time.After(timeout):
		return stopCtx.Err()
	}
}
