// Package scheduler drives the pipelines on cron schedules. It delegates
// to the admin service, whose run lock turns an overlapping trigger into a
// CONFLICT error; the scheduler logs those as skips instead of queueing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/seedscout/seedscout/internal/config"
	"github.com/seedscout/seedscout/internal/service"
)

// Scheduler owns the cron runner.
type Scheduler struct {
	cron  *cron.Cron
	admin *service.AdminService

	jobCount int
}

// New registers the configured schedules. An empty schedule disables the
// corresponding job.
func New(admin *service.AdminService, cfg *config.EnvConfig) (*Scheduler, error) {
	s := &Scheduler{
		cron:  cron.New(),
		admin: admin,
	}

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"discovery", cfg.DiscoverySchedule, func(ctx context.Context) error {
			_, err := admin.RunDiscovery(ctx)
			return err
		}},
		{"deep-analysis", cfg.DeepAnalysisSchedule, func(ctx context.Context) error {
			_, err := admin.RunDeepAnalysis(ctx, 0)
			return err
		}},
		{"watchlist", cfg.WatchlistSchedule, func(ctx context.Context) error {
			_, err := admin.RunWatchlist(ctx)
			return err
		}},
	}

	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.schedule, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("scheduler: add %s job: %w", job.name, err)
		}
		s.jobCount++
		log.Printf("[scheduler] %s scheduled: %s", job.name, job.schedule)
	}

	return s, nil
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		err := run(context.Background())
		if err == nil {
			return
		}
		var svcErr *service.ServiceError
		if errors.As(err, &svcErr) && svcErr.Code == "CONFLICT" {
			log.Printf("[scheduler] %s skipped: another run in progress", name)
			return
		}
		log.Printf("[scheduler] %s failed: %v", name, err)
	}
}

// JobCount reports how many jobs were registered.
func (s *Scheduler) JobCount() int {
	return s.jobCount
}

// Start begins running jobs at their scheduled times.
func (s *Scheduler) Start() {
	if s.jobCount == 0 {
		log.Printf("[scheduler] no schedules configured, scheduler idle")
		return
	}
	s.cron.Start()
}

// Stop halts scheduling and waits for any running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
