// Package service provides the operations behind the HTTP API. Handlers
// call its methods; business logic lives here, not in handlers.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/seedscout/seedscout/internal/config"
	"github.com/seedscout/seedscout/internal/deepanalysis"
	"github.com/seedscout/seedscout/internal/discovery"
	"github.com/seedscout/seedscout/internal/githubapi"
	"github.com/seedscout/seedscout/internal/model"
	"github.com/seedscout/seedscout/internal/queue"
	"github.com/seedscout/seedscout/internal/store"
	"github.com/seedscout/seedscout/internal/telemetry"
	"github.com/seedscout/seedscout/internal/watchlist"
)

// AdminService triggers and inspects pipeline runs. Runs are serialized:
// a trigger that arrives while another run holds the lock fails with
// CONFLICT instead of queueing behind it.
type AdminService struct {
	Client    *githubapi.Client
	Store     *store.Store
	Discovery *discovery.Pipeline
	Queue     *queue.Manager
	Deep      *deepanalysis.Pipeline
	Watchlist *watchlist.Generator
	EnvCfg    *config.EnvConfig
	Metrics   *telemetry.Metrics
	Reads     *ReadService

	runMu sync.Mutex
	now   func() time.Time
}

// NewAdminService wires an AdminService from its dependencies. Metrics and
// Reads may be nil.
func NewAdminService(client *githubapi.Client, st *store.Store, disc *discovery.Pipeline,
	qm *queue.Manager, deep *deepanalysis.Pipeline, wl *watchlist.Generator,
	envCfg *config.EnvConfig, metrics *telemetry.Metrics, reads *ReadService) *AdminService {
	return &AdminService{
		Client:    client,
		Store:     st,
		Discovery: disc,
		Queue:     qm,
		Deep:      deep,
		Watchlist: wl,
		EnvCfg:    envCfg,
		Metrics:   metrics,
		Reads:     reads,
		now:       time.Now,
	}
}

// DiscoveryResult bundles a discovery pass with the queue refresh that
// follows it.
type DiscoveryResult struct {
	Discovery discovery.Stats `json:"discovery"`
	Queue     queue.Stats     `json:"queue_refresh"`
}

// StatusReport is the admin view of the system.
type StatusReport struct {
	Version             string             `json:"version"`
	GitHub              githubapi.Stats    `json:"github"`
	Queue               store.QueueSummary `json:"queue"`
	LatestWatchlistDate time.Time          `json:"latest_watchlist_date,omitzero"`
	RecentJobRuns       []model.JobRun     `json:"recent_job_runs"`
	Criteria            CriteriaReport     `json:"criteria"`
}

// CriteriaReport echoes the configured universe criteria.
type CriteriaReport struct {
	MinStars         int `json:"min_stars"`
	MaxAgeMonths     int `json:"max_age_months"`
	MaxDaysSincePush int `json:"max_days_since_push"`
}

// RunDiscovery runs one discovery pass followed by a queue refresh, so the
// queue reflects the universe it just updated.
func (s *AdminService) RunDiscovery(ctx context.Context) (DiscoveryResult, error) {
	var result DiscoveryResult
	if !s.runMu.TryLock() {
		return result, conflict("a pipeline run is already in progress")
	}
	defer s.runMu.Unlock()

	started := s.now()
	dstats, err := s.Discovery.Run(ctx)
	result.Discovery = dstats
	s.observe(model.JobTypeDiscovery, started, err)
	if err != nil {
		return result, internal("discovery run failed: "+err.Error(), err)
	}

	started = s.now()
	qstats, err := s.Queue.Refresh(ctx)
	result.Queue = qstats
	s.observe(model.JobTypeQueueRefresh, started, err)
	if err != nil {
		return result, internal("queue refresh failed: "+err.Error(), err)
	}

	s.afterRun(ctx)
	return result, nil
}

// RunDeepAnalysis runs one deep-analysis pass over up to maxRepos queue
// entries. maxRepos 0 uses the configured default.
func (s *AdminService) RunDeepAnalysis(ctx context.Context, maxRepos int) (deepanalysis.Stats, error) {
	if maxRepos == 0 {
		maxRepos = s.EnvCfg.DeepAnalysisMaxRepos
	}
	if maxRepos < 1 || maxRepos > 100 {
		return deepanalysis.Stats{}, invalidArg("max_repos must be between 1 and 100")
	}
	if !s.runMu.TryLock() {
		return deepanalysis.Stats{}, conflict("a pipeline run is already in progress")
	}
	defer s.runMu.Unlock()

	started := s.now()
	stats, err := s.Deep.Run(ctx, maxRepos)
	s.observe(model.JobTypeDeepAnalysis, started, err)
	if err != nil {
		return stats, internal("deep analysis run failed: "+err.Error(), err)
	}

	s.afterRun(ctx)
	return stats, nil
}

// RunWatchlist generates one watchlist from current snapshots.
func (s *AdminService) RunWatchlist(ctx context.Context) (watchlist.Stats, error) {
	if !s.runMu.TryLock() {
		return watchlist.Stats{}, conflict("a pipeline run is already in progress")
	}
	defer s.runMu.Unlock()

	started := s.now()
	stats, err := s.Watchlist.Run(ctx)
	s.observe(model.JobTypeWatchlist, started, err)
	if err != nil {
		return stats, internal("watchlist run failed: "+err.Error(), err)
	}

	if s.Metrics != nil {
		s.Metrics.WatchlistEntries.Set(float64(stats.WatchlistSize))
	}
	if s.Reads != nil {
		s.Reads.Invalidate()
	}
	return stats, nil
}

// RefreshQueue reprioritizes the deep-analysis queue without a discovery
// pass.
func (s *AdminService) RefreshQueue(ctx context.Context) (queue.Stats, error) {
	if !s.runMu.TryLock() {
		return queue.Stats{}, conflict("a pipeline run is already in progress")
	}
	defer s.runMu.Unlock()

	started := s.now()
	stats, err := s.Queue.Refresh(ctx)
	s.observe(model.JobTypeQueueRefresh, started, err)
	if err != nil {
		return stats, internal("queue refresh failed: "+err.Error(), err)
	}

	s.afterRun(ctx)
	return stats, nil
}

// Status reports quota accounting, queue depth, and recent job runs. It
// does not take the run lock, so it stays responsive during long runs.
func (s *AdminService) Status(ctx context.Context, version string) (StatusReport, error) {
	report := StatusReport{
		Version: version,
		GitHub:  s.Client.Stats(),
		Criteria: CriteriaReport{
			MinStars:         s.EnvCfg.MinStars,
			MaxAgeMonths:     s.EnvCfg.MaxAgeMonths,
			MaxDaysSincePush: s.EnvCfg.MaxDaysSincePush,
		},
	}

	summary, err := s.Queue.Summary(ctx)
	if err != nil {
		return report, internal("summarize queue: "+err.Error(), err)
	}
	report.Queue = summary

	date, err := s.Store.LatestWatchlistDate(ctx)
	if err != nil {
		return report, internal("latest watchlist date: "+err.Error(), err)
	}
	report.LatestWatchlistDate = date

	runs, err := s.Store.RecentJobRuns(ctx, "", 10)
	if err != nil {
		return report, internal("recent job runs: "+err.Error(), err)
	}
	report.RecentJobRuns = runs

	return report, nil
}

func (s *AdminService) observe(jobType string, started time.Time, err error) {
	if s.Metrics == nil {
		return
	}
	status := model.JobStatusCompleted
	if err != nil {
		status = model.JobStatusFailed
	}
	s.Metrics.ObserveRun(jobType, status, s.now().Sub(started))
}

// afterRun refreshes the queue-depth gauge and drops cached reads.
func (s *AdminService) afterRun(ctx context.Context) {
	if s.Metrics != nil {
		if summary, err := s.Queue.Summary(ctx); err == nil {
			s.Metrics.QueuePending.Set(float64(summary.Pending))
		}
	}
	if s.Reads != nil {
		s.Reads.Invalidate()
	}
}
