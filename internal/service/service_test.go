package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/seedscout/seedscout/internal/config"
	"github.com/seedscout/seedscout/internal/deepanalysis"
	"github.com/seedscout/seedscout/internal/discovery"
	"github.com/seedscout/seedscout/internal/githubapi"
	"github.com/seedscout/seedscout/internal/model"
	"github.com/seedscout/seedscout/internal/queue"
	"github.com/seedscout/seedscout/internal/store"
	"github.com/seedscout/seedscout/internal/telemetry"
	"github.com/seedscout/seedscout/internal/testutil"
	"github.com/seedscout/seedscout/internal/watchlist"
)

func newTestAdmin(t *testing.T) (*AdminService, *store.Store, *testutil.GitHubStub) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	stub := testutil.NewGitHubStub(t)
	client := githubapi.NewClient(githubapi.Options{
		BaseURL:     stub.URL(),
		Token:       "test-token",
		SafetyFloor: 100,
	})
	t.Cleanup(client.Close)

	envCfg := &config.EnvConfig{
		MinStars:                      2000,
		MaxAgeMonths:                  24,
		MaxDaysSincePush:              90,
		DeepAnalysisMaxRepos:          25,
		DeepAnalysisMaxRequestsPerRun: 5000,
	}
	crit := discovery.Criteria{
		MinStars:         envCfg.MinStars,
		MaxAgeMonths:     envCfg.MaxAgeMonths,
		MaxDaysSincePush: envCfg.MaxDaysSincePush,
	}

	reads, err := NewReadService(st)
	if err != nil {
		t.Fatalf("read service: %v", err)
	}
	t.Cleanup(reads.Close)

	admin := NewAdminService(
		client, st,
		discovery.New(client, st, crit),
		queue.NewManager(st),
		deepanalysis.New(client, st, envCfg.DeepAnalysisMaxRequestsPerRun, config.DefaultScoringConfig()),
		watchlist.New(st),
		envCfg,
		telemetry.New(client),
		reads,
	)
	return admin, st, stub
}

func serviceCode(t *testing.T, err error) string {
	t.Helper()
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("want ServiceError, got %v", err)
	}
	return svcErr.Code
}

func TestRunDeepAnalysisValidatesMaxRepos(t *testing.T) {
	admin, _, _ := newTestAdmin(t)

	for _, maxRepos := range []int{-1, 101} {
		_, err := admin.RunDeepAnalysis(context.Background(), maxRepos)
		if code := serviceCode(t, err); code != "INVALID_ARGUMENT" {
			t.Fatalf("max_repos %d: code = %s", maxRepos, code)
		}
	}
}

func TestTriggerConflictsWhileRunning(t *testing.T) {
	admin, _, _ := newTestAdmin(t)
	ctx := context.Background()

	admin.runMu.Lock()
	defer admin.runMu.Unlock()

	if _, err := admin.RunDiscovery(ctx); serviceCode(t, err) != "CONFLICT" {
		t.Fatalf("discovery: want CONFLICT, got %v", err)
	}
	if _, err := admin.RunDeepAnalysis(ctx, 10); serviceCode(t, err) != "CONFLICT" {
		t.Fatalf("deep analysis: want CONFLICT, got %v", err)
	}
	if _, err := admin.RunWatchlist(ctx); serviceCode(t, err) != "CONFLICT" {
		t.Fatalf("watchlist: want CONFLICT, got %v", err)
	}
	if _, err := admin.RefreshQueue(ctx); serviceCode(t, err) != "CONFLICT" {
		t.Fatalf("queue refresh: want CONFLICT, got %v", err)
	}
}

func TestRunDiscoveryRefreshesQueue(t *testing.T) {
	admin, _, stub := newTestAdmin(t)
	ctx := context.Background()

	now := time.Now().UTC()
	stub.HandleJSON("GET /search/repositories", map[string]any{
		"total_count": 1,
		"items": []map[string]any{{
			"id":        int64(101),
			"name":      "rocket",
			"owner":     map[string]any{"login": "acme"},
			"full_name": "acme/rocket",
			"language":  "Go",

			"stargazers_count": 2400,
			"forks_count":      120,
			"created_at":       now.AddDate(0, 0, -40).Format(time.RFC3339),
			"pushed_at":        now.AddDate(0, 0, -1).Format(time.RFC3339),
			"archived":         false,
			"fork":             false,
		}},
	})

	result, err := admin.RunDiscovery(ctx)
	if err != nil {
		t.Fatalf("run discovery: %v", err)
	}
	if result.Discovery.NewRepos != 1 || result.Discovery.EligibleRepos != 1 {
		t.Fatalf("discovery stats = %+v", result.Discovery)
	}
	if result.Queue.AddedToQueue != 1 {
		t.Fatalf("queue stats = %+v", result.Queue)
	}

	report, err := admin.Status(ctx, "test")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Queue.Pending != 1 {
		t.Fatalf("pending = %d", report.Queue.Pending)
	}
	if !report.LatestWatchlistDate.IsZero() {
		t.Fatalf("unexpected watchlist date %v", report.LatestWatchlistDate)
	}
	if len(report.RecentJobRuns) != 2 {
		t.Fatalf("job runs = %d", len(report.RecentJobRuns))
	}
	for _, run := range report.RecentJobRuns {
		if run.Status != model.JobStatusCompleted {
			t.Fatalf("run %s status = %s", run.JobType, run.Status)
		}
	}
	if report.Criteria.MinStars != 2000 {
		t.Fatalf("criteria = %+v", report.Criteria)
	}
}

func TestReadServiceNotFound(t *testing.T) {
	admin, _, _ := newTestAdmin(t)
	ctx := context.Background()

	_, err := admin.Reads.GetRepoDetail(ctx, "acme", "ghost")
	if serviceCode(t, err) != "NOT_FOUND" {
		t.Fatalf("repo detail: %v", err)
	}
	_, err = admin.Reads.LatestWatchlist(ctx, "momentum")
	if serviceCode(t, err) != "NOT_FOUND" {
		t.Fatalf("watchlist: %v", err)
	}
	_, err = admin.Reads.LatestWatchlist(ctx, "stars")
	if serviceCode(t, err) != "INVALID_ARGUMENT" {
		t.Fatalf("sort key: %v", err)
	}
	_, err = admin.Reads.GetRepoHistory(ctx, "acme", "ghost", "weekly", 10)
	if serviceCode(t, err) != "INVALID_ARGUMENT" {
		t.Fatalf("history kind: %v", err)
	}
}

func TestReadServiceCachesUntilInvalidated(t *testing.T) {
	admin, st, _ := newTestAdmin(t)
	ctx := context.Background()
	now := time.Now().UTC()

	record := func(stars int) {
		repo := model.Repo{
			GitHubID: 7, Owner: "acme", Name: "rocket", FullName: "acme/rocket",
			Stars: stars, CreatedAt: now.AddDate(0, 0, -40), PushedAt: now,
			LastSeenAt: now, Eligible: true,
		}
		snap := model.DiscoverySnapshot{
			SnapshotDate: now, Stars: stars, PushedAt: now, Eligible: true, Payload: []byte("{}"),
		}
		if _, _, err := st.RecordDiscovery(ctx, repo, snap); err != nil {
			t.Fatalf("record discovery: %v", err)
		}
	}

	record(2400)
	detail, err := admin.Reads.GetRepoDetail(ctx, "acme", "rocket")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if detail.Repo.Stars != 2400 || detail.DiscoverySnapshots != 1 {
		t.Fatalf("detail = %+v", detail)
	}

	// A second read after new data still serves the cached view until the
	// generation is bumped.
	record(2500)
	detail, err = admin.Reads.GetRepoDetail(ctx, "acme", "rocket")
	if err != nil {
		t.Fatalf("cached read: %v", err)
	}
	if detail.Repo.Stars != 2400 {
		t.Fatalf("cached stars = %d, want 2400", detail.Repo.Stars)
	}

	admin.Reads.Invalidate()
	detail, err = admin.Reads.GetRepoDetail(ctx, "acme", "rocket")
	if err != nil {
		t.Fatalf("fresh read: %v", err)
	}
	if detail.Repo.Stars != 2500 || detail.DiscoverySnapshots != 2 {
		t.Fatalf("fresh detail = %+v", detail)
	}
}
