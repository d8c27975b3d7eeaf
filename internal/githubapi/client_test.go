package githubapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/seedscout/seedscout/internal/testutil"
)

func newTestClient(t *testing.T, stub *testutil.GitHubStub, safetyFloor int) *Client {
	t.Helper()
	c := NewClient(Options{
		BaseURL:     stub.URL(),
		Token:       "test-token",
		SafetyFloor: safetyFloor,
	})
	c.sleep = func(time.Duration) {}
	t.Cleanup(c.Close)
	return c
}

func TestGetReturnsNilOnMissingAndPending(t *testing.T) {
	stub := testutil.NewGitHubStub(t)
	c := newTestClient(t, stub, 0)
	ctx := context.Background()

	// Unregistered path answers 404.
	repo, err := c.GetRepo(ctx, "acme", "gone")
	if err != nil || repo != nil {
		t.Fatalf("missing repo = %v, %v", repo, err)
	}

	// Statistics still being computed upstream.
	stub.HandleStatus("GET /repos/acme/rocket/stats/commit_activity", http.StatusAccepted)
	weeks, err := c.CommitActivity(ctx, "acme", "rocket")
	if err != nil || weeks != nil {
		t.Fatalf("pending stats = %v, %v", weeks, err)
	}
}

func TestSafetyFloorBlocksCoreCalls(t *testing.T) {
	stub := testutil.NewGitHubStub(t)
	stub.SetCoreRemaining(499)
	stub.HandleJSON("GET /repos/acme/rocket", map[string]any{"id": 1, "full_name": "acme/rocket"})
	stub.HandleJSON("GET /search/repositories", map[string]any{"total_count": 0, "items": []any{}})

	c := newTestClient(t, stub, 500)
	ctx := context.Background()

	// The first call goes through: the quota is unknown until a response
	// has been seen.
	if _, err := c.GetRepo(ctx, "acme", "rocket"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	var rateErr *RateLimitError
	_, err := c.GetRepo(ctx, "acme", "rocket")
	if !errors.As(err, &rateErr) {
		t.Fatalf("second call: want RateLimitError, got %v", err)
	}

	// The floor only guards the core class; search stays usable.
	if _, err := c.SearchRepositories(ctx, "stars:>=2000", 100, 1); err != nil {
		t.Fatalf("search call: %v", err)
	}
}

func TestPrimaryRateLimitExceeded(t *testing.T) {
	stub := testutil.NewGitHubStub(t)
	stub.SetCoreRemaining(0)
	stub.HandleStatus("GET /repos/acme/rocket", http.StatusForbidden)

	c := newTestClient(t, stub, 0)

	var rateErr *RateLimitError
	_, err := c.GetRepo(context.Background(), "acme", "rocket")
	if !errors.As(err, &rateErr) {
		t.Fatalf("want RateLimitError, got %v", err)
	}
}

func TestSecondaryLimitBacksOffThenSucceeds(t *testing.T) {
	stub := testutil.NewGitHubStub(t)
	attempts := 0
	stub.Handle("GET /repos/acme/rocket", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"id": 1, "full_name": "acme/rocket"}`))
	})

	c := newTestClient(t, stub, 0)
	var waits []time.Duration
	c.sleep = func(d time.Duration) { waits = append(waits, d) }

	repo, err := c.GetRepo(context.Background(), "acme", "rocket")
	if err != nil || repo == nil {
		t.Fatalf("repo = %v, %v", repo, err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d", attempts)
	}
	// Retry-After is shifted left per attempt.
	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
}

func TestSecondaryLimitGivesUpAfterMaxRetries(t *testing.T) {
	stub := testutil.NewGitHubStub(t)
	stub.Handle("GET /repos/acme/rocket", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusForbidden)
	})

	c := newTestClient(t, stub, 0)

	var rateErr *RateLimitError
	_, err := c.GetRepo(context.Background(), "acme", "rocket")
	if !errors.As(err, &rateErr) {
		t.Fatalf("want RateLimitError, got %v", err)
	}
	if got := stub.RequestCount(); got != defaultMaxRetries {
		t.Fatalf("requests = %d, want %d", got, defaultMaxRetries)
	}
}

func TestStatsTracksQuotaClasses(t *testing.T) {
	stub := testutil.NewGitHubStub(t)
	stub.SetCoreRemaining(4200)
	stub.SetSearchRemaining(17)
	stub.HandleJSON("GET /repos/acme/rocket", map[string]any{"id": 1})
	stub.HandleJSON("GET /search/repositories", map[string]any{"total_count": 0, "items": []any{}})

	c := newTestClient(t, stub, 0)
	ctx := context.Background()

	if stats := c.Stats(); stats.CoreRemaining != nil || stats.SearchRemaining != nil {
		t.Fatalf("fresh client stats = %+v", stats)
	}

	if _, err := c.GetRepo(ctx, "acme", "rocket"); err != nil {
		t.Fatalf("core call: %v", err)
	}
	if _, err := c.SearchRepositories(ctx, "stars:>=2000", 100, 1); err != nil {
		t.Fatalf("search call: %v", err)
	}

	stats := c.Stats()
	if stats.TotalRequests != 2 {
		t.Fatalf("total = %d", stats.TotalRequests)
	}
	if stats.CoreRemaining == nil || *stats.CoreRemaining != 4200 {
		t.Fatalf("core remaining = %v", stats.CoreRemaining)
	}
	if stats.SearchRemaining == nil || *stats.SearchRemaining != 17 {
		t.Fatalf("search remaining = %v", stats.SearchRemaining)
	}
	if stats.CoreReset == nil || stats.CoreReset.IsZero() {
		t.Fatalf("core reset = %v", stats.CoreReset)
	}
}

func TestGraphQLPostsQuery(t *testing.T) {
	stub := testutil.NewGitHubStub(t)
	stub.Handle("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"viewer": {"login": "seedscout"}}}`))
	})

	c := newTestClient(t, stub, 0)
	raw, err := c.GraphQL(context.Background(), "query { viewer { login } }", nil)
	if err != nil || len(raw) == 0 {
		t.Fatalf("graphql = %s, %v", raw, err)
	}
}
