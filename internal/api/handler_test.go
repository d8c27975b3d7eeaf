package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seedscout/seedscout/internal/config"
	"github.com/seedscout/seedscout/internal/deepanalysis"
	"github.com/seedscout/seedscout/internal/discovery"
	"github.com/seedscout/seedscout/internal/githubapi"
	"github.com/seedscout/seedscout/internal/queue"
	"github.com/seedscout/seedscout/internal/service"
	"github.com/seedscout/seedscout/internal/store"
	"github.com/seedscout/seedscout/internal/telemetry"
	"github.com/seedscout/seedscout/internal/testutil"
	"github.com/seedscout/seedscout/internal/watchlist"
)

const testToken = "test-admin-token"

func newTestServer(t *testing.T) (*Server, *testutil.GitHubStub) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	stub := testutil.NewGitHubStub(t)
	client := githubapi.NewClient(githubapi.Options{
		BaseURL:     stub.URL(),
		Token:       "github-token",
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

	reads, err := service.NewReadService(st)
	if err != nil {
		t.Fatalf("read service: %v", err)
	}
	t.Cleanup(reads.Close)

	metrics := telemetry.New(client)
	admin := service.NewAdminService(
		client, st,
		discovery.New(client, st, crit),
		queue.NewManager(st),
		deepanalysis.New(client, st, envCfg.DeepAnalysisMaxRequestsPerRun, config.DefaultScoringConfig()),
		watchlist.New(st),
		envCfg, metrics, reads,
	)

	srv := NewServer(ServerOptions{
		ListenAddress:  "127.0.0.1",
		Port:           0,
		AdminToken:     testToken,
		MaxBodyBytes:   1 << 20,
		Admin:          admin,
		Reads:          reads,
		MetricsHandler: metrics.Handler(),
	})
	return srv, stub
}

func doRequest(t *testing.T, srv *Server, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decodeJSON(t, rec, &resp)
	return resp.Error.Code
}

func stubSearchResult(stub *testutil.GitHubStub, now time.Time) {
	stub.HandleJSON("GET /search/repositories", map[string]any{
		"total_count": 1,
		"items": []map[string]any{{
			"id":               int64(42),
			"name":             "rocket",
			"owner":            map[string]any{"login": "acme"},
			"full_name":        "acme/rocket",
			"language":         "Go",
			"stargazers_count": 2400,
			"forks_count":      120,
			"created_at":       now.AddDate(0, 0, -40).Format(time.RFC3339),
			"pushed_at":        now.AddDate(0, 0, -1).Format(time.RFC3339),
			"archived":         false,
			"fork":             false,
		}},
	})
}

func TestHealthzIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decodeJSON(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "seedscout_github_requests_total") {
		t.Fatalf("metrics body missing collector:\n%s", rec.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name    string
		header  string
		message string
	}{
		{"missing", "", "missing Authorization header"},
		{"format", "Basic abc", "invalid Authorization header format"},
		{"wrong", "Bearer nope", "invalid admin token"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/repos", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", tc.name, rec.Code)
		}
		var resp ErrorResponse
		decodeJSON(t, rec, &resp)
		if resp.Error.Message != tc.message {
			t.Fatalf("%s: message = %q", tc.name, resp.Error.Message)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/repos", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("authed: status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestTriggerDeepAnalysisRejectsBadMaxRepos(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/admin/trigger-deep-analysis", testToken, `{"max_repos": 101}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "INVALID_ARGUMENT" {
		t.Fatalf("code = %s", code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/admin/trigger-deep-analysis?max_repos=101", testToken, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("query param: status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/admin/trigger-deep-analysis", testToken, `{"max_repo": 1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status = %d", rec.Code)
	}
}

func TestDiscoveryToWatchlistFlow(t *testing.T) {
	srv, stub := newTestServer(t)
	stubSearchResult(stub, time.Now().UTC())

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/admin/trigger-discovery", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger discovery: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/repos?min_stars=2000&sort_by=stars", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list repos: %d %s", rec.Code, rec.Body.String())
	}
	var page struct {
		Items []struct {
			FullName string `json:"full_name"`
			Stars    int    `json:"stars"`
		} `json:"items"`
		Total int `json:"total"`
	}
	decodeJSON(t, rec, &page)
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].FullName != "acme/rocket" {
		t.Fatalf("page = %+v", page)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/repos/acme/rocket", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get repo: %d", rec.Code)
	}
	var detail struct {
		Repo struct {
			Stars int `json:"stars"`
		} `json:"repo"`
		DiscoverySnapshots int `json:"discovery_snapshot_count"`
	}
	decodeJSON(t, rec, &detail)
	if detail.Repo.Stars != 2400 || detail.DiscoverySnapshots != 1 {
		t.Fatalf("detail = %+v", detail)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/repos/acme/ghost", testToken, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing repo: %d", rec.Code)
	}

	// No generation yet.
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/watchlist/latest", testToken, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty watchlist: %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/admin/trigger-watchlist", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger watchlist: %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/watchlist/latest?sort_by=momentum", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("latest watchlist: %d %s", rec.Code, rec.Body.String())
	}
	var wl struct {
		SortBy string `json:"sort_by"`
		Items  []struct {
			Repo struct {
				FullName string `json:"full_name"`
			} `json:"repo"`
		} `json:"items"`
	}
	decodeJSON(t, rec, &wl)
	if wl.SortBy != "momentum" || len(wl.Items) != 1 || wl.Items[0].Repo.FullName != "acme/rocket" {
		t.Fatalf("watchlist = %+v", wl)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/watchlist/export", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, `attachment; filename="watchlist-`) {
		t.Fatalf("content disposition = %q", cd)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/watchlist/dates", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("dates: %d", rec.Code)
	}
	var dates struct {
		Dates []time.Time `json:"dates"`
	}
	decodeJSON(t, rec, &dates)
	if len(dates.Dates) != 1 {
		t.Fatalf("dates = %v", dates.Dates)
	}
}

func TestListReposRejectsBadQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, target := range []string{
		"/api/v1/repos?sort_by=forks",
		"/api/v1/repos?min_stars=abc",
		"/api/v1/repos?eligible=maybe",
		"/api/v1/repos?limit=-1",
		"/api/v1/watchlist/latest?sort_by=stars",
		"/api/v1/repos/acme/rocket/history?kind=weekly",
	} {
		rec := doRequest(t, srv, http.MethodGet, target, testToken, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", target, rec.Code)
		}
		if code := errorCode(t, rec); code != "INVALID_ARGUMENT" {
			t.Fatalf("%s: code = %s", target, code)
		}
	}
}

func TestAdminStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/admin/status", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d %s", rec.Code, rec.Body.String())
	}
	var report struct {
		Criteria struct {
			MinStars int `json:"min_stars"`
		} `json:"criteria"`
		Queue struct {
			Pending int `json:"pending"`
		} `json:"queue"`
	}
	decodeJSON(t, rec, &report)
	if report.Criteria.MinStars != 2000 || report.Queue.Pending != 0 {
		t.Fatalf("report = %+v", report)
	}
}
