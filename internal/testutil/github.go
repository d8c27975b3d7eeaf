// Package testutil provides a stub GitHub API server for pipeline tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// GitHubStub is a fake GitHub API backed by httptest. Handlers are
// registered per method-and-path pattern; every response carries rate limit
// headers derived from the stub's current remaining counters.
type GitHubStub struct {
	t   *testing.T
	mux *http.ServeMux
	srv *httptest.Server

	mu            sync.Mutex
	requests      []string
	coreRemaining int
	searchRemain  int
}

// NewGitHubStub starts a stub with generous default quotas. The server is
// shut down via t.Cleanup.
func NewGitHubStub(t *testing.T) *GitHubStub {
	t.Helper()
	s := &GitHubStub{
		t:             t,
		mux:           http.NewServeMux(),
		coreRemaining: 5000,
		searchRemain:  30,
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the stub's base URL.
func (s *GitHubStub) URL() string {
	return s.srv.URL
}

// SetCoreRemaining overrides the core-class remaining counter.
func (s *GitHubStub) SetCoreRemaining(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coreRemaining = n
}

// SetSearchRemaining overrides the search-class remaining counter.
func (s *GitHubStub) SetSearchRemaining(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchRemain = n
}

// Handle registers a handler for a method-and-path pattern, e.g.
// "GET /search/repositories".
func (s *GitHubStub) Handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, h)
}

// HandleJSON registers a handler that always answers 200 with the JSON
// encoding of v.
func (s *GitHubStub) HandleJSON(pattern string, v any) {
	s.Handle(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.t.Errorf("encode stub response for %s: %v", pattern, err)
		}
	})
}

// HandleStatus registers a handler that answers with a bare status code.
func (s *GitHubStub) HandleStatus(pattern string, status int) {
	s.Handle(pattern, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

// RequestCount returns the number of requests seen so far.
func (s *GitHubStub) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// RequestsTo counts requests whose path starts with the given prefix.
func (s *GitHubStub) RequestsTo(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.requests {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func (s *GitHubStub) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.Path)
	remaining := s.coreRemaining
	if strings.HasPrefix(r.URL.Path, "/search/") {
		remaining = s.searchRemain
	}
	s.mu.Unlock()

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", "4102444800")
	s.mux.ServeHTTP(w, r)
}
