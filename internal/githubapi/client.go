// Package githubapi implements the rate-limited GitHub API client shared by
// all pipelines. It tracks separate quotas for the search and core endpoint
// classes, enforces a configurable safety floor on the core class, and
// retries transparently on secondary (abuse) throttling.
package githubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

const (
	defaultBaseURL     = "https://api.github.com"
	defaultMaxRetries  = 3
	maxBackoff         = 300 * time.Second
	searchPrefix       = "search/"
	searchLowWatermark = 5
)

// RateLimitError is fatal to the current pipeline run: the primary quota is
// drained, the safety floor would be breached, or secondary throttling was
// not relieved within the retry budget.
type RateLimitError struct {
	Reason string
}

func (e *RateLimitError) Error() string {
	return "github: rate limit: " + e.Reason
}

// StatusError indicates the API responded with an unexpected HTTP status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github: unexpected status %d from %s", e.StatusCode, e.URL)
}

// quotaTracker holds the last-seen remaining/reset values for one endpoint
// class, derived from X-RateLimit-* response headers.
type quotaTracker struct {
	known     bool
	remaining int
	reset     time.Time
}

// Stats is a point-in-time snapshot of client quota accounting.
type Stats struct {
	TotalRequests   int64      `json:"total_requests"`
	CoreRemaining   *int       `json:"core_remaining"`
	CoreReset       *time.Time `json:"core_reset"`
	SearchRemaining *int       `json:"search_remaining"`
	SearchReset     *time.Time `json:"search_reset"`
}

// Options configures a Client.
type Options struct {
	BaseURL     string // defaults to the public GitHub API
	Token       string
	Timeout     time.Duration // per-request; defaults to 30s
	SafetyFloor int           // minimum core-quota units left untouched
	MaxRetries  int           // secondary-limit retries; defaults to 3
}

// Client is the shared GitHub API client. A single instance is safe for
// concurrent use: the pre-call floor check and the post-call quota update
// happen under one mutex, so two callers cannot both claim the last permit
// above the floor.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	safetyFloor int
	maxRetries  int

	// sleep is a test seam for backoff waits.
	sleep func(time.Duration)

	mu     sync.Mutex
	core   quotaTracker
	search quotaTracker

	total *xsync.Counter
}

// NewClient creates a Client from options.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Client{
		baseURL:     baseURL,
		token:       opts.Token,
		httpClient:  &http.Client{Timeout: timeout},
		safetyFloor: opts.SafetyFloor,
		maxRetries:  maxRetries,
		sleep:       time.Sleep,
		total:       xsync.NewCounter(),
	}
}

// Get performs a GET request against the given endpoint (path relative to
// the API root, e.g. "search/repositories"). It returns the raw JSON body,
// or (nil, nil) on 404 and on 202/204 (statistics still being computed
// upstream).
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkQuotaLocked(endpoint); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		body, status, header, err := c.doLocked(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		c.updateQuotaLocked(header, endpoint)

		if status == http.StatusForbidden {
			if rem, ok := headerInt(header, "X-RateLimit-Remaining"); ok && rem == 0 {
				return nil, &RateLimitError{Reason: "primary rate limit exceeded"}
			}
			// Secondary (abuse) limit: back off and retry.
			retryAfter := 60
			if ra, ok := headerInt(header, "Retry-After"); ok {
				retryAfter = ra
			}
			if attempt < c.maxRetries-1 {
				wait := min(time.Duration(retryAfter)*time.Second<<attempt, maxBackoff)
				log.Printf("[github] secondary rate limit hit, waiting %s (attempt %d)", wait, attempt)
				c.sleep(wait)
				continue
			}
			return nil, &RateLimitError{Reason: "secondary rate limit exceeded after max retries"}
		}

		switch {
		case status == http.StatusNotFound:
			return nil, nil
		case status == http.StatusAccepted || status == http.StatusNoContent:
			// Statistics endpoints return 202/204 while GitHub computes
			// them; an empty result is "not yet available", not an error.
			return nil, nil
		case status >= 200 && status < 300:
			return body, nil
		default:
			return nil, &StatusError{StatusCode: status, URL: reqURL}
		}
	}
	return nil, &RateLimitError{Reason: "max retries exceeded"}
}

// GraphQL posts a query to the GraphQL endpoint and returns the raw
// response. GraphQL-level errors are logged but left to the caller.
func (c *Client) GraphQL(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkQuotaLocked("graphql"); err != nil {
		return nil, err
	}

	payload := map[string]any{"query": query}
	if len(variables) > 0 {
		payload["variables"] = variables
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("github: marshal graphql payload: %w", err)
	}

	reqURL := c.baseURL + "/graphql"
	body, status, header, err := c.doLocked(ctx, http.MethodPost, reqURL, reqBody)
	if err != nil {
		return nil, err
	}
	c.updateQuotaLocked(header, "graphql")

	if status < 200 || status >= 300 {
		return nil, &StatusError{StatusCode: status, URL: reqURL}
	}

	var envelope struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 {
		log.Printf("[github] graphql errors: %s", envelope.Errors)
	}
	return body, nil
}

// Stats returns current rate limit statistics.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{TotalRequests: c.total.Value()}
	if c.core.known {
		rem, reset := c.core.remaining, c.core.reset
		s.CoreRemaining, s.CoreReset = &rem, &reset
	}
	if c.search.known {
		rem, reset := c.search.remaining, c.search.reset
		s.SearchRemaining, s.SearchReset = &rem, &reset
	}
	return s
}

// TotalRequests returns the number of HTTP requests issued so far.
func (c *Client) TotalRequests() int64 {
	return c.total.Value()
}

// Close releases the underlying connection pool.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// doLocked issues one HTTP request and returns body, status, and headers.
// Callers hold c.mu.
func (c *Client) doLocked(ctx context.Context, method, reqURL string, reqBody []byte) ([]byte, int, http.Header, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("github: %w", err)
	}
	defer resp.Body.Close()
	c.total.Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("github: read body: %w", err)
	}
	return body, resp.StatusCode, resp.Header, nil
}

// checkQuotaLocked enforces the safety floor for core-class calls. Search
// calls only warn: the search window is too small for a hard floor to be
// useful. Callers hold c.mu.
func (c *Client) checkQuotaLocked(endpoint string) error {
	if strings.HasPrefix(endpoint, searchPrefix) {
		if c.search.known && c.search.remaining < searchLowWatermark {
			log.Printf("[github] search quota low: %d remaining, resets at %s",
				c.search.remaining, c.search.reset.Format(time.RFC3339))
		}
		return nil
	}
	if c.core.known && c.core.remaining < c.safetyFloor {
		return &RateLimitError{Reason: fmt.Sprintf(
			"core quota safety floor reached: %d remaining, resets at %s",
			c.core.remaining, c.core.reset.Format(time.RFC3339))}
	}
	return nil
}

// updateQuotaLocked routes X-RateLimit-* headers to the class tracker
// matching the endpoint. Callers hold c.mu.
func (c *Client) updateQuotaLocked(header http.Header, endpoint string) {
	rem, ok := headerInt(header, "X-RateLimit-Remaining")
	if !ok {
		return
	}
	var reset time.Time
	if sec, ok := headerInt(header, "X-RateLimit-Reset"); ok {
		reset = time.Unix(int64(sec), 0).UTC()
	}
	tracker := &c.core
	if strings.HasPrefix(endpoint, searchPrefix) {
		tracker = &c.search
	}
	tracker.known = true
	tracker.remaining = rem
	tracker.reset = reset
}

func headerInt(header http.Header, key string) (int, bool) {
	v := header.Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
