// Package discovery materializes the universe of eligible repos: it pages
// through repository search results, upserts repo rows, and appends one
// immutable discovery snapshot per repo encountered.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/seedscout/seedscout/internal/githubapi"
	"github.com/seedscout/seedscout/internal/model"
	"github.com/seedscout/seedscout/internal/store"
)

const (
	maxPages = 10
	perPage  = 100

	// Repos not re-encountered by any discovery pass for this long lose
	// their eligibility, so the queue does not keep chasing vanished repos.
	sweepAfter = 14 * 24 * time.Hour
)

// Criteria is the five-clause eligibility predicate.
type Criteria struct {
	MinStars         int
	MaxAgeMonths     int
	MaxDaysSincePush int
}

// Eligible reports whether a repo payload satisfies the criteria at now.
// Month age is computed as 30 x months days.
func (c Criteria) Eligible(p *githubapi.RepoPayload, now time.Time) bool {
	if p.StargazersCount < c.MinStars {
		return false
	}
	if p.CreatedAt.Before(now.AddDate(0, 0, -30*c.MaxAgeMonths)) {
		return false
	}
	if p.Archived || p.Fork {
		return false
	}
	if p.PushedAt.Before(now.AddDate(0, 0, -c.MaxDaysSincePush)) {
		return false
	}
	return true
}

// Query renders the search query matching the criteria at now.
func (c Criteria) Query(now time.Time) string {
	cutoff := now.AddDate(0, 0, -30*c.MaxAgeMonths)
	return fmt.Sprintf("stars:>=%d created:>=%s archived:false fork:false",
		c.MinStars, cutoff.Format("2006-01-02"))
}

// Stats aggregates one discovery run.
type Stats struct {
	ReposFound         int    `json:"repos_found"`
	EligibleRepos      int    `json:"eligible_repos"`
	IneligibleRepos    int    `json:"ineligible_repos"`
	NewRepos           int    `json:"new_repos"`
	UpdatedRepos       int    `json:"updated_repos"`
	SweptIneligible    int64  `json:"swept_ineligible"`
	RequestsMade       int64  `json:"requests_made"`
	RateLimitRemaining *int   `json:"rate_limit_remaining"`
	JobRunID           string `json:"job_run_id"`
}

func (s Stats) asMap() map[string]any {
	raw, _ := json.Marshal(s)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// Pipeline runs discovery passes.
type Pipeline struct {
	client *githubapi.Client
	store  *store.Store
	crit   Criteria

	// now is a test seam.
	now func() time.Time
}

// New creates a discovery pipeline.
func New(client *githubapi.Client, st *store.Store, crit Criteria) *Pipeline {
	return &Pipeline{client: client, store: st, crit: crit, now: time.Now}
}

// Run executes one discovery pass under a job run. It returns the collected
// stats; on failure the job run is closed as failed with the stats gathered
// so far and the error is returned.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	now := p.now().UTC()
	var stats Stats

	runID, err := p.store.CreateJobRun(ctx, model.JobTypeDiscovery, now)
	if err != nil {
		return stats, err
	}
	stats.JobRunID = runID
	startRequests := p.client.TotalRequests()

	finish := func(runErr error) {
		stats.RequestsMade = p.client.TotalRequests() - startRequests
		stats.RateLimitRemaining = p.client.Stats().CoreRemaining

		status := model.JobStatusCompleted
		errMsg := ""
		if runErr != nil {
			status = model.JobStatusFailed
			errMsg = runErr.Error()
		}
		if err := p.store.FinishJobRun(context.WithoutCancel(ctx), runID, status, stats.asMap(), errMsg, p.now().UTC()); err != nil {
			log.Printf("[discovery] finish job run %s: %v", runID, err)
		}
	}

	if err := p.scan(ctx, now, &stats); err != nil {
		finish(err)
		return stats, err
	}

	swept, err := p.store.SweepUnseenSince(ctx, now.Add(-sweepAfter))
	if err != nil {
		finish(err)
		return stats, err
	}
	stats.SweptIneligible = swept

	finish(nil)
	log.Printf("[discovery] run %s: %d found, %d eligible, %d new, %d swept",
		runID, stats.ReposFound, stats.EligibleRepos, stats.NewRepos, swept)
	return stats, nil
}

func (p *Pipeline) scan(ctx context.Context, now time.Time, stats *Stats) error {
	query := p.crit.Query(now)

	for page := 1; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := p.client.SearchRepositories(ctx, query, perPage, page)
		if err != nil {
			return err
		}
		if result == nil || len(result.Items) == 0 {
			break
		}

		for _, raw := range result.Items {
			if err := p.recordOne(ctx, raw, now, stats); err != nil {
				return err
			}
		}

		if len(result.Items) < perPage {
			break
		}
	}
	return nil
}

func (p *Pipeline) recordOne(ctx context.Context, raw json.RawMessage, now time.Time, stats *Stats) error {
	var payload githubapi.RepoPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("discovery: decode search item: %w", err)
	}
	stats.ReposFound++

	eligible := p.crit.Eligible(&payload, now)
	if eligible {
		stats.EligibleRepos++
	} else {
		stats.IneligibleRepos++
	}

	repo := model.Repo{
		GitHubID:   payload.ID,
		Owner:      payload.Owner.Login,
		Name:       payload.Name,
		FullName:   payload.FullName,
		Language:   payload.Language,
		Stars:      payload.StargazersCount,
		Forks:      payload.ForksCount,
		CreatedAt:  payload.CreatedAt,
		PushedAt:   payload.PushedAt,
		Archived:   payload.Archived,
		IsFork:     payload.Fork,
		LastSeenAt: now,
		Eligible:   eligible,
	}
	snap := model.DiscoverySnapshot{
		SnapshotDate: now,
		Stars:        payload.StargazersCount,
		Forks:        payload.ForksCount,
		PushedAt:     payload.PushedAt,
		Eligible:     eligible,
		PayloadHash:  xxh3.Hash(raw),
		Payload:      raw,
	}

	_, created, err := p.store.RecordDiscovery(ctx, repo, snap)
	if err != nil {
		return err
	}
	if created {
		stats.NewRepos++
	} else {
		stats.UpdatedRepos++
	}
	return nil
}
