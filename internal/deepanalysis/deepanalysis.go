// Package deepanalysis drains the priority queue under a strict API budget
// and appends one immutable deep snapshot per analyzed repo. Every signal
// group is fetched independently: a sub-fetch failure degrades that group
// to an availability tag instead of aborting the repo.
package deepanalysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/seedscout/seedscout/internal/config"
	"github.com/seedscout/seedscout/internal/githubapi"
	"github.com/seedscout/seedscout/internal/model"
	"github.com/seedscout/seedscout/internal/store"
)

const (
	responsivenessSample = 30
	velocityWeeks        = 12
)

var maintainerAssociations = map[string]bool{
	"OWNER":        true,
	"MEMBER":       true,
	"COLLABORATOR": true,
}

// Stats aggregates one deep-analysis run.
type Stats struct {
	ReposProcessed     int               `json:"repos_processed"`
	ReposSkipped       int               `json:"repos_skipped"`
	Errors             map[string]string `json:"errors"`
	RequestsMade       int64             `json:"requests_made"`
	RateLimitRemaining *int              `json:"rate_limit_remaining"`
	JobRunID           string            `json:"job_run_id"`
}

func (s Stats) asMap() map[string]any {
	raw, _ := json.Marshal(s)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// Pipeline runs deep-analysis passes.
type Pipeline struct {
	client            *githubapi.Client
	store             *store.Store
	maxRequestsPerRun int
	scoring           config.ScoringConfig

	// now is a test seam.
	now func() time.Time
}

// New creates a deep-analysis pipeline with the given per-run request
// ceiling and health-index weights.
func New(client *githubapi.Client, st *store.Store, maxRequestsPerRun int, scoring config.ScoringConfig) *Pipeline {
	return &Pipeline{
		client:            client,
		store:             st,
		maxRequestsPerRun: maxRequestsPerRun,
		scoring:           scoring,
		now:               time.Now,
	}
}

// Run processes up to maxRepos queue entries in (priority desc, queued_at
// asc) order. It stops early when the request ceiling is reached and fails
// the run on rate-limit exhaustion or cancellation; the repo in flight at
// that point stays queued.
func (p *Pipeline) Run(ctx context.Context, maxRepos int) (Stats, error) {
	now := p.now().UTC()
	stats := Stats{Errors: make(map[string]string)}

	runID, err := p.store.CreateJobRun(ctx, model.JobTypeDeepAnalysis, now)
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
			errMsg = errorMessage(runErr)
		}
		if err := p.store.FinishJobRun(context.WithoutCancel(ctx), runID, status, stats.asMap(), errMsg, p.now().UTC()); err != nil {
			log.Printf("[deepanalysis] finish job run %s: %v", runID, err)
		}
	}

	entries, err := p.store.UnprocessedQueueEntries(ctx, maxRepos)
	if err != nil {
		finish(err)
		return stats, err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			finish(err)
			return stats, err
		}
		if p.client.TotalRequests()-startRequests >= int64(p.maxRequestsPerRun) {
			log.Printf("[deepanalysis] request ceiling %d reached, stopping", p.maxRequestsPerRun)
			stats.ReposSkipped++
			break
		}

		repo, err := p.store.GetRepoByID(ctx, entry.RepoID)
		if err != nil {
			finish(err)
			return stats, err
		}
		if repo == nil {
			continue
		}

		snap, err := p.analyzeRepo(ctx, repo)
		if err != nil {
			var rle *githubapi.RateLimitError
			if errors.As(err, &rle) || ctx.Err() != nil {
				// Fatal: the repo stays queued for the next run.
				stats.Errors[repo.FullName] = errorMessage(err)
				finish(err)
				return stats, err
			}
			log.Printf("[deepanalysis] %s: %v", repo.FullName, err)
			stats.Errors[repo.FullName] = err.Error()
			continue
		}

		if err := p.store.CompleteAnalysis(ctx, entry.ID, *snap, p.now().UTC()); err != nil {
			finish(err)
			return stats, err
		}
		stats.ReposProcessed++
	}

	finish(nil)
	log.Printf("[deepanalysis] run %s: %d processed, %d errors, %d requests",
		runID, stats.ReposProcessed, len(stats.Errors), stats.RequestsMade)
	return stats, nil
}

func errorMessage(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return err.Error()
}

// fatal reports whether a sub-fetch error must abort the whole run rather
// than degrade one signal group.
func fatal(ctx context.Context, err error) bool {
	var rle *githubapi.RateLimitError
	return errors.As(err, &rle) || ctx.Err() != nil
}

// analyzeRepo computes the full signal bundle for one repo. Only rate-limit
// exhaustion and cancellation propagate as errors; anything else degrades
// the affected group.
func (p *Pipeline) analyzeRepo(ctx context.Context, repo *model.Repo) (*model.DeepSnapshot, error) {
	now := p.now().UTC()
	snap := &model.DeepSnapshot{RepoID: repo.ID, SnapshotDate: now}
	bundle := make(map[string]any)

	contrib, err := p.contributorHealth(ctx, repo.Owner, repo.Name)
	if err != nil {
		return nil, err
	}
	snap.MonthlyActiveContributors6M = contrib.Monthly
	snap.Distribution = contrib.Distribution
	bundle["contributor_health"] = contrib

	vel, err := p.velocity(ctx, repo.Owner, repo.Name, now)
	if err != nil {
		return nil, err
	}
	snap.WeeklyCommits12W = vel.WeeklyCommits
	snap.WeeklyPRs12W = vel.WeeklyPRs
	snap.WeeklyIssues12W = vel.WeeklyIssues
	snap.CommitTrendSlope = vel.CommitTrendSlope
	snap.PRTrendSlope = vel.PRTrendSlope
	snap.IssueTrendSlope = vel.IssueTrendSlope
	bundle["velocity"] = vel

	resp, err := p.responsiveness(ctx, repo.Owner, repo.Name)
	if err != nil {
		return nil, err
	}
	snap.MedianIssueResponseHours = resp.MedianIssueHours
	snap.MedianPRResponseHours = resp.MedianPRHours
	snap.ResponseAvailability = resp.Availability
	bundle["responsiveness"] = resp

	adopt, err := p.adoption(ctx, repo.Owner, repo.Name)
	if err != nil {
		return nil, err
	}
	snap.DependentsCount = adopt.DependentsCount
	snap.PackageDownloads30D = adopt.PackageDownloads30D
	snap.ForkToStarRatio = adopt.ForkToStarRatio
	snap.AdoptionAvailability = adopt.Availability
	bundle["adoption"] = adopt

	risk := communityRisk(contrib.Distribution)
	snap.TopContributorShare = risk.TopContributorShare
	snap.GiniCoefficient = nil
	snap.ActiveMaintainersCount = risk.ActiveMaintainersCount
	bundle["community_risk"] = risk

	snap.HealthIndex = HealthIndex(snap, p.scoring)

	raw, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("deepanalysis: encode metrics bundle: %w", err)
	}
	snap.Metrics = raw
	return snap, nil
}

type contributorHealthResult struct {
	Monthly      []int                           `json:"monthly_contributors"`
	Distribution *model.ContributionDistribution `json:"distribution"`
	Availability string                          `json:"availability"`
	Reason       string                          `json:"reason,omitempty"`
}

func (p *Pipeline) contributorHealth(ctx context.Context, owner, name string) (contributorHealthResult, error) {
	weeks, err := p.client.CommitActivity(ctx, owner, name)
	if err != nil {
		if fatal(ctx, err) {
			return contributorHealthResult{}, err
		}
		return contributorHealthResult{Availability: model.AvailabilityError, Reason: err.Error()}, nil
	}
	if len(weeks) == 0 {
		return contributorHealthResult{
			Availability: model.AvailabilityNotAvailable,
			Reason:       "commit statistics not available for this repo",
		}, nil
	}

	contributors, err := p.client.ContributorStats(ctx, owner, name)
	if err != nil {
		if fatal(ctx, err) {
			return contributorHealthResult{}, err
		}
		return contributorHealthResult{Availability: model.AvailabilityError, Reason: err.Error()}, nil
	}
	if len(contributors) == 0 {
		return contributorHealthResult{
			Monthly:      MonthlyActivity(weeks),
			Availability: model.AvailabilityPartial,
			Reason:       "contributor statistics not available",
		}, nil
	}

	return contributorHealthResult{
		Monthly:      MonthlyActivity(weeks),
		Distribution: Distribution(contributors),
		Availability: model.AvailabilityAvailable,
	}, nil
}

type velocityResult struct {
	WeeklyCommits    []int    `json:"weekly_commits"`
	WeeklyPRs        []int    `json:"weekly_prs"`
	WeeklyIssues     []int    `json:"weekly_issues"`
	CommitTrendSlope *float64 `json:"commit_trend_slope"`
	PRTrendSlope     *float64 `json:"pr_trend_slope"`
	IssueTrendSlope  *float64 `json:"issue_trend_slope"`
	Availability     string   `json:"availability"`
	Reason           string   `json:"reason,omitempty"`
}

func (p *Pipeline) velocity(ctx context.Context, owner, name string, now time.Time) (velocityResult, error) {
	var result velocityResult

	weeks, err := p.client.CommitActivity(ctx, owner, name)
	if err != nil {
		if fatal(ctx, err) {
			return result, err
		}
		return velocityResult{Availability: model.AvailabilityError, Reason: err.Error()}, nil
	}
	if len(weeks) > 0 {
		start := max(len(weeks)-velocityWeeks, 0)
		for _, w := range weeks[start:] {
			result.WeeklyCommits = append(result.WeeklyCommits, w.Total)
		}
	}

	windowStart := now.AddDate(0, 0, -7*velocityWeeks)
	for offset := 0; offset < velocityWeeks; offset++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		weekStart := windowStart.AddDate(0, 0, 7*offset)
		weekEnd := weekStart.AddDate(0, 0, 7)
		window := weekStart.Format("2006-01-02") + ".." + weekEnd.Format("2006-01-02")

		prs, err := p.client.SearchIssueCount(ctx,
			fmt.Sprintf("repo:%s/%s is:pr created:%s", owner, name, window))
		if err != nil {
			if fatal(ctx, err) {
				return result, err
			}
			return velocityResult{Availability: model.AvailabilityError, Reason: err.Error()}, nil
		}
		result.WeeklyPRs = append(result.WeeklyPRs, prs)

		issues, err := p.client.SearchIssueCount(ctx,
			fmt.Sprintf("repo:%s/%s is:issue created:%s", owner, name, window))
		if err != nil {
			if fatal(ctx, err) {
				return result, err
			}
			return velocityResult{Availability: model.AvailabilityError, Reason: err.Error()}, nil
		}
		result.WeeklyIssues = append(result.WeeklyIssues, issues)
	}

	result.CommitTrendSlope = TrendSlope(result.WeeklyCommits)
	result.PRTrendSlope = TrendSlope(result.WeeklyPRs)
	result.IssueTrendSlope = TrendSlope(result.WeeklyIssues)
	result.Availability = model.AvailabilityAvailable
	return result, nil
}

type responsivenessResult struct {
	MedianIssueHours *float64 `json:"median_issue_response_hours"`
	MedianPRHours    *float64 `json:"median_pr_response_hours"`
	Availability     string   `json:"availability"`
	Reason           string   `json:"reason,omitempty"`
}

func (p *Pipeline) responsiveness(ctx context.Context, owner, name string) (responsivenessResult, error) {
	items, err := p.client.ClosedIssues(ctx, owner, name, responsivenessSample)
	if err != nil {
		if fatal(ctx, err) {
			return responsivenessResult{}, err
		}
		return responsivenessResult{Availability: model.AvailabilityError, Reason: err.Error()}, nil
	}
	if len(items) == 0 {
		return responsivenessResult{
			Availability: model.AvailabilityNotAvailable,
			Reason:       "no closed issues or PRs found",
		}, nil
	}
	if len(items) > responsivenessSample {
		items = items[:responsivenessSample]
	}

	var issueHours, prHours []float64
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return responsivenessResult{}, err
		}
		comments, err := p.client.IssueComments(ctx, owner, name, item.Number)
		if err != nil {
			if fatal(ctx, err) {
				return responsivenessResult{}, err
			}
			return responsivenessResult{Availability: model.AvailabilityError, Reason: err.Error()}, nil
		}
		for _, c := range comments {
			if !maintainerAssociations[c.AuthorAssociation] {
				continue
			}
			hours := c.CreatedAt.Sub(item.CreatedAt).Hours()
			if item.IsPullRequest() {
				prHours = append(prHours, hours)
			} else {
				issueHours = append(issueHours, hours)
			}
			break
		}
	}

	result := responsivenessResult{
		MedianIssueHours: roundPtr(Median(issueHours)),
		MedianPRHours:    roundPtr(Median(prHours)),
	}
	if result.MedianIssueHours != nil || result.MedianPRHours != nil {
		result.Availability = model.AvailabilityAvailable
	} else {
		result.Availability = model.AvailabilityInsufficientData
		result.Reason = "not enough maintainer responses found"
	}
	return result, nil
}

type adoptionResult struct {
	DependentsCount     *int     `json:"dependents_count"`
	PackageDownloads30D *int     `json:"package_downloads_30d"`
	ForkToStarRatio     *float64 `json:"fork_to_star_ratio"`
	Availability        string   `json:"availability"`
	Reason              string   `json:"reason,omitempty"`
}

func (p *Pipeline) adoption(ctx context.Context, owner, name string) (adoptionResult, error) {
	// Dependents and package downloads need integrations beyond the
	// upstream API and stay unset.
	result := adoptionResult{
		Reason: "dependents and package downloads require additional integrations",
	}

	repo, err := p.client.GetRepo(ctx, owner, name)
	if err != nil {
		if fatal(ctx, err) {
			return result, err
		}
		return adoptionResult{Availability: model.AvailabilityError, Reason: err.Error()}, nil
	}
	if repo == nil {
		result.Availability = model.AvailabilityNotAvailable
		return result, nil
	}

	ratio := 0.0
	if repo.StargazersCount > 0 {
		ratio = round3(float64(repo.ForksCount) / float64(repo.StargazersCount))
	}
	result.ForkToStarRatio = &ratio
	result.Availability = model.AvailabilityPartial
	return result, nil
}

type communityRiskResult struct {
	TopContributorShare    *float64 `json:"top_contributor_share"`
	GiniCoefficient        *float64 `json:"gini_coefficient"`
	ActiveMaintainersCount *int     `json:"active_maintainers_count"`
	Availability           string   `json:"availability"`
}

// communityRisk reuses the contributor distribution. The Gini coefficient
// stays nil: the upstream contributor list is sampled, and an inequality
// measure over a sample would be misleading.
func communityRisk(dist *model.ContributionDistribution) communityRiskResult {
	if dist == nil {
		return communityRiskResult{Availability: model.AvailabilityNotAvailable}
	}
	share := dist.Top1Share
	count := dist.TotalContributors
	return communityRiskResult{
		TopContributorShare:    &share,
		ActiveMaintainersCount: &count,
		Availability:           model.AvailabilityPartial,
	}
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := round2(*v)
	return &r
}
