// Package model defines the persisted entities of the seedscout core:
// repos, discovery/deep snapshots, queue entries, job runs, and watchlist
// entries. Snapshots are append-only; repos are the only mutable rows.
package model

import (
	"encoding/json"
	"time"
)

// Availability labels why a computed signal is or is not present on a
// deep snapshot. An empty body from an upstream statistics endpoint is
// "not yet computed", which must not be confused with a network error.
const (
	AvailabilityAvailable        = "available"
	AvailabilityPartial          = "partial"
	AvailabilityInsufficientData = "insufficient_data"
	AvailabilityNotAvailable     = "not_available"
	AvailabilityError            = "error"
)

// Job run statuses.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job types.
const (
	JobTypeDiscovery    = "discovery"
	JobTypeDeepAnalysis = "deep_analysis"
	JobTypeQueueRefresh = "queue_refresh"
	JobTypeWatchlist    = "watchlist"
)

// Repo is one row per distinct GitHub repository. Created on first
// appearance in discovery, mutated on every subsequent pass, never deleted.
type Repo struct {
	ID                int64     `json:"id"`
	GitHubID          int64     `json:"github_id"`
	Owner             string    `json:"owner"`
	Name              string    `json:"name"`
	FullName          string    `json:"full_name"`
	Language          string    `json:"language"` // empty when GitHub reports none
	Stars             int       `json:"stars"`
	Forks             int       `json:"forks"`
	CreatedAt         time.Time `json:"created_at"`
	PushedAt          time.Time `json:"pushed_at"`
	Archived          bool      `json:"archived"`
	IsFork            bool      `json:"is_fork"`
	FirstDiscoveredAt time.Time `json:"first_discovered_at"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	Eligible          bool      `json:"eligible"`
}

// DiscoverySnapshot is an immutable point-in-time view of a repo's cheap
// attributes, appended on each discovery pass that encounters the repo.
type DiscoverySnapshot struct {
	ID           int64           `json:"id"`
	RepoID       int64           `json:"repo_id"`
	SnapshotDate time.Time       `json:"snapshot_date"`
	Stars        int             `json:"stars"`
	Forks        int             `json:"forks"`
	PushedAt     time.Time       `json:"pushed_at"`
	Eligible     bool            `json:"eligible"`
	PayloadHash  uint64          `json:"payload_hash"` // xxh3 of Payload, for change detection
	Payload      json.RawMessage `json:"-"`
}

// ContributionDistribution summarizes the all-time commit distribution
// across contributors.
type ContributionDistribution struct {
	TotalContributors     int     `json:"total_contributors"`
	TopContributorCommits int     `json:"top_contributor_commits"`
	Top1Share             float64 `json:"top_1_share"`
	Top5Share             float64 `json:"top_5_share"`
}

// DeepSnapshot is an immutable bundle of computed signals for one repo.
// Every signal group is nullable: a partial snapshot is valid and carries
// availability tags explaining the gaps.
type DeepSnapshot struct {
	ID           int64     `json:"id"`
	RepoID       int64     `json:"repo_id"`
	SnapshotDate time.Time `json:"snapshot_date"`

	// Contributor health.
	MonthlyActiveContributors6M []int                     `json:"monthly_active_contributors_6m"` // 6 consecutive 4-week windows, oldest first
	Distribution                *ContributionDistribution `json:"contribution_distribution"`

	// Velocity.
	WeeklyCommits12W []int    `json:"weekly_commits_12w"`
	WeeklyPRs12W     []int    `json:"weekly_prs_12w"`
	WeeklyIssues12W  []int    `json:"weekly_issues_12w"`
	CommitTrendSlope *float64 `json:"commit_trend_slope"`
	PRTrendSlope     *float64 `json:"pr_trend_slope"`
	IssueTrendSlope  *float64 `json:"issue_trend_slope"`

	// Responsiveness.
	MedianIssueResponseHours *float64 `json:"median_issue_response_hours"`
	MedianPRResponseHours    *float64 `json:"median_pr_response_hours"`
	ResponseAvailability     string   `json:"response_availability"`

	// Adoption.
	DependentsCount      *int     `json:"dependents_count"`
	PackageDownloads30D  *int     `json:"package_downloads_30d"`
	ForkToStarRatio      *float64 `json:"fork_to_star_ratio"`
	AdoptionAvailability string   `json:"adoption_availability"`

	// Community risk.
	TopContributorShare    *float64 `json:"top_contributor_share"`
	GiniCoefficient        *float64 `json:"gini_coefficient"` // never approximated from a sampled list
	ActiveMaintainersCount *int     `json:"active_maintainers_count"`

	HealthIndex *float64        `json:"health_index"`
	Metrics     json.RawMessage `json:"metrics"` // full raw metrics bundle
}

// QueueEntry is a pending unit of deep-analysis work. At most one
// unprocessed entry may exist per repo.
type QueueEntry struct {
	ID                 int64     `json:"id"`
	RepoID             int64     `json:"repo_id"`
	Priority           int       `json:"priority"`
	Reason             string    `json:"reason"`
	QueuedAt           time.Time `json:"queued_at"`
	Processed          bool      `json:"processed"`
	ProcessedAt        time.Time `json:"processed_at,omitzero"`          // zero when unprocessed
	LastDeepAnalysisAt time.Time `json:"last_deep_analysis_at,omitzero"` // zero when never analyzed
}

// JobRun is the audit record for one pipeline invocation.
type JobRun struct {
	ID          string          `json:"id"` // UUID
	JobType     string          `json:"job_type"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitzero"` // zero while running
	Status      string          `json:"status"`
	Stats       json.RawMessage `json:"stats"`
	ErrorMsg    string          `json:"error_msg,omitempty"`
}

// WatchlistEntry is one scored candidate on a generated watchlist.
type WatchlistEntry struct {
	ID              int64           `json:"id"`
	RepoID          int64           `json:"repo_id"`
	WatchlistDate   time.Time       `json:"watchlist_date"`
	MomentumScore   float64         `json:"momentum_score"`
	DurabilityScore float64         `json:"durability_score"`
	AdoptionScore   float64         `json:"adoption_score"`
	Rationale       string          `json:"rationale"`
	Metrics         json.RawMessage `json:"metrics"` // factor breakdowns, stars, age
}
