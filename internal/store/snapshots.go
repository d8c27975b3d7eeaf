package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/seedscout/seedscout/internal/model"
)

const discoveryColumns = `id, repo_id, snapshot_date_ns, stars, forks,
	pushed_at_ns, eligible, payload_hash, payload_json`

func scanDiscoverySnapshot(row interface{ Scan(...any) error }) (*model.DiscoverySnapshot, error) {
	var d model.DiscoverySnapshot
	var dateNs, pushedNs, payloadHash int64
	var eligible int
	var payload string
	err := row.Scan(&d.ID, &d.RepoID, &dateNs, &d.Stars, &d.Forks,
		&pushedNs, &eligible, &payloadHash, &payload)
	if err != nil {
		return nil, err
	}
	d.SnapshotDate = nsToTime(dateNs)
	d.PushedAt = nsToTime(pushedNs)
	d.Eligible = eligible != 0
	d.PayloadHash = uint64(payloadHash)
	d.Payload = json.RawMessage(payload)
	return &d, nil
}

// LatestDiscoverySnapshots returns up to n snapshots for a repo, newest first.
func (s *Store) LatestDiscoverySnapshots(ctx context.Context, repoID int64, n int) ([]model.DiscoverySnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+discoveryColumns+" FROM discovery_snapshots WHERE repo_id = ? ORDER BY snapshot_date_ns DESC LIMIT ?",
		repoID, n)
	if err != nil {
		return nil, fmt.Errorf("store: latest discovery snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.DiscoverySnapshot
	for rows.Next() {
		d, err := scanDiscoverySnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan discovery snapshot: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// FirstSnapshotAtOrAbove returns the earliest discovery snapshot whose star
// count reached the threshold, or nil when the repo never crossed it.
func (s *Store) FirstSnapshotAtOrAbove(ctx context.Context, repoID int64, stars int) (*model.DiscoverySnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+discoveryColumns+" FROM discovery_snapshots WHERE repo_id = ? AND stars >= ? ORDER BY snapshot_date_ns ASC LIMIT 1",
		repoID, stars)
	d, err := scanDiscoverySnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: first snapshot above threshold: %w", err)
	}
	return d, nil
}

// SnapshotCounts returns how many discovery and deep snapshots a repo has.
func (s *Store) SnapshotCounts(ctx context.Context, repoID int64) (int, int, error) {
	var discovery, deep int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM discovery_snapshots WHERE repo_id = ?", repoID).Scan(&discovery); err != nil {
		return 0, 0, fmt.Errorf("store: count discovery snapshots: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM deep_snapshots WHERE repo_id = ?", repoID).Scan(&deep); err != nil {
		return 0, 0, fmt.Errorf("store: count deep snapshots: %w", err)
	}
	return discovery, deep, nil
}

const deepColumns = `id, repo_id, snapshot_date_ns,
	monthly_active_contributors_6m, contribution_distribution,
	weekly_commits_12w, weekly_prs_12w, weekly_issues_12w,
	commit_trend_slope, pr_trend_slope, issue_trend_slope,
	median_issue_response_hours, median_pr_response_hours, response_availability,
	dependents_count, package_downloads_30d, fork_to_star_ratio, adoption_availability,
	top_contributor_share, gini_coefficient, active_maintainers_count,
	health_index, metrics_json`

func scanDeepSnapshot(row interface{ Scan(...any) error }) (*model.DeepSnapshot, error) {
	var d model.DeepSnapshot
	var dateNs int64
	var monthly, dist, commits, prs, issues sql.NullString
	var commitSlope, prSlope, issueSlope sql.NullFloat64
	var medIssue, medPR sql.NullFloat64
	var dependents, downloads, maintainers sql.NullInt64
	var forkToStar, topShare, gini, health sql.NullFloat64
	var metrics string

	err := row.Scan(&d.ID, &d.RepoID, &dateNs,
		&monthly, &dist, &commits, &prs, &issues,
		&commitSlope, &prSlope, &issueSlope,
		&medIssue, &medPR, &d.ResponseAvailability,
		&dependents, &downloads, &forkToStar, &d.AdoptionAvailability,
		&topShare, &gini, &maintainers,
		&health, &metrics)
	if err != nil {
		return nil, err
	}

	d.SnapshotDate = nsToTime(dateNs)
	if err := decodeIntSeries(monthly, &d.MonthlyActiveContributors6M); err != nil {
		return nil, err
	}
	if dist.Valid {
		var cd model.ContributionDistribution
		if err := json.Unmarshal([]byte(dist.String), &cd); err != nil {
			return nil, fmt.Errorf("store: decode distribution: %w", err)
		}
		d.Distribution = &cd
	}
	if err := decodeIntSeries(commits, &d.WeeklyCommits12W); err != nil {
		return nil, err
	}
	if err := decodeIntSeries(prs, &d.WeeklyPRs12W); err != nil {
		return nil, err
	}
	if err := decodeIntSeries(issues, &d.WeeklyIssues12W); err != nil {
		return nil, err
	}
	d.CommitTrendSlope = nullFloat(commitSlope)
	d.PRTrendSlope = nullFloat(prSlope)
	d.IssueTrendSlope = nullFloat(issueSlope)
	d.MedianIssueResponseHours = nullFloat(medIssue)
	d.MedianPRResponseHours = nullFloat(medPR)
	d.DependentsCount = nullInt(dependents)
	d.PackageDownloads30D = nullInt(downloads)
	d.ForkToStarRatio = nullFloat(forkToStar)
	d.TopContributorShare = nullFloat(topShare)
	d.GiniCoefficient = nullFloat(gini)
	d.ActiveMaintainersCount = nullInt(maintainers)
	d.HealthIndex = nullFloat(health)
	d.Metrics = json.RawMessage(metrics)
	return &d, nil
}

// LatestDeepSnapshot returns the newest deep snapshot for a repo, or nil.
func (s *Store) LatestDeepSnapshot(ctx context.Context, repoID int64) (*model.DeepSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+deepColumns+" FROM deep_snapshots WHERE repo_id = ? ORDER BY snapshot_date_ns DESC LIMIT 1",
		repoID)
	d, err := scanDeepSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest deep snapshot: %w", err)
	}
	return d, nil
}

// DeepSnapshotHistory returns up to n deep snapshots, newest first.
func (s *Store) DeepSnapshotHistory(ctx context.Context, repoID int64, n int) ([]model.DeepSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+deepColumns+" FROM deep_snapshots WHERE repo_id = ? ORDER BY snapshot_date_ns DESC LIMIT ?",
		repoID, n)
	if err != nil {
		return nil, fmt.Errorf("store: deep snapshot history: %w", err)
	}
	defer rows.Close()

	var out []model.DeepSnapshot
	for rows.Next() {
		d, err := scanDeepSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan deep snapshot: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func insertDeepSnapshot(ctx context.Context, tx *sql.Tx, d model.DeepSnapshot) error {
	monthly, err := encodeIntSeries(d.MonthlyActiveContributors6M)
	if err != nil {
		return err
	}
	var dist any
	if d.Distribution != nil {
		raw, err := json.Marshal(d.Distribution)
		if err != nil {
			return fmt.Errorf("store: encode distribution: %w", err)
		}
		dist = string(raw)
	}
	commits, err := encodeIntSeries(d.WeeklyCommits12W)
	if err != nil {
		return err
	}
	prs, err := encodeIntSeries(d.WeeklyPRs12W)
	if err != nil {
		return err
	}
	issues, err := encodeIntSeries(d.WeeklyIssues12W)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO deep_snapshots (
		repo_id, snapshot_date_ns,
		monthly_active_contributors_6m, contribution_distribution,
		weekly_commits_12w, weekly_prs_12w, weekly_issues_12w,
		commit_trend_slope, pr_trend_slope, issue_trend_slope,
		median_issue_response_hours, median_pr_response_hours, response_availability,
		dependents_count, package_downloads_30d, fork_to_star_ratio, adoption_availability,
		top_contributor_share, gini_coefficient, active_maintainers_count,
		health_index, metrics_json
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.RepoID, timeToNs(d.SnapshotDate),
		monthly, dist, commits, prs, issues,
		ptrValue(d.CommitTrendSlope), ptrValue(d.PRTrendSlope), ptrValue(d.IssueTrendSlope),
		ptrValue(d.MedianIssueResponseHours), ptrValue(d.MedianPRResponseHours), d.ResponseAvailability,
		ptrValue(d.DependentsCount), ptrValue(d.PackageDownloads30D), ptrValue(d.ForkToStarRatio), d.AdoptionAvailability,
		ptrValue(d.TopContributorShare), ptrValue(d.GiniCoefficient), ptrValue(d.ActiveMaintainersCount),
		ptrValue(d.HealthIndex), string(d.Metrics),
	)
	if err != nil {
		return fmt.Errorf("store: insert deep snapshot: %w", err)
	}
	return nil
}

// --- nullable encoding helpers ---

func encodeIntSeries(series []int) (any, error) {
	if series == nil {
		return nil, nil
	}
	raw, err := json.Marshal(series)
	if err != nil {
		return nil, fmt.Errorf("store: encode int series: %w", err)
	}
	return string(raw), nil
}

func decodeIntSeries(col sql.NullString, dst *[]int) error {
	if !col.Valid {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("store: decode int series: %w", err)
	}
	return nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func ptrValue[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
