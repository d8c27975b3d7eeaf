// Package watchlist scores eligible candidates along three independent
// tracks (momentum, durability, adoption) and appends one ranked generation
// per run. Factor selection is deterministic so identical inputs produce
// byte-identical rationales.
package watchlist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/seedscout/seedscout/internal/model"
	"github.com/seedscout/seedscout/internal/store"
)

const (
	starThreshold = 2000

	// A candidate qualifies via the star threshold only when it crossed it
	// within this window.
	recentCrossWindow = 30 * 24 * time.Hour

	candidateMaxAgeDays = 24 * 30
)

// Stats aggregates one watchlist generation.
type Stats struct {
	TotalCandidates int    `json:"total_candidates"`
	WatchlistSize   int    `json:"watchlist_size"`
	JobRunID        string `json:"job_run_id"`
}

func (s Stats) asMap() map[string]any {
	raw, _ := json.Marshal(s)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// Generator produces watchlist generations.
type Generator struct {
	store *store.Store

	// now is a test seam.
	now func() time.Time
}

// New creates a watchlist generator.
func New(st *store.Store) *Generator {
	return &Generator{store: st, now: time.Now}
}

// Run scores every admitted candidate and appends the generation in one
// transaction, all entries sharing a single generation date.
func (g *Generator) Run(ctx context.Context) (Stats, error) {
	now := g.now().UTC()
	var stats Stats

	runID, err := g.store.CreateJobRun(ctx, model.JobTypeWatchlist, now)
	if err != nil {
		return stats, err
	}
	stats.JobRunID = runID

	finish := func(runErr error) {
		status := model.JobStatusCompleted
		errMsg := ""
		if runErr != nil {
			status = model.JobStatusFailed
			errMsg = runErr.Error()
		}
		if err := g.store.FinishJobRun(context.WithoutCancel(ctx), runID, status, stats.asMap(), errMsg, g.now().UTC()); err != nil {
			log.Printf("[watchlist] finish job run %s: %v", runID, err)
		}
	}

	entries, err := g.generate(ctx, now, &stats)
	if err != nil {
		finish(err)
		return stats, err
	}
	if err := g.store.AppendWatchlistEntries(ctx, now, entries); err != nil {
		finish(err)
		return stats, err
	}
	stats.WatchlistSize = len(entries)

	finish(nil)
	log.Printf("[watchlist] run %s: %d candidates, %d listed",
		runID, stats.TotalCandidates, stats.WatchlistSize)
	return stats, nil
}

func (g *Generator) generate(ctx context.Context, now time.Time, stats *Stats) ([]model.WatchlistEntry, error) {
	cutoff := now.AddDate(0, 0, -candidateMaxAgeDays)
	repos, err := g.store.ListEligibleReposCreatedAfter(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	stats.TotalCandidates = len(repos)

	var entries []model.WatchlistEntry
	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		deep, err := g.store.LatestDeepSnapshot(ctx, repo.ID)
		if err != nil {
			return nil, err
		}
		admitted, err := g.admitted(ctx, repo, deep, now)
		if err != nil {
			return nil, err
		}
		if !admitted {
			continue
		}

		entry, err := g.score(ctx, repo, deep, now)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// admitted applies the per-candidate refinement: a recent crossing of the
// star threshold, or one exceptional deep signal.
func (g *Generator) admitted(ctx context.Context, repo model.Repo, deep *model.DeepSnapshot, now time.Time) (bool, error) {
	first2k, err := g.store.FirstSnapshotAtOrAbove(ctx, repo.ID, starThreshold)
	if err != nil {
		return false, err
	}
	if first2k != nil && now.Sub(first2k.SnapshotDate) <= recentCrossWindow {
		return true, nil
	}

	if deep != nil {
		if deep.CommitTrendSlope != nil && *deep.CommitTrendSlope > 5 {
			return true, nil
		}
		if deep.ActiveMaintainersCount != nil && *deep.ActiveMaintainersCount > 20 {
			return true, nil
		}
		if deep.MedianIssueResponseHours != nil && *deep.MedianIssueResponseHours > 0 && *deep.MedianIssueResponseHours < 6 {
			return true, nil
		}
	}
	return false, nil
}

func (g *Generator) score(ctx context.Context, repo model.Repo, deep *model.DeepSnapshot, now time.Time) (model.WatchlistEntry, error) {
	velocity, err := g.starVelocity(ctx, repo.ID)
	if err != nil {
		return model.WatchlistEntry{}, err
	}
	daysTo2k, err := g.daysToThreshold(ctx, repo, now)
	if err != nil {
		return model.WatchlistEntry{}, err
	}

	momentum, momentumFactors := momentumScore(velocity, daysTo2k, deep)
	durability, durabilityFactors := durabilityScore(deep)
	adoption, adoptionFactors := adoptionScore(deep)

	ageDays := int(now.Sub(repo.CreatedAt).Hours() / 24)
	rationale := buildRationale(repo.Stars, ageDays, momentumFactors, durabilityFactors)

	metrics, err := json.Marshal(map[string]any{
		"momentum_factors":   momentumFactors,
		"durability_factors": durabilityFactors,
		"adoption_factors":   adoptionFactors,
		"stars":              repo.Stars,
		"age_days":           ageDays,
	})
	if err != nil {
		return model.WatchlistEntry{}, fmt.Errorf("watchlist: encode metrics: %w", err)
	}

	return model.WatchlistEntry{
		RepoID:          repo.ID,
		WatchlistDate:   now,
		MomentumScore:   momentum,
		DurabilityScore: durability,
		AdoptionScore:   adoption,
		Rationale:       rationale,
		Metrics:         metrics,
	}, nil
}

// starVelocity computes stars per day from the two most recent discovery
// snapshots.
func (g *Generator) starVelocity(ctx context.Context, repoID int64) (float64, error) {
	snaps, err := g.store.LatestDiscoverySnapshots(ctx, repoID, 2)
	if err != nil {
		return 0, err
	}
	if len(snaps) < 2 {
		return 0, nil
	}
	days := snaps[0].SnapshotDate.Sub(snaps[1].SnapshotDate).Hours() / 24
	if days <= 0 {
		return 0, nil
	}
	return float64(snaps[0].Stars-snaps[1].Stars) / days, nil
}

// daysToThreshold is the day count between creation and the first snapshot
// at or above the star threshold; when no snapshot crossed it but the repo
// currently has, the span to now approximates it. 0 means unknown.
func (g *Generator) daysToThreshold(ctx context.Context, repo model.Repo, now time.Time) (int, error) {
	if repo.Stars < starThreshold {
		return 0, nil
	}
	snap, err := g.store.FirstSnapshotAtOrAbove(ctx, repo.ID, starThreshold)
	if err != nil {
		return 0, err
	}
	if snap != nil {
		return int(snap.SnapshotDate.Sub(repo.CreatedAt).Hours() / 24), nil
	}
	return int(now.Sub(repo.CreatedAt).Hours() / 24), nil
}

// momentumScore: star velocity (up to 40) + time to 2k stars (up to 30) +
// positive activity trend (up to 30).
func momentumScore(velocity float64, daysTo2k int, deep *model.DeepSnapshot) (float64, string) {
	score := 0.0
	var factors []string

	if velocity > 0 {
		score += math.Min(velocity*2, 40)
		factors = append(factors, fmt.Sprintf("%.1f stars/day", velocity))
	}

	if daysTo2k > 0 {
		score += math.Min(math.Max(30-float64(daysTo2k)/12, 5), 30)
		factors = append(factors, fmt.Sprintf("%dd to 2k stars", daysTo2k))
	}

	if deep != nil && deep.CommitTrendSlope != nil {
		if *deep.CommitTrendSlope > 0 {
			score += math.Min(*deep.CommitTrendSlope*10, 30)
			factors = append(factors, "positive commit trend")
		} else {
			factors = append(factors, "declining activity")
		}
	}

	return clampScore(score), joinFactors(factors, "insufficient data")
}

// durabilityScore: maintainer count (up to 40) + bus factor (up to 30) +
// issue responsiveness (up to 30).
func durabilityScore(deep *model.DeepSnapshot) (float64, string) {
	if deep == nil {
		return 0, "no deep analysis available"
	}
	score := 0.0
	var factors []string

	if deep.ActiveMaintainersCount != nil && *deep.ActiveMaintainersCount > 0 {
		score += math.Min(float64(*deep.ActiveMaintainersCount)*0.8, 40)
		factors = append(factors, fmt.Sprintf("%d contributors", *deep.ActiveMaintainersCount))
	}

	if deep.TopContributorShare != nil && *deep.TopContributorShare > 0 {
		score += math.Max(30-*deep.TopContributorShare*30, 0)
		factors = append(factors, fmt.Sprintf("%d%% top contributor", int(*deep.TopContributorShare*100)))
	}

	if deep.MedianIssueResponseHours != nil && *deep.MedianIssueResponseHours > 0 {
		score += math.Min(math.Max(30-*deep.MedianIssueResponseHours/5.6, 0), 30)
		factors = append(factors, fmt.Sprintf("%.1fh median response", *deep.MedianIssueResponseHours))
	}

	return clampScore(score), joinFactors(factors, "insufficient metrics")
}

// adoptionScore: dependents (up to 50) + package downloads (up to 30) +
// fork-to-star ratio (up to 20). Dependents and downloads are usually
// unavailable and contribute 0.
func adoptionScore(deep *model.DeepSnapshot) (float64, string) {
	if deep == nil {
		return 0, "no deep analysis available"
	}
	score := 0.0
	var factors []string

	if deep.DependentsCount != nil && *deep.DependentsCount > 0 {
		score += math.Min(math.Log10(float64(*deep.DependentsCount)+1)*15, 50)
		factors = append(factors, fmt.Sprintf("%d dependents", *deep.DependentsCount))
	} else {
		factors = append(factors, "dependents N/A")
	}

	if deep.PackageDownloads30D != nil && *deep.PackageDownloads30D > 0 {
		score += math.Min(math.Log10(float64(*deep.PackageDownloads30D)+1)*8, 30)
		factors = append(factors, fmt.Sprintf("%d package downloads", *deep.PackageDownloads30D))
	} else {
		factors = append(factors, "downloads N/A")
	}

	if deep.ForkToStarRatio != nil && *deep.ForkToStarRatio > 0 {
		score += math.Min(*deep.ForkToStarRatio*40, 20)
		factors = append(factors, fmt.Sprintf("%.2f fork/star", *deep.ForkToStarRatio))
	}

	return clampScore(score), joinFactors(factors, "insufficient metrics")
}

// buildRationale composes the entry prose from contributing factors in a
// fixed order: age, momentum, durability, then the generic fallback.
func buildRationale(stars, ageDays int, momentumFactors, durabilityFactors string) string {
	var parts []string
	if ageDays < 60 {
		parts = append(parts, fmt.Sprintf("Recently created (%dd ago)", ageDays))
	}
	if strings.Contains(momentumFactors, "stars/day") {
		parts = append(parts, "strong growth momentum")
	}
	if strings.Contains(durabilityFactors, "contributors") {
		parts = append(parts, "healthy contributor base")
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("Eligible repo with %d stars", stars))
	}
	return strings.Join(parts, ". ") + "."
}

func clampScore(score float64) float64 {
	return math.Min(math.Max(score, 0), 100)
}

func joinFactors(factors []string, fallback string) string {
	if len(factors) == 0 {
		return fallback
	}
	return strings.Join(factors, ", ")
}
