// Package queue maintains the prioritized backlog of repos awaiting deep
// analysis. Classification is evaluated top to bottom; the first matching
// class wins.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/seedscout/seedscout/internal/model"
	"github.com/seedscout/seedscout/internal/store"
)

// Priority classes, higher first.
const (
	PriorityNewlyEligible = 10
	PriorityHighMomentum  = 8
	PriorityActivitySpike = 7
	PriorityStale         = 5
	PriorityRegular       = 3
)

const (
	newlyEligibleWindow = 14 * 24 * time.Hour
	activitySpikeWindow = 3 * 24 * time.Hour
	staleAfter          = 30 * 24 * time.Hour
	momentumThreshold   = 10.0 // stars per day

	// Processed entries are garbage collected after this long.
	processedRetention = 7 * 24 * time.Hour
)

// Stats aggregates one queue refresh.
type Stats struct {
	ClearedProcessed  int64  `json:"cleared_processed"`
	AddedToQueue      int    `json:"added_to_queue"`
	UpdatedPriorities int    `json:"updated_priorities"`
	EligibleRepos     int    `json:"eligible_repos"`
	JobRunID          string `json:"job_run_id"`
}

func (s Stats) asMap() map[string]any {
	raw, _ := json.Marshal(s)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// Manager refreshes and summarizes the analysis queue.
type Manager struct {
	store *store.Store

	// now is a test seam.
	now func() time.Time
}

// NewManager creates a queue manager.
func NewManager(st *store.Store) *Manager {
	return &Manager{store: st, now: time.Now}
}

// Refresh garbage-collects old processed entries and makes sure every
// eligible repo has exactly one unprocessed entry with a current priority.
func (m *Manager) Refresh(ctx context.Context) (Stats, error) {
	now := m.now().UTC()
	var stats Stats

	runID, err := m.store.CreateJobRun(ctx, model.JobTypeQueueRefresh, now)
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
		if err := m.store.FinishJobRun(context.WithoutCancel(ctx), runID, status, stats.asMap(), errMsg, m.now().UTC()); err != nil {
			log.Printf("[queue] finish job run %s: %v", runID, err)
		}
	}

	if err := m.refresh(ctx, now, &stats); err != nil {
		finish(err)
		return stats, err
	}
	finish(nil)
	log.Printf("[queue] refresh %s: %d eligible, %d added, %d repriced, %d cleared",
		runID, stats.EligibleRepos, stats.AddedToQueue, stats.UpdatedPriorities, stats.ClearedProcessed)
	return stats, nil
}

func (m *Manager) refresh(ctx context.Context, now time.Time, stats *Stats) error {
	cleared, err := m.store.DeleteProcessedBefore(ctx, now.Add(-processedRetention))
	if err != nil {
		return err
	}
	stats.ClearedProcessed = cleared

	repos, err := m.store.ListEligibleRepos(ctx)
	if err != nil {
		return err
	}
	stats.EligibleRepos = len(repos)

	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return err
		}
		priority, reason, err := m.Classify(ctx, repo, now)
		if err != nil {
			return err
		}

		entry, err := m.store.UnprocessedEntryForRepo(ctx, repo.ID)
		if err != nil {
			return err
		}
		if entry != nil {
			if entry.Priority != priority {
				if err := m.store.UpdateQueuePriority(ctx, entry.ID, priority, reason); err != nil {
					return err
				}
				stats.UpdatedPriorities++
			}
			continue
		}

		var lastDeep time.Time
		if snap, err := m.store.LatestDeepSnapshot(ctx, repo.ID); err != nil {
			return err
		} else if snap != nil {
			lastDeep = snap.SnapshotDate
		}
		if _, err := m.store.InsertQueueEntry(ctx, model.QueueEntry{
			RepoID:             repo.ID,
			Priority:           priority,
			Reason:             reason,
			QueuedAt:           now,
			LastDeepAnalysisAt: lastDeep,
		}); err != nil {
			return err
		}
		stats.AddedToQueue++
	}
	return nil
}

// Classify returns the priority class and reason tag for a repo at now.
func (m *Manager) Classify(ctx context.Context, repo model.Repo, now time.Time) (int, string, error) {
	if now.Sub(repo.FirstDiscoveredAt) <= newlyEligibleWindow {
		return PriorityNewlyEligible, "newly_eligible", nil
	}

	velocity, err := m.starVelocity(ctx, repo.ID)
	if err != nil {
		return 0, "", err
	}
	if velocity > momentumThreshold {
		return PriorityHighMomentum, fmt.Sprintf("high_momentum_%.1f_stars_per_day", velocity), nil
	}

	if now.Sub(repo.PushedAt) <= activitySpikeWindow {
		return PriorityActivitySpike, "recent_activity_spike", nil
	}

	snap, err := m.store.LatestDeepSnapshot(ctx, repo.ID)
	if err != nil {
		return 0, "", err
	}
	if snap == nil || now.Sub(snap.SnapshotDate) > staleAfter {
		return PriorityStale, "stale_analysis", nil
	}

	return PriorityRegular, "regular_refresh", nil
}

// starVelocity computes stars per day from the two most recent discovery
// snapshots. Fewer than two snapshots, or a non-positive day delta, means 0.
func (m *Manager) starVelocity(ctx context.Context, repoID int64) (float64, error) {
	snaps, err := m.store.LatestDiscoverySnapshots(ctx, repoID, 2)
	if err != nil {
		return 0, err
	}
	if len(snaps) < 2 {
		return 0, nil
	}
	recent, older := snaps[0], snaps[1]
	days := recent.SnapshotDate.Sub(older.SnapshotDate).Hours() / 24
	if days <= 0 {
		return 0, nil
	}
	return float64(recent.Stars-older.Stars) / days, nil
}

// Summary reports pending and processed counts grouped by priority.
func (m *Manager) Summary(ctx context.Context) (store.QueueSummary, error) {
	return m.store.SummarizeQueue(ctx)
}
