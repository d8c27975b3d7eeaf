package service

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter"

	"github.com/seedscout/seedscout/internal/model"
	"github.com/seedscout/seedscout/internal/store"
)

const (
	readCacheCapacity = 4096
	readCacheTTL      = 30 * time.Second
)

var watchlistSortKeys = []string{"momentum", "durability", "adoption"}

// RepoDetail is the full read view of one repo.
type RepoDetail struct {
	Repo               model.Repo          `json:"repo"`
	LatestDeep         *model.DeepSnapshot `json:"latest_deep_snapshot"`
	DiscoverySnapshots int                 `json:"discovery_snapshot_count"`
	DeepSnapshots      int                 `json:"deep_snapshot_count"`
}

// RepoHistory holds one kind of snapshot history, newest first.
type RepoHistory struct {
	Kind      string                    `json:"kind"`
	Discovery []model.DiscoverySnapshot `json:"discovery,omitempty"`
	Deep      []model.DeepSnapshot      `json:"deep,omitempty"`
}

// WatchlistItem pairs a watchlist entry with its repo.
type WatchlistItem struct {
	Repo  model.Repo           `json:"repo"`
	Entry model.WatchlistEntry `json:"entry"`
}

// WatchlistPage is one generation ordered by the requested track.
type WatchlistPage struct {
	Date   time.Time       `json:"generated_at"`
	SortBy string          `json:"sort_by"`
	Items  []WatchlistItem `json:"items"`
}

// ReadService answers read queries, caching the hot ones. Invalidation is
// by generation: bumping the generation makes every cached key unreachable
// and the TTL reclaims the stale entries.
type ReadService struct {
	store *store.Store
	cache otter.Cache[string, any]
	gen   atomic.Int64
}

// NewReadService builds a ReadService over the given store.
func NewReadService(st *store.Store) (*ReadService, error) {
	cache, err := otter.MustBuilder[string, any](readCacheCapacity).
		WithTTL(readCacheTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("service: build read cache: %w", err)
	}
	return &ReadService{store: st, cache: cache}, nil
}

// Invalidate makes all currently cached reads unreachable.
func (r *ReadService) Invalidate() {
	r.gen.Add(1)
}

// Close releases the cache's background resources.
func (r *ReadService) Close() {
	r.cache.Close()
}

func (r *ReadService) key(suffix string) string {
	return fmt.Sprintf("%d:%s", r.gen.Load(), suffix)
}

// ListRepos queries the universe with the given filter. Not cached: the
// filter space is too wide to be worth it.
func (r *ReadService) ListRepos(ctx context.Context, f store.RepoFilter) ([]model.Repo, int, error) {
	repos, total, err := r.store.ListRepos(ctx, f)
	if err != nil {
		return nil, 0, internal("list repos: "+err.Error(), err)
	}
	return repos, total, nil
}

// GetRepoDetail returns the repo, its latest deep snapshot, and snapshot
// counts.
func (r *ReadService) GetRepoDetail(ctx context.Context, owner, name string) (RepoDetail, error) {
	fullName := owner + "/" + name
	cacheKey := r.key("repo:" + fullName)
	if v, ok := r.cache.Get(cacheKey); ok {
		return v.(RepoDetail), nil
	}

	repo, err := r.store.GetRepoByFullName(ctx, fullName)
	if err != nil {
		return RepoDetail{}, internal("get repo: "+err.Error(), err)
	}
	if repo == nil {
		return RepoDetail{}, notFound("repo " + fullName + " not found")
	}

	deep, err := r.store.LatestDeepSnapshot(ctx, repo.ID)
	if err != nil {
		return RepoDetail{}, internal("latest deep snapshot: "+err.Error(), err)
	}
	discoveryCount, deepCount, err := r.store.SnapshotCounts(ctx, repo.ID)
	if err != nil {
		return RepoDetail{}, internal("snapshot counts: "+err.Error(), err)
	}

	detail := RepoDetail{
		Repo:               *repo,
		LatestDeep:         deep,
		DiscoverySnapshots: discoveryCount,
		DeepSnapshots:      deepCount,
	}
	r.cache.Set(cacheKey, detail)
	return detail, nil
}

// GetRepoHistory returns up to limit snapshots of the requested kind,
// newest first.
func (r *ReadService) GetRepoHistory(ctx context.Context, owner, name, kind string, limit int) (RepoHistory, error) {
	if kind != "discovery" && kind != "deep" {
		return RepoHistory{}, invalidArg("kind must be 'discovery' or 'deep'")
	}
	if limit <= 0 {
		limit = 30
	}

	fullName := owner + "/" + name
	repo, err := r.store.GetRepoByFullName(ctx, fullName)
	if err != nil {
		return RepoHistory{}, internal("get repo: "+err.Error(), err)
	}
	if repo == nil {
		return RepoHistory{}, notFound("repo " + fullName + " not found")
	}

	history := RepoHistory{Kind: kind}
	switch kind {
	case "discovery":
		history.Discovery, err = r.store.LatestDiscoverySnapshots(ctx, repo.ID, limit)
	case "deep":
		history.Deep, err = r.store.DeepSnapshotHistory(ctx, repo.ID, limit)
	}
	if err != nil {
		return RepoHistory{}, internal("snapshot history: "+err.Error(), err)
	}
	return history, nil
}

// LatestWatchlist returns the most recent generation ordered by the given
// track.
func (r *ReadService) LatestWatchlist(ctx context.Context, sortBy string) (WatchlistPage, error) {
	if sortBy == "" {
		sortBy = "momentum"
	}
	if !slices.Contains(watchlistSortKeys, sortBy) {
		return WatchlistPage{}, invalidArg("sort_by must be one of momentum, durability, adoption")
	}

	cacheKey := r.key("watchlist:latest:" + sortBy)
	if v, ok := r.cache.Get(cacheKey); ok {
		return v.(WatchlistPage), nil
	}

	date, err := r.store.LatestWatchlistDate(ctx)
	if err != nil {
		return WatchlistPage{}, internal("latest watchlist date: "+err.Error(), err)
	}
	if date.IsZero() {
		return WatchlistPage{}, notFound("no watchlist generated yet")
	}

	entries, err := r.store.WatchlistForDate(ctx, date, sortBy)
	if err != nil {
		return WatchlistPage{}, internal("watchlist entries: "+err.Error(), err)
	}

	page := WatchlistPage{Date: date, SortBy: sortBy, Items: make([]WatchlistItem, 0, len(entries))}
	for _, entry := range entries {
		repo, err := r.store.GetRepoByID(ctx, entry.RepoID)
		if err != nil {
			return WatchlistPage{}, internal("watchlist repo: "+err.Error(), err)
		}
		if repo == nil {
			// Repos are never deleted; a dangling entry would mean a
			// corrupted database.
			return WatchlistPage{}, internal(fmt.Sprintf("watchlist entry %d references missing repo %d", entry.ID, entry.RepoID), nil)
		}
		page.Items = append(page.Items, WatchlistItem{Repo: *repo, Entry: entry})
	}

	r.cache.Set(cacheKey, page)
	return page, nil
}

// WatchlistDates lists generation dates, newest first.
func (r *ReadService) WatchlistDates(ctx context.Context) ([]time.Time, error) {
	dates, err := r.store.WatchlistDates(ctx)
	if err != nil {
		return nil, internal("watchlist dates: "+err.Error(), err)
	}
	return dates, nil
}
