package watchlist

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/seedscout/seedscout/internal/model"
	"github.com/seedscout/seedscout/internal/store"
)

var testNow = time.Date(2026, 8, 20, 6, 0, 0, 0, time.UTC)

func approx(t *testing.T, got, want float64, label string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s = %v, want %v", label, got, want)
	}
}

func newGenerator(t *testing.T) (*Generator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	g := New(st)
	g.now = func() time.Time { return testNow }
	return g, st
}

func recordPass(t *testing.T, st *store.Store, githubID int64, name string, stars int, created, at time.Time) int64 {
	t.Helper()
	repo := model.Repo{
		GitHubID: githubID, Owner: "acme", Name: name, FullName: "acme/" + name,
		Stars: stars, CreatedAt: created, PushedAt: at, LastSeenAt: at, Eligible: true,
	}
	snap := model.DiscoverySnapshot{
		SnapshotDate: at, Stars: stars, PushedAt: at, Eligible: true, Payload: []byte("{}"),
	}
	id, _, err := st.RecordDiscovery(context.Background(), repo, snap)
	if err != nil {
		t.Fatalf("record pass %s: %v", name, err)
	}
	return id
}

func attachDeepSnapshot(t *testing.T, st *store.Store, repoID int64, snap model.DeepSnapshot) {
	t.Helper()
	ctx := context.Background()
	entryID, err := st.InsertQueueEntry(ctx, model.QueueEntry{
		RepoID: repoID, Priority: 5, Reason: "stale_analysis", QueuedAt: snap.SnapshotDate,
	})
	if err != nil {
		t.Fatalf("queue entry: %v", err)
	}
	snap.RepoID = repoID
	if snap.Metrics == nil {
		snap.Metrics = []byte("{}")
	}
	if err := st.CompleteAnalysis(ctx, entryID, snap, snap.SnapshotDate); err != nil {
		t.Fatalf("attach deep snapshot: %v", err)
	}
}

func TestMomentumScoreBoundary(t *testing.T) {
	// Velocity 5/day, 120 days to 2k, commit slope 2: 10 + 20 + 20 = 50.
	slope := 2.0
	deep := &model.DeepSnapshot{CommitTrendSlope: &slope}
	score, factors := momentumScore(5, 120, deep)
	approx(t, score, 50.0, "momentum")
	want := "5.0 stars/day, 120d to 2k stars, positive commit trend"
	if factors != want {
		t.Fatalf("factors = %q, want %q", factors, want)
	}
}

func TestDurabilityScoreBoundary(t *testing.T) {
	// 10 maintainers, 50% top share, 28h median: 8 + 15 + 25 = 48.
	maintainers := 10
	share := 0.5
	hours := 28.0
	deep := &model.DeepSnapshot{
		ActiveMaintainersCount:   &maintainers,
		TopContributorShare:      &share,
		MedianIssueResponseHours: &hours,
	}
	score, factors := durabilityScore(deep)
	approx(t, score, 48.0, "durability")
	want := "10 contributors, 50% top contributor, 28.0h median response"
	if factors != want {
		t.Fatalf("factors = %q, want %q", factors, want)
	}
}

func TestAdoptionScoreWithOnlyForkRatio(t *testing.T) {
	ratio := 0.25
	deep := &model.DeepSnapshot{ForkToStarRatio: &ratio}
	score, factors := adoptionScore(deep)
	approx(t, score, 10.0, "adoption")
	want := "dependents N/A, downloads N/A, 0.25 fork/star"
	if factors != want {
		t.Fatalf("factors = %q, want %q", factors, want)
	}
}

func TestScoresWithoutDeepSnapshot(t *testing.T) {
	score, factors := durabilityScore(nil)
	if score != 0 || factors != "no deep analysis available" {
		t.Fatalf("durability = %v %q", score, factors)
	}
	score, factors = adoptionScore(nil)
	if score != 0 || factors != "no deep analysis available" {
		t.Fatalf("adoption = %v %q", score, factors)
	}
	score, factors = momentumScore(0, 0, nil)
	if score != 0 || factors != "insufficient data" {
		t.Fatalf("momentum = %v %q", score, factors)
	}
}

func TestDecliningTrendContributesNothing(t *testing.T) {
	slope := -2.0
	deep := &model.DeepSnapshot{CommitTrendSlope: &slope}
	score, factors := momentumScore(0, 0, deep)
	approx(t, score, 0, "momentum")
	if factors != "declining activity" {
		t.Fatalf("factors = %q", factors)
	}
}

func TestRunAdmitsRecentThresholdCross(t *testing.T) {
	g, st := newGenerator(t)
	ctx := context.Background()

	created := testNow.AddDate(0, 0, -40)
	recordPass(t, st, 1, "riser", 1900, created, testNow.AddDate(0, 0, -10))
	id := recordPass(t, st, 1, "riser", 2100, created, testNow.AddDate(0, 0, -3))

	stats, err := g.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.TotalCandidates != 1 || stats.WatchlistSize != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	date, err := st.LatestWatchlistDate(ctx)
	if err != nil || !date.Equal(testNow) {
		t.Fatalf("date = %v, %v", date, err)
	}
	entries, err := st.WatchlistForDate(ctx, date, "momentum")
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %v, %v", entries, err)
	}
	entry := entries[0]
	if entry.RepoID != id {
		t.Fatalf("repo id = %d, want %d", entry.RepoID, id)
	}

	// Velocity 200/7 caps at 40; 37 days to 2k adds 30 - 37/12.
	approx(t, entry.MomentumScore, 40+30-37.0/12, "momentum")
	approx(t, entry.DurabilityScore, 0, "durability")
	approx(t, entry.AdoptionScore, 0, "adoption")

	want := "Recently created (40d ago). strong growth momentum."
	if entry.Rationale != want {
		t.Fatalf("rationale = %q, want %q", entry.Rationale, want)
	}

	runs, err := st.RecentJobRuns(ctx, model.JobTypeWatchlist, 5)
	if err != nil || len(runs) != 1 || runs[0].Status != model.JobStatusCompleted {
		t.Fatalf("job runs = %v, %v", runs, err)
	}
}

func TestRunRefinementExcludesOrdinaryRepos(t *testing.T) {
	g, st := newGenerator(t)
	ctx := context.Background()

	// Crossed the threshold long ago and shows no exceptional signal.
	created := testNow.AddDate(0, 0, -300)
	recordPass(t, st, 2, "plateau", 2500, created, testNow.AddDate(0, 0, -120))
	id := recordPass(t, st, 2, "plateau", 2510, created, testNow.AddDate(0, 0, -60))

	stats, err := g.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.TotalCandidates != 1 || stats.WatchlistSize != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	// An exceptional deep signal admits it on the next generation.
	slope := 6.0
	attachDeepSnapshot(t, st, id, model.DeepSnapshot{
		SnapshotDate:         testNow.AddDate(0, 0, -1),
		CommitTrendSlope:     &slope,
		ResponseAvailability: model.AvailabilityInsufficientData,
		AdoptionAvailability: model.AvailabilityPartial,
	})
	stats, err = g.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.WatchlistSize != 1 {
		t.Fatalf("second stats = %+v", stats)
	}
}

func TestRunDeterministicRationale(t *testing.T) {
	g, st := newGenerator(t)
	ctx := context.Background()

	created := testNow.AddDate(0, 0, -40)
	recordPass(t, st, 3, "steady", 1900, created, testNow.AddDate(0, 0, -10))
	recordPass(t, st, 3, "steady", 2100, created, testNow.AddDate(0, 0, -3))

	if _, err := g.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, err := st.WatchlistForDate(ctx, testNow, "momentum")
	if err != nil || len(first) != 1 {
		t.Fatalf("first entries: %v %v", first, err)
	}

	// Same snapshots, later wall clock: a fresh generation is appended and
	// the scores and rationale only shift with the candidate's age.
	later := testNow.Add(time.Hour)
	g.now = func() time.Time { return later }
	if _, err := g.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, err := st.WatchlistForDate(ctx, later, "momentum")
	if err != nil || len(second) != 1 {
		t.Fatalf("second entries: %v %v", second, err)
	}
	if first[0].Rationale != second[0].Rationale {
		t.Fatalf("rationales differ: %q vs %q", first[0].Rationale, second[0].Rationale)
	}
	approx(t, first[0].MomentumScore, second[0].MomentumScore, "momentum across runs")

	dates, err := st.WatchlistDates(ctx)
	if err != nil || len(dates) != 2 {
		t.Fatalf("dates = %v, %v", dates, err)
	}
}
