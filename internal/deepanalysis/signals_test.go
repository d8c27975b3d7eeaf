package deepanalysis

import (
	"testing"

	"github.com/seedscout/seedscout/internal/config"
	"github.com/seedscout/seedscout/internal/githubapi"
	"github.com/seedscout/seedscout/internal/model"
)

func weeks(totals ...int) []githubapi.CommitWeek {
	out := make([]githubapi.CommitWeek, len(totals))
	for i, t := range totals {
		out[i] = githubapi.CommitWeek{Total: t}
	}
	return out
}

func TestMonthlyActivity(t *testing.T) {
	totals := make([]int, 52)
	for i := range totals {
		totals[i] = 1
	}
	got := MonthlyActivity(weeks(totals...))
	if len(got) != 6 {
		t.Fatalf("windows = %v", got)
	}
	for i, v := range got {
		if v != 4 {
			t.Fatalf("window %d = %d, want 4", i, v)
		}
	}

	if got := MonthlyActivity(weeks(1, 2, 3)); got != nil {
		t.Fatalf("short series should be nil, got %v", got)
	}
	if got := MonthlyActivity(nil); got != nil {
		t.Fatalf("empty series should be nil, got %v", got)
	}
}

func TestDistribution(t *testing.T) {
	stats := []githubapi.ContributorStat{
		{Total: 60}, {Total: 30}, {Total: 10},
	}
	d := Distribution(stats)
	if d == nil {
		t.Fatal("nil distribution")
	}
	if d.TotalContributors != 3 || d.TopContributorCommits != 60 {
		t.Fatalf("distribution = %+v", d)
	}
	if d.Top1Share != 0.6 || d.Top5Share != 1.0 {
		t.Fatalf("shares = %v %v", d.Top1Share, d.Top5Share)
	}

	if Distribution([]githubapi.ContributorStat{{Total: 0}}) != nil {
		t.Fatal("zero commits should yield nil distribution")
	}
	if Distribution(nil) != nil {
		t.Fatal("empty stats should yield nil distribution")
	}
}

func TestTrendSlope(t *testing.T) {
	if s := TrendSlope([]int{0, 1, 2, 3}); s == nil || *s != 1.0 {
		t.Fatalf("linear slope = %v", s)
	}
	if s := TrendSlope([]int{5, 5, 5, 5}); s == nil || *s != 0.0 {
		t.Fatalf("flat slope = %v", s)
	}
	if s := TrendSlope([]int{3, 2, 1}); s == nil || *s != -1.0 {
		t.Fatalf("declining slope = %v", s)
	}
	if s := TrendSlope([]int{7}); s != nil {
		t.Fatalf("single point slope = %v, want nil", s)
	}
	if s := TrendSlope(nil); s != nil {
		t.Fatalf("empty slope = %v, want nil", s)
	}
}

func TestMedian(t *testing.T) {
	if m := Median([]float64{3, 1, 2}); m == nil || *m != 2 {
		t.Fatalf("odd median = %v", m)
	}
	if m := Median([]float64{4, 1, 3, 2}); m == nil || *m != 2.5 {
		t.Fatalf("even median = %v", m)
	}
	if m := Median(nil); m != nil {
		t.Fatalf("empty median = %v, want nil", m)
	}
}

func TestHealthIndexRenormalizesMissingComponents(t *testing.T) {
	weights := config.DefaultScoringConfig()

	slope := 5.0 // velocity component 50
	maint := 25  // contributors component 50
	snap := &model.DeepSnapshot{
		CommitTrendSlope:       &slope,
		ActiveMaintainersCount: &maint,
	}
	idx := HealthIndex(snap, weights)
	if idx == nil || *idx != 50.0 {
		t.Fatalf("index = %v, want 50", idx)
	}

	if HealthIndex(&model.DeepSnapshot{}, weights) != nil {
		t.Fatal("index with no components should be nil")
	}
}

func TestHealthIndexClampsComponents(t *testing.T) {
	slope := 100.0 // saturates at 100
	hours := 10000.0
	snap := &model.DeepSnapshot{
		CommitTrendSlope:         &slope,
		MedianIssueResponseHours: &hours, // floors at 0
	}
	idx := HealthIndex(snap, config.DefaultScoringConfig())
	if idx == nil || *idx != 50.0 {
		t.Fatalf("index = %v, want 50", idx)
	}
}
