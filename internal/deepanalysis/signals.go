package deepanalysis

import (
	"math"
	"sort"

	"github.com/seedscout/seedscout/internal/githubapi"
	"github.com/seedscout/seedscout/internal/model"
)

// monthlyWindows is the number of 4-week windows summarizing the last six
// months of commit activity.
const monthlyWindows = 6

// MonthlyActivity sums the last 26 weekly commit buckets into six 4-week
// windows, oldest first. Returns nil when fewer than 24 weeks are present.
func MonthlyActivity(weeks []githubapi.CommitWeek) []int {
	if len(weeks) >= 26 {
		weeks = weeks[len(weeks)-26:]
	}
	if len(weeks) < monthlyWindows*4 {
		return nil
	}
	weeks = weeks[len(weeks)-monthlyWindows*4:]

	out := make([]int, 0, monthlyWindows)
	for i := 0; i < monthlyWindows; i++ {
		sum := 0
		for _, w := range weeks[i*4 : (i+1)*4] {
			sum += w.Total
		}
		out = append(out, sum)
	}
	return out
}

// Distribution summarizes the all-time commit spread across contributors.
// Returns nil when no commits are recorded.
func Distribution(stats []githubapi.ContributorStat) *model.ContributionDistribution {
	total := 0
	contributions := make([]int, 0, len(stats))
	for _, s := range stats {
		total += s.Total
		contributions = append(contributions, s.Total)
	}
	if total == 0 {
		return nil
	}
	sort.Sort(sort.Reverse(sort.IntSlice(contributions)))

	top5 := 0
	for i, c := range contributions {
		if i >= 5 {
			break
		}
		top5 += c
	}
	return &model.ContributionDistribution{
		TotalContributors:     len(stats),
		TopContributorCommits: contributions[0],
		Top1Share:             round3(float64(contributions[0]) / float64(total)),
		Top5Share:             round3(float64(top5) / float64(total)),
	}
}

// TrendSlope fits a simple linear regression over indices 0..n-1 and
// returns the slope. Returns nil when fewer than two points exist; 0 when
// the denominator degenerates.
func TrendSlope(series []int) *float64 {
	n := len(series)
	if n < 2 {
		return nil
	}
	xMean := float64(n-1) / 2
	yMean := 0.0
	for _, y := range series {
		yMean += float64(y)
	}
	yMean /= float64(n)

	var num, den float64
	for i, y := range series {
		dx := float64(i) - xMean
		num += dx * (float64(y) - yMean)
		den += dx * dx
	}
	slope := 0.0
	if den != 0 {
		slope = num / den
	}
	return &slope
}

// Median returns the median of xs, or nil when xs is empty.
func Median(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	var m float64
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		m = sorted[mid]
	} else {
		m = (sorted[mid-1] + sorted[mid]) / 2
	}
	return &m
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
