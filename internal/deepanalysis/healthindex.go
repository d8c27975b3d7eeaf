package deepanalysis

import (
	"github.com/seedscout/seedscout/internal/config"
	"github.com/seedscout/seedscout/internal/model"
)

// HealthIndex combines the four signal groups into one weighted composite
// in [0, 100]. Each component is normalized to [0, 100]; missing components
// are excluded and the remaining weights renormalized. Returns nil when no
// component is available.
func HealthIndex(snap *model.DeepSnapshot, weights config.ScoringConfig) *float64 {
	type component struct {
		weight float64
		value  *float64
	}
	components := []component{
		{weights.WeightVelocity, velocityComponent(snap.CommitTrendSlope)},
		{weights.WeightResponsiveness, responsivenessComponent(snap.MedianIssueResponseHours)},
		{weights.WeightContributors, contributorsComponent(snap.ActiveMaintainersCount)},
		{weights.WeightAdoption, adoptionComponent(snap.ForkToStarRatio)},
	}

	var sum, weightSum float64
	for _, c := range components {
		if c.value == nil {
			continue
		}
		sum += c.weight * *c.value
		weightSum += c.weight
	}
	if weightSum == 0 {
		return nil
	}
	idx := round2(sum / weightSum)
	return &idx
}

// velocityComponent maps the commit trend slope to [0, 100]: a slope of 10
// commits/week/week saturates.
func velocityComponent(slope *float64) *float64 {
	if slope == nil {
		return nil
	}
	return clamped(*slope * 10)
}

// responsivenessComponent maps the median issue response to [0, 100]: under
// an hour is 100, a week or more is 0.
func responsivenessComponent(hours *float64) *float64 {
	if hours == nil {
		return nil
	}
	return clamped(100 - *hours*(100.0/168))
}

// contributorsComponent maps maintainer count to [0, 100]: 50 or more
// saturates.
func contributorsComponent(count *int) *float64 {
	if count == nil {
		return nil
	}
	return clamped(float64(*count) * 2)
}

// adoptionComponent maps the fork-to-star ratio to [0, 100]: 0.5 or more
// saturates.
func adoptionComponent(ratio *float64) *float64 {
	if ratio == nil {
		return nil
	}
	return clamped(*ratio * 200)
}

func clamped(v float64) *float64 {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}
