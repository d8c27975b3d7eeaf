package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScoringConfig holds the health-index weights. Each weight defaults to
// 0.25; an optional YAML file overrides them.
type ScoringConfig struct {
	WeightVelocity       float64 `yaml:"weight_velocity"`
	WeightResponsiveness float64 `yaml:"weight_responsiveness"`
	WeightContributors   float64 `yaml:"weight_contributors"`
	WeightAdoption       float64 `yaml:"weight_adoption"`
}

// DefaultScoringConfig returns equal weights.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		WeightVelocity:       0.25,
		WeightResponsiveness: 0.25,
		WeightContributors:   0.25,
		WeightAdoption:       0.25,
	}
}

// LoadScoringConfig reads weights from a YAML file, falling back to
// defaults for any weight the file omits. An empty path returns defaults.
func LoadScoringConfig(path string) (ScoringConfig, error) {
	cfg := DefaultScoringConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("scoring config read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("scoring config parse %s: %w", path, err)
	}

	weights := []struct {
		name  string
		value float64
	}{
		{"weight_velocity", cfg.WeightVelocity},
		{"weight_responsiveness", cfg.WeightResponsiveness},
		{"weight_contributors", cfg.WeightContributors},
		{"weight_adoption", cfg.WeightAdoption},
	}
	sum := 0.0
	for _, w := range weights {
		if w.value < 0 {
			return cfg, fmt.Errorf("scoring config %s: %s must not be negative", path, w.name)
		}
		sum += w.value
	}
	if sum == 0 {
		return cfg, fmt.Errorf("scoring config %s: weights must not all be zero", path)
	}
	return cfg, nil
}
