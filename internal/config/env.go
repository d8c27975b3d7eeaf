// Package config handles environment-based configuration loading and the
// optional scoring-weights file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	StateDir string

	// Network
	ListenAddress string
	Port          int

	APIMaxBodyBytes int

	// GitHub API
	GitHubToken          string
	GitHubAPIBaseURL     string
	HTTPTimeout          time.Duration
	RateLimitSafetyFloor int

	// Pipeline budgets and universe criteria
	DeepAnalysisMaxRequestsPerRun int
	DeepAnalysisMaxRepos          int
	MinStars                      int
	MaxAgeMonths                  int
	MaxDaysSincePush              int

	// Schedules (standard cron expressions; empty disables the job)
	DiscoverySchedule    string
	DeepAnalysisSchedule string
	WatchlistSchedule    string

	// Auth
	AdminToken string

	// Scoring
	ScoringConfigPath string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error listing every invalid or missing variable.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.StateDir = envStr("SEEDSCOUT_STATE_DIR", "/var/lib/seedscout")
	cfg.ListenAddress = strings.TrimSpace(envStr("SEEDSCOUT_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("SEEDSCOUT_PORT", 8400, &errs)
	cfg.APIMaxBodyBytes = envInt("SEEDSCOUT_API_MAX_BODY_BYTES", 1<<20, &errs)

	cfg.GitHubToken = strings.TrimSpace(envStr("SEEDSCOUT_GITHUB_TOKEN", ""))
	cfg.GitHubAPIBaseURL = strings.TrimRight(envStr("SEEDSCOUT_GITHUB_API_BASE_URL", "https://api.github.com"), "/")
	cfg.HTTPTimeout = envDuration("SEEDSCOUT_HTTP_TIMEOUT", 30*time.Second, &errs)
	cfg.RateLimitSafetyFloor = envInt("SEEDSCOUT_RATE_LIMIT_SAFETY_FLOOR", 500, &errs)

	cfg.DeepAnalysisMaxRequestsPerRun = envInt("SEEDSCOUT_DEEP_ANALYSIS_MAX_REQUESTS_PER_RUN", 5000, &errs)
	cfg.DeepAnalysisMaxRepos = envInt("SEEDSCOUT_DEEP_ANALYSIS_MAX_REPOS", 100, &errs)
	cfg.MinStars = envInt("SEEDSCOUT_MIN_STARS", 2000, &errs)
	cfg.MaxAgeMonths = envInt("SEEDSCOUT_MAX_AGE_MONTHS", 24, &errs)
	cfg.MaxDaysSincePush = envInt("SEEDSCOUT_MAX_DAYS_SINCE_PUSH", 90, &errs)

	cfg.DiscoverySchedule = strings.TrimSpace(envStr("SEEDSCOUT_DISCOVERY_SCHEDULE", ""))
	cfg.DeepAnalysisSchedule = strings.TrimSpace(envStr("SEEDSCOUT_DEEP_ANALYSIS_SCHEDULE", ""))
	cfg.WatchlistSchedule = strings.TrimSpace(envStr("SEEDSCOUT_WATCHLIST_SCHEDULE", ""))

	adminToken, hasAdminToken := os.LookupEnv("SEEDSCOUT_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	cfg.ScoringConfigPath = strings.TrimSpace(envStr("SEEDSCOUT_SCORING_CONFIG", ""))

	// --- Validation ---
	if cfg.ListenAddress == "" {
		errs = append(errs, "SEEDSCOUT_LISTEN_ADDRESS must not be empty")
	}
	validatePort("SEEDSCOUT_PORT", cfg.Port, &errs)
	validatePositive("SEEDSCOUT_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)

	if cfg.GitHubToken == "" {
		errs = append(errs, "SEEDSCOUT_GITHUB_TOKEN must be set")
	}
	if cfg.HTTPTimeout <= 0 {
		errs = append(errs, "SEEDSCOUT_HTTP_TIMEOUT must be positive")
	}
	if cfg.RateLimitSafetyFloor < 0 {
		errs = append(errs, "SEEDSCOUT_RATE_LIMIT_SAFETY_FLOOR must not be negative")
	}

	validatePositive("SEEDSCOUT_DEEP_ANALYSIS_MAX_REQUESTS_PER_RUN", cfg.DeepAnalysisMaxRequestsPerRun, &errs)
	if cfg.DeepAnalysisMaxRepos < 1 || cfg.DeepAnalysisMaxRepos > 100 {
		errs = append(errs, fmt.Sprintf("SEEDSCOUT_DEEP_ANALYSIS_MAX_REPOS: must be 1-100, got %d", cfg.DeepAnalysisMaxRepos))
	}
	validatePositive("SEEDSCOUT_MIN_STARS", cfg.MinStars, &errs)
	validatePositive("SEEDSCOUT_MAX_AGE_MONTHS", cfg.MaxAgeMonths, &errs)
	validatePositive("SEEDSCOUT_MAX_DAYS_SINCE_PUSH", cfg.MaxDaysSincePush, &errs)

	validateSchedule("SEEDSCOUT_DISCOVERY_SCHEDULE", cfg.DiscoverySchedule, &errs)
	validateSchedule("SEEDSCOUT_DEEP_ANALYSIS_SCHEDULE", cfg.DeepAnalysisSchedule, &errs)
	validateSchedule("SEEDSCOUT_WATCHLIST_SCHEDULE", cfg.WatchlistSchedule, &errs)

	if !hasAdminToken {
		errs = append(errs, "SEEDSCOUT_ADMIN_TOKEN must be defined (can be empty to disable admin auth)")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validateSchedule(name, expr string, errs *[]string) {
	if expr == "" {
		return
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid cron expression %q: %v", name, expr, err))
	}
}
