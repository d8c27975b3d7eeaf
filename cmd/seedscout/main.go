package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/seedscout/seedscout/internal/api"
	"github.com/seedscout/seedscout/internal/buildinfo"
	"github.com/seedscout/seedscout/internal/config"
	"github.com/seedscout/seedscout/internal/deepanalysis"
	"github.com/seedscout/seedscout/internal/discovery"
	"github.com/seedscout/seedscout/internal/githubapi"
	"github.com/seedscout/seedscout/internal/queue"
	"github.com/seedscout/seedscout/internal/scheduler"
	"github.com/seedscout/seedscout/internal/service"
	"github.com/seedscout/seedscout/internal/store"
	"github.com/seedscout/seedscout/internal/telemetry"
	"github.com/seedscout/seedscout/internal/watchlist"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load and validate environment config
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	if config.IsWeakToken(envCfg.AdminToken) {
		log.Printf("[main] SEEDSCOUT_ADMIN_TOKEN looks weak; use a long random value")
	}
	if envCfg.AdminToken == "" {
		log.Printf("[main] SEEDSCOUT_ADMIN_TOKEN is empty; admin auth accepts any bearer of an empty token")
	}

	scoring := config.DefaultScoringConfig()
	if envCfg.ScoringConfigPath != "" {
		scoring, err = config.LoadScoringConfig(envCfg.ScoringConfigPath)
		if err != nil {
			return err
		}
	}

	// 2. Open the state store
	if err := os.MkdirAll(envCfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	st, err := store.Open(filepath.Join(envCfg.StateDir, "seedscout.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	// 3. Wire the GitHub client and pipelines
	client := githubapi.NewClient(githubapi.Options{
		BaseURL:     envCfg.GitHubAPIBaseURL,
		Token:       envCfg.GitHubToken,
		Timeout:     envCfg.HTTPTimeout,
		SafetyFloor: envCfg.RateLimitSafetyFloor,
	})
	defer client.Close()

	crit := discovery.Criteria{
		MinStars:         envCfg.MinStars,
		MaxAgeMonths:     envCfg.MaxAgeMonths,
		MaxDaysSincePush: envCfg.MaxDaysSincePush,
	}

	reads, err := service.NewReadService(st)
	if err != nil {
		return err
	}
	defer reads.Close()

	metrics := telemetry.New(client)
	admin := service.NewAdminService(
		client, st,
		discovery.New(client, st, crit),
		queue.NewManager(st),
		deepanalysis.New(client, st, envCfg.DeepAnalysisMaxRequestsPerRun, scoring),
		watchlist.New(st),
		envCfg, metrics, reads,
	)

	// 4. Start the scheduler
	sched, err := scheduler.New(admin, envCfg)
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	// 5. Create and start the API server
	srv := api.NewServer(api.ServerOptions{
		ListenAddress:  envCfg.ListenAddress,
		Port:           envCfg.Port,
		AdminToken:     envCfg.AdminToken,
		MaxBodyBytes:   int64(envCfg.APIMaxBodyBytes),
		Admin:          admin,
		Reads:          reads,
		MetricsHandler: metrics.Handler(),
	})

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[main] seedscout %s listening on %s:%d", buildinfo.Version, envCfg.ListenAddress, envCfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 6. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Printf("[main] received signal %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[main] server shutdown error: %v", err)
	}
	log.Printf("[main] stopped")
	return nil
}
