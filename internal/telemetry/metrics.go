// Package telemetry exposes Prometheus metrics for pipeline runs, GitHub
// quota consumption, and queue depth. A private registry keeps the scrape
// surface limited to what this process owns.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seedscout/seedscout/internal/githubapi"
)

// Metrics holds every collector the process registers.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal   *prometheus.CounterVec
	RunDuration *prometheus.HistogramVec

	QueuePending     prometheus.Gauge
	WatchlistEntries prometheus.Gauge
}

// New builds the metric set. When client is non-nil its request total and
// last-seen quota remaining are exported as live collectors.
func New(client *githubapi.Client) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seedscout",
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by job type and final status.",
		}, []string{"job_type", "status"}),
		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "seedscout",
			Name:      "pipeline_run_duration_seconds",
			Help:      "Wall-clock duration of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"job_type"}),
		QueuePending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "seedscout",
			Name:      "queue_pending_entries",
			Help:      "Unprocessed deep-analysis queue entries after the last refresh.",
		}),
		WatchlistEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "seedscout",
			Name:      "watchlist_latest_entries",
			Help:      "Entry count of the most recent watchlist generation.",
		}),
	}

	if client != nil {
		factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "seedscout",
			Name:      "github_requests_total",
			Help:      "HTTP requests issued against the GitHub API.",
		}, func() float64 { return float64(client.TotalRequests()) })
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "seedscout",
			Name:      "github_core_quota_remaining",
			Help:      "Last-seen core quota remaining. -1 until the first response.",
		}, quotaGauge(client, false))
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "seedscout",
			Name:      "github_search_quota_remaining",
			Help:      "Last-seen search quota remaining. -1 until the first response.",
		}, quotaGauge(client, true))
	}

	return m
}

func quotaGauge(client *githubapi.Client, search bool) func() float64 {
	return func() float64 {
		stats := client.Stats()
		rem := stats.CoreRemaining
		if search {
			rem = stats.SearchRemaining
		}
		if rem == nil {
			return -1
		}
		return float64(*rem)
	}
}

// ObserveRun records one finished pipeline run.
func (m *Metrics) ObserveRun(jobType, status string, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(jobType, status).Inc()
	m.RunDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
}

// Handler returns the scrape endpoint for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
