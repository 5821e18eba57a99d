// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the Tempest dashboard client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshCyclesTotal tracks completed refresh cycles by trigger (tick, visibility, station, units, manual)
	RefreshCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_refresh_cycles_total",
		Help: "Total number of completed refresh cycles",
	}, []string{"trigger"})

	// RefreshCycleOverlaps counts cycles that started while another was still in flight
	RefreshCycleOverlaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tempest_refresh_cycle_overlaps_total",
		Help: "Total number of refresh cycles started while a previous cycle was in flight",
	})

	// RefreshCycleDuration tracks how long a full refresh cycle takes to settle
	RefreshCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tempest_refresh_cycle_duration_seconds",
		Help:    "Duration of refresh cycles in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// FetchErrors tracks failed sub-fetches by kind (current, chart, stations, health)
	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_fetch_errors_total",
		Help: "Total number of failed telemetry fetches",
	}, []string{"kind"})

	// APIRequestDuration tracks telemetry API latency by endpoint
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tempest_api_request_duration_seconds",
		Help:    "Duration of telemetry API requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// CacheHits counts responses served from the cache partition by strategy
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_cache_hits_total",
		Help: "Total number of requests answered from cache",
	}, []string{"strategy"})

	// CacheMisses counts requests that had no cached entry by strategy
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_cache_misses_total",
		Help: "Total number of requests with no cached entry",
	}, []string{"strategy"})

	// CacheRevalidations counts background revalidations by outcome (stored, rejected, failed)
	CacheRevalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_cache_revalidations_total",
		Help: "Total number of background cache revalidations",
	}, []string{"outcome"})

	// CacheOfflineResponses counts synthetic 503 responses by strategy
	CacheOfflineResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_cache_offline_responses_total",
		Help: "Total number of synthetic offline responses",
	}, []string{"strategy"})

	// CacheSizeBytes tracks the on-disk size of the cache partitions
	CacheSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tempest_cache_size_bytes",
		Help: "Current size of cache partitions in bytes",
	})

	// PluginsActive tracks the number of plugins in the active list
	PluginsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tempest_plugins_active",
		Help: "Number of plugins currently active",
	})

	// PluginErrors tracks isolated plugin failures by plugin and lifecycle phase
	PluginErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tempest_plugin_errors_total",
		Help: "Total number of isolated plugin failures",
	}, []string{"plugin", "phase"})

	// ConnectionStatus is 1 for the current status label (online, stale, offline) and 0 for the others
	ConnectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tempest_connection_status",
		Help: "Connection status of the dashboard client",
	}, []string{"status"})

	// CountdownSeconds tracks seconds remaining until the next poll
	CountdownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tempest_poll_countdown_seconds",
		Help: "Seconds remaining until the next poll",
	})
)

var statusLabels = []string{"online", "stale", "offline"}

// SetConnectionStatus marks status as the active label.
func SetConnectionStatus(status string) {
	for _, s := range statusLabels {
		v := 0.0
		if s == status {
			v = 1
		}
		ConnectionStatus.WithLabelValues(s).Set(v)
	}
}
