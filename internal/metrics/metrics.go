// Package metrics holds the Prometheus collectors shared by the widget service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "achievement_widget"

var (
	// CacheLookups counts per-player cache lookups
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Per-player cache lookups by result (hit, miss, shared).",
	}, []string{"result"})

	// Refreshes counts refreshes that ran upstream
	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresh",
		Name:      "total",
		Help:      "Completed refreshes by outcome (active, idle, error).",
	}, []string{"outcome"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency of game platform API calls.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"endpoint", "status"})

	unlocksDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "diff",
		Name:      "newly_unlocked_total",
		Help:      "Achievements detected as transitioning from locked to unlocked.",
	})
)

// CacheHit records a fresh cache entry served without a refresh
func CacheHit() { CacheLookups.WithLabelValues("hit").Inc() }

// CacheMiss records a lookup that started a refresh
func CacheMiss() { CacheLookups.WithLabelValues("miss").Inc() }

// CacheShared records a caller that waited on another caller's refresh
func CacheShared() { CacheLookups.WithLabelValues("shared").Inc() }

// Refresh records the outcome of one refresh, once per refresh regardless of
// how many callers waited on it
func Refresh(outcome string) { Refreshes.WithLabelValues(outcome).Inc() }

// Upstream records one game platform API call
func Upstream(endpoint, status string, elapsed time.Duration) {
	upstreamLatency.WithLabelValues(endpoint, status).Observe(elapsed.Seconds())
}

// Unlocked records newly unlocked achievements
func Unlocked(n int) {
	if n > 0 {
		unlocksDetected.Add(float64(n))
	}
}
