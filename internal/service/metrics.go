package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the preservation lifecycle.
var (
	transfersBegunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preservation_transfers_begun_total",
		Help: "Transfers handed to the archive, by result (ok, start_failed, approve_failed).",
	}, []string{"result"})

	statusPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preservation_status_polls_total",
		Help: "Transfer status polls, by observed outcome (in_progress, succeeded, failed, error).",
	}, []string{"outcome"})

	activeMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "preservation_active_monitors",
		Help: "Documents whose transfer status is currently being polled.",
	})

	monitorDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "preservation_monitor_duration_seconds",
		Help:    "Time from the first poll to a terminal observation.",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 14400, 86400},
	})

	statusProjectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preservation_status_projections_total",
		Help: "Terminal document statuses written, by status.",
	}, []string{"status"})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preservation_downloads_total",
		Help: "Preserved package downloads, by result (ok, not_preserved, error).",
	}, []string{"result"})

	artifactCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preservation_artifact_cache_hits_total",
		Help: "Preserved package downloads served from memory.",
	})
	artifactCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preservation_artifact_cache_misses_total",
		Help: "Preserved package downloads fetched from the archive.",
	})
	artifactCacheSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "preservation_artifact_cache_skipped_total",
		Help: "Preserved packages served without caching because of their size.",
	})
)
