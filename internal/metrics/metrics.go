package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherweave_downloads_total",
			Help: "Raw file downloads by source and status (fetched, skipped, failed)",
		},
		[]string{"source", "status"},
	)

	DownloadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherweave_download_bytes_total",
			Help: "Raw bytes transferred by source",
		},
		[]string{"source"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherweave_requests_total",
			Help: "Pipeline request outcomes by source (skipped, stored, failed)",
		},
		[]string{"source", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherweave_stage_duration_seconds",
			Help:    "Per-request pipeline stage latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"source", "stage"},
	)
)
