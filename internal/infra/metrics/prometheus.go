package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anonvid_jobs_processed_total",
		Help: "Total number of anonymization jobs processed, by status",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anonvid_pipeline_stage_duration_seconds",
		Help:    "Duration of anonymization pipeline stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	VoiceSegmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anonvid_voice_segments_total",
		Help: "Total number of voice segments processed, by outcome",
	}, []string{"outcome"})

	FallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anonvid_pipeline_fallbacks_total",
		Help: "Total number of pipeline runs that fell back to the original upload",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anonvid_active_workers",
		Help: "Number of currently active workers processing jobs",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anonvid_retry_total",
		Help: "Total number of job retries",
	}, []string{"attempt"})
)
