package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LinesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "lga_lines_ingested_total", Help: "Raw lines ingested"},
		[]string{"parser", "status"},
	)
	FilesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "lga_files_processed_total", Help: "Uploaded files processed"},
		[]string{"status"},
	)
	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "lga_pipeline_runs_total", Help: "Analytics pipeline runs"},
		[]string{"trigger", "status"},
	)
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lga_pipeline_run_duration_seconds",
			Help:    "Wall time of analytics runs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
	AnomaliesDetected = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "lga_anomalies_detected_total", Help: "Anomalous windows persisted"},
	)
	ClustersCreated = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "lga_error_clusters", Help: "Error clusters from the latest run"},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		LinesIngested, FilesProcessed, PipelineRuns, RunDuration,
		AnomaliesDetected, ClustersCreated,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
