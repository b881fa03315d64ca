package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Batch coordinator metrics
	BatchFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_batch_files_total",
			Help: "Files seen by the batch coordinator by outcome",
		},
		[]string{"outcome"}, // received, started, completed, failed, cancelled
	)

	// Recognition metrics
	RecognitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_recognition_duration_seconds",
			Help:    "Document recognition duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100},
		},
		[]string{"engine"},
	)

	RecognitionPages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docflow_recognition_pages",
			Help:    "Number of pages per recognized document",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	SessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docflow_ocr_session_state",
			Help: "Current OCR session state (1 for the active state)",
		},
		[]string{"state"},
	)

	// Stage execution metrics
	StageRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_stage_runs_total",
			Help: "Stage executions by kind and status",
		},
		[]string{"kind", "status"},
	)

	// Content cache metrics
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_cache_lookups_total",
			Help: "Content cache lookups by namespace and result",
		},
		[]string{"namespace", "result"}, // hit, miss, bypass, outdated
	)

	// WebSocket metrics
	WebsocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docflow_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	WebsocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received
	)
)
