// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ml_server_compute_duration_seconds",
			Help:    "Time spent inside executor compute in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"model"},
	)

	DispatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_server_dispatch_count_total",
			Help: "Total number of dispatched inference calls",
		},
		[]string{"model", "status"},
	)

	ModelUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_server_model_updates_total",
			Help: "Administrative model updates by origin",
		},
		[]string{"model", "source", "result"},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ml_server_active_stream_connections",
			Help: "Current open stream connections",
		},
	)

	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_server_stream_messages_total",
			Help: "Stream messages by direction and type",
		},
		[]string{"direction", "message_type"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_server_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
