package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gt06_frames_total",
		Help: "Decoded GT06 frames by protocol number.",
	}, []string{"protocol"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gt06_frames_dropped_total",
		Help: "Frames discarded before commit, by reason.",
	}, []string{"reason"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gt06_sessions_active",
		Help: "Authenticated tracker sessions currently open.",
	})

	ObserversActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gt06_observers_active",
		Help: "WebSocket observers currently registered.",
	})

	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gt06_queue_dropped_total",
		Help: "Updates evicted from per-device queues on overflow.",
	})

	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gt06_broadcast_failures_total",
		Help: "Observer sends that failed and pruned the observer.",
	})

	BroadcastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gt06_broadcast_duration_seconds",
		Help:    "Wall time to fan one update out to all observers.",
		Buckets: prometheus.DefBuckets,
	})
)

// MetricsHandler exposes the default registry for the /metrics route.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
