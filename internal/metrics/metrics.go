package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync results used as the "result" label
const (
	ResultSuccess   = "success"
	ResultAuth      = "auth"
	ResultSync      = "sync"
	ResultTransport = "transport"
	ResultRejected  = "rejected"
	ResultUnknown   = "unknown"
)

var (
	SyncRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbitdash_sync_requests_total",
			Help: "Total number of maindata fetches by instance and result",
		},
		[]string{"instance", "result"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qbitdash_sync_duration_seconds",
			Help:    "Duration of maindata fetches including re-authentication",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"instance"},
	)

	Authentications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbitdash_authentications_total",
			Help: "Total number of WebUI logins by instance and result",
		},
		[]string{"instance", "result"},
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qbitdash_cycle_duration_seconds",
			Help:    "Duration of scheduler cycles",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cycle"},
	)

	FramesBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbitdash_frames_broadcast_total",
			Help: "Total number of frames handed to the viewer registry",
		},
		[]string{"kind"},
	)

	FramesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qbitdash_frames_skipped_total",
			Help: "Frames not delivered because a viewer was not ready",
		},
	)

	ViewersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qbitdash_viewers_connected",
			Help: "Current number of registered WebSocket viewers",
		},
	)

	TrafficTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qbitdash_alltime_traffic_bytes",
			Help: "Lifetime traffic summed over every instance with a stats file",
		},
		[]string{"direction"},
	)

	Torrents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qbitdash_torrents",
			Help: "Torrents per instance by primary status",
		},
		[]string{"instance", "status"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qbitdash_circuit_breaker_state",
			Help: "Circuit breaker state per instance (0=closed, 1=half-open, 2=open)",
		},
		[]string{"instance"},
	)
)

// RecordSync records the outcome and latency of one fetch
func RecordSync(instance, result string, duration time.Duration) {
	SyncRequests.WithLabelValues(instance, result).Inc()
	SyncDuration.WithLabelValues(instance).Observe(duration.Seconds())
}

// RecordCycle records the latency of one scheduler cycle
func RecordCycle(cycle string, duration time.Duration) {
	CycleDuration.WithLabelValues(cycle).Observe(duration.Seconds())
}

// SetTorrentCounts replaces the per-status torrent gauges of one instance
func SetTorrentCounts(instance string, counts map[string]int) {
	Torrents.DeletePartialMatch(prometheus.Labels{"instance": instance})
	for status, n := range counts {
		Torrents.WithLabelValues(instance, status).Set(float64(n))
	}
}

// ForgetInstance drops every per-instance series
func ForgetInstance(instance string) {
	labels := prometheus.Labels{"instance": instance}
	SyncRequests.DeletePartialMatch(labels)
	SyncDuration.DeletePartialMatch(labels)
	Authentications.DeletePartialMatch(labels)
	Torrents.DeletePartialMatch(labels)
	BreakerState.DeletePartialMatch(labels)
}
