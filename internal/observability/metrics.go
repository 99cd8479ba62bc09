package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guppy",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guppy",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	clientFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guppy",
			Subsystem: "client",
			Name:      "fetches_total",
			Help:      "Fetch attempts by final session state.",
		},
		[]string{"state"},
	)
	clientFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guppy",
			Subsystem: "client",
			Name:      "fetch_duration_seconds",
			Help:      "Fetch duration in seconds by final session state.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"state"},
	)
	serverSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guppy",
			Subsystem: "server",
			Name:      "sessions_total",
			Help:      "Served transfer sessions by outcome.",
		},
		[]string{"outcome"},
	)
	serverActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "guppy",
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Transfer sessions currently in flight.",
		},
	)
	serverChunksSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guppy",
			Subsystem: "server",
			Name:      "chunks_sent_total",
			Help:      "Data chunks written to the wire.",
		},
		[]string{"kind"},
	)
	serverAcks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "guppy",
			Subsystem: "server",
			Name:      "acks_received_total",
			Help:      "Acknowledgment lines received from clients.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			clientFetches, clientFetchDuration,
			serverSessions, serverActiveSessions, serverChunksSent, serverAcks,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFetch(state string, duration time.Duration) {
	RegisterMetrics()
	clientFetches.WithLabelValues(state).Inc()
	clientFetchDuration.WithLabelValues(state).Observe(duration.Seconds())
}

func RecordSessionOutcome(outcome string) {
	RegisterMetrics()
	serverSessions.WithLabelValues(outcome).Inc()
}

func SetActiveSessions(n int) {
	RegisterMetrics()
	serverActiveSessions.Set(float64(n))
}

func RecordChunkSent(retransmit bool) {
	RegisterMetrics()
	kind := "first_send"
	if retransmit {
		kind = "retransmit"
	}
	serverChunksSent.WithLabelValues(kind).Inc()
}

func RecordAckReceived() {
	RegisterMetrics()
	serverAcks.Inc()
}
