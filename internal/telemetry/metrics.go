package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Event delivery ----
	EventsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrnet",
			Name:      "events_queued_total",
			Help:      "Events queued for sending, by delivery class.",
		},
		[]string{"class"},
	)

	EventsRetransmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrnet",
			Name:      "events_retransmitted_total",
			Help:      "Guaranteed events requeued after their packet was reported dropped.",
		},
	)

	EventsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrnet",
			Name:      "events_received_total",
			Help:      "Events decoded from incoming packets.",
		},
	)

	PacketsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrnet",
			Name:      "packets_resolved_total",
			Help:      "Packets carrying guaranteed events resolved by the transport, by outcome.",
		},
		[]string{"outcome"},
	)

	LedgerPackets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrnet",
			Name:      "ledger_packets",
			Help:      "In-flight packets carrying guaranteed events awaiting acknowledgment.",
		},
	)

	DecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrnet",
			Name:      "decode_errors_total",
			Help:      "Incoming packets discarded because of a framing error.",
		},
	)

	UnknownEventTypes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zephyrnet",
			Name:      "unknown_event_types_total",
			Help:      "Incoming event records skipped because their type id is not registered.",
		},
	)

	Peers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrnet",
			Name:      "peers",
			Help:      "Connected peers.",
		},
	)

	RTT = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zephyrnet",
			Name:      "rtt_seconds",
			Help:      "Smoothed round trip time samples.",
			// 1ms .. ~1s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 11),
		},
	)

	// ---- HTTP debug surface ----
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrnet",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrnet",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrnet",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrnet",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

const (
	ClassGuaranteed = "guaranteed"
	ClassBestEffort = "best_effort"

	OutcomeDelivered = "delivered"
	OutcomeDropped   = "dropped"
)

func init() {
	Registry.MustRegister(
		EventsQueued, EventsRetransmitted, EventsReceived, PacketsResolved, LedgerPackets,
		DecodeErrors, UnknownEventTypes, Peers, RTT,
		RequestsTotal, RequestDuration, buildInfo, uptime,
	)
}

// DeliveryClass returns the label value for an event's delivery class.
func DeliveryClass(guaranteed bool) string {
	if guaranteed {
		return ClassGuaranteed
	}
	return ClassBestEffort
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
