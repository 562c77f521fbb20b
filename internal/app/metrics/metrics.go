package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketdata",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketdata",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketdata",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	refreshCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketdata",
			Subsystem: "refresh",
			Name:      "cycles_total",
			Help:      "Total number of refresh cycles.",
		},
		[]string{"trigger"},
	)

	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "marketdata",
			Subsystem: "refresh",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of full refresh cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
	)

	refreshSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketdata",
			Subsystem: "refresh",
			Name:      "cycles_skipped_total",
			Help:      "Refresh requests dropped because a cycle was already running.",
		},
	)

	sourceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketdata",
			Subsystem: "sources",
			Name:      "requests_total",
			Help:      "Total number of upstream source calls.",
		},
		[]string{"source", "outcome"},
	)

	streamTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketdata",
			Subsystem: "stream",
			Name:      "ticks_total",
			Help:      "Total number of push-feed ticks applied to the cache.",
		},
	)

	streamReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketdata",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total number of push-feed reconnect attempts.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		refreshCycles,
		refreshDuration,
		refreshSkipped,
		sourceRequests,
		streamTicks,
		streamReconnects,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordRefreshCycle records one completed refresh cycle.
func RecordRefreshCycle(trigger string, duration time.Duration) {
	if trigger == "" {
		trigger = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	refreshCycles.WithLabelValues(trigger).Inc()
	refreshDuration.Observe(duration.Seconds())
}

// RecordRefreshSkipped records a refresh request dropped by the reentrancy guard.
func RecordRefreshSkipped() {
	refreshSkipped.Inc()
}

// RecordSourceRequest records the outcome of one upstream source call.
func RecordSourceRequest(source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sourceRequests.WithLabelValues(source, outcome).Inc()
}

// RecordStreamTick records one push-feed tick applied to the cache.
func RecordStreamTick() {
	streamTicks.Inc()
}

// RecordStreamReconnect records one push-feed reconnect attempt.
func RecordStreamReconnect() {
	streamReconnects.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses per-symbol paths so label cardinality stays bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/api"
	}
	if len(parts) >= 3 {
		return "/api/" + parts[1] + "/:symbol"
	}
	return "/api/" + parts[1]
}
