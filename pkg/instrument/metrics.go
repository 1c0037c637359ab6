// Package instrument holds the Prometheus collectors exported at /metrics.
package instrument

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nicktill/espmon/pkg/reading"
)

var (
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espmon_polls_total",
			Help: "Sensor polls by result.",
		},
		[]string{"result"},
	)
	pollDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "espmon_poll_duration_seconds",
			Help:    "Sensor poll latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	readingsStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "espmon_readings_stored_total",
			Help: "Readings appended to a partition.",
		},
	)
	lastReadingTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "espmon_last_reading_timestamp_seconds",
			Help: "Unix time of the last stored reading.",
		},
	)
	sensorValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "espmon_sensor_value",
			Help: "Last numeric value reported per field.",
		},
		[]string{"field"},
	)
	sinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espmon_sink_errors_total",
			Help: "Failed deliveries of a reading to a sink.",
		},
		[]string{"sink"},
	)
	aggregationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espmon_aggregations_total",
			Help: "Window aggregations by window and outcome.",
		},
		[]string{"window", "outcome"},
	)
	chartsRenderedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espmon_charts_rendered_total",
			Help: "Charts rendered by kind.",
		},
		[]string{"kind"},
	)
	botRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espmon_bot_requests_total",
			Help: "Chat-bot requests by request type.",
		},
		[]string{"type"},
	)
	wsClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "espmon_ws_clients",
			Help: "Connected live-view websocket clients.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests served.",
		},
		[]string{"route", "method", "status"},
	)
	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

// ObservePoll records one sensor poll.
func ObservePoll(err error, dur time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	pollsTotal.WithLabelValues(result).Inc()
	pollDurationSeconds.Observe(dur.Seconds())
}

// ObserveStored records a persisted reading and its numeric values.
func ObserveStored(r reading.Reading, at time.Time) {
	readingsStoredTotal.Inc()
	lastReadingTimestamp.Set(float64(at.Unix()))
	for _, f := range reading.Fields {
		if v, ok := r.Float(f); ok {
			sensorValue.WithLabelValues(string(f)).Set(v)
		}
	}
}

// ObserveSinkError records a failed sink delivery.
func ObserveSinkError(sink string) {
	sinkErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveAggregation records an aggregation outcome ("ok" or the failure kind).
func ObserveAggregation(window, outcome string) {
	aggregationsTotal.WithLabelValues(window, outcome).Inc()
}

// ObserveChart records a rendered chart.
func ObserveChart(kind string) {
	chartsRenderedTotal.WithLabelValues(kind).Inc()
}

// ObserveBotRequest records a chat-bot request.
func ObserveBotRequest(requestType string) {
	botRequestsTotal.WithLabelValues(requestType).Inc()
}

// SetWSClients records the number of live-view clients.
func SetWSClients(n int) {
	wsClients.Set(float64(n))
}

// Middleware tracks request counts and latency per route template, so
// /v1/partitions/2024-03-01 is counted as /v1/partitions/{date}.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := routeLabel(r)
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
