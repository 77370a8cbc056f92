// Package metrics provides Prometheus instrumentation for the
// verification service.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// VerificationsTotal counts verified certificates, partitioned by
	// outcome (accepted, rejected, malformed, timeout).
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "navproof_verifications_total",
		Help: "Total number of certificates verified",
	}, []string{"outcome"})

	// VerificationDuration tracks how long one certificate takes end to
	// end (decode through battery).
	VerificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "navproof_verification_duration_seconds",
		Help:    "Certificate verification duration in seconds",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	// BatchSize tracks how many certificates arrive per batch request.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "navproof_verify_batch_size",
		Help:    "Certificates per batch verification request",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	// DedupHits counts requests short-circuited by a digest-identical
	// stored report.
	DedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "navproof_dedup_hits_total",
		Help: "Verification requests answered from a stored report",
	})

	// StreamClients tracks connected report stream subscribers.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "navproof_stream_clients",
		Help: "Number of connected report stream clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "navproof_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "navproof_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveVerification records one verification's outcome and duration.
func ObserveVerification(outcome string, d time.Duration) {
	VerificationsTotal.WithLabelValues(outcome).Inc()
	VerificationDuration.Observe(d.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for the path label to avoid high
		// cardinality; chi has resolved it by the time the handler returns.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code. It
// forwards Hijack and Flush so the wrapper stays transparent to the
// WebSocket upgrade on the stream route.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("response writer does not support hijacking")
}
