package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispenser_build_info",
			Help: "Build information of the dispenser service",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispenser_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispenser_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	InstructionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispenser_instructions_total",
			Help: "Total number of dispenser instructions by outcome",
		},
		[]string{"instruction", "outcome"},
	)

	InstructionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispenser_instruction_duration_seconds",
			Help:    "Duration of dispenser instructions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
		},
		[]string{"instruction"},
	)

	TokensQueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispenser_tokens_queued_total",
			Help: "Total token amount queued via add_recipient",
		},
	)

	TokensDistributedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispenser_tokens_distributed_total",
			Help: "Total token amount moved from the vault via distribute",
		},
	)

	TokensCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispenser_tokens_cancelled_total",
			Help: "Total token amount abandoned via cancel",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordInstruction records the outcome and duration of one instruction.
func RecordInstruction(instruction string, duration time.Duration, err error) {
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	InstructionsTotal.WithLabelValues(instruction, outcome).Inc()
	InstructionDuration.WithLabelValues(instruction).Observe(duration.Seconds())
}
