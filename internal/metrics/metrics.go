// Package metrics provides Prometheus instrumentation for the backtester.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts backtest runs, partitioned by outcome status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftbolt_runs_total",
		Help: "Total number of backtest runs",
	}, []string{"status", "strategy"})

	// RunDuration tracks wall-clock run duration by strategy.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swiftbolt_run_duration_seconds",
		Help:    "Backtest run duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"strategy"})

	// RunSteps tracks the number of bars processed per run.
	RunSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swiftbolt_run_steps",
		Help:    "Bars processed per backtest run",
		Buckets: prometheus.ExponentialBuckets(10, 4, 8),
	})

	// OrdersExecuted counts fills applied to the ledger.
	OrdersExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftbolt_orders_executed_total",
		Help: "Orders executed across all runs",
	})

	// OrdersRejected counts orders refused by the cost model, risk
	// limits, or ledger constraints.
	OrdersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftbolt_orders_rejected_total",
		Help: "Orders rejected across all runs",
	})

	// IVFailures counts implied-volatility inversions that did not
	// converge or were rejected on arbitrage bounds.
	IVFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swiftbolt_iv_failures_total",
		Help: "Failed implied volatility inversions",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swiftbolt_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "swiftbolt_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"method", "path"})
)

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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
