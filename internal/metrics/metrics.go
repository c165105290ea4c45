// Package metrics provides Prometheus instrumentation for the market engine.
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
	// OrdersPlaced counts admitted orders, partitioned by side.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predyx_orders_placed_total",
		Help: "Total number of orders admitted to the book",
	}, []string{"side"})

	// OrdersRejected counts admission rejections by reason.
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predyx_orders_rejected_total",
		Help: "Total number of order admissions rejected",
	}, []string{"reason"})

	// TradesSettled counts committed trade settlements.
	TradesSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predyx_trades_settled_total",
		Help: "Total number of trades settled",
	})

	// TradeVolume tracks cumulative traded contracts.
	TradeVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predyx_trade_volume_total",
		Help: "Cumulative trade volume in contracts",
	})

	// MatchingRuns observes the duration of one matching-engine run.
	MatchingRuns = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "predyx_matching_run_seconds",
		Help:    "Matching engine run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// MatchingFailures counts matching runs halted by a settlement error.
	MatchingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predyx_matching_failures_total",
		Help: "Matching runs halted by a settlement failure",
	})

	// MatchQueueDepth tracks orders waiting for a matching worker.
	MatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predyx_match_queue_depth",
		Help: "Orders queued for matching",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predyx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predyx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predyx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
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

		// Use the raw path for the label; route cardinality is low.
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
