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
	// TradesTotal counts executed trades, partitioned by type and outcome side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goosemarket_trades_total",
		Help: "Total number of trades executed",
	}, []string{"type", "side"})

	// TradeLatency tracks trade execution latency.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goosemarket_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// TradeVolume tracks cumulative traded shares per market.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goosemarket_trade_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"market_id", "side"})

	// RiskRejections counts trades rejected by the position limiter.
	RiskRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goosemarket_risk_rejections_total",
		Help: "Trades rejected by position limits",
	})

	// MarketsResolved counts completed settlements, partitioned by outcome.
	MarketsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goosemarket_markets_resolved_total",
		Help: "Markets resolved",
	}, []string{"outcome"})

	// SettlementPayoutCents accumulates settlement credits in cents.
	SettlementPayoutCents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goosemarket_settlement_payout_cents_total",
		Help: "Total settlement credits in cents",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goosemarket_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goosemarket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goosemarket_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
