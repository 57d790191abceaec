// Package metrics provides Prometheus instrumentation for the vault engine.
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
	// LotsBoughtTotal counts lots filled through matching, by side.
	LotsBoughtTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionvault_lots_bought_total",
		Help: "Total lots filled through matching",
	}, []string{"side"})

	// PremiumPaidTotal accumulates gross premium in quote lamports.
	PremiumPaidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionvault_premium_paid_total",
		Help: "Cumulative gross premium in quote smallest units",
	}, []string{"side"})

	// MatchLatency is the latency of buy-lots execution.
	MatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optionvault_match_latency_seconds",
		Help:    "Buy-lots execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// SettlementsTotal counts resolved positions by role and outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionvault_settlements_total",
		Help: "Total settled positions",
	}, []string{"role", "outcome"})

	// OracleUpdatesTotal counts oracle price writes by kind.
	OracleUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionvault_oracle_updates_total",
		Help: "Total oracle price writes",
	}, []string{"kind"})

	// EmergencyActivationsTotal counts series entering emergency mode.
	EmergencyActivationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "optionvault_emergency_activations_total",
		Help: "Series switched into emergency mode",
	})

	// ActiveVaults tracks the number of created vaults.
	ActiveVaults = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "optionvault_active_vaults",
		Help: "Number of created vaults",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "optionvault_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "optionvault_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "optionvault_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is bounded
		// by the vault id space in practice.
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
