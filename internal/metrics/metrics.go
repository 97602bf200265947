// Package metrics provides Prometheus instrumentation for the battle engine.
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
	// RoomsActive tracks the rooms hosted by this process.
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battle_rooms_active",
		Help: "Number of rooms currently hosted",
	})

	// DayAdvances counts day cursor moves, partitioned by what moved it.
	DayAdvances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_day_advances_total",
		Help: "Total day advances",
	}, []string{"source"})

	GateRaises = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battle_gate_raises_total",
		Help: "Trade gate entries raised by players",
	})

	GateForceClears = promauto.NewCounter(prometheus.CounterOpts{
		Name: "battle_gate_force_clears_total",
		Help: "Trade gate force-clears issued by hosts",
	})

	// SnapshotWrites counts player snapshot writes by policy and outcome.
	SnapshotWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_snapshot_writes_total",
		Help: "Player snapshot writes",
	}, []string{"policy", "outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "battle_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// TradesTotal counts executed trades, partitioned by kind.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_trades_total",
		Help: "Total number of trades executed",
	}, []string{"kind"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "battle_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "battle_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveSnapshot records one snapshot publish decision.
func ObserveSnapshot(policy string, sent bool) {
	outcome := "sent"
	if !sent {
		outcome = "skipped"
	}
	SnapshotWrites.WithLabelValues(policy, outcome).Inc()
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern so room ids do not explode the
// label space.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
