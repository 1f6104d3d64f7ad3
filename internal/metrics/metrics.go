// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide metrics container.
type Metrics struct {
	MCPRequestsTotal   *prometheus.CounterVec
	MCPRequestDuration *prometheus.HistogramVec
	MCPRequestsInFlight prometheus.Gauge

	OdooRPCCallsTotal   *prometheus.CounterVec
	OdooRPCDuration     *prometheus.HistogramVec

	PoolConnectionsInUse prometheus.Gauge
	PoolAcquireWaitTime  prometheus.Histogram

	CacheHitTotal  *prometheus.CounterVec
	CacheMissTotal *prometheus.CounterVec

	RateLimitedTotal *prometheus.CounterVec

	ActiveSessions prometheus.Gauge
	Subscriptions  prometheus.Gauge

	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics builds and registers every gauge/counter/histogram under
// the given namespace/subsystem.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		MCPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "mcp_requests_total",
				Help:      "Total number of MCP JSON-RPC requests handled",
			},
			[]string{"method", "status"},
		),

		MCPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "mcp_request_duration_seconds",
				Help:      "Duration of MCP request dispatch",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),

		MCPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "mcp_requests_in_flight",
				Help:      "Current number of MCP requests being dispatched",
			},
		),

		OdooRPCCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "odoo_rpc_calls_total",
				Help:      "Total number of RPC calls made to the Odoo backend",
			},
			[]string{"odoo_method", "status"},
		),

		OdooRPCDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "odoo_rpc_duration_seconds",
				Help:      "Duration of Odoo RPC calls",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"odoo_method"},
		),

		PoolConnectionsInUse: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_connections_in_use",
				Help:      "Number of Odoo RPC connections currently checked out",
			},
		),

		PoolAcquireWaitTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pool_acquire_wait_seconds",
				Help:      "Time spent waiting to acquire a pool connection",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
			},
		),

		CacheHitTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_hit_total",
				Help:      "Total number of cache hits",
			},
			[]string{"resource"},
		),

		CacheMissTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_miss_total",
				Help:      "Total number of cache misses",
			},
			[]string{"resource"},
		),

		RateLimitedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rate_limited_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
			[]string{"client_key"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_sessions",
				Help:      "Current number of live sessions",
			},
		),

		Subscriptions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_subscriptions",
				Help:      "Current number of resource subscriptions",
			},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Gateway build information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the process-wide Metrics, lazily initializing with
// defaults if InitMetrics was never called.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("odoo_mcp", "gateway")
	}
	return defaultMetrics
}

func (m *Metrics) RecordMCPRequest(method, status string, duration time.Duration) {
	m.MCPRequestsTotal.WithLabelValues(method, status).Inc()
	m.MCPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) RecordOdooRPC(method, status string, duration time.Duration) {
	m.OdooRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.OdooRPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) RecordCacheHit(resource string)  { m.CacheHitTotal.WithLabelValues(resource).Inc() }
func (m *Metrics) RecordCacheMiss(resource string) { m.CacheMissTotal.WithLabelValues(resource).Inc() }

func (m *Metrics) RecordRateLimited(clientKey string) {
	m.RateLimitedTotal.WithLabelValues(clientKey).Inc()
}

func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler that serves /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer runs a standalone HTTP server exposing /metrics and
// /health, used by deployments that don't want metrics on the main
// transport listener.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
