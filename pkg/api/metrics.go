package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build servers side by side.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	trades   prometheus.Counter
	volume   prometheus.Counter
	orders   *prometheus.CounterVec
	height   prometheus.Gauge
	pending  prometheus.Gauge
	wsConns  prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carbon", Subsystem: "api", Name: "requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carbon", Subsystem: "api", Name: "request_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "carbon", Subsystem: "ledger", Name: "trades_total",
			Help: "Executed trades, book and listing.",
		}),
		volume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "carbon", Subsystem: "ledger", Name: "traded_tokens_total",
			Help: "Base tokens traded, in whole tokens.",
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carbon", Subsystem: "ledger", Name: "order_updates_total",
			Help: "Order state changes by resulting status.",
		}, []string{"status"}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "carbon", Subsystem: "chain", Name: "height",
			Help: "Last committed block height.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "carbon", Subsystem: "chain", Name: "mempool_txs",
			Help: "Transactions waiting for a block.",
		}),
		wsConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "carbon", Subsystem: "api", Name: "websocket_clients",
			Help: "Connected websocket clients.",
		}),
	}
	m.registry.MustRegister(m.requests, m.latency, m.trades, m.volume, m.orders, m.height, m.pending, m.wsConns,
		collectors.NewGoCollector())
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade pass through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware records per-route counts and latency. Routes are labelled by
// their mux template so ids do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.code)).Inc()
	})
}
