// Package metrics exposes the Prometheus collectors of the relay and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astro_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "astro_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "astro_relay_active_connections",
			Help: "Number of open relay websocket connections.",
		},
	)
	relayEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astro_relay_events_total",
			Help: "Relay events handled, by event and outcome.",
		},
		[]string{"event", "outcome"},
	)
	callTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "astro_relay_call_transitions_total",
			Help: "Call state machine transitions.",
		},
		[]string{"state"},
	)
	persistErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "astro_relay_persist_errors_total",
			Help: "Chat or call records that failed to persist.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "astro_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		relayEventsTotal,
		callTransitionsTotal,
		persistErrorsTotal,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware counts requests per route template.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

// IncRelayEvent outcome is "ok" or the wire reason of the error.
func IncRelayEvent(event, outcome string) {
	relayEventsTotal.WithLabelValues(event, outcome).Inc()
}

func IncCallTransition(state string) {
	callTransitionsTotal.WithLabelValues(state).Inc()
}

func IncPersistError() {
	persistErrorsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
