// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whatsrelay"

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the per-client rate limiter",
		},
		[]string{"route"},
	)

	// Webhook metrics
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by event kind and result",
		},
		[]string{"kind", "result"}, // kind: message|status|invalid|verify
	)

	NormalizedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalized_messages_total",
			Help:      "Inbound messages by tenant, type and outcome",
		},
		[]string{"tenant", "type", "outcome"}, // outcome: persisted|duplicate|skipped|failed
	)

	StatusUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Delivery receipts applied, split by whether a stored message matched",
		},
		[]string{"tenant", "matched"},
	)

	MediaFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_fetches_total",
			Help:      "Inbound media downloads by result",
		},
		[]string{"tenant", "result"},
	)

	// Outbound metrics
	OutboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Operator messages sent through the Cloud API",
		},
		[]string{"tenant", "type", "result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per breaker (0 closed, 1 half-open, 2 open)",
		},
		[]string{"breaker"},
	)

	// Store metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Persistence gateway operation latency",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, 1},
		},
		[]string{"operation"},
	)
)

// Result label values shared by the counters above
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one finished request against its route template
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordRateLimited(route string) {
	RateLimitHits.WithLabelValues(route).Inc()
}

func RecordWebhookEvent(kind, result string) {
	WebhookEvents.WithLabelValues(kind, result).Inc()
}

func RecordNormalized(tenant, msgType, outcome string) {
	NormalizedMessages.WithLabelValues(tenant, msgType, outcome).Inc()
}

func RecordStatusUpdate(tenant string, matched bool) {
	StatusUpdates.WithLabelValues(tenant, strconv.FormatBool(matched)).Inc()
}

func RecordMediaFetch(tenant, result string) {
	MediaFetches.WithLabelValues(tenant, result).Inc()
}

func RecordOutbound(tenant, msgType, result string) {
	OutboundMessages.WithLabelValues(tenant, msgType, result).Inc()
}

func SetCircuitBreakerState(breaker string, state float64) {
	CircuitBreakerState.WithLabelValues(breaker).Set(state)
}

// ObserveStore times a gateway operation started at start
func ObserveStore(operation string, start time.Time) {
	StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
