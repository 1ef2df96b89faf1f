package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "advisor"

type moduleMetrics struct {
	completionAttempts *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	completionBackoff  *prometheus.CounterVec

	handleTotal    *prometheus.CounterVec
	handleDuration prometheus.Histogram

	memoryRetrieveDuration prometheus.Histogram
	memoryUpsertDuration   prometheus.Histogram
	memoryPersistFailures  prometheus.Counter
	memoryUsers            prometheus.Gauge
	rankerFallbacks        *prometheus.CounterVec

	gatewayRequests *prometheus.CounterVec
	wsClients       prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			completionAttempts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "completion_attempts_total",
					Help:      "Completion attempts by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			completionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "completion_duration_seconds",
					Help:      "End-to-end role completion duration in seconds, retries included.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			completionBackoff: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "completion_backoff_total",
					Help:      "Backoff waits taken after a rate-limited or timed-out attempt.",
				},
				[]string{"provider"},
			),
			handleTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "handle_total",
					Help:      "Orchestrated queries by status.",
				},
				[]string{"status"},
			),
			handleDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "handle_duration_seconds",
					Help:      "Orchestrated query duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			memoryRetrieveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "memory_retrieve_duration_seconds",
					Help:      "Memory retrieval duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			memoryUpsertDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "memory_upsert_duration_seconds",
					Help:      "Memory upsert duration in seconds, document write included.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			memoryPersistFailures: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "memory_persistence_failures_total",
					Help:      "Memory document writes that failed.",
				},
			),
			memoryUsers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "memory_users",
					Help:      "Users with at least one stored memory.",
				},
			),
			rankerFallbacks: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "memory_ranker_fallback_total",
					Help:      "Retrievals that fell back to recency ordering, by ranker.",
				},
				[]string{"ranker"},
			),
			gatewayRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "gateway_requests_total",
					Help:      "Gateway requests by route and HTTP status code.",
				},
				[]string{"route", "code"},
			),
			wsClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "gateway_ws_clients",
					Help:      "Connected websocket clients.",
				},
			),
		}

		prometheus.MustRegister(
			m.completionAttempts,
			m.completionDuration,
			m.completionBackoff,
			m.handleTotal,
			m.handleDuration,
			m.memoryRetrieveDuration,
			m.memoryUpsertDuration,
			m.memoryPersistFailures,
			m.memoryUsers,
			m.rankerFallbacks,
			m.gatewayRequests,
			m.wsClients,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// Completion attempt outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeTimeout     = "timeout"
	OutcomeError       = "error"
)

func RecordCompletionAttempt(provider, outcome string) {
	getMetrics().completionAttempts.WithLabelValues(provider, outcome).Inc()
}

func RecordCompletion(provider string, duration time.Duration) {
	getMetrics().completionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordBackoff(provider string) {
	getMetrics().completionBackoff.WithLabelValues(provider).Inc()
}

func RecordHandle(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.handleTotal.WithLabelValues(status).Inc()
	m.handleDuration.Observe(duration.Seconds())
}

func RecordMemoryRetrieve(duration time.Duration) {
	getMetrics().memoryRetrieveDuration.Observe(duration.Seconds())
}

func RecordMemoryUpsert(duration time.Duration, success bool) {
	m := getMetrics()
	m.memoryUpsertDuration.Observe(duration.Seconds())
	if !success {
		m.memoryPersistFailures.Inc()
	}
}

func SetMemoryUsers(total int) {
	getMetrics().memoryUsers.Set(float64(total))
}

func RecordRankerFallback(ranker string) {
	getMetrics().rankerFallbacks.WithLabelValues(ranker).Inc()
}

func RecordGatewayRequest(route string, code int) {
	getMetrics().gatewayRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func SetWSClients(total int) {
	getMetrics().wsClients.Set(float64(total))
}
