package observability

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vault"

type apiMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	feederMetricsOnce sync.Once
	feederRegistry    *FeederMetrics
)

// API returns the lazily-initialised registry recording HTTP API activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route group, method and outcome.",
			}, []string{"group", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route group, method and status code.",
			}, []string{"group", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"group", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by rate limiting.",
			}, []string{"group", "reason"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. status is the HTTP status
// written to the client.
func (m *apiMetrics) Observe(group, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if group == "" {
		group = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(group, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(group, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(group, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *apiMetrics) RecordThrottle(group, reason string) {
	if m == nil {
		return
	}
	if group == "" {
		group = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(group, reason).Inc()
}

// LedgerMetrics instruments the ledger facade.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	prices     *prometheus.GaugeVec
	lastUpdate prometheus.Gauge
}

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and result kind.",
			}, []string{"operation", "result"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of ledger operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			prices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "price",
				Help:      "Oracle price slots as decimal values.",
			}, []string{"slot"}),
			lastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "last_update_timestamp_seconds",
				Help:      "Unix timestamp of the last guarded price update.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.prices,
			ledgerRegistry.lastUpdate,
		)
	})
	return ledgerRegistry
}

// Observe records one ledger operation. result is the error kind or "ok".
func (m *LedgerMetrics) Observe(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = "ok"
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPrices publishes the oracle price slots. Prices are 18-decimal fixed
// point integers.
func (m *LedgerMetrics) RecordPrices(current, old *uint256.Int, lastUpdate uint64) {
	if m == nil {
		return
	}
	m.prices.WithLabelValues("current").Set(fixedToFloat(current))
	m.prices.WithLabelValues("old").Set(fixedToFloat(old))
	m.lastUpdate.Set(float64(lastUpdate))
}

func fixedToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	ratio := new(big.Rat).SetFrac(v.ToBig(), big.NewInt(1_000_000_000_000_000_000))
	f, _ := ratio.Float64()
	return f
}

// FeederMetrics instruments the oracle feeder loop.
type FeederMetrics struct {
	samples     *prometheus.CounterVec
	submissions *prometheus.CounterVec
	median      prometheus.Gauge
	lastSuccess prometheus.Gauge
}

// Feeder returns the singleton feeder metrics registry.
func Feeder() *FeederMetrics {
	feederMetricsOnce.Do(func() {
		feederRegistry = &FeederMetrics{
			samples: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feeder",
				Name:      "samples_total",
				Help:      "Price samples fetched per source and outcome.",
			}, []string{"source", "outcome"}),
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "feeder",
				Name:      "submissions_total",
				Help:      "Price submissions segmented by result kind.",
			}, []string{"result"}),
			median: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "feeder",
				Name:      "median_price",
				Help:      "Most recent median of the configured sources.",
			}),
			lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "feeder",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix timestamp of the last accepted submission.",
			}),
		}
		prometheus.MustRegister(
			feederRegistry.samples,
			feederRegistry.submissions,
			feederRegistry.median,
			feederRegistry.lastSuccess,
		)
	})
	return feederRegistry
}

func (m *FeederMetrics) RecordSample(source, outcome string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(source, outcome).Inc()
}

// RecordSubmission counts a submission and, on success, stamps the gauges.
func (m *FeederMetrics) RecordSubmission(result string, median float64, at time.Time) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
	m.median.Set(median)
	if result == "ok" {
		m.lastSuccess.Set(float64(at.Unix()))
	}
}
