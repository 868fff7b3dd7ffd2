package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	stakingMetricsOnce sync.Once
	stakingRegistry    *StakingMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record HTTP
// API activity per module and route.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, route and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakepool",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// StakingMetrics captures pool operations and the headline pool gauges.
type StakingMetrics struct {
	operations      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	totalStaked     prometheus.Gauge
	rewardRate      prometheus.Gauge
	rewardsPaid     prometheus.Counter
	compensations   *prometheus.CounterVec
	persistFailures prometheus.Counter
}

// Staking returns the lazily-initialised staking metrics registry.
func Staking() *StakingMetrics {
	stakingMetricsOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "operations_total",
				Help:      "Pool operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of pool operations including ledger transfers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "total_staked",
				Help:      "Total stake currently held by the pool.",
			}),
			rewardRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "reward_rate",
				Help:      "Reward units emitted per second.",
			}),
			rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "rewards_paid_total",
				Help:      "Reward units paid out to claimers.",
			}),
			compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "compensations_total",
				Help:      "Reverse transfers issued after a failed commit, segmented by outcome.",
			}, []string{"operation", "outcome"}),
			persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stakepool",
				Subsystem: "pool",
				Name:      "persist_failures_total",
				Help:      "Count of failed pool state commits.",
			}),
		}
		prometheus.MustRegister(
			stakingRegistry.operations,
			stakingRegistry.latency,
			stakingRegistry.totalStaked,
			stakingRegistry.rewardRate,
			stakingRegistry.rewardsPaid,
			stakingRegistry.compensations,
			stakingRegistry.persistFailures,
		)
	})
	return stakingRegistry
}

// ObserveOperation records the outcome and latency of a pool operation.
func (m *StakingMetrics) ObserveOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	operation = normalizeLabel(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPoolGauges publishes the current total stake and reward rate.
func (m *StakingMetrics) SetPoolGauges(totalStaked, rewardRate *big.Int) {
	if m == nil {
		return
	}
	m.totalStaked.Set(bigToFloat(totalStaked))
	m.rewardRate.Set(bigToFloat(rewardRate))
}

// AddRewardsPaid increments the payout counter.
func (m *StakingMetrics) AddRewardsPaid(amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.rewardsPaid.Add(bigToFloat(amount))
}

// RecordCompensation tracks a reverse transfer attempt.
func (m *StakingMetrics) RecordCompensation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.compensations.WithLabelValues(normalizeLabel(operation), outcome).Inc()
}

// RecordPersistFailure increments the failed commit counter.
func (m *StakingMetrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return math.MaxFloat64
	}
	return f
}
