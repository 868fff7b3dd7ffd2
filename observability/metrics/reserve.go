package metrics

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReserveMetrics tracks reward solvency and the periodic invariant audit.
type ReserveMetrics struct {
	reserve         prometheus.Gauge
	outstanding     prometheus.Gauge
	roundingDust    prometheus.Gauge
	accounts        prometheus.Gauge
	checks          *prometheus.CounterVec
	checkDuration   prometheus.Histogram
	webhookFailures *prometheus.CounterVec
}

var (
	reserveOnce     sync.Once
	reserveRegistry *ReserveMetrics
)

func Reserve() *ReserveMetrics {
	reserveOnce.Do(func() {
		reserveRegistry = &ReserveMetrics{
			reserve: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stakepool_reward_reserve",
				Help: "Reward asset held by the pool and available for payouts.",
			}),
			outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stakepool_rewards_outstanding",
				Help: "Rewards emitted by the accumulator but not yet paid.",
			}),
			roundingDust: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stakepool_rounding_dust",
				Help: "Emitted reward not attributable to any account after flooring.",
			}),
			accounts: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stakepool_accounts",
				Help: "Number of stored participant accounts.",
			}),
			checks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakepool_invariant_checks_total",
				Help: "Invariant audits by result.",
			}, []string{"result"}),
			checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "stakepool_invariant_check_seconds",
				Help:    "Duration of invariant audits.",
				Buckets: prometheus.DefBuckets,
			}),
			webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakepool_webhook_failures_total",
				Help: "Number of failed webhook delivery attempts by destination.",
			}, []string{"destination"}),
		}
		prometheus.MustRegister(
			reserveRegistry.reserve,
			reserveRegistry.outstanding,
			reserveRegistry.roundingDust,
			reserveRegistry.accounts,
			reserveRegistry.checks,
			reserveRegistry.checkDuration,
			reserveRegistry.webhookFailures,
		)
	})
	return reserveRegistry
}

// SetSolvency publishes the reserve and the outstanding liability. A reserve
// below the outstanding amount means some claims will fail until funded.
func (m *ReserveMetrics) SetSolvency(reserve, outstanding *big.Int) {
	if m == nil {
		return
	}
	m.reserve.Set(toFloat(reserve))
	m.outstanding.Set(toFloat(outstanding))
}

func (m *ReserveMetrics) ObserveCheck(accounts int, dust *big.Int, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "violated"
	}
	m.checks.WithLabelValues(result).Inc()
	m.checkDuration.Observe(duration.Seconds())
	m.accounts.Set(float64(accounts))
	if dust != nil {
		m.roundingDust.Set(toFloat(dust))
	}
}

func (m *ReserveMetrics) RecordWebhookFailure(destination string) {
	if m == nil {
		return
	}
	if destination == "" {
		destination = "unknown"
	}
	m.webhookFailures.WithLabelValues(destination).Inc()
}

func toFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	return f
}
