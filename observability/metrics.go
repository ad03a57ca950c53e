package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ProtocolMetrics records the protocol's operational counters: accrual
// activity, batch outcomes, liquidations and the bad-debt tally the solvency
// invariant requires to be observable rather than silent.
type ProtocolMetrics struct {
	Accruals            prometheus.Counter
	InterestAccrued     prometheus.Counter
	Batches             *prometheus.CounterVec
	HealthCheckFailures prometheus.Counter
	Liquidations        prometheus.Counter
	BadDebtEvents       prometheus.Counter
	PoolUtilisation     *prometheus.GaugeVec
}

var (
	protocolOnce     sync.Once
	protocolRegistry *ProtocolMetrics
)

// Protocol returns the lazily-initialised protocol metrics registry.
func Protocol() *ProtocolMetrics {
	protocolOnce.Do(func() {
		protocolRegistry = &ProtocolMetrics{
			Accruals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sterling",
				Subsystem: "lending",
				Name:      "accruals_total",
				Help:      "Total interest accrual events across all pools.",
			}),
			InterestAccrued: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sterling",
				Subsystem: "lending",
				Name:      "interest_accrued_wei_total",
				Help:      "Total interest accrued across all pools in asset base units.",
			}),
			Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sterling",
				Subsystem: "protocol",
				Name:      "batches_total",
				Help:      "Processed operation batches segmented by outcome.",
			}, []string{"outcome"}),
			HealthCheckFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sterling",
				Subsystem: "risk",
				Name:      "health_check_failures_total",
				Help:      "Batches rejected because the position ended unhealthy.",
			}),
			Liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sterling",
				Subsystem: "risk",
				Name:      "liquidations_total",
				Help:      "Successful liquidation calls.",
			}),
			BadDebtEvents: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sterling",
				Subsystem: "risk",
				Name:      "bad_debt_events_total",
				Help:      "Liquidations that found debt value exceeding collateral value.",
			}),
			PoolUtilisation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "sterling",
				Subsystem: "lending",
				Name:      "pool_utilisation",
				Help:      "Borrowed over deposited assets per pool.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			protocolRegistry.Accruals,
			protocolRegistry.InterestAccrued,
			protocolRegistry.Batches,
			protocolRegistry.HealthCheckFailures,
			protocolRegistry.Liquidations,
			protocolRegistry.BadDebtEvents,
			protocolRegistry.PoolUtilisation,
		)
	})
	return protocolRegistry
}

// AddBig adds a big.Int amount to a counter, saturating at float64 range.
func AddBig(counter prometheus.Counter, amount *big.Int) {
	if counter == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	counter.Add(value)
}
