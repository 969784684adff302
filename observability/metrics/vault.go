package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type VaultMetrics struct {
	operations    *prometheus.CounterVec
	staked        *prometheus.GaugeVec
	yieldAccrued  *prometheus.GaugeVec
	receiptSupply *prometheus.GaugeVec
	redeemed      prometheus.Histogram
	compensations *prometheus.CounterVec
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process-wide vault metrics, registering them on first use.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = NewVaultMetrics()
		vaultRegistry.MustRegister(prometheus.DefaultRegisterer)
	})
	return vaultRegistry
}

// NewVaultMetrics builds an unregistered collector set, for callers that own
// their registry.
func NewVaultMetrics() *VaultMetrics {
	return &VaultMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakevault",
			Subsystem: "vault",
			Name:      "operations_total",
			Help:      "Vault state transitions segmented by operation and outcome kind.",
		}, []string{"op", "outcome"}),
		staked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stakevault",
			Subsystem: "vault",
			Name:      "total_staked",
			Help:      "Base-asset units under management per ledger.",
		}, []string{"ledger"}),
		yieldAccrued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stakevault",
			Subsystem: "vault",
			Name:      "yield_accrued",
			Help:      "Accrued yield not yet compounded per ledger.",
		}, []string{"ledger"}),
		receiptSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stakevault",
			Subsystem: "vault",
			Name:      "receipt_supply",
			Help:      "Outstanding receipt tokens per ledger.",
		}, []string{"ledger"}),
		redeemed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stakevault",
			Subsystem: "vault",
			Name:      "redeemed_amount",
			Help:      "Base-asset amounts released by withdrawals.",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 12),
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakevault",
			Subsystem: "vault",
			Name:      "compensation_failures_total",
			Help:      "Custody rollbacks that could not be completed.",
		}, []string{"op"}),
	}
}

// MustRegister registers every collector with reg.
func (m *VaultMetrics) MustRegister(reg prometheus.Registerer) {
	if m == nil || reg == nil {
		return
	}
	reg.MustRegister(m.operations, m.staked, m.yieldAccrued, m.receiptSupply, m.redeemed, m.compensations)
}

func (m *VaultMetrics) ObserveOperation(op, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *VaultMetrics) SetLedgerTotals(ledger string, staked, accrued, supply uint64) {
	if m == nil {
		return
	}
	m.staked.WithLabelValues(ledger).Set(float64(staked))
	m.yieldAccrued.WithLabelValues(ledger).Set(float64(accrued))
	m.receiptSupply.WithLabelValues(ledger).Set(float64(supply))
}

func (m *VaultMetrics) ObserveRedeemed(amount uint64) {
	if m == nil {
		return
	}
	m.redeemed.Observe(float64(amount))
}

func (m *VaultMetrics) ObserveCompensationFailure(op string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(op).Inc()
}
