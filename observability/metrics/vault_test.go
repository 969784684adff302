package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestVaultMetricsRecord(t *testing.T) {
	m := NewVaultMetrics()
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)

	m.ObserveOperation("deposit", "")
	m.ObserveOperation("deposit", "")
	m.ObserveOperation("withdraw", "EarlyWithdrawal")
	m.SetLedgerTotals("abcd", 1_010, 0, 1_000)
	m.ObserveCompensationFailure("withdraw")
	m.ObserveRedeemed(505)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("deposit", "ok")); got != 2 {
		t.Fatalf("deposit ok = %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("withdraw", "EarlyWithdrawal")); got != 1 {
		t.Fatalf("withdraw rejected = %v", got)
	}
	if got := testutil.ToFloat64(m.staked.WithLabelValues("abcd")); got != 1_010 {
		t.Fatalf("staked gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.compensations.WithLabelValues("withdraw")); got != 1 {
		t.Fatalf("compensations = %v", got)
	}
	if n := testutil.CollectAndCount(m.redeemed); n != 1 {
		t.Fatalf("redeemed series = %d", n)
	}
}

func TestNilVaultMetricsAreSafe(t *testing.T) {
	var m *VaultMetrics
	m.ObserveOperation("deposit", "ok")
	m.SetLedgerTotals("x", 1, 2, 3)
	m.ObserveRedeemed(1)
	m.ObserveCompensationFailure("deposit")
	m.MustRegister(prometheus.NewRegistry())
}
