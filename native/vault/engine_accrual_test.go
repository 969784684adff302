package vault

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func TestAccrueNoElapsedTimeIsNoop(t *testing.T) {
	h := newHarness(t, testParams())
	alice := testAccount("alice")
	h.fund(alice, 1_000)
	h.deposit(alice, 1_000)

	accrued, err := h.engine.AccrueYield(h.id)
	if err != nil || accrued != 0 {
		t.Fatalf("accrue with no elapsed time: %d, %v", accrued, err)
	}
	h.advance(-time.Hour)
	accrued, err = h.engine.AccrueYield(h.id)
	if err != nil || accrued != 0 {
		t.Fatalf("accrue with clock behind: %d, %v", accrued, err)
	}
	if h.ledger().LastAccrualTime != uint64(testStart.Unix()) {
		t.Fatalf("last accrual time moved backwards")
	}
	if len(h.events.OfType(EventTypeYieldAccrued)) != 0 {
		t.Fatalf("no-op accrual emitted events")
	}
}

func TestAccrueEmptyLedgerAdvancesClock(t *testing.T) {
	h := newHarness(t, testParams())
	h.advance(12 * time.Hour)
	accrued, err := h.engine.AccrueYield(h.id)
	if err != nil || accrued != 0 {
		t.Fatalf("accrue empty ledger: %d, %v", accrued, err)
	}
	if h.ledger().LastAccrualTime != uint64(h.now.Unix()) {
		t.Fatalf("last accrual time not advanced")
	}
}

func TestAccrueIsProportionalAndFloored(t *testing.T) {
	h := newHarness(t, testParams())
	alice := testAccount("alice")
	h.fund(alice, 1_000)
	h.deposit(alice, 1_000)

	h.advance(12 * time.Hour)
	accrued, err := h.engine.AccrueYield(h.id)
	if err != nil || accrued != 5 {
		t.Fatalf("half period accrual = %d, %v", accrued, err)
	}
	h.advance(time.Hour)
	accrued, err = h.engine.AccrueYield(h.id)
	// 1000 * 0.01 / 24 = 0.41, floored
	if err != nil || accrued != 0 {
		t.Fatalf("sub-unit accrual = %d, %v", accrued, err)
	}
	if h.ledger().TotalYieldAccrued != 5 {
		t.Fatalf("total accrued %d", h.ledger().TotalYieldAccrued)
	}
}

func TestAccrueOverflowLeavesLedgerUnchanged(t *testing.T) {
	params := testParams()
	params.RatePerPeriod = math.MaxUint64
	h := newHarness(t, params)
	alice := testAccount("alice")
	h.fund(alice, WAD)
	h.deposit(alice, WAD)
	before := h.ledger()

	h.advance(365 * 24 * time.Hour)
	if _, err := h.engine.AccrueYield(h.id); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if after := h.ledger(); *after != *before {
		t.Fatalf("overflowing accrual mutated ledger")
	}
}

func TestCompoundWithoutYieldIsNoop(t *testing.T) {
	h := newHarness(t, testParams())
	compounded, err := h.engine.AutoCompoundYield(h.id)
	if err != nil || compounded != 0 {
		t.Fatalf("compound = %d, %v", compounded, err)
	}
	if len(h.events.OfType(EventTypeCompounded)) != 0 {
		t.Fatalf("no-op compound emitted event")
	}
}

func TestCompoundRaisesExchangeRate(t *testing.T) {
	h := newHarness(t, testParams())
	alice := testAccount("alice")
	h.fund(alice, 1_000)
	h.deposit(alice, 1_000)
	rate, _ := h.engine.ExchangeRate(h.id)
	if rate != WAD {
		t.Fatalf("genesis rate %d", rate)
	}
	h.advance(24 * time.Hour)
	if _, err := h.engine.AccrueYield(h.id); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if _, err := h.engine.AutoCompoundYield(h.id); err != nil {
		t.Fatalf("compound: %v", err)
	}
	rate, _ = h.engine.ExchangeRate(h.id)
	if rate != WAD+WAD/100 {
		t.Fatalf("rate after compound %d", rate)
	}
	if p := h.position(alice); p.Principal != 1_000 || p.ReceiptBalance != 1_000 {
		t.Fatalf("compound touched position %+v", p)
	}
}

func TestCalculateAPY(t *testing.T) {
	h := newHarness(t, DefaultParams())
	if staked := h.ledger().TotalStaked; staked != 0 {
		t.Fatalf("ledger starts with %d staked", staked)
	}
	// an empty ledger still reports the configured rate
	apy, err := h.engine.CalculateAPY(h.id)
	if err != nil {
		t.Fatalf("apy: %v", err)
	}
	// (1.0001)^365 - 1 = 3.717%
	if got := FormatPercent(apy, 2); got != "3.71" {
		t.Fatalf("apy = %s%%", FormatPercent(apy, 6))
	}

	zero, err := apyPercent(0, 365)
	if err != nil || !zero.IsZero() {
		t.Fatalf("zero rate apy = %v, %v", zero, err)
	}

	prev := new(uint256.Int)
	for _, rate := range []uint64{0, 1, WAD / 1_000_000, WAD / 10_000, WAD / 1_000, WAD / 100} {
		v, err := apyPercent(rate, 365)
		if err != nil {
			t.Fatalf("apy(%d): %v", rate, err)
		}
		if v.Lt(prev) {
			t.Fatalf("apy decreased at rate %d", rate)
		}
		prev = v
	}
}

func TestCalculateAPYInvalidConfiguration(t *testing.T) {
	h := newHarness(t, DefaultParams())
	bad := DefaultParams()
	bad.PeriodsPerYear = 0
	engine := NewEngine(bad)
	engine.SetState(h.store)
	if _, err := engine.CalculateAPY(h.id); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	if _, err := apyPercent(10*WAD, 365); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected out-of-range rate to be rejected, got %v", err)
	}
}

func TestConcurrentDeposits(t *testing.T) {
	h := newHarness(t, testParams())
	const workers = 16
	owners := make([][20]byte, workers)
	for i := range owners {
		owners[i] = testAccount(string(rune('a' + i)))
		h.fund(owners[i], 1_000)
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers*10)
	for _, owner := range owners {
		wg.Add(1)
		go func(owner [20]byte) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := h.engine.Deposit(h.id, owner, 10); err != nil {
					errs <- err
				}
			}
		}(owner)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent deposit: %v", err)
	}

	l := h.ledger()
	if l.TotalStaked != workers*100 || l.TotalReceiptSupply != workers*100 {
		t.Fatalf("ledger after concurrent deposits %+v", l)
	}
	if got := h.balance(h.base, l.Vault); got != workers*100 {
		t.Fatalf("custody holds %d", got)
	}
	if h.engine.locks.size() != 0 {
		t.Fatalf("lock table leaked %d entries", h.engine.locks.size())
	}
}
