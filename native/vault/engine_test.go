package vault

import (
	"errors"
	"testing"
	"time"

	"stakevault/core/events"
	"stakevault/crypto"
	"stakevault/native/bank"
	nativecommon "stakevault/native/common"
	"stakevault/storage"
)

var testStart = time.Unix(1_700_000_000, 0).UTC()

type harness struct {
	t       *testing.T
	engine  *Engine
	store   *Store
	book    *bank.Book
	custody *faultyCustody
	events  *events.Buffer
	now     time.Time
	id      [32]byte
	base    [20]byte
	mint    [20]byte
}

func testParams() Params {
	p := DefaultParams()
	p.RatePerPeriod = WAD / 100
	return p
}

func newHarness(t *testing.T, params Params) *harness {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	h := &harness{
		t:      t,
		store:  NewStore(db),
		book:   bank.NewBook(db),
		events: &events.Buffer{},
		now:    testStart,
		id:     LedgerIDFor("test"),
		base:   testAccount("base-asset"),
		mint:   testAccount("receipt-mint"),
	}
	h.custody = &faultyCustody{inner: bank.NewCustody(h.book, h.base)}
	h.engine = NewEngine(params)
	h.engine.SetState(h.store)
	h.engine.SetCustody(h.custody)
	h.engine.SetEmitter(h.events)
	h.engine.SetNowFunc(func() time.Time { return h.now })
	if _, err := h.engine.Initialize(h.id, testAccount("authority"), h.mint); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return h
}

func testAccount(name string) [20]byte {
	return crypto.DeriveAddress(crypto.VaultPrefix, "test", []byte(name)).Raw()
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) fund(owner [20]byte, amount uint64) {
	h.t.Helper()
	if err := h.book.Credit(h.base, owner, amount); err != nil {
		h.t.Fatalf("fund: %v", err)
	}
}

func (h *harness) deposit(owner [20]byte, amount uint64) *DepositResult {
	h.t.Helper()
	res, err := h.engine.Deposit(h.id, owner, amount)
	if err != nil {
		h.t.Fatalf("deposit %d: %v", amount, err)
	}
	return res
}

func (h *harness) ledger() *Ledger {
	h.t.Helper()
	l, err := h.engine.Ledger(h.id)
	if err != nil {
		h.t.Fatalf("ledger: %v", err)
	}
	return l
}

func (h *harness) position(owner [20]byte) *Position {
	h.t.Helper()
	p, err := h.engine.Position(h.id, owner)
	if err != nil {
		h.t.Fatalf("position: %v", err)
	}
	return p
}

func (h *harness) balance(asset, owner [20]byte) uint64 {
	h.t.Helper()
	v, err := h.book.BalanceOf(asset, owner)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return v
}

// faultyCustody fails selected primitives on demand.
type faultyCustody struct {
	inner           Custody
	failTransferIn  bool
	failTransferOut bool
	failMint        bool
	failBurn        bool
}

var errInjected = errors.New("injected custody failure")

func (f *faultyCustody) TransferIn(from, vault [20]byte, amount uint64) error {
	if f.failTransferIn {
		return errInjected
	}
	return f.inner.TransferIn(from, vault, amount)
}

func (f *faultyCustody) TransferOut(vault, to [20]byte, amount uint64) error {
	if f.failTransferOut {
		return errInjected
	}
	return f.inner.TransferOut(vault, to, amount)
}

func (f *faultyCustody) MintReceipt(mint, to [20]byte, amount uint64) error {
	if f.failMint {
		return errInjected
	}
	return f.inner.MintReceipt(mint, to, amount)
}

func (f *faultyCustody) BurnReceipt(mint, from [20]byte, amount uint64) error {
	if f.failBurn {
		return errInjected
	}
	return f.inner.BurnReceipt(mint, from, amount)
}

// failingState rejects commits while fail is set.
type failingState struct {
	*Store
	fail bool
}

var errCommitRejected = errors.New("commit rejected")

func (s *failingState) Commit(cs *Changeset) error {
	if s.fail {
		return errCommitRejected
	}
	return s.Store.Commit(cs)
}

func TestEndToEndStakeAccrueCompoundAndEarlyWithdrawal(t *testing.T) {
	h := newHarness(t, testParams())
	alice := testAccount("alice")
	h.fund(alice, 5_000)

	l := h.ledger()
	if l.TotalStaked != 0 || l.TotalYieldAccrued != 0 || l.TotalReceiptSupply != 0 {
		t.Fatalf("fresh ledger not empty: %+v", l)
	}

	res := h.deposit(alice, 1_000)
	if res.Minted != 1_000 {
		t.Fatalf("first deposit must mint 1:1, got %d", res.Minted)
	}
	if got := h.ledger().TotalStaked; got != 1_000 {
		t.Fatalf("total staked = %d, want 1000", got)
	}
	if got := h.position(alice).ReceiptBalance; got != 1_000 {
		t.Fatalf("receipt balance = %d, want 1000", got)
	}

	h.advance(24 * time.Hour)
	accrued, err := h.engine.AccrueYield(h.id)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	// 1000 * 1% * one period
	if accrued != 10 || h.ledger().TotalYieldAccrued != 10 {
		t.Fatalf("accrued = %d (ledger %d), want 10", accrued, h.ledger().TotalYieldAccrued)
	}

	compounded, err := h.engine.AutoCompoundYield(h.id)
	if err != nil {
		t.Fatalf("compound: %v", err)
	}
	l = h.ledger()
	if compounded != 10 || l.TotalStaked != 1_010 || l.TotalYieldAccrued != 0 {
		t.Fatalf("after compound: compounded=%d ledger=%+v", compounded, l)
	}
	if l.TotalReceiptSupply != 1_000 {
		t.Fatalf("compounding must not mint receipts, supply %d", l.TotalReceiptSupply)
	}

	before := h.ledger()
	_, err = h.engine.Withdraw(h.id, alice, 10)
	if !errors.Is(err, ErrEarlyWithdrawal) {
		t.Fatalf("expected early withdrawal, got %v", err)
	}
	if ErrorKind(err) != "EarlyWithdrawal" {
		t.Fatalf("unexpected kind %q", ErrorKind(err))
	}
	if after := h.ledger(); *after != *before {
		t.Fatalf("rejected withdrawal changed ledger: %+v -> %+v", before, after)
	}
	if got := h.balance(h.mint, alice); got != 1_000 {
		t.Fatalf("receipt tokens burned on rejected withdrawal: %d", got)
	}
}

func TestInitializeTwiceFails(t *testing.T) {
	h := newHarness(t, testParams())
	_, err := h.engine.Initialize(h.id, testAccount("mallory"), testAccount("other-mint"))
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	if h.ledger().Authority != testAccount("authority") {
		t.Fatalf("second initialize overwrote authority")
	}
	if len(h.events.OfType(EventTypeInitialized)) != 1 {
		t.Fatalf("expected exactly one initialized event")
	}
}

func TestInitializeSnapshotsRateAndCustody(t *testing.T) {
	h := newHarness(t, testParams())
	l := h.ledger()
	if l.RatePerPeriod != WAD/100 {
		t.Fatalf("rate = %d", l.RatePerPeriod)
	}
	if l.LastAccrualTime != uint64(testStart.Unix()) {
		t.Fatalf("last accrual = %d", l.LastAccrualTime)
	}
	if l.Vault != CustodyAccount(h.id) {
		t.Fatalf("unexpected custody account")
	}
}

func TestIndependentLedgers(t *testing.T) {
	h := newHarness(t, testParams())
	other := LedgerIDFor("other")
	if _, err := h.engine.Initialize(other, testAccount("authority"), testAccount("other-mint")); err != nil {
		t.Fatalf("initialize other: %v", err)
	}
	alice := testAccount("alice")
	h.fund(alice, 300)
	h.deposit(alice, 100)
	if _, err := h.engine.Deposit(other, alice, 200); err != nil {
		t.Fatalf("deposit other: %v", err)
	}
	if got := h.ledger().TotalStaked; got != 100 {
		t.Fatalf("ledger test staked %d", got)
	}
	l, err := h.engine.Ledger(other)
	if err != nil {
		t.Fatalf("ledger other: %v", err)
	}
	if l.TotalStaked != 200 || l.Vault == h.ledger().Vault {
		t.Fatalf("ledger other: %+v", l)
	}
}

func TestDepositValidation(t *testing.T) {
	h := newHarness(t, testParams())
	alice := testAccount("alice")
	h.fund(alice, 100)

	if _, err := h.engine.Deposit(h.id, alice, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := h.engine.Deposit(LedgerIDFor("missing"), alice, 10); !errors.Is(err, ErrLedgerNotFound) {
		t.Fatalf("expected ledger not found, got %v", err)
	}
	if _, err := h.engine.Deposit(h.id, alice, 101); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure for unfunded deposit, got %v", err)
	}
	if h.position(alice) != nil || h.ledger().TotalStaked != 0 {
		t.Fatalf("failed deposits left state behind")
	}
}

func TestDepositMintRollsBackTransfer(t *testing.T) {
	h := newHarness(t, testParams())
	alice := testAccount("alice")
	h.fund(alice, 100)
	h.custody.failMint = true

	_, err := h.engine.Deposit(h.id, alice, 100)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failed, got %v", err)
	}
	if got := h.balance(h.base, alice); got != 100 {
		t.Fatalf("base balance = %d, want 100 after rollback", got)
	}
	if got := h.balance(h.base, h.ledger().Vault); got != 0 {
		t.Fatalf("custody kept %d", got)
	}
	if h.position(alice) != nil {
		t.Fatalf("position created by failed deposit")
	}
	if len(h.events.OfType(EventTypeDeposited)) != 0 {
		t.Fatalf("failed deposit emitted event")
	}
}

func TestDepositCommitFailureRollsBackCustody(t *testing.T) {
	h := newHarness(t, testParams())
	state := &failingState{Store: h.store, fail: true}
	h.engine.SetState(state)
	alice := testAccount("alice")
	h.fund(alice, 100)

	if _, err := h.engine.Deposit(h.id, alice, 100); !errors.Is(err, errCommitRejected) {
		t.Fatalf("expected commit failure, got %v", err)
	}
	if got := h.balance(h.base, alice); got != 100 {
		t.Fatalf("base balance = %d after rollback", got)
	}
	if supply, _ := h.book.Supply(h.mint); supply != 0 {
		t.Fatalf("receipt supply = %d after rollback", supply)
	}
}

func TestDepositMintsAtPositionRatio(t *testing.T) {
	h := newHarness(t, testParams())
	alice, bob := testAccount("alice"), testAccount("bob")
	h.fund(alice, 2_000)
	h.fund(bob, 2_000)

	h.deposit(alice, 1_000)
	h.advance(24 * time.Hour)
	if _, err := h.engine.AccrueYield(h.id); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if _, err := h.engine.AutoCompoundYield(h.id); err != nil {
		t.Fatalf("compound: %v", err)
	}
	if l := h.ledger(); l.TotalStaked != 1_010 || l.TotalReceiptSupply != 1_000 {
		t.Fatalf("ledger after compound %+v", l)
	}

	res := h.deposit(bob, 1_000)
	if res.Minted != 1_000 {
		t.Fatalf("bob's first deposit minted %d, want 1:1", res.Minted)
	}

	h.advance(time.Hour)
	top := h.deposit(alice, 100)
	if top.Minted != 100 {
		t.Fatalf("alice top-up minted %d, want 100", top.Minted)
	}
	if top.Position.DepositTime != uint64(testStart.Unix()) {
		t.Fatalf("top-up moved deposit time to %d", top.Position.DepositTime)
	}
	if top.Position.Principal != 1_100 || top.Position.ReceiptBalance != 1_100 {
		t.Fatalf("alice after top-up: %+v", top.Position)
	}

	one, err := h.engine.Deposit(h.id, alice, 1)
	if err != nil {
		t.Fatalf("deposit of 1: %v", err)
	}
	if one.Minted != 1 {
		t.Fatalf("deposit of 1 minted %d", one.Minted)
	}
	l := h.ledger()
	if l.TotalStaked != 2_111 || l.TotalReceiptSupply != 2_101 {
		t.Fatalf("ledger after deposits %+v", l)
	}
	if supply, _ := h.book.Supply(h.mint); supply != l.TotalReceiptSupply {
		t.Fatalf("bank supply %d, ledger %d", supply, l.TotalReceiptSupply)
	}
}

func TestReceiptsForDepositUsesPositionRatio(t *testing.T) {
	cases := []struct {
		name     string
		position *Position
		amount   uint64
		want     uint64
	}{
		{"new position", nil, 250, 250},
		{"empty principal", &Position{}, 250, 250},
		{"even ratio", &Position{Principal: 500, ReceiptBalance: 500}, 250, 250},
		{"half ratio", &Position{Principal: 1_000, ReceiptBalance: 500}, 250, 125},
		{"floored", &Position{Principal: 3, ReceiptBalance: 2}, 1, 0},
	}
	for _, tc := range cases {
		got, err := receiptsForDeposit(tc.position, tc.amount)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: minted %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestNilEngineReturnsError(t *testing.T) {
	var e *Engine
	var id [32]byte
	owner := testAccount("alice")
	if _, err := e.Initialize(id, owner, owner); !errors.Is(err, errNilState) {
		t.Fatalf("initialize on nil engine: %v", err)
	}
	if _, err := e.Deposit(id, owner, 1); !errors.Is(err, errNilState) {
		t.Fatalf("deposit on nil engine: %v", err)
	}
	if _, err := e.AccrueYield(id); !errors.Is(err, errNilState) {
		t.Fatalf("accrue on nil engine: %v", err)
	}
	if _, err := e.AutoCompoundYield(id); !errors.Is(err, errNilState) {
		t.Fatalf("compound on nil engine: %v", err)
	}
	if _, err := e.Withdraw(id, owner, 1); !errors.Is(err, errNilState) {
		t.Fatalf("withdraw on nil engine: %v", err)
	}
}

func TestPausedEngineRejectsMutations(t *testing.T) {
	h := newHarness(t, testParams())
	alice := testAccount("alice")
	h.fund(alice, 100)
	pauses := nativecommon.NewStaticPauses(moduleName)
	h.engine.SetPauses(pauses)

	if _, err := h.engine.Deposit(h.id, alice, 100); ErrorKind(err) != "ModulePaused" {
		t.Fatalf("expected paused, got %v", err)
	}
	if _, err := h.engine.AccrueYield(h.id); ErrorKind(err) != "ModulePaused" {
		t.Fatalf("expected paused accrual, got %v", err)
	}
	if _, err := h.engine.CalculateAPY(h.id); err != nil {
		t.Fatalf("apy must stay available while paused: %v", err)
	}

	pauses.Set("vault", false)
	h.deposit(alice, 100)
}
