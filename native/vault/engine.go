package vault

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"stakevault/core/events"
	nativecommon "stakevault/native/common"
	"stakevault/observability/metrics"
)

const moduleName = "vault"

// Engine applies vault state transitions. Every public operation runs inside
// an exclusive scope over the ledger and, where relevant, the one position it
// touches, and either commits all of its effects or none.
type Engine struct {
	state   engineState
	custody Custody
	params  Params
	emitter events.Emitter
	pauses  nativecommon.PauseView
	logger  *slog.Logger
	metrics *metrics.VaultMetrics
	nowFn   func() time.Time
	idFn    func() string
	locks   *lockTable
}

// NewEngine constructs an engine using params. State and custody must be
// wired before any operation runs.
func NewEngine(params Params) *Engine {
	return &Engine{
		params:  params,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() time.Time { return time.Now().UTC() },
		idFn:    uuid.NewString,
		locks:   newLockTable(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody wires the token transfer, mint and burn primitives.
func (e *Engine) SetCustody(c Custody) { e.custody = c }

// SetEmitter configures the event emitter. Nil restores the no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetLogger overrides the structured logger. Nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

func (e *Engine) SetMetrics(m *metrics.VaultMetrics) { e.metrics = m }

// SetNowFunc overrides the time source. Nil restores the wall clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	e.nowFn = now
}

// Params returns the engine's protocol constants.
func (e *Engine) Params() Params { return e.params }

// Initialize creates the ledger id with authority as its recorded authority.
// A second call against the same id fails and leaves the ledger untouched.
func (e *Engine) Initialize(id [32]byte, authority, receiptMint [20]byte) (ledger *Ledger, err error) {
	opID := e.newOpID()
	defer func() { e.observe("initialize", opID, id, err) }()

	if err := e.ready(false); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	release := e.locks.acquire(id)
	defer release()

	if _, exists, err := e.state.GetLedger(id); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAlreadyInitialized
	}

	ledger = &Ledger{
		ID:              id,
		Authority:       authority,
		ReceiptMint:     receiptMint,
		Vault:           CustodyAccount(id),
		RatePerPeriod:   e.params.RatePerPeriod,
		LastAccrualTime: e.now(),
	}
	if err := e.state.Commit(&Changeset{Ledger: ledger}); err != nil {
		return nil, err
	}

	e.committed(ledger)
	e.emitter.Emit(NewInitializedEvent(opID, ledger))
	e.logger.Info("vault ledger initialized",
		slog.String("op_id", opID),
		slog.String("ledger", shortID(id)),
		slog.String("authority", formatAccount(authority)),
		slog.Uint64("rate_per_period", ledger.RatePerPeriod))
	return ledger.Clone(), nil
}

// Deposit moves amount of base asset from owner into vault custody and mints
// receipt tokens. A first deposit mints 1:1; a top-up mints at the position's
// receiptBalance/principal ratio.
func (e *Engine) Deposit(id [32]byte, owner [20]byte, amount uint64) (res *DepositResult, err error) {
	opID := e.newOpID()
	defer func() { e.observe("deposit", opID, id, err) }()

	if err := e.ready(true); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}

	release := e.locks.acquire(id, PositionID(id, owner))
	defer release()

	ledger, err := e.loadLedger(id)
	if err != nil {
		return nil, err
	}
	position, exists, err := e.state.GetPosition(id, owner)
	if err != nil {
		return nil, err
	}

	var current *Position
	if exists && position.Status() == PositionOpen {
		current = position
	}
	minted, err := receiptsForDeposit(current, amount)
	if err != nil {
		return nil, err
	}

	nextLedger := ledger.Clone()
	if nextLedger.TotalStaked, err = checkedAdd(ledger.TotalStaked, amount); err != nil {
		return nil, err
	}
	if nextLedger.TotalReceiptSupply, err = checkedAdd(ledger.TotalReceiptSupply, minted); err != nil {
		return nil, err
	}

	var next *Position
	if current == nil {
		next = &Position{
			Owner:        owner,
			DepositTime:  e.now(),
			LockDuration: e.params.LockDuration,
		}
	} else {
		next = current.Clone()
	}
	if next.Principal, err = checkedAdd(next.Principal, amount); err != nil {
		return nil, err
	}
	if next.ReceiptBalance, err = checkedAdd(next.ReceiptBalance, minted); err != nil {
		return nil, err
	}

	journal := newCustodyJournal(e.custody)
	if err := journal.transferIn(owner, ledger.Vault, amount); err != nil {
		return nil, err
	}
	if minted > 0 {
		if err := journal.mint(ledger.ReceiptMint, owner, minted); err != nil {
			e.rollback("deposit", journal)
			return nil, err
		}
	}
	if err := e.state.Commit(&Changeset{Ledger: nextLedger, Owner: owner, Position: next}); err != nil {
		e.rollback("deposit", journal)
		return nil, err
	}

	e.committed(nextLedger)
	e.emitter.Emit(NewDepositedEvent(opID, nextLedger, next, amount, minted))
	e.logger.Info("vault deposit committed",
		slog.String("op_id", opID),
		slog.String("ledger", shortID(id)),
		slog.String("owner", formatAccount(owner)),
		slog.Uint64("amount", amount),
		slog.Uint64("minted", minted))
	return &DepositResult{OpID: opID, Minted: minted, Ledger: nextLedger.Clone(), Position: next.Clone()}, nil
}

// receiptsForDeposit mints 1:1 for a new position and at the position's own
// receipt-per-principal ratio for a top-up.
func receiptsForDeposit(p *Position, amount uint64) (uint64, error) {
	if p == nil || p.Principal == 0 {
		return amount, nil
	}
	return mulDiv(amount, p.ReceiptBalance, p.Principal)
}

// AccrueYield advances the ledger's accrued yield by
// floor(staked * rate * elapsed / period). It returns the amount accrued; zero
// elapsed time is a successful no-op.
func (e *Engine) AccrueYield(id [32]byte) (accrued uint64, err error) {
	opID := e.newOpID()
	defer func() { e.observe("accrue", opID, id, err) }()

	if err := e.ready(false); err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}

	release := e.locks.acquire(id)
	defer release()

	ledger, err := e.loadLedger(id)
	if err != nil {
		return 0, err
	}
	now := e.now()
	if now <= ledger.LastAccrualTime {
		return 0, nil
	}
	elapsed := now - ledger.LastAccrualTime

	period := new(uint256.Int).Mul(uint256.NewInt(e.params.PeriodLength), wad)
	accrued, err = mulDiv3(
		uint256.NewInt(ledger.TotalStaked),
		uint256.NewInt(ledger.RatePerPeriod),
		uint256.NewInt(elapsed),
		period,
	)
	if err != nil {
		return 0, err
	}

	next := ledger.Clone()
	if next.TotalYieldAccrued, err = checkedAdd(ledger.TotalYieldAccrued, accrued); err != nil {
		return 0, err
	}
	next.LastAccrualTime = now
	if err := e.state.Commit(&Changeset{Ledger: next}); err != nil {
		return 0, err
	}

	e.committed(next)
	e.emitter.Emit(NewYieldAccruedEvent(opID, next, accrued, elapsed))
	e.logger.Info("vault yield accrued",
		slog.String("op_id", opID),
		slog.String("ledger", shortID(id)),
		slog.Uint64("accrued", accrued),
		slog.Uint64("elapsed", elapsed))
	return accrued, nil
}

// AutoCompoundYield folds all accrued yield into the staked total without
// minting receipts, raising the base-asset value of every receipt token. It
// returns the amount compounded; nothing accrued is a successful no-op.
func (e *Engine) AutoCompoundYield(id [32]byte) (compounded uint64, err error) {
	opID := e.newOpID()
	defer func() { e.observe("compound", opID, id, err) }()

	if err := e.ready(false); err != nil {
		return 0, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}

	release := e.locks.acquire(id)
	defer release()

	ledger, err := e.loadLedger(id)
	if err != nil {
		return 0, err
	}
	if ledger.TotalYieldAccrued == 0 {
		return 0, nil
	}

	next := ledger.Clone()
	if next.TotalStaked, err = checkedAdd(ledger.TotalStaked, ledger.TotalYieldAccrued); err != nil {
		return 0, err
	}
	compounded = ledger.TotalYieldAccrued
	next.TotalYieldAccrued = 0
	if err := e.state.Commit(&Changeset{Ledger: next}); err != nil {
		return 0, err
	}

	e.committed(next)
	e.emitter.Emit(NewCompoundedEvent(opID, next, compounded))
	e.logger.Info("auto-compounding yield into staked funds",
		slog.String("op_id", opID),
		slog.String("ledger", shortID(id)),
		slog.Uint64("compounded", compounded),
		slog.Uint64("total_staked", next.TotalStaked))
	return compounded, nil
}

// CalculateAPY returns (1 + rate)^periodsPerYear - 1 as a percentage with 18
// decimals, so 100% is 100e18. It never mutates state.
func (e *Engine) CalculateAPY(id [32]byte) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.params.PeriodsPerYear == 0 || e.params.PeriodLength == 0 {
		return nil, fmt.Errorf("%w: periods per year and period length must be positive", ErrInvalidConfiguration)
	}
	ledger, err := e.loadLedger(id)
	if err != nil {
		return nil, err
	}
	return apyPercent(ledger.RatePerPeriod, e.params.PeriodsPerYear)
}

func apyPercent(rate, periodsPerYear uint64) (*uint256.Int, error) {
	base := new(uint256.Int).Add(wad, uint256.NewInt(rate))
	growth, err := powWad(base, periodsPerYear)
	if err != nil {
		return nil, fmt.Errorf("%w: rate %d compounds beyond range: %v", ErrInvalidConfiguration, rate, err)
	}
	growth.Sub(growth, wad)
	percent, overflow := new(uint256.Int).MulOverflow(growth, uint256.NewInt(100))
	if overflow {
		return nil, fmt.Errorf("%w: rate %d compounds beyond range", ErrInvalidConfiguration, rate)
	}
	return percent, nil
}

// Withdraw burns receiptAmount of owner's receipt tokens and releases their
// share of staked funds at the live exchange rate. It is rejected before any
// custody call while the position's lock duration has not elapsed.
func (e *Engine) Withdraw(id [32]byte, owner [20]byte, receiptAmount uint64) (res *WithdrawResult, err error) {
	opID := e.newOpID()
	defer func() { e.observe("withdraw", opID, id, err) }()

	if err := e.ready(true); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	release := e.locks.acquire(id, PositionID(id, owner))
	defer release()

	ledger, err := e.loadLedger(id)
	if err != nil {
		return nil, err
	}
	position, exists, err := e.state.GetPosition(id, owner)
	if err != nil {
		return nil, err
	}
	if !exists || receiptAmount == 0 || receiptAmount > position.ReceiptBalance {
		var balance uint64
		if exists {
			balance = position.ReceiptBalance
		}
		return nil, fmt.Errorf("%w: requested %d of %d receipt tokens", ErrInsufficientBalance, receiptAmount, balance)
	}

	now := e.now()
	if unlock := position.UnlockTime(); now < unlock {
		return nil, fmt.Errorf("%w: unlocks at %d, now %d", ErrEarlyWithdrawal, unlock, now)
	}

	if bps := e.params.MaxWithdrawalBps; bps > 0 {
		limit, err := mulDiv(position.ReceiptBalance, bps, 10_000)
		if err != nil {
			return nil, err
		}
		if receiptAmount > limit {
			return nil, fmt.Errorf("%w: requested %d, limit %d", ErrWithdrawalTooHigh, receiptAmount, limit)
		}
	}

	redeemed, err := mulDiv(receiptAmount, ledger.TotalStaked, ledger.TotalReceiptSupply)
	if err != nil {
		return nil, err
	}
	if redeemed == 0 {
		return nil, fmt.Errorf("%w: %d receipt tokens redeem to nothing", ErrInvalidAmount, receiptAmount)
	}

	nextLedger := ledger.Clone()
	if nextLedger.TotalStaked, err = checkedSub(ledger.TotalStaked, redeemed); err != nil {
		return nil, err
	}
	if nextLedger.TotalReceiptSupply, err = checkedSub(ledger.TotalReceiptSupply, receiptAmount); err != nil {
		return nil, err
	}

	next := position.Clone()
	closed := receiptAmount == position.ReceiptBalance
	if closed {
		next.Principal = 0
		next.ReceiptBalance = 0
	} else {
		reduction, err := mulDiv(position.Principal, receiptAmount, position.ReceiptBalance)
		if err != nil {
			return nil, err
		}
		next.Principal -= reduction
		next.ReceiptBalance -= receiptAmount
	}

	journal := newCustodyJournal(e.custody)
	if err := journal.burn(ledger.ReceiptMint, owner, receiptAmount); err != nil {
		return nil, err
	}
	if err := journal.transferOut(ledger.Vault, owner, redeemed); err != nil {
		e.rollback("withdraw", journal)
		return nil, err
	}
	cs := &Changeset{Ledger: nextLedger, Owner: owner, Position: next, ClosePosition: closed}
	if err := e.state.Commit(cs); err != nil {
		e.rollback("withdraw", journal)
		return nil, err
	}

	e.committed(nextLedger)
	e.metrics.ObserveRedeemed(redeemed)
	e.emitter.Emit(NewWithdrawnEvent(opID, nextLedger, owner, receiptAmount, redeemed, closed))
	e.logger.Info("vault withdrawal committed",
		slog.String("op_id", opID),
		slog.String("ledger", shortID(id)),
		slog.String("owner", formatAccount(owner)),
		slog.Uint64("burned", receiptAmount),
		slog.Uint64("redeemed", redeemed),
		slog.Bool("closed", closed))

	res = &WithdrawResult{
		OpID:     opID,
		Burned:   receiptAmount,
		Redeemed: redeemed,
		Closed:   closed,
		Ledger:   nextLedger.Clone(),
	}
	if !closed {
		res.Position = next.Clone()
	}
	return res, nil
}

// Ledger returns a copy of the ledger record.
func (e *Engine) Ledger(id [32]byte) (*Ledger, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadLedger(id)
}

// Position returns a copy of owner's position, or nil when none is open.
func (e *Engine) Position(id [32]byte, owner [20]byte) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, exists, err := e.state.GetPosition(id, owner)
	if err != nil || !exists {
		return nil, err
	}
	return position, nil
}

// Snapshot reads the ledger and owner's position under the same locks the
// mutating operations take, so the pair is always mutually consistent.
func (e *Engine) Snapshot(id [32]byte, owner [20]byte) (*Ledger, *Position, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	release := e.locks.acquire(id, PositionID(id, owner))
	defer release()

	ledger, err := e.loadLedger(id)
	if err != nil {
		return nil, nil, err
	}
	position, _, err := e.state.GetPosition(id, owner)
	if err != nil {
		return nil, nil, err
	}
	return ledger, position, nil
}

// RedeemableValue is the base-asset amount owner's whole receipt balance
// would release at the current exchange rate.
func (e *Engine) RedeemableValue(id [32]byte, owner [20]byte) (uint64, error) {
	ledger, position, err := e.Snapshot(id, owner)
	if err != nil {
		return 0, err
	}
	if position == nil || position.ReceiptBalance == 0 {
		return 0, nil
	}
	return mulDiv(position.ReceiptBalance, ledger.TotalStaked, ledger.TotalReceiptSupply)
}

// ExchangeRate is the base asset redeemable per receipt token, WAD scaled.
// An empty ledger reports the genesis rate of 1.
func (e *Engine) ExchangeRate(id [32]byte) (uint64, error) {
	ledger, err := e.Ledger(id)
	if err != nil {
		return 0, err
	}
	if ledger.TotalReceiptSupply == 0 {
		return WAD, nil
	}
	return mulDiv(ledger.TotalStaked, WAD, ledger.TotalReceiptSupply)
}

func (e *Engine) newOpID() string {
	if e == nil || e.idFn == nil {
		return uuid.NewString()
	}
	return e.idFn()
}

func (e *Engine) ready(needCustody bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if needCustody && e.custody == nil {
		return errNilCustody
	}
	return e.params.Validate()
}

func (e *Engine) loadLedger(id [32]byte) (*Ledger, error) {
	ledger, exists, err := e.state.GetLedger(id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLedgerNotFound, shortID(id))
	}
	return ledger, nil
}

func (e *Engine) now() uint64 {
	var t time.Time
	if e == nil || e.nowFn == nil {
		t = time.Now()
	} else {
		t = e.nowFn()
	}
	if sec := t.Unix(); sec > 0 {
		return uint64(sec)
	}
	return 0
}

func (e *Engine) rollback(op string, j *custodyJournal) {
	if err := j.rollback(); err != nil {
		e.metrics.ObserveCompensationFailure(op)
		e.logger.Error("vault custody rollback failed", slog.String("op", op), slog.Any("error", err))
	}
}

func (e *Engine) committed(l *Ledger) {
	e.metrics.SetLedgerTotals(shortID(l.ID), l.TotalStaked, l.TotalYieldAccrued, l.TotalReceiptSupply)
}

func (e *Engine) observe(op, opID string, id [32]byte, err error) {
	if e == nil {
		return
	}
	e.metrics.ObserveOperation(op, ErrorKind(err))
	if err != nil && e.logger != nil {
		e.logger.Warn("vault operation rejected",
			slog.String("op", op),
			slog.String("op_id", opID),
			slog.String("ledger", shortID(id)),
			slog.String("kind", ErrorKind(err)),
			slog.Any("error", err))
	}
}

func shortID(id [32]byte) string {
	return hex.EncodeToString(id[:8])
}
