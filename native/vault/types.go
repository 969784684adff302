package vault

import "fmt"

// Params holds the protocol constants applied by the engine. They are
// configuration, not ledger state: the ledger only snapshots RatePerPeriod at
// initialization and each position snapshots LockDuration when it opens.
type Params struct {
	// RatePerPeriod is the yield rate per accrual period, WAD scaled
	// (1e16 = 1% per period).
	RatePerPeriod uint64
	// PeriodLength is the accrual period in seconds.
	PeriodLength uint64
	// PeriodsPerYear drives APY compounding.
	PeriodsPerYear uint64
	// LockDuration is the minimum seconds between a position's first
	// deposit and any withdrawal.
	LockDuration uint64
	// MaxWithdrawalBps caps a single withdrawal to a share of the position's
	// receipt balance. Zero disables the cap.
	MaxWithdrawalBps uint64
}

// DefaultParams returns a daily accrual period at 0.01% per day with a seven
// day lock and no withdrawal cap.
func DefaultParams() Params {
	return Params{
		RatePerPeriod:  WAD / 10_000,
		PeriodLength:   24 * 60 * 60,
		PeriodsPerYear: 365,
		LockDuration:   7 * 24 * 60 * 60,
	}
}

// Validate reports parameter sets the engine cannot operate with.
func (p Params) Validate() error {
	if p.PeriodLength == 0 {
		return fmt.Errorf("%w: period length must be positive", ErrInvalidConfiguration)
	}
	if p.PeriodsPerYear == 0 {
		return fmt.Errorf("%w: periods per year must be positive", ErrInvalidConfiguration)
	}
	if p.MaxWithdrawalBps > 10_000 {
		return fmt.Errorf("%w: withdrawal cap above 100%%", ErrInvalidConfiguration)
	}
	return nil
}

// Ledger is the protocol-wide record for one vault. Vault is the custody
// account holding staked base asset.
type Ledger struct {
	ID                 [32]byte
	Authority          [20]byte
	ReceiptMint        [20]byte
	Vault              [20]byte
	TotalStaked        uint64
	TotalYieldAccrued  uint64
	TotalReceiptSupply uint64
	RatePerPeriod      uint64
	LastAccrualTime    uint64
}

// Clone returns a copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	clone := *l
	return &clone
}

// PositionStatus describes where a depositor is in the position lifecycle.
type PositionStatus uint8

const (
	PositionNonExistent PositionStatus = iota
	PositionOpen
	PositionClosed
)

func (s PositionStatus) String() string {
	switch s {
	case PositionOpen:
		return "open"
	case PositionClosed:
		return "closed"
	default:
		return "nonexistent"
	}
}

// Position is a depositor's stake in one ledger. Principal is cost-basis
// bookkeeping; the redeemable value is always derived from the ledger's
// exchange rate.
type Position struct {
	Owner          [20]byte
	Principal      uint64
	ReceiptBalance uint64
	DepositTime    uint64
	LockDuration   uint64
}

// Clone returns a copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Status reports the lifecycle state. A nil position does not exist.
func (p *Position) Status() PositionStatus {
	if p == nil {
		return PositionNonExistent
	}
	if p.ReceiptBalance == 0 {
		return PositionClosed
	}
	return PositionOpen
}

// UnlockTime is the first timestamp at which withdrawal is permitted.
func (p *Position) UnlockTime() uint64 {
	if p == nil {
		return 0
	}
	unlock := p.DepositTime + p.LockDuration
	if unlock < p.DepositTime {
		return ^uint64(0)
	}
	return unlock
}

// DepositResult describes a committed deposit.
type DepositResult struct {
	OpID     string
	Minted   uint64
	Ledger   *Ledger
	Position *Position
}

// WithdrawResult describes a committed withdrawal. Position is nil when the
// withdrawal closed it.
type WithdrawResult struct {
	OpID     string
	Burned   uint64
	Redeemed uint64
	Closed   bool
	Ledger   *Ledger
	Position *Position
}
