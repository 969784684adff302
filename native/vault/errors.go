package vault

import (
	"errors"

	nativecommon "stakevault/native/common"
)

var (
	ErrAlreadyInitialized   = errors.New("vault: ledger already initialized")
	ErrInvalidAmount        = errors.New("vault: invalid amount")
	ErrInsufficientBalance  = errors.New("vault: insufficient balance")
	ErrEarlyWithdrawal      = errors.New("vault: withdrawal before lock duration elapsed")
	ErrTransferFailed       = errors.New("vault: transfer failed")
	ErrBurnFailed           = errors.New("vault: burn failed")
	ErrArithmeticOverflow   = errors.New("vault: arithmetic overflow")
	ErrInvalidConfiguration = errors.New("vault: invalid configuration")
	// ErrWithdrawalTooHigh is returned when a withdrawal exceeds the per-call
	// cap configured through Params.MaxWithdrawalBps.
	ErrWithdrawalTooHigh = errors.New("vault: withdrawal exceeds cap")
	ErrLedgerNotFound    = errors.New("vault: ledger not found")

	errNilState   = errors.New("vault: state not configured")
	errNilCustody = errors.New("vault: custody not configured")
)

var errorKinds = []struct {
	name string
	err  error
}{
	{"AlreadyInitialized", ErrAlreadyInitialized},
	{"InvalidAmount", ErrInvalidAmount},
	{"InsufficientBalance", ErrInsufficientBalance},
	{"EarlyWithdrawal", ErrEarlyWithdrawal},
	{"TransferFailed", ErrTransferFailed},
	{"BurnFailed", ErrBurnFailed},
	{"ArithmeticOverflow", ErrArithmeticOverflow},
	{"InvalidConfiguration", ErrInvalidConfiguration},
	{"WithdrawalTooHigh", ErrWithdrawalTooHigh},
	{"LedgerNotFound", ErrLedgerNotFound},
	{"ModulePaused", nativecommon.ErrModulePaused},
}

// ErrorKind maps an error returned by the engine to its stable kind name, for
// example "EarlyWithdrawal". Unknown errors map to "Internal" and nil to "".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, kind := range errorKinds {
		if errors.Is(err, kind.err) {
			return kind.name
		}
	}
	return "Internal"
}
