package vault

import (
	"encoding/hex"
	"strconv"

	"stakevault/core/events"
	"stakevault/crypto"
)

const (
	EventTypeInitialized  = "vault.initialized"
	EventTypeDeposited    = "vault.deposited"
	EventTypeYieldAccrued = "vault.yieldAccrued"
	EventTypeCompounded   = "vault.compounded"
	EventTypeWithdrawn    = "vault.withdrawn"
)

func formatAmount(v uint64) string { return strconv.FormatUint(v, 10) }

func formatAccount(raw [20]byte) string {
	return crypto.FromRaw(crypto.VaultPrefix, raw).String()
}

func newLedgerEvent(kind, opID string, l *Ledger) *events.Event {
	attrs := map[string]string{
		"opId":               opID,
		"ledger":             hex.EncodeToString(l.ID[:]),
		"totalStaked":        formatAmount(l.TotalStaked),
		"totalYieldAccrued":  formatAmount(l.TotalYieldAccrued),
		"totalReceiptSupply": formatAmount(l.TotalReceiptSupply),
	}
	return &events.Event{Type: kind, Attributes: attrs}
}

// NewInitializedEvent returns the payload for a freshly created ledger.
func NewInitializedEvent(opID string, l *Ledger) *events.Event {
	evt := newLedgerEvent(EventTypeInitialized, opID, l)
	evt.Attributes["authority"] = formatAccount(l.Authority)
	evt.Attributes["receiptMint"] = crypto.FromRaw(crypto.MintPrefix, l.ReceiptMint).String()
	evt.Attributes["ratePerPeriod"] = formatAmount(l.RatePerPeriod)
	return evt
}

// NewDepositedEvent returns the payload for a committed deposit.
func NewDepositedEvent(opID string, l *Ledger, p *Position, amount, minted uint64) *events.Event {
	evt := newLedgerEvent(EventTypeDeposited, opID, l)
	evt.Attributes["owner"] = formatAccount(p.Owner)
	evt.Attributes["amount"] = formatAmount(amount)
	evt.Attributes["minted"] = formatAmount(minted)
	evt.Attributes["receiptBalance"] = formatAmount(p.ReceiptBalance)
	return evt
}

// NewYieldAccruedEvent returns the payload for a non-trivial accrual.
func NewYieldAccruedEvent(opID string, l *Ledger, accrued, elapsed uint64) *events.Event {
	evt := newLedgerEvent(EventTypeYieldAccrued, opID, l)
	evt.Attributes["accrued"] = formatAmount(accrued)
	evt.Attributes["elapsed"] = formatAmount(elapsed)
	return evt
}

// NewCompoundedEvent returns the payload for a compounding step.
func NewCompoundedEvent(opID string, l *Ledger, compounded uint64) *events.Event {
	evt := newLedgerEvent(EventTypeCompounded, opID, l)
	evt.Attributes["compounded"] = formatAmount(compounded)
	return evt
}

// NewWithdrawnEvent returns the payload for a committed withdrawal.
func NewWithdrawnEvent(opID string, l *Ledger, owner [20]byte, burned, redeemed uint64, closed bool) *events.Event {
	evt := newLedgerEvent(EventTypeWithdrawn, opID, l)
	evt.Attributes["owner"] = formatAccount(owner)
	evt.Attributes["burned"] = formatAmount(burned)
	evt.Attributes["redeemed"] = formatAmount(redeemed)
	evt.Attributes["closed"] = strconv.FormatBool(closed)
	return evt
}
