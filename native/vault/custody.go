package vault

import (
	"errors"
	"fmt"
)

// Custody moves base asset between depositors and vault custody and mints or
// burns receipt tokens. Every call must succeed completely or have no effect.
type Custody interface {
	TransferIn(from, vault [20]byte, amount uint64) error
	TransferOut(vault, to [20]byte, amount uint64) error
	MintReceipt(mint, to [20]byte, amount uint64) error
	BurnReceipt(mint, from [20]byte, amount uint64) error
}

// custodyJournal records completed custody steps so a failing operation can
// undo them in reverse order.
type custodyJournal struct {
	custody Custody
	undo    []func() error
}

func newCustodyJournal(c Custody) *custodyJournal {
	return &custodyJournal{custody: c}
}

func (j *custodyJournal) transferIn(from, vault [20]byte, amount uint64) error {
	if err := j.custody.TransferIn(from, vault, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	j.undo = append(j.undo, func() error { return j.custody.TransferOut(vault, from, amount) })
	return nil
}

func (j *custodyJournal) transferOut(vault, to [20]byte, amount uint64) error {
	if err := j.custody.TransferOut(vault, to, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	j.undo = append(j.undo, func() error { return j.custody.TransferIn(to, vault, amount) })
	return nil
}

func (j *custodyJournal) mint(mint, to [20]byte, amount uint64) error {
	if err := j.custody.MintReceipt(mint, to, amount); err != nil {
		return fmt.Errorf("%w: mint receipt: %v", ErrTransferFailed, err)
	}
	j.undo = append(j.undo, func() error { return j.custody.BurnReceipt(mint, to, amount) })
	return nil
}

func (j *custodyJournal) burn(mint, from [20]byte, amount uint64) error {
	if err := j.custody.BurnReceipt(mint, from, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrBurnFailed, err)
	}
	j.undo = append(j.undo, func() error { return j.custody.MintReceipt(mint, from, amount) })
	return nil
}

// rollback reverses every completed step, newest first. The returned error is
// non-nil only when a compensation itself failed.
func (j *custodyJournal) rollback() error {
	var errs []error
	for i := len(j.undo) - 1; i >= 0; i-- {
		if err := j.undo[i](); err != nil {
			errs = append(errs, err)
		}
	}
	j.undo = nil
	return errors.Join(errs...)
}
