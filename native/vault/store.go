package vault

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"stakevault/storage"
)

type engineState interface {
	GetLedger(id [32]byte) (*Ledger, bool, error)
	GetPosition(id [32]byte, owner [20]byte) (*Position, bool, error)
	Commit(cs *Changeset) error
}

// Changeset is the complete write set of one operation. Position is written
// when non-nil; ClosePosition deletes the owner's record instead.
type Changeset struct {
	Ledger        *Ledger
	Owner         [20]byte
	Position      *Position
	ClosePosition bool
}

// Store persists ledgers and positions in a key-value database using
// fixed-layout RLP records.
type Store struct {
	db storage.Database
}

// NewStore wraps the provided database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

type storedLedger struct {
	Authority          [20]byte
	ReceiptMint        [20]byte
	Vault              [20]byte
	TotalStaked        uint64
	TotalYieldAccrued  uint64
	TotalReceiptSupply uint64
	RatePerPeriod      uint64
	LastAccrualTime    uint64
}

type storedPosition struct {
	Owner          [20]byte
	Principal      uint64
	ReceiptBalance uint64
	DepositTime    uint64
	LockDuration   uint64
}

// GetLedger loads the ledger record. The boolean is false when absent.
func (s *Store) GetLedger(id [32]byte) (*Ledger, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errNilState
	}
	data, err := s.db.Get(ledgerKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec storedLedger
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, false, fmt.Errorf("vault: decode ledger: %w", err)
	}
	return &Ledger{
		ID:                 id,
		Authority:          rec.Authority,
		ReceiptMint:        rec.ReceiptMint,
		Vault:              rec.Vault,
		TotalStaked:        rec.TotalStaked,
		TotalYieldAccrued:  rec.TotalYieldAccrued,
		TotalReceiptSupply: rec.TotalReceiptSupply,
		RatePerPeriod:      rec.RatePerPeriod,
		LastAccrualTime:    rec.LastAccrualTime,
	}, true, nil
}

// GetPosition loads owner's position in ledger id.
func (s *Store) GetPosition(id [32]byte, owner [20]byte) (*Position, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errNilState
	}
	data, err := s.db.Get(positionKey(id, owner))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec storedPosition
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, false, fmt.Errorf("vault: decode position: %w", err)
	}
	pos := Position(rec)
	return &pos, true, nil
}

// Commit writes the changeset in a single atomic batch.
func (s *Store) Commit(cs *Changeset) error {
	if s == nil || s.db == nil {
		return errNilState
	}
	if cs == nil || cs.Ledger == nil {
		return fmt.Errorf("vault: empty changeset")
	}
	l := cs.Ledger
	ledgerBytes, err := rlp.EncodeToBytes(&storedLedger{
		Authority:          l.Authority,
		ReceiptMint:        l.ReceiptMint,
		Vault:              l.Vault,
		TotalStaked:        l.TotalStaked,
		TotalYieldAccrued:  l.TotalYieldAccrued,
		TotalReceiptSupply: l.TotalReceiptSupply,
		RatePerPeriod:      l.RatePerPeriod,
		LastAccrualTime:    l.LastAccrualTime,
	})
	if err != nil {
		return fmt.Errorf("vault: encode ledger: %w", err)
	}

	batch := s.db.NewBatch()
	batch.Put(ledgerKey(l.ID), ledgerBytes)
	switch {
	case cs.ClosePosition:
		batch.Delete(positionKey(l.ID, cs.Owner))
	case cs.Position != nil:
		rec := storedPosition(*cs.Position)
		posBytes, err := rlp.EncodeToBytes(&rec)
		if err != nil {
			return fmt.Errorf("vault: encode position: %w", err)
		}
		batch.Put(positionKey(l.ID, cs.Position.Owner), posBytes)
	}
	return batch.Write()
}
