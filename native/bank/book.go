package bank

import (
	"errors"
	"fmt"
	"math"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"stakevault/storage"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
	ErrSelfTransfer        = errors.New("bank: source and destination are identical")
)

var (
	balancePrefix = []byte("bank/balance:")
	supplyPrefix  = []byte("bank/supply:")
	maxAmount     = uint256.NewInt(math.MaxUint64)
)

// Book tracks per-asset balances and total supply in a key-value database.
// Each mutation is written as one batch so a failed call leaves no trace.
type Book struct {
	mu sync.Mutex
	db storage.Database
}

// NewBook wraps db.
func NewBook(db storage.Database) *Book {
	return &Book{db: db}
}

// BalanceOf returns account's holdings of asset.
func (b *Book) BalanceOf(asset, account [20]byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, err := b.load(balanceKey(asset, account))
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// Supply returns the outstanding amount of asset created through Mint.
func (b *Book) Supply(asset [20]byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, err := b.load(supplyKey(asset))
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// Credit adds amount to account without touching supply. It seeds balances of
// assets issued elsewhere.
func (b *Book) Credit(asset, account [20]byte, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.db.NewBatch()
	if err := b.adjust(batch, balanceKey(asset, account), amount, true); err != nil {
		return err
	}
	return batch.Write()
}

// Transfer moves amount of asset from one account to another.
func (b *Book) Transfer(asset, from, to [20]byte, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.db.NewBatch()
	if err := b.adjust(batch, balanceKey(asset, from), amount, false); err != nil {
		return err
	}
	if err := b.adjust(batch, balanceKey(asset, to), amount, true); err != nil {
		return err
	}
	return batch.Write()
}

// Mint creates amount of asset in account and grows its supply.
func (b *Book) Mint(asset, to [20]byte, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.db.NewBatch()
	if err := b.adjust(batch, supplyKey(asset), amount, true); err != nil {
		return err
	}
	if err := b.adjust(batch, balanceKey(asset, to), amount, true); err != nil {
		return err
	}
	return batch.Write()
}

// Burn destroys amount of asset held by account and shrinks its supply.
func (b *Book) Burn(asset, from [20]byte, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.db.NewBatch()
	if err := b.adjust(batch, balanceKey(asset, from), amount, false); err != nil {
		return err
	}
	if err := b.adjust(batch, supplyKey(asset), amount, false); err != nil {
		return err
	}
	return batch.Write()
}

func (b *Book) adjust(batch storage.Batch, key []byte, amount uint64, credit bool) error {
	current, err := b.load(key)
	if err != nil {
		return err
	}
	delta := uint256.NewInt(amount)
	if credit {
		next, overflow := new(uint256.Int).AddOverflow(current, delta)
		if overflow || next.Gt(maxAmount) {
			return ErrBalanceOverflow
		}
		current = next
	} else {
		if current.Lt(delta) {
			return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, current.Uint64(), amount)
		}
		current = new(uint256.Int).Sub(current, delta)
	}
	if current.IsZero() {
		batch.Delete(key)
		return nil
	}
	encoded := current.Bytes32()
	batch.Put(key, encoded[:])
	return nil
}

func (b *Book) load(key []byte) (*uint256.Int, error) {
	if b == nil || b.db == nil {
		return nil, fmt.Errorf("bank: database not configured")
	}
	data, err := b.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(data), nil
}

func balanceKey(asset, account [20]byte) []byte {
	return ethcrypto.Keccak256(balancePrefix, asset[:], account[:])
}

func supplyKey(asset [20]byte) []byte {
	return ethcrypto.Keccak256(supplyPrefix, asset[:])
}
