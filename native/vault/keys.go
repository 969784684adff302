package vault

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Namespace tags for deterministic identifiers.
const (
	ledgerNamespace   = "vault-ledger"
	positionNamespace = "staked"
	custodyNamespace  = "vault-custody"
)

var (
	ledgerPrefix   = []byte("vault/ledger:")
	positionPrefix = []byte("vault/position:")
)

// LedgerIDFor derives the ledger identifier for a named vault.
func LedgerIDFor(name string) [32]byte {
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256([]byte(ledgerNamespace), []byte(strings.TrimSpace(name))))
	return id
}

// PositionID derives the identifier of owner's position in ledger id. One
// owner has at most one position per ledger.
func PositionID(id [32]byte, owner [20]byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256([]byte(positionNamespace), id[:], owner[:]))
	return out
}

// CustodyAccount derives the account holding a ledger's staked base asset.
func CustodyAccount(id [32]byte) [20]byte {
	hash := ethcrypto.Keccak256([]byte(custodyNamespace), id[:])
	var out [20]byte
	copy(out[:], hash[len(hash)-20:])
	return out
}

func ledgerKey(id [32]byte) []byte {
	buf := make([]byte, len(ledgerPrefix)+len(id))
	copy(buf, ledgerPrefix)
	copy(buf[len(ledgerPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func positionKey(id [32]byte, owner [20]byte) []byte {
	posID := PositionID(id, owner)
	buf := make([]byte, len(positionPrefix)+len(posID))
	copy(buf, positionPrefix)
	copy(buf[len(positionPrefix):], posID[:])
	return ethcrypto.Keccak256(buf)
}
