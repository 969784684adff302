package vault

import (
	"path/filepath"
	"testing"

	"stakevault/storage"
)

func TestStoreRoundTripOnLevelDB(t *testing.T) {
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "vault"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	store := NewStore(db)

	id := LedgerIDFor("persisted")
	owner := testAccount("alice")
	ledger := &Ledger{ID: id, Vault: CustodyAccount(id), TotalStaked: 10, TotalReceiptSupply: 9, RatePerPeriod: 7, LastAccrualTime: 99}
	position := &Position{Owner: owner, Principal: 10, ReceiptBalance: 9, DepositTime: 50, LockDuration: 60}
	if err := store.Commit(&Changeset{Ledger: ledger, Owner: owner, Position: position}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	gotLedger, ok, err := store.GetLedger(id)
	if err != nil || !ok || *gotLedger != *ledger {
		t.Fatalf("ledger round trip: %+v ok=%v err=%v", gotLedger, ok, err)
	}
	gotPos, ok, err := store.GetPosition(id, owner)
	if err != nil || !ok || *gotPos != *position {
		t.Fatalf("position round trip: %+v ok=%v err=%v", gotPos, ok, err)
	}

	if err := store.Commit(&Changeset{Ledger: ledger, Owner: owner, ClosePosition: true}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok, err := store.GetPosition(id, owner); err != nil || ok {
		t.Fatalf("closed position still present ok=%v err=%v", ok, err)
	}
	if _, ok, _ := store.GetLedger(LedgerIDFor("missing")); ok {
		t.Fatalf("missing ledger reported present")
	}
}

func TestStoreRejectsEmptyChangeset(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	if err := store.Commit(&Changeset{}); err == nil {
		t.Fatalf("expected error for changeset without ledger")
	}
}
