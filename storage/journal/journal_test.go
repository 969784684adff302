package journal

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"stakevault/core/events"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	j, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRecordsEventsInOrder(t *testing.T) {
	j := newTestJournal(t)
	emitter := events.Fanout{events.NoopEmitter{}, j}

	emitter.Emit(&events.Event{Type: "vault.deposited", Attributes: map[string]string{"ledger": "aa", "opId": "op-1", "minted": "10"}})
	emitter.Emit(&events.Event{Type: "vault.compounded", Attributes: map[string]string{"ledger": "aa", "opId": "op-2"}})
	emitter.Emit(&events.Event{Type: "vault.deposited", Attributes: map[string]string{"ledger": "bb", "opId": "op-3"}})

	deposits, err := j.ByType("vault.deposited")
	require.NoError(t, err)
	require.Len(t, deposits, 2)
	require.Equal(t, "op-1", deposits[0].OpID)
	require.Equal(t, "op-3", deposits[1].OpID)

	attrs, err := deposits[0].Decode()
	require.NoError(t, err)
	require.Equal(t, "10", attrs["minted"])

	recent, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, uint64(3), recent[0].Seq)

	byLedger, err := j.ByLedger("aa")
	require.NoError(t, err)
	require.Len(t, byLedger, 2)
}

func TestJournalResumesSequence(t *testing.T) {
	dsn := "file:resume?mode=memory&cache=shared"
	first, err := Open(dsn)
	require.NoError(t, err)
	_, err = first.Record(&events.Event{Type: "vault.initialized", Attributes: map[string]string{}})
	require.NoError(t, err)

	second, err := Open(dsn)
	require.NoError(t, err)
	entry, err := second.Record(&events.Event{Type: "vault.deposited", Attributes: map[string]string{}})
	require.NoError(t, err)
	require.Equal(t, uint64(2), entry.Seq)

	require.NoError(t, second.Close())
	require.NoError(t, first.Close())
}
