package vault

import (
	"bytes"
	"sort"
	"sync"
)

// lockTable hands out exclusive locks per record key. Entries are reference
// counted and dropped once no operation holds or waits on them.
type lockTable struct {
	mu      sync.Mutex
	entries map[[32]byte]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{entries: make(map[[32]byte]*lockEntry)}
}

// acquire locks every key in ascending byte order so two operations naming
// overlapping records cannot deadlock. The returned release must be called
// exactly once.
func (t *lockTable) acquire(keys ...[32]byte) func() {
	ordered := make([][32]byte, 0, len(keys))
	seen := make(map[[32]byte]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ordered = append(ordered, key)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i][:], ordered[j][:]) < 0
	})

	held := make([]*lockEntry, 0, len(ordered))
	for _, key := range ordered {
		entry := t.ref(key)
		entry.mu.Lock()
		held = append(held, entry)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				t.unref(ordered[i], held[i])
			}
		})
	}
}

func (t *lockTable) ref(key [32]byte) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok {
		entry = &lockEntry{}
		t.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (t *lockTable) unref(key [32]byte, entry *lockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(t.entries, key)
	}
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
