// Package index implements the B-Tree index and index manager (C4): a
// typed ordered map from key to a set of document ids per
// (collection, field), plus the registry and mutation hooks that keep
// indexes consistent with the document store.
//
// bundoc's own storage.BPlusTree (storage/btree_internal.go) is a disk-
// paged structure rebuilt from a System Catalog root page id. Spec.md's
// C4 only requires an in-memory typed ordered index — documents, not
// indexes, are the durable unit (C2) — so this keeps the teacher's API
// shape (Insert/Remove/RangeScan; index definitions are persisted by the
// root package's catalog, not through a callback here) but backs it with a sorted
// in-memory slice instead of a page store. No corpus dependency offers an
// in-memory ordered map over an arbitrary comparator, so the sorted slice
// plus sort.Search is the stdlib tool honestly reached for here; see
// DESIGN.md.
package index

import (
	"sort"
	"sync"

	"github.com/kartikbazzad/docstore/apperr"
	"github.com/kartikbazzad/docstore/document"
)

// Entry is one (key, ids) bucket in ascending key order.
type Entry struct {
	Key document.Value
	Ids []string
}

// BTree is a typed ordered index over a single (collection, field).
// Unique indexes collapse each bucket to at most one id; a second insert
// at an occupied key fails with DuplicateKey.
type BTree struct {
	mu      sync.RWMutex
	unique  bool
	entries []Entry // sorted ascending by Key
}

// New creates an empty index.
func New(unique bool) *BTree {
	return &BTree{unique: unique}
}

func (t *BTree) search(key document.Value) (int, bool) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return document.Compare(t.entries[i].Key, key) >= 0
	})
	if i < len(t.entries) && document.Compare(t.entries[i].Key, key) == 0 {
		return i, true
	}
	return i, false
}

// Insert adds id under key. For a unique index, a second id at an
// occupied key returns DuplicateKey and leaves the index unchanged.
func (t *BTree) Insert(key document.Value, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, found := t.search(key)
	if found {
		if t.unique {
			return apperr.New(apperr.DuplicateKey, "unique index already has an entry for this key", nil)
		}
		t.entries[i].Ids = append(t.entries[i].Ids, id)
		return nil
	}

	entry := Entry{Key: key, Ids: []string{id}}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry
	return nil
}

// Remove drops one occurrence of id under key. Removing a nonexistent
// (key, id) pair is a no-op.
func (t *BTree) Remove(key document.Value, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, found := t.search(key)
	if !found {
		return
	}
	ids := t.entries[i].Ids
	for j, v := range ids {
		if v == id {
			ids = append(ids[:j], ids[j+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
		return
	}
	t.entries[i].Ids = ids
}

// ContainsKey reports whether any id is registered under key.
func (t *BTree) ContainsKey(key document.Value) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, found := t.search(key)
	return found
}

// Count returns the total number of (key, id) entries in the index.
func (t *BTree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		n += len(e.Ids)
	}
	return n
}

// RangeQuery returns entries with low <= key <= high in ascending key
// order. A nil bound is unbounded on that side.
func (t *BTree) RangeQuery(low, high *document.Value) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	start := 0
	if low != nil {
		start = sort.Search(len(t.entries), func(i int) bool {
			return document.Compare(t.entries[i].Key, *low) >= 0
		})
	}

	out := make([]Entry, 0)
	for i := start; i < len(t.entries); i++ {
		if high != nil && document.Compare(t.entries[i].Key, *high) > 0 {
			break
		}
		ids := make([]string, len(t.entries[i].Ids))
		copy(ids, t.entries[i].Ids)
		out = append(out, Entry{Key: t.entries[i].Key, Ids: ids})
	}
	return out
}
