package index

import (
	"sync"

	"github.com/kartikbazzad/docstore/apperr"
	"github.com/kartikbazzad/docstore/document"
)

// Def describes one registered index.
type Def struct {
	Collection string
	Field      string
	Unique     bool
	Kind       document.Kind // declared type; governs the zero-value sentinel
}

type registered struct {
	def   Def
	index *BTree
}

// Manager is the keyed registry of (collection, field) -> index plus the
// key-selector policy evaluated for each document, matching spec.md
// §4.3's "index manager keeps a keyed registry... plus the key-selector".
type Manager struct {
	mu  sync.RWMutex
	reg map[string]map[string]*registered // collection -> field -> registered
}

// NewManager creates an empty index manager.
func NewManager() *Manager {
	return &Manager{reg: make(map[string]map[string]*registered)}
}

// EnsureIndex registers a new index on (collection, field). Re-registering
// an identical (collection, field) is a no-op; changing unique/kind on an
// existing registration returns InvalidArgument.
func (m *Manager) EnsureIndex(def Def) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.reg[def.Collection]
	if !ok {
		fields = make(map[string]*registered)
		m.reg[def.Collection] = fields
	}
	if existing, ok := fields[def.Field]; ok {
		if existing.def.Unique != def.Unique || existing.def.Kind != def.Kind {
			return apperr.New(apperr.InvalidArgument, "index already registered with different definition", nil)
		}
		return nil
	}
	fields[def.Field] = &registered{def: def, index: New(def.Unique)}
	return nil
}

// Get returns the index for (collection, field), or nil if none exists.
func (m *Manager) Get(collection, field string) *BTree {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.reg[collection]
	if !ok {
		return nil
	}
	r, ok := fields[field]
	if !ok {
		return nil
	}
	return r.index
}

// Fields lists the indexed field names for collection.
func (m *Manager) Fields(collection string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.reg[collection]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}
	return out
}

// keyFor applies the key-selector policy: present values are used as-is;
// a missing or null attribute indexes at the declared kind's zero value,
// per spec.md §4.3 and the Open Question resolution in SPEC_FULL.md (index
// at zero, never skip, to keep range scans total).
func keyFor(doc *document.Document, def Def) document.Value {
	v, ok := doc.Get(def.Field)
	if !ok || v.IsNull() {
		return document.Value{Kind: def.Kind}.Zero()
	}
	return v
}

// OnInsert computes and inserts the key for every index on collection. If
// any unique index rejects the key, every prior insertion from this call
// unwinds (removed) and the error is returned, matching spec.md §4.3's
// unique-rollback rule.
func (m *Manager) OnInsert(collection string, doc *document.Document) error {
	m.mu.RLock()
	fields := m.reg[collection]
	regs := make([]*registered, 0, len(fields))
	for _, r := range fields {
		regs = append(regs, r)
	}
	m.mu.RUnlock()

	inserted := make([]*registered, 0, len(regs))
	for _, r := range regs {
		key := keyFor(doc, r.def)
		if err := r.index.Insert(key, doc.Id); err != nil {
			for _, done := range inserted {
				done.index.Remove(keyFor(doc, done.def), doc.Id)
			}
			return err
		}
		inserted = append(inserted, r)
	}
	return nil
}

// OnUpdate recomputes keys for old and new document versions. Equal keys
// are a no-op; otherwise it removes the old key and inserts the new one,
// unwinding (restoring the old key) if a unique index rejects the new key.
func (m *Manager) OnUpdate(collection string, oldDoc, newDoc *document.Document) error {
	m.mu.RLock()
	fields := m.reg[collection]
	regs := make([]*registered, 0, len(fields))
	for _, r := range fields {
		regs = append(regs, r)
	}
	m.mu.RUnlock()

	type change struct {
		r      *registered
		oldKey document.Value
	}
	applied := make([]change, 0, len(regs))

	for _, r := range regs {
		oldKey := keyFor(oldDoc, r.def)
		newKey := keyFor(newDoc, r.def)
		if document.Equal(oldKey, newKey) {
			continue
		}
		r.index.Remove(oldKey, oldDoc.Id)
		if err := r.index.Insert(newKey, newDoc.Id); err != nil {
			// unwind this index immediately
			r.index.Insert(oldKey, oldDoc.Id) //nolint:errcheck // restoring prior state
			// unwind everything already applied in this call
			for i := len(applied) - 1; i >= 0; i-- {
				c := applied[i]
				c.r.index.Remove(keyFor(newDoc, c.r.def), newDoc.Id)
				c.r.index.Insert(c.oldKey, oldDoc.Id) //nolint:errcheck
			}
			return err
		}
		applied = append(applied, change{r: r, oldKey: oldKey})
	}
	return nil
}

// OnDelete removes the entry for doc from every index on collection.
func (m *Manager) OnDelete(collection string, doc *document.Document) {
	m.mu.RLock()
	fields := m.reg[collection]
	regs := make([]*registered, 0, len(fields))
	for _, r := range fields {
		regs = append(regs, r)
	}
	m.mu.RUnlock()

	for _, r := range regs {
		r.index.Remove(keyFor(doc, r.def), doc.Id)
	}
}

// OnDropCollection discards every index registered for collection.
func (m *Manager) OnDropCollection(collection string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reg, collection)
}
