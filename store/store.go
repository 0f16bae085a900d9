// Package store implements the document store (C3): an in-memory map of
// collections to documents, write-through persistence, and synchronous
// fan-out to the index manager (C4) and TTL service (C5) on every
// mutation.
//
// Grounded on bundoc/database.go's Database/Collection coordination shape
// (a per-collection registry guarded by a map lock, with mutation paths
// that touch storage, then indexes) simplified to spec.md §4.3's
// requirements: no MVCC version chains, no WAL — the file manager's
// rename-based atomic write (C2) is the durability boundary.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/kartikbazzad/docstore/apperr"
	"github.com/kartikbazzad/docstore/cache"
	"github.com/kartikbazzad/docstore/document"
	"github.com/kartikbazzad/docstore/events"
	"github.com/kartikbazzad/docstore/index"
	"github.com/kartikbazzad/docstore/schema"
	"github.com/kartikbazzad/docstore/storage"
	"github.com/kartikbazzad/docstore/ttl"
)

// collection is the in-memory state for one collection: a document map
// guarded by its own lock so unrelated collections never contend.
type collection struct {
	mu   sync.RWMutex
	docs map[string]*document.Document
}

// Store is the coordinator tying storage, index, and TTL together behind
// the C3 operation set.
type Store struct {
	files   *storage.Manager
	indexes *index.Manager
	ttl     *ttl.Service
	schemas *schema.Registry
	reads   *cache.Cache

	Inserted *events.Bus[DocEvent]
	Updated  *events.Bus[DocEvent]
	Deleted  *events.Bus[DocEvent]

	mu          sync.RWMutex
	collections map[string]*collection
}

// DocEvent is published on Inserted/Updated/Deleted.
type DocEvent struct {
	Collection string
	Document   *document.Document
}

// New constructs a Store backed by files, indexes, and ttlSvc. ttlSvc may
// be nil if TTL tracking is not wired.
func New(files *storage.Manager, indexes *index.Manager, ttlSvc *ttl.Service) *Store {
	return &Store{
		files:       files,
		indexes:     indexes,
		ttl:         ttlSvc,
		Inserted:    events.NewBus[DocEvent](),
		Updated:     events.NewBus[DocEvent](),
		Deleted:     events.NewBus[DocEvent](),
		collections: make(map[string]*collection),
	}
}

// SetSchemas installs the schema registry gating Insert/Update. Passing
// nil (the default) disables schema enforcement entirely.
func (s *Store) SetSchemas(r *schema.Registry) { s.schemas = r }

// SetCache installs a read cache consulted by Get and kept coherent by
// Insert/Update/Delete. Passing nil (the default) disables caching.
func (s *Store) SetCache(c *cache.Cache) { s.reads = c }

// CreateCollection registers an empty in-memory collection. A repeated
// call on an existing collection is a no-op.
func (s *Store) CreateCollection(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; ok {
		return
	}
	s.collections[name] = &collection{docs: make(map[string]*document.Document)}
}

// DropCollection discards in-memory state, on-disk files, registered
// indexes, and the TTL policy for name.
func (s *Store) DropCollection(name string) error {
	s.mu.Lock()
	delete(s.collections, name)
	s.mu.Unlock()

	s.indexes.OnDropCollection(name)
	if s.ttl != nil {
		s.ttl.RemovePolicy(name)
	}
	if s.schemas != nil {
		s.schemas.Clear(name)
	}
	s.reads.InvalidateCollection(name)
	return s.files.DropCollection(name)
}

// ListCollections returns every collection known to the store.
func (s *Store) ListCollections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.collections))
	for name := range s.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Store) collectionFor(name string) *collection {
	s.mu.RLock()
	c, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c
	}
	c = &collection{docs: make(map[string]*document.Document)}
	s.collections[name] = c
	return c
}

// Insert adds doc to collection. Fails with DuplicateId if doc.Id already
// exists. The document is persisted by C2 before becoming visible in
// memory; index (C4) and TTL (C5) hooks run synchronously while still
// holding the collection's write lock, per spec.md §5 ("Index and TTL
// hooks execute under the write lock so a reader either sees pre-state
// with stale indexes or post-state with updated indexes — never torn").
func (s *Store) Insert(coll string, doc *document.Document) error {
	c := s.collectionFor(coll)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.docs[doc.Id]; exists {
		return apperr.New(apperr.DuplicateId, "document id already exists in collection", nil)
	}
	if s.schemas != nil {
		if err := s.schemas.Validate(coll, doc); err != nil {
			return err
		}
	}
	if err := s.files.Write(coll, doc.Id, doc); err != nil {
		return err
	}
	c.docs[doc.Id] = doc

	if err := s.indexes.OnInsert(coll, doc); err != nil {
		// Index manager has already unwound its own partial state; undo
		// this document's visibility and on-disk presence so the failed
		// insert leaves no trace, satisfying spec.md §8 invariant 3 (every
		// index entry corresponds to a document actually in the
		// collection).
		delete(c.docs, doc.Id)
		_ = s.files.Delete(coll, doc.Id)
		return err
	}
	if s.ttl != nil {
		_ = s.ttl.Register(coll, doc)
	}
	s.reads.Put(coll, doc)
	s.Inserted.Publish(DocEvent{Collection: coll, Document: doc})
	return nil
}

// Update replaces the document at doc.Id with doc's data, bumping Version
// and UpdatedAt. Fails with NotFound if doc.Id doesn't exist.
func (s *Store) Update(coll string, doc *document.Document) error {
	c := s.collectionFor(coll)

	c.mu.Lock()
	defer c.mu.Unlock()

	old, exists := c.docs[doc.Id]
	if !exists {
		return apperr.New(apperr.NotFound, "document not found", nil)
	}
	updated := doc.Clone()
	updated.CreatedAt = old.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	updated.Version = old.Version + 1

	if s.schemas != nil {
		if err := s.schemas.Validate(coll, updated); err != nil {
			return err
		}
	}
	if err := s.files.Write(coll, updated.Id, updated); err != nil {
		return err
	}
	c.docs[updated.Id] = updated

	if err := s.indexes.OnUpdate(coll, old, updated); err != nil {
		// The index manager has already restored the old key; restore the
		// prior document version in the store and on disk so the failed
		// update leaves the document unchanged, mirroring the Insert
		// rollback above.
		c.docs[old.Id] = old
		_ = s.files.Write(coll, old.Id, old)
		return err
	}
	if s.ttl != nil {
		_ = s.ttl.Register(coll, updated)
	}
	s.reads.Put(coll, updated)
	s.Updated.Publish(DocEvent{Collection: coll, Document: updated})
	return nil
}

// Delete removes the document with id from collection. Fails with
// NotFound if absent.
func (s *Store) Delete(coll, id string) error {
	c := s.collectionFor(coll)

	c.mu.Lock()
	defer c.mu.Unlock()

	doc, exists := c.docs[id]
	if !exists {
		return apperr.New(apperr.NotFound, "document not found", nil)
	}
	if err := s.files.Delete(coll, id); err != nil {
		return err
	}
	delete(c.docs, id)

	s.indexes.OnDelete(coll, doc)
	if s.ttl != nil {
		s.ttl.Unregister(coll, id)
	}
	s.reads.Invalidate(coll, id)
	s.Deleted.Publish(DocEvent{Collection: coll, Document: doc})
	return nil
}

// Get returns the document with id, or (nil, false) if absent. A hit in
// the read cache (if installed) skips the collection lock entirely.
func (s *Store) Get(coll, id string) (*document.Document, bool) {
	if cached, ok := s.reads.Get(coll, id); ok {
		return cached, true
	}
	c := s.collectionFor(coll)
	c.mu.RLock()
	doc, ok := c.docs[id]
	var clone *document.Document
	if ok {
		clone = doc.Clone()
	}
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s.reads.Put(coll, clone)
	return clone, true
}

// Exists reports whether id is present in collection.
func (s *Store) Exists(coll, id string) bool {
	c := s.collectionFor(coll)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.docs[id]
	return ok
}

// Scan returns a snapshot slice of every document in collection. Callers
// needing stable pagination over a moving collection should snapshot via
// Scan once rather than calling Get per id (see the cursor manager, C7).
func (s *Store) Scan(coll string) []*document.Document {
	c := s.collectionFor(coll)
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*document.Document, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// LoadFromDisk repopulates in-memory state for collection by reading
// every document file through the storage manager, without re-running
// index/TTL hooks (used at startup; callers rebuild indexes separately if
// needed).
func (s *Store) LoadFromDisk(coll string) error {
	ids, err := s.files.ListDocuments(coll)
	if err != nil {
		return err
	}
	c := s.collectionFor(coll)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		doc, err := s.files.Read(coll, id)
		if err != nil {
			return err
		}
		if doc != nil {
			c.docs[id] = doc
		}
	}
	return nil
}
