// Package cache implements a bounded, in-memory read cache for recently
// accessed documents.
//
// No repo in the retrieved pack exercises golang-lru directly, so this
// package is grounded on the shape of the pack's other bounded
// size-capped structures instead: KartikBazzad-bunbase's pool.Scheduler
// caps queue depth per database the same way this caches at most N
// documents in total across all collections, evicting the coldest entry
// once full. The
// eviction and Get/Add semantics themselves follow
// github.com/hashicorp/golang-lru/v2's documented Cache API directly.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kartikbazzad/docstore/document"
)

// key identifies one cached document by collection and id.
type key struct {
	collection string
	id         string
}

// Cache is a process-wide LRU of recently read documents, shared across
// collections but bounded by a single total item count.
type Cache struct {
	inner *lru.Cache[key, *document.Document]
}

// New creates a cache holding at most size documents. size <= 0 disables
// caching: every Get reports a miss and every Put is a no-op.
func New(size int) *Cache {
	if size <= 0 {
		return &Cache{}
	}
	inner, err := lru.New[key, *document.Document](size)
	if err != nil {
		return &Cache{}
	}
	return &Cache{inner: inner}
}

// Get returns a cloned document so mutation by the caller never corrupts
// the cached copy.
func (c *Cache) Get(collection, id string) (*document.Document, bool) {
	if c == nil || c.inner == nil {
		return nil, false
	}
	doc, ok := c.inner.Get(key{collection, id})
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

// Put installs a clone of doc under (collection, doc.Id).
func (c *Cache) Put(collection string, doc *document.Document) {
	if c == nil || c.inner == nil || doc == nil {
		return
	}
	c.inner.Add(key{collection, doc.Id}, doc.Clone())
}

// Invalidate removes one document's cached entry, used after an update
// or delete so stale data is never served.
func (c *Cache) Invalidate(collection, id string) {
	if c == nil || c.inner == nil {
		return
	}
	c.inner.Remove(key{collection, id})
}

// InvalidateCollection drops every cached entry belonging to collection,
// used on DropCollection.
func (c *Cache) InvalidateCollection(collection string) {
	if c == nil || c.inner == nil {
		return
	}
	for _, k := range c.inner.Keys() {
		if k.collection == collection {
			c.inner.Remove(k)
		}
	}
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	if c == nil || c.inner == nil {
		return 0
	}
	return c.inner.Len()
}
