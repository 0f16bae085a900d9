package docstore

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/kartikbazzad/docstore/document"
	"github.com/kartikbazzad/docstore/storage"
	"github.com/kartikbazzad/docstore/ttl"
)

// IndexMeta persists one registered index definition.
type IndexMeta struct {
	Field  string        `json:"field"`
	Unique bool          `json:"unique"`
	Kind   document.Kind `json:"kind"`
}

// CollectionMeta persists the durable registration state for one
// collection: its index definitions, optional JSON schema, and optional
// TTL policy.
type CollectionMeta struct {
	Name    string      `json:"name"`
	Indexes []IndexMeta `json:"indexes,omitempty"`
	Schema  string      `json:"schema,omitempty"`
	TTL     *ttl.Policy `json:"ttl,omitempty"`
}

// systemCatalog is the full persisted document, mirroring bundoc's
// SystemMetadata but scoped to what spec.md's C4/C5/schema components
// need to survive a restart (index field defs, TTL policy, schema text) —
// not B+Tree root page ids, since index.Manager rebuilds its in-memory
// BTree from a full collection scan rather than loading pages.
type systemCatalog struct {
	Collections map[string]CollectionMeta `json:"collections"`
}

// MetadataManager persists the collection registry (index definitions,
// schema text, TTL policy) to <base>/_system/catalog.json, the way
// bundoc/metadata.go persists its system_catalog.json — generalized from
// bundoc's B+Tree-root-id bookkeeping (there is no disk-paged index here
// to reference) down to the plain registration facts spec.md's C4/C5
// need to rebuild themselves after LoadFromDisk repopulates the store.
type MetadataManager struct {
	files *storage.Manager

	mu      sync.RWMutex
	catalog systemCatalog
}

// NewMetadataManager loads (or initializes) the catalog under files'
// system directory.
func NewMetadataManager(files *storage.Manager) (*MetadataManager, error) {
	mm := &MetadataManager{
		files:   files,
		catalog: systemCatalog{Collections: make(map[string]CollectionMeta)},
	}
	if err := mm.load(); err != nil {
		return nil, err
	}
	return mm, nil
}

func (mm *MetadataManager) path() string {
	return mm.files.SystemPath("catalog.json")
}

func (mm *MetadataManager) load() error {
	data, err := os.ReadFile(mm.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var c systemCatalog
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	if c.Collections == nil {
		c.Collections = make(map[string]CollectionMeta)
	}
	mm.catalog = c
	return nil
}

func (mm *MetadataManager) saveLocked() error {
	if err := mm.files.EnsureSystemDir(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(mm.catalog, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(mm.path(), data, 0o644)
}

// Put registers or replaces the persisted metadata for a collection.
func (mm *MetadataManager) Put(meta CollectionMeta) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.catalog.Collections[meta.Name] = meta
	return mm.saveLocked()
}

// Get returns the persisted metadata for a collection, if any.
func (mm *MetadataManager) Get(name string) (CollectionMeta, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	m, ok := mm.catalog.Collections[name]
	return m, ok
}

// Delete removes a collection's persisted metadata.
func (mm *MetadataManager) Delete(name string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	delete(mm.catalog.Collections, name)
	return mm.saveLocked()
}

// List returns every collection name with persisted metadata.
func (mm *MetadataManager) List() []CollectionMeta {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	out := make([]CollectionMeta, 0, len(mm.catalog.Collections))
	for _, m := range mm.catalog.Collections {
		out = append(out, m)
	}
	return out
}
