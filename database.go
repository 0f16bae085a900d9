// Package docstore wires the document model (C1), file storage manager
// (C2), document store (C3), index manager (C4), TTL service (C5), filter
// engine (C6), cursor manager (C7), aggregation pipeline (C8), and
// authentication service (C9) together behind one embeddable Database,
// the way bundoc/database.go coordinates its own Pager/BufferPool/WAL/
// MVCC/Security stack behind a single Database entry point.
//
// Unlike bundoc, there is no page cache or write-ahead log here — C2's
// rename-based atomic file write is the durability boundary, so Open's
// job is narrower: construct each component, restore persisted catalog
// state (index definitions, schema text, TTL policy) and on-disk
// documents, and start the background tasks (TTL sweep, cursor reaper)
// that spec.md §5 requires to be independently scoped and disposable.
package docstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kartikbazzad/docstore/aggregate"
	"github.com/kartikbazzad/docstore/apperr"
	"github.com/kartikbazzad/docstore/auth"
	"github.com/kartikbazzad/docstore/cache"
	"github.com/kartikbazzad/docstore/config"
	"github.com/kartikbazzad/docstore/cursor"
	"github.com/kartikbazzad/docstore/document"
	"github.com/kartikbazzad/docstore/filter"
	"github.com/kartikbazzad/docstore/index"
	"github.com/kartikbazzad/docstore/logger"
	"github.com/kartikbazzad/docstore/schema"
	"github.com/kartikbazzad/docstore/storage"
	"github.com/kartikbazzad/docstore/store"
	"github.com/kartikbazzad/docstore/ttl"
)

// reaperInterval is how often the cursor manager scans for idle cursors.
// Independent of any single cursor's TimeoutMinutes.
const reaperInterval = 30 * time.Second

// Database is the single-process entry point coordinating every core
// component. One instance hosts one database, per spec.md §1 ("A single
// process hosts one database instance").
type Database struct {
	cfg     config.Config
	watcher *config.Watcher

	files   *storage.Manager
	indexes *index.Manager
	ttlSvc  *ttl.Service
	schemas *schema.Registry
	reads   *cache.Cache
	meta    *MetadataManager

	store   *store.Store
	cursors *cursor.Manager
	auth    *auth.Manager

	closed bool
}

// Open constructs every component, rediscovers collections on disk (per
// spec.md §6: "Collections are rediscovered on startup by directory
// enumeration"), restores persisted index/schema/TTL registrations, and
// starts background tasks. Mirrors bundoc/database.go's Open, minus the
// WAL/MVCC recovery steps this system has no equivalent of.
func Open(cfg config.Config) (*Database, error) {
	logger.Init(logger.Config{Level: levelFor(cfg.EnableDetailedLogging), Format: "json"})

	files := storage.NewManager(cfg.DataPath)

	meta, err := NewMetadataManager(files)
	if err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	indexes := index.NewManager()
	schemas := schema.NewRegistry()
	reads := cache.New(cfg.MaxCacheItemCount)

	// ttlSvc's delete callback must forward into the store, but the store
	// constructor needs a *ttl.Service up front to wire its own mutation
	// hooks. docStore is declared here and assigned below; the closure
	// captures the variable, not its (nil) value at this point, so the
	// forward reference resolves by the time a sweep actually runs.
	var docStore *store.Store
	ttlSvc := ttl.NewService(func(collection, id string) error {
		return docStore.Delete(collection, id)
	})

	docStore = store.New(files, indexes, ttlSvc)
	docStore.SetSchemas(schemas)
	docStore.SetCache(reads)

	cursors := cursor.NewManager(docStore)
	cursors.StartReaper(reaperInterval)

	authMgr := auth.NewManager(time.Duration(cfg.TokenExpirationHours) * time.Hour)

	db := &Database{
		cfg:     cfg,
		watcher: config.NewWatcher(cfg),
		files:   files,
		indexes: indexes,
		ttlSvc:  ttlSvc,
		schemas: schemas,
		reads:   reads,
		meta:    meta,
		store:   docStore,
		cursors: cursors,
		auth:    authMgr,
	}

	if err := db.restore(); err != nil {
		return nil, err
	}
	return db, nil
}

func levelFor(detailed bool) string {
	if detailed {
		return "DEBUG"
	}
	return "INFO"
}

// restore rediscovers every collection directory, reapplies its
// persisted index/schema/TTL registration (if any), loads its documents
// from disk, and backfills indexes for those documents — LoadFromDisk
// intentionally skips the insert hooks so index/TTL state is rebuilt
// exactly once here instead of once per document during a cold load.
func (db *Database) restore() error {
	names, err := db.files.ListCollections()
	if err != nil {
		return err
	}
	discovered := make(map[string]bool, len(names))
	for _, name := range names {
		discovered[name] = true
	}
	for _, m := range db.meta.List() {
		discovered[m.Name] = true
	}

	sorted := make([]string, 0, len(discovered))
	for name := range discovered {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		db.store.CreateCollection(name)

		m, ok := db.meta.Get(name)
		if ok {
			for _, idx := range m.Indexes {
				if err := db.indexes.EnsureIndex(index.Def{
					Collection: name, Field: idx.Field, Unique: idx.Unique, Kind: idx.Kind,
				}); err != nil {
					return err
				}
			}
			if m.Schema != "" {
				if err := db.schemas.Set(name, m.Schema); err != nil {
					return err
				}
			}
			if m.TTL != nil {
				if err := db.ttlSvc.SetPolicy(name, *m.TTL); err != nil {
					return err
				}
			}
		}

		if err := db.store.LoadFromDisk(name); err != nil {
			return err
		}
		for _, doc := range db.store.Scan(name) {
			if err := db.indexes.OnInsert(name, doc); err != nil {
				logger.Warn("index backfill conflict on restore", "collection", name, "id", doc.Id, "error", err)
			}
			if m.TTL != nil {
				_ = db.ttlSvc.Register(name, doc)
			}
		}
	}
	return nil
}

func (db *Database) checkOpen() error {
	if db.closed {
		return apperr.New(apperr.AlreadyDisposed, "database is closed", nil)
	}
	return nil
}

// Close stops every background task (TTL sweeper, cursor reaper) and
// marks the database closed. After Close, CreateCollection,
// DropCollection, Insert, Update, Delete, EnsureIndex, and SetTTLPolicy
// fail with AlreadyDisposed; the other methods do not check for a closed
// database.
func (db *Database) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	db.cursors.Stop()
	db.ttlSvc.Dispose()
	return nil
}

// -- C3: collection + document operations --

// CreateCollection registers an empty collection and persists its
// (initially empty) catalog entry.
func (db *Database) CreateCollection(name string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.store.CreateCollection(name)
	if _, ok := db.meta.Get(name); !ok {
		return db.meta.Put(CollectionMeta{Name: name})
	}
	return nil
}

// DropCollection removes every document, index, TTL registration, and
// live cursor bound to name, per spec.md §3's collection invariant.
// Cursors are reaped before the collection's data is released, per
// SPEC_FULL/Design Note "Collection drop vs. live cursors".
func (db *Database) DropCollection(name string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.cursors.KillCursorsForCollection(name)
	if err := db.store.DropCollection(name); err != nil {
		return err
	}
	return db.meta.Delete(name)
}

// ListCollections returns every known collection name.
func (db *Database) ListCollections() []string {
	return db.store.ListCollections()
}

// Insert adds doc to collection, per C3's insert(coll, doc).
func (db *Database) Insert(collection string, doc *document.Document) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.store.Insert(collection, doc)
}

// Update replaces the document at doc.Id, per C3's update(coll, doc).
func (db *Database) Update(collection string, doc *document.Document) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.store.Update(collection, doc)
}

// Delete removes the document with id from collection.
func (db *Database) Delete(collection, id string) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.store.Delete(collection, id)
}

// Get returns the document with id, or (nil, false) if absent.
func (db *Database) Get(collection, id string) (*document.Document, bool) {
	return db.store.Get(collection, id)
}

// Exists reports whether id is present in collection.
func (db *Database) Exists(collection, id string) bool {
	return db.store.Exists(collection, id)
}

// Scan returns a snapshot of every document in collection.
func (db *Database) Scan(collection string) []*document.Document {
	return db.store.Scan(collection)
}

// -- C4: index management --

// EnsureIndex registers an index on (collection, field) and backfills it
// against every document already in the collection. Backfilling stops at
// the first DuplicateKey conflict (a pre-existing duplicate under a new
// unique index is surfaced, not silently dropped); the index remains
// registered with whatever entries were inserted before the conflict.
func (db *Database) EnsureIndex(collection, field string, unique bool, kind document.Kind) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	def := index.Def{Collection: collection, Field: field, Unique: unique, Kind: kind}
	if err := db.indexes.EnsureIndex(def); err != nil {
		return err
	}

	idx := db.indexes.Get(collection, field)
	for _, doc := range db.store.Scan(collection) {
		key, ok := doc.Get(field)
		if !ok || key.IsNull() {
			key = document.Value{Kind: kind}.Zero()
		}
		if err := idx.Insert(key, doc.Id); err != nil {
			return err
		}
	}

	m, _ := db.meta.Get(collection)
	m.Name = collection
	m.Indexes = append(m.Indexes, IndexMeta{Field: field, Unique: unique, Kind: kind})
	return db.meta.Put(m)
}

// -- C5: TTL policy management --

// SetTTLPolicy installs collection's TTL policy and persists it, so a
// restart reapplies the same expiration rule.
func (db *Database) SetTTLPolicy(collection string, p ttl.Policy) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := db.ttlSvc.SetPolicy(collection, p); err != nil {
		return err
	}
	m, _ := db.meta.Get(collection)
	m.Name = collection
	pCopy := p
	m.TTL = &pCopy
	return db.meta.Put(m)
}

// RemoveTTLPolicy stops tracking collection's documents entirely.
func (db *Database) RemoveTTLPolicy(collection string) error {
	db.ttlSvc.RemovePolicy(collection)
	m, ok := db.meta.Get(collection)
	if !ok {
		return nil
	}
	m.TTL = nil
	return db.meta.Put(m)
}

// TTLStats exposes the TTL service's counters, per spec.md §4.4.
func (db *Database) TTLStats() ttl.Stats {
	return db.ttlSvc.Stats()
}

// SweepTTL runs one synchronous TTL cleanup pass, used directly by tests
// that don't want to wait on the background ticker.
func (db *Database) SweepTTL(now time.Time) {
	db.ttlSvc.Sweep(now)
}

// -- schema management --

// SetSchema installs (or, given an empty string, clears) collection's
// JSON-Schema validation gate.
func (db *Database) SetSchema(collection, schemaJSON string) error {
	if err := db.schemas.Set(collection, schemaJSON); err != nil {
		return err
	}
	m, _ := db.meta.Get(collection)
	m.Name = collection
	m.Schema = schemaJSON
	return db.meta.Put(m)
}

// -- C6/C7: filtering and cursor-based pagination --

// CreateCursor issues a new cursor over collection per spec.md §4.6.
func (db *Database) CreateCursor(collection string, filterTree *filter.Node, sortSpec []cursor.SortField, opts cursor.Options) *cursor.BatchResult {
	return db.cursors.CreateCursor(collection, filterTree, sortSpec, opts)
}

// GetMore advances an existing cursor by up to batchSize documents.
func (db *Database) GetMore(cursorId string, batchSize int) *cursor.BatchResult {
	return db.cursors.GetMore(cursorId, batchSize)
}

// KillCursor releases a cursor's server-side state.
func (db *Database) KillCursor(cursorId string) {
	db.cursors.Kill(cursorId)
}

// -- C8: aggregation pipeline --

// Aggregate runs stages over collection's current contents synchronously.
func (db *Database) Aggregate(collection string, stages []aggregate.Stage) *aggregate.PipelineResult {
	pipeline, err := aggregate.New(stages)
	if err != nil {
		return &aggregate.PipelineResult{ErrorMessage: err.Error()}
	}
	return pipeline.Run(db.store.Scan(collection))
}

// AggregateContext runs stages with cooperative cancellation observed
// between stage boundaries, per spec.md §4.7/§5.
func (db *Database) AggregateContext(ctx context.Context, collection string, stages []aggregate.Stage) *aggregate.PipelineResult {
	pipeline, err := aggregate.New(stages)
	if err != nil {
		return &aggregate.PipelineResult{ErrorMessage: err.Error()}
	}
	return pipeline.RunContext(ctx, db.store.Scan(collection))
}

// -- C9: authentication passthrough --

func (db *Database) RegisterUser(username, password, initialRole string) (bool, error) {
	return db.auth.RegisterUser(username, password, initialRole)
}

func (db *Database) Authenticate(username, password string) (*auth.AuthToken, error) {
	return db.auth.Authenticate(username, password)
}

func (db *Database) ValidateToken(tokenId string) bool {
	return db.auth.ValidateToken(tokenId)
}

func (db *Database) RevokeToken(tokenId string) {
	db.auth.RevokeToken(tokenId)
}

func (db *Database) ChangePassword(username, oldPassword, newPassword string) (bool, error) {
	return db.auth.ChangePassword(username, oldPassword, newPassword)
}

func (db *Database) AssignRole(username, roleName string) error {
	return db.auth.AssignRole(username, roleName)
}

func (db *Database) RemoveRole(username, roleName string) error {
	return db.auth.RemoveRole(username, roleName)
}

func (db *Database) UserHasRole(username, roleName string) bool {
	return db.auth.UserHasRole(username, roleName)
}

func (db *Database) UserHasPermission(username string, perm auth.Permission) bool {
	return db.auth.UserHasPermission(username, perm)
}

func (db *Database) GetUserRoles(username string) []string {
	return db.auth.GetUserRoles(username)
}

func (db *Database) GetUserPermissions(username string) map[auth.Permission]bool {
	return db.auth.GetUserPermissions(username)
}

func (db *Database) CreateRole(name, description string, permissions map[auth.Permission]bool) {
	db.auth.CreateRole(name, description, permissions)
}

func (db *Database) DeleteRole(name string) {
	db.auth.DeleteRole(name)
}

func (db *Database) GetAllRoles() []*auth.Role {
	return db.auth.GetAllRoles()
}

func (db *Database) RemoveUser(username string) bool {
	return db.auth.RemoveUser(username)
}

func (db *Database) Authorize(tokenId string, perm auth.Permission, resourceCtx map[string]interface{}) auth.AuthorizeResult {
	return db.auth.Authorize(tokenId, perm, resourceCtx)
}

// -- configuration hot-reload --

// ApplyConfigChange re-reads only the hot-reloadable fields
// (MaxCacheItemCount, EnableDetailedLogging) from next, per spec.md §6.
// Connection-level fields (Host, Port, timeouts) require a restart and
// are intentionally left untouched here.
func (db *Database) ApplyConfigChange(next config.Config) {
	prev := db.watcher.Current()
	db.watcher.Apply(next)

	if next.EnableDetailedLogging != prev.EnableDetailedLogging {
		logger.SetVerbose(next.EnableDetailedLogging)
	}
	if next.MaxCacheItemCount != prev.MaxCacheItemCount {
		db.reads = cache.New(next.MaxCacheItemCount)
		db.store.SetCache(db.reads)
	}
	db.cfg = next
}

// Config returns the database's current effective configuration.
func (db *Database) Config() config.Config {
	return db.watcher.Current()
}
