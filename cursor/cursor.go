// Package cursor implements the cursor manager (C7): snapshot-based
// pagination with resume tokens, idle timeouts, and collection-drop
// reaping.
//
// Grounded on bundoc/iterator.go's Sort/Skip/Limit/Filter iterator chain
// (materialize-then-sort, buffered) generalized from a single-pass
// Iterator into a stored snapshot that a cursor can be paged through
// across independent get_more calls, since spec.md §4.6 requires a
// stable id-list snapshot rather than bundoc's one-shot in-process scan.
package cursor

import (
	"encoding/json"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/docstore/apperr"
	"github.com/kartikbazzad/docstore/document"
	"github.com/kartikbazzad/docstore/events"
	"github.com/kartikbazzad/docstore/filter"
)

// parallelFilterThreshold is the smallest scan size for which materialize
// bothers farming filter evaluation out to the worker pool; below this
// the goroutine dispatch overhead outweighs the gain.
const parallelFilterThreshold = 256

const (
	DefaultBatchSize      = 100
	MaxBatchSize          = 10000
	DefaultTimeoutMinutes = 10
	MaxTimeoutMinutes     = 60
)

// SortField is one key in a multi-field sort specification.
type SortField struct {
	Path string
	Desc bool
}

// Source abstracts the document store's read surface, letting the
// cursor manager snapshot a collection without importing the store
// package directly (it is imported the other way around by wiring code).
type Source interface {
	Scan(collection string) []*document.Document
}

// Options configures cursor creation, per spec.md §4.6.
type Options struct {
	BatchSize         int
	TimeoutMinutes    int
	IncludeTotalCount bool
	ResumeToken       string
}

// Cursor is the live server-side pagination state for one client.
type Cursor struct {
	Id             string
	Collection     string
	Filter         *filter.Node
	Sort           []SortField
	Snapshot       []*document.Document
	Position       int
	BatchSize      int
	TotalCount     *int
	CreatedAt      time.Time
	LastAccessedAt time.Time
	TimeoutMinutes int
}

// BatchResult is returned by CreateCursor and GetMore.
type BatchResult struct {
	Success      bool
	CursorId     string
	Documents    []*document.Document
	HasMore      bool
	TotalCount   *int
	ResumeToken  string
	ErrorMessage string
}

// Manager tracks live cursors and runs the idle reaper.
type Manager struct {
	source Source
	pool   *ants.Pool

	Created *events.Bus[*Cursor]
	Closed  *events.Bus[string]

	mu      sync.Mutex
	cursors map[string]*Cursor

	stop chan struct{}
}

// NewManager constructs a cursor manager reading documents from source.
// It spins up a bounded goroutine pool used to parallelize filter
// evaluation across large collection scans; a pool that fails to start
// (e.g. size 0 on a single-core sandbox) just leaves materialize running
// sequentially.
func NewManager(source Source) *Manager {
	pool, _ := ants.NewPool(runtime.NumCPU(), ants.WithExpiryDuration(time.Minute))
	return &Manager{
		source:  source,
		pool:    pool,
		Created: events.NewBus[*Cursor](),
		Closed:  events.NewBus[string](),
		cursors: make(map[string]*Cursor),
	}
}

// StartReaper launches the background idle-cursor sweeper, ticking every
// interval until Stop is called.
func (m *Manager) StartReaper(interval time.Duration) {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				m.reapIdle(now)
			}
		}
	}()
}

// Stop halts the background reaper and releases the filter worker pool.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	if m.pool != nil {
		m.pool.Release()
	}
}

func (m *Manager) reapIdle(now time.Time) {
	m.mu.Lock()
	var expired []string
	for id, c := range m.cursors {
		timeout := time.Duration(c.TimeoutMinutes) * time.Minute
		if now.Sub(c.LastAccessedAt) > timeout {
			expired = append(expired, id)
			delete(m.cursors, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.Closed.Publish(id)
	}
}

func normalizeOptions(opts Options) (Options, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize < 1 || opts.BatchSize > MaxBatchSize {
		return opts, apperr.New(apperr.InvalidArgument, "BatchSize must be between 1 and 10000", nil)
	}
	if opts.TimeoutMinutes == 0 {
		opts.TimeoutMinutes = DefaultTimeoutMinutes
	}
	if opts.TimeoutMinutes < 1 || opts.TimeoutMinutes > MaxTimeoutMinutes {
		return opts, apperr.New(apperr.InvalidArgument, "TimeoutMinutes must be between 1 and 60", nil)
	}
	return opts, nil
}

// CreateCursor snapshots collection (filtered, then sorted), and either
// starts a fresh cursor or, if opts.ResumeToken references a still-live
// cursor, returns its remainder. Validation failures produce a failed
// BatchResult rather than an error, per spec.md §4.6.
func (m *Manager) CreateCursor(collection string, filterTree *filter.Node, sortSpec []SortField, opts Options) *BatchResult {
	opts, err := normalizeOptions(opts)
	if err != nil {
		return &BatchResult{Success: false, ErrorMessage: err.Error()}
	}

	if opts.ResumeToken != "" {
		token, err := DecodeToken(opts.ResumeToken)
		if err != nil {
			return &BatchResult{Success: false, ErrorMessage: err.Error()}
		}

		m.mu.Lock()
		if c, ok := m.cursors[token.CursorId]; ok {
			c.LastAccessedAt = time.Now()
			m.mu.Unlock()
			return m.batchFrom(c, opts.BatchSize)
		}
		m.mu.Unlock()

		// Cursor was reaped: re-execute filter+sort and position
		// immediately after lastDocumentId (or the first id greater than
		// it in sort order, per the resume-after-reap rule).
		return m.resumeAfterReap(token, filterTree, sortSpec, opts)
	}

	snapshot := m.materialize(collection, filterTree, sortSpec)
	c := &Cursor{
		Id:             uuid.NewString(),
		Collection:     collection,
		Filter:         filterTree,
		Sort:           sortSpec,
		Snapshot:       snapshot,
		Position:       0,
		BatchSize:      opts.BatchSize,
		CreatedAt:      time.Now(),
		LastAccessedAt: time.Now(),
		TimeoutMinutes: opts.TimeoutMinutes,
	}
	if opts.IncludeTotalCount {
		n := len(snapshot)
		c.TotalCount = &n
	}

	m.mu.Lock()
	m.cursors[c.Id] = c
	m.mu.Unlock()
	m.Created.Publish(c)

	return m.batchFrom(c, opts.BatchSize)
}

func (m *Manager) resumeAfterReap(token ResumeToken, filterTree *filter.Node, sortSpec []SortField, opts Options) *BatchResult {
	snapshot := m.materialize(token.Collection, filterTree, sortSpec)

	// Position immediately after lastDocumentId if it is still present;
	// otherwise at the first document, in snapshot order, whose id is
	// strictly greater than it as a string, or at the end if none is
	// greater — the resolution spec.md §4.6 leaves open for a reaped cursor.
	pos := -1
	for i, d := range snapshot {
		if d.Id == token.LastDocumentId {
			pos = i + 1
			break
		}
	}
	if pos < 0 {
		pos = len(snapshot)
		for i, d := range snapshot {
			if d.Id > token.LastDocumentId {
				pos = i
				break
			}
		}
	}

	c := &Cursor{
		Id:             uuid.NewString(),
		Collection:     token.Collection,
		Filter:         filterTree,
		Sort:           sortSpec,
		Snapshot:       snapshot,
		Position:       pos,
		BatchSize:      opts.BatchSize,
		CreatedAt:      time.Now(),
		LastAccessedAt: time.Now(),
		TimeoutMinutes: opts.TimeoutMinutes,
	}
	if opts.IncludeTotalCount {
		n := len(snapshot)
		c.TotalCount = &n
	}

	m.mu.Lock()
	m.cursors[c.Id] = c
	m.mu.Unlock()
	m.Created.Publish(c)

	return m.batchFrom(c, opts.BatchSize)
}

// GetMore advances cursorId by up to batchSize documents. batchSize of 0
// reuses the cursor's own creation-time batch size (per spec.md §3: a
// cursor holds its batch size as part of its server-side state).
func (m *Manager) GetMore(cursorId string, batchSize int) *BatchResult {
	m.mu.Lock()
	c, ok := m.cursors[cursorId]
	if !ok {
		m.mu.Unlock()
		return &BatchResult{Success: false, ErrorMessage: apperr.New(apperr.CursorNotFound, "cursor not found", nil).Error()}
	}
	c.LastAccessedAt = time.Now()
	if batchSize == 0 {
		batchSize = c.BatchSize
	}
	m.mu.Unlock()

	return m.batchFrom(c, batchSize)
}

func (m *Manager) batchFrom(c *Cursor, batchSize int) *BatchResult {
	// Registered before the unlock, so it runs after it: CursorClosed is
	// published outside the manager lock.
	exhausted := false
	defer func() {
		if exhausted {
			m.Closed.Publish(c.Id)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	end := c.Position + batchSize
	if end > len(c.Snapshot) {
		end = len(c.Snapshot)
	}
	batch := c.Snapshot[c.Position:end]
	c.Position = end

	var lastId string
	if len(batch) > 0 {
		lastId = batch[len(batch)-1].Id
	}
	filterJson, _ := json.Marshal(c.Filter)
	sortJson, _ := json.Marshal(c.Sort)
	token, _ := ResumeToken{
		CursorId:       c.Id,
		Collection:     c.Collection,
		LastDocumentId: lastId,
		CreatedAt:      c.CreatedAt,
		FilterJson:     string(filterJson),
		SortJson:       string(sortJson),
	}.Encode()

	// An exhausted cursor is released, so a later GetMore reports
	// CursorNotFound.
	hasMore := c.Position < len(c.Snapshot)
	if !hasMore {
		delete(m.cursors, c.Id)
		exhausted = true
	}

	return &BatchResult{
		Success:     true,
		CursorId:    c.Id,
		Documents:   batch,
		HasMore:     hasMore,
		TotalCount:  c.TotalCount,
		ResumeToken: token,
	}
}

// Kill releases cursorId's state and fires CursorClosed. Unknown ids are
// a no-op.
func (m *Manager) Kill(cursorId string) {
	m.mu.Lock()
	_, ok := m.cursors[cursorId]
	delete(m.cursors, cursorId)
	m.mu.Unlock()
	if ok {
		m.Closed.Publish(cursorId)
	}
}

// KillCursorsForCollection reaps every cursor bound to collection,
// invoked by drop_collection.
func (m *Manager) KillCursorsForCollection(collection string) {
	m.mu.Lock()
	var ids []string
	for id, c := range m.cursors {
		if c.Collection == collection {
			ids = append(ids, id)
			delete(m.cursors, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Closed.Publish(id)
	}
}

func (m *Manager) materialize(collection string, filterTree *filter.Node, sortSpec []SortField) []*document.Document {
	all := m.source.Scan(collection)
	matched := m.filterAll(all, filterTree)
	if len(sortSpec) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return compareDocsBySpec(matched[i], matched[j], sortSpec) < 0
		})
	}
	return matched
}

// filterAll evaluates filterTree against every document in all. Small
// scans run on the calling goroutine; large ones are farmed out across
// the manager's worker pool, one submission per document, with results
// written into a pre-sized slot slice so the output preserves all's
// original order regardless of completion order.
func (m *Manager) filterAll(all []*document.Document, filterTree *filter.Node) []*document.Document {
	if m.pool == nil || len(all) < parallelFilterThreshold {
		matched := make([]*document.Document, 0, len(all))
		for _, d := range all {
			if filter.Matches(filterTree, d.Data) {
				matched = append(matched, d)
			}
		}
		return matched
	}

	hits := make([]bool, len(all))
	var wg sync.WaitGroup
	wg.Add(len(all))
	for i, d := range all {
		i, d := i, d
		err := m.pool.Submit(func() {
			defer wg.Done()
			hits[i] = filter.Matches(filterTree, d.Data)
		})
		if err != nil {
			wg.Done()
			hits[i] = filter.Matches(filterTree, d.Data)
		}
	}
	wg.Wait()

	matched := make([]*document.Document, 0, len(all))
	for i, ok := range hits {
		if ok {
			matched = append(matched, all[i])
		}
	}
	return matched
}

// compareDocsBySpec compares a and b lexicographically across sortSpec.
// Missing fields sort as the type's zero value is not knowable without a
// declared kind at this layer, so an absent field on one side compares
// via document.Null, consistent with document.Compare's total order.
func compareDocsBySpec(a, b *document.Document, sortSpec []SortField) int {
	if b == nil {
		return 1
	}
	for _, f := range sortSpec {
		av, aok := document.GetPath(a.Data, f.Path)
		bv, bok := document.GetPath(b.Data, f.Path)
		if !aok {
			av = document.Null
		}
		if !bok {
			bv = document.Null
		}
		c := document.Compare(av, bv)
		if f.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
