// Package ttl implements the TTL service (C5): per-collection expiration
// policies, expiration derivation from a document field, and a background
// sweeper that deletes expired documents through a caller-supplied
// callback.
//
// Grounded on bunder/internal/ttl/manager.go: a concurrent map of tracked
// expirations, a ticker-driven sweep loop, and an onExpire callback
// invoked outside the manager's own lock (bunder's Manager.run does the
// same to avoid reentering the keyspace store mid-sweep).
package ttl

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kartikbazzad/docstore/apperr"
	"github.com/kartikbazzad/docstore/document"
	"github.com/kartikbazzad/docstore/events"
)

// Policy configures expiration for one collection.
type Policy struct {
	Field              string        // document field interpreted as the expiration timestamp
	DefaultExpireAfter time.Duration // used when Field is absent; 0 disables the default
	ImmediateDeletion  bool          // sweep immediately after a register that finds past-expired items
	CleanupInterval    time.Duration // background sweeper period
}

// ExpiredBatch is published on the DocumentsExpired event bus per
// (collection, sweep) batch.
type ExpiredBatch struct {
	Collection string
	Ids        []string
}

// Stats mirrors spec.md §4.4's exposed counters.
type Stats struct {
	DocumentsTracked     int64
	DocumentsExpired     int64
	CleanupRuns          int64
	AverageCleanupTimeMs float64
	LastCleanupTime      time.Time
}

type trackedEntry struct {
	collection string
	id         string
	expiresAt  time.Time
}

// DeleteFunc deletes a document from the document store. It is invoked
// outside the service's internal lock (spec.md §5: "invoked outside any
// TTL-service lock to avoid reentrancy into the document store").
type DeleteFunc func(collection, id string) error

// Service is the TTL tracker and sweeper.
type Service struct {
	deleteFn DeleteFunc
	Expired  *events.Bus[ExpiredBatch]

	mu       sync.RWMutex
	policies map[string]Policy
	tracked  map[string]trackedEntry // key: collection + "/" + id
	tickers  map[string]chan struct{} // collection -> stop channel for its sweeper goroutine

	disposed int32

	statsMu              sync.Mutex
	documentsExpired     int64
	cleanupRuns          int64
	totalCleanupTimeMs   float64
	lastCleanupTime      time.Time
}

// NewService constructs a TTL service. deleteFn is called for each expired
// document discovered by a sweep.
func NewService(deleteFn DeleteFunc) *Service {
	return &Service{
		deleteFn: deleteFn,
		Expired:  events.NewBus[ExpiredBatch](),
		policies: make(map[string]Policy),
		tracked:  make(map[string]trackedEntry),
		tickers:  make(map[string]chan struct{}),
	}
}

func (s *Service) checkDisposed() error {
	if atomic.LoadInt32(&s.disposed) != 0 {
		return apperr.New(apperr.AlreadyDisposed, "ttl service has been disposed", nil)
	}
	return nil
}

// SetPolicy installs (or replaces) the TTL policy for a collection and
// starts its background sweeper. A zero CleanupInterval defaults to one
// minute.
func (s *Service) SetPolicy(collection string, p Policy) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	if p.CleanupInterval <= 0 {
		p.CleanupInterval = time.Minute
	}

	s.mu.Lock()
	if stop, ok := s.tickers[collection]; ok {
		close(stop)
		delete(s.tickers, collection)
	}
	s.policies[collection] = p
	stop := make(chan struct{})
	s.tickers[collection] = stop
	s.mu.Unlock()

	go s.run(collection, p.CleanupInterval, stop)
	return nil
}

// RemovePolicy stops tracking a collection entirely (used by
// drop_collection).
func (s *Service) RemovePolicy(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.tickers[collection]; ok {
		close(stop)
		delete(s.tickers, collection)
	}
	delete(s.policies, collection)
	for key, e := range s.tracked {
		if e.collection == collection {
			delete(s.tracked, key)
		}
	}
}

// Register derives an expiration for doc under collection's policy (if
// any) and tracks it. A document left untracked (no policy, unparseable
// value, and no default) is simply not registered — not an error.
func (s *Service) Register(collection string, doc *document.Document) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}

	s.mu.RLock()
	policy, ok := s.policies[collection]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	expiresAt, ok := deriveExpiration(doc, policy)
	if !ok {
		s.untrack(collection, doc.Id)
		return nil
	}

	key := collection + "/" + doc.Id
	s.mu.Lock()
	s.tracked[key] = trackedEntry{collection: collection, id: doc.Id, expiresAt: expiresAt}
	s.mu.Unlock()

	if policy.ImmediateDeletion && !expiresAt.After(time.Now()) {
		s.Sweep(time.Now())
	}
	return nil
}

// Unregister stops tracking a document (used on explicit delete).
func (s *Service) Unregister(collection, id string) {
	s.untrack(collection, id)
}

func (s *Service) untrack(collection, id string) {
	s.mu.Lock()
	delete(s.tracked, collection+"/"+id)
	s.mu.Unlock()
}

// deriveExpiration interprets policy.Field as a timestamp: a native
// KindTime value, unix epoch milliseconds as a KindInt, or an ISO-8601
// KindString. Falls back to CreatedAt + DefaultExpireAfter when the field
// is absent and a default is configured.
func deriveExpiration(doc *document.Document, policy Policy) (time.Time, bool) {
	v, ok := doc.Get(policy.Field)
	if !ok || v.IsNull() {
		if policy.DefaultExpireAfter != 0 {
			return doc.CreatedAt.Add(policy.DefaultExpireAfter), true
		}
		return time.Time{}, false
	}

	switch v.Kind {
	case document.KindTime:
		return v.T, true
	case document.KindInt:
		return time.UnixMilli(v.I).UTC(), true
	case document.KindFloat:
		return time.UnixMilli(int64(v.F)).UTC(), true
	case document.KindString:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v.Str); err == nil {
				return t.UTC(), true
			}
		}
		if ms, err := strconv.ParseInt(v.Str, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
	}
	if policy.DefaultExpireAfter != 0 {
		return doc.CreatedAt.Add(policy.DefaultExpireAfter), true
	}
	return time.Time{}, false
}

// Sweep runs one cleanup pass synchronously (exposed directly for tests
// and for ImmediateDeletion, and invoked on each tick by run).
func (s *Service) Sweep(now time.Time) {
	if s.checkDisposed() != nil {
		return
	}
	start := time.Now()

	s.mu.RLock()
	expired := make(map[string][]string) // collection -> ids
	for key, e := range s.tracked {
		if !e.expiresAt.After(now) {
			expired[e.collection] = append(expired[e.collection], e.id)
			_ = key
		}
	}
	s.mu.RUnlock()

	var deletedCount int64
	for collection, ids := range expired {
		var ok []string
		for _, id := range ids {
			if s.deleteFn == nil {
				continue
			}
			if err := s.deleteFn(collection, id); err != nil {
				// Individual delete failures are skipped (the entry stays
				// tracked) and do not abort the rest of the batch,
				// per spec.md §7.
				continue
			}
			s.mu.Lock()
			delete(s.tracked, collection+"/"+id)
			s.mu.Unlock()
			ok = append(ok, id)
			deletedCount++
		}
		if len(ok) > 0 {
			s.Expired.Publish(ExpiredBatch{Collection: collection, Ids: ok})
		}
	}

	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0
	s.statsMu.Lock()
	s.documentsExpired += deletedCount
	s.cleanupRuns++
	s.totalCleanupTimeMs += elapsedMs
	s.lastCleanupTime = now
	s.statsMu.Unlock()
}

func (s *Service) run(collection string, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.sweepCollection(collection, now)
		}
	}
}

// sweepCollection sweeps only one collection's tracked entries, used by
// each policy's own ticker so collections with different cleanup
// intervals don't interfere.
func (s *Service) sweepCollection(collection string, now time.Time) {
	if s.checkDisposed() != nil {
		return
	}
	start := time.Now()

	s.mu.RLock()
	var ids []string
	for key, e := range s.tracked {
		if e.collection == collection && !e.expiresAt.After(now) {
			ids = append(ids, e.id)
			_ = key
		}
	}
	s.mu.RUnlock()

	var ok []string
	for _, id := range ids {
		if s.deleteFn == nil {
			continue
		}
		if err := s.deleteFn(collection, id); err != nil {
			continue
		}
		s.mu.Lock()
		delete(s.tracked, collection+"/"+id)
		s.mu.Unlock()
		ok = append(ok, id)
	}
	if len(ok) > 0 {
		s.Expired.Publish(ExpiredBatch{Collection: collection, Ids: ok})
	}

	elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0
	s.statsMu.Lock()
	s.documentsExpired += int64(len(ok))
	s.cleanupRuns++
	s.totalCleanupTimeMs += elapsedMs
	s.lastCleanupTime = now
	s.statsMu.Unlock()
}

// Stats returns a snapshot of the service's counters.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	tracked := int64(len(s.tracked))
	s.mu.RUnlock()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	avg := 0.0
	if s.cleanupRuns > 0 {
		avg = s.totalCleanupTimeMs / float64(s.cleanupRuns)
	}
	return Stats{
		DocumentsTracked:     tracked,
		DocumentsExpired:     s.documentsExpired,
		CleanupRuns:          s.cleanupRuns,
		AverageCleanupTimeMs: avg,
		LastCleanupTime:      s.lastCleanupTime,
	}
}

// Dispose stops every sweeper goroutine. Afterwards SetPolicy and Register
// fail with AlreadyDisposed and Sweep does nothing.
func (s *Service) Dispose() {
	if !atomic.CompareAndSwapInt32(&s.disposed, 0, 1) {
		return
	}
	s.mu.Lock()
	for _, stop := range s.tickers {
		close(stop)
	}
	s.tickers = make(map[string]chan struct{})
	s.mu.Unlock()
}
