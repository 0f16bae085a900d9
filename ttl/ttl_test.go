package ttl

import (
	"sync"
	"testing"
	"time"

	"github.com/kartikbazzad/docstore/apperr"
	"github.com/kartikbazzad/docstore/document"
)

func TestRegisterDerivesExpirationFromTimeField(t *testing.T) {
	var deleted []string
	var mu sync.Mutex
	svc := NewService(func(collection, id string) error {
		mu.Lock()
		deleted = append(deleted, id)
		mu.Unlock()
		return nil
	})
	defer svc.Dispose()

	if err := svc.SetPolicy("sessions", Policy{Field: "expiresAt", CleanupInterval: time.Hour}); err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-time.Minute)
	doc := document.New("s1", map[string]document.Value{
		"expiresAt": document.NewTime(past),
	}, time.Now())
	if err := svc.Register("sessions", doc); err != nil {
		t.Fatal(err)
	}

	svc.Sweep(time.Now())

	mu.Lock()
	defer mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "s1" {
		t.Fatalf("expected s1 to be swept as expired, got %v", deleted)
	}
}

func TestRegisterUsesDefaultExpireAfterWhenFieldAbsent(t *testing.T) {
	var deleted []string
	svc := NewService(func(collection, id string) error {
		deleted = append(deleted, id)
		return nil
	})
	defer svc.Dispose()

	svc.SetPolicy("cache", Policy{DefaultExpireAfter: -time.Second, CleanupInterval: time.Hour})

	doc := document.New("c1", map[string]document.Value{}, time.Now())
	if err := svc.Register("cache", doc); err != nil {
		t.Fatal(err)
	}

	svc.Sweep(time.Now())
	if len(deleted) != 1 {
		t.Fatalf("expected document expired via default, got %v", deleted)
	}
}

func TestNotYetExpiredIsNotSwept(t *testing.T) {
	var deleted []string
	svc := NewService(func(collection, id string) error {
		deleted = append(deleted, id)
		return nil
	})
	defer svc.Dispose()

	svc.SetPolicy("sessions", Policy{Field: "expiresAt", CleanupInterval: time.Hour})

	future := time.Now().Add(time.Hour)
	doc := document.New("s1", map[string]document.Value{
		"expiresAt": document.NewTime(future),
	}, time.Now())
	svc.Register("sessions", doc)

	svc.Sweep(time.Now())
	if len(deleted) != 0 {
		t.Fatalf("expected no sweep for future expiration, got %v", deleted)
	}

	stats := svc.Stats()
	if stats.DocumentsTracked != 1 {
		t.Fatalf("expected 1 tracked document, got %d", stats.DocumentsTracked)
	}
}

func TestUnixMillisAndIsoStringParsing(t *testing.T) {
	svc := NewService(func(collection, id string) error { return nil })
	defer svc.Dispose()
	svc.SetPolicy("events", Policy{Field: "expiresAt", CleanupInterval: time.Hour})

	past := time.Now().Add(-time.Hour)
	doc1 := document.New("e1", map[string]document.Value{
		"expiresAt": document.NewInt(past.UnixMilli()),
	}, time.Now())
	doc2 := document.New("e2", map[string]document.Value{
		"expiresAt": document.NewString(past.Format(time.RFC3339)),
	}, time.Now())

	if err := svc.Register("events", doc1); err != nil {
		t.Fatal(err)
	}
	if err := svc.Register("events", doc2); err != nil {
		t.Fatal(err)
	}

	stats := svc.Stats()
	if stats.DocumentsTracked != 2 {
		t.Fatalf("expected both int-millis and ISO-8601 forms tracked, got %d", stats.DocumentsTracked)
	}
}

func TestDisposeRejectsFurtherOperations(t *testing.T) {
	svc := NewService(func(collection, id string) error { return nil })
	svc.SetPolicy("x", Policy{CleanupInterval: time.Hour})
	svc.Dispose()

	doc := document.New("1", map[string]document.Value{}, time.Now())
	err := svc.Register("x", doc)
	if !apperr.Is(err, apperr.AlreadyDisposed) {
		t.Fatalf("expected AlreadyDisposed, got %v", err)
	}
}

func TestImmediateDeletionSweepsPastExpiredOnRegister(t *testing.T) {
	var deleted []string
	var mu sync.Mutex
	svc := NewService(func(collection, id string) error {
		mu.Lock()
		deleted = append(deleted, id)
		mu.Unlock()
		return nil
	})
	defer svc.Dispose()

	svc.SetPolicy("immediate", Policy{
		Field:             "expiresAt",
		ImmediateDeletion: true,
		CleanupInterval:   time.Hour,
	})

	past := time.Now().Add(-time.Minute)
	doc := document.New("i1", map[string]document.Value{
		"expiresAt": document.NewTime(past),
	}, time.Now())
	if err := svc.Register("immediate", doc); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(deleted) != 1 {
		t.Fatalf("expected immediate deletion to sweep past-expired document, got %v", deleted)
	}
}

func TestRemovePolicyClearsTrackedEntries(t *testing.T) {
	svc := NewService(func(collection, id string) error { return nil })
	defer svc.Dispose()

	svc.SetPolicy("temp", Policy{Field: "expiresAt", CleanupInterval: time.Hour})
	doc := document.New("t1", map[string]document.Value{
		"expiresAt": document.NewTime(time.Now().Add(time.Hour)),
	}, time.Now())
	svc.Register("temp", doc)

	svc.RemovePolicy("temp")

	stats := svc.Stats()
	if stats.DocumentsTracked != 0 {
		t.Fatalf("expected tracked entries cleared after RemovePolicy, got %d", stats.DocumentsTracked)
	}
}
