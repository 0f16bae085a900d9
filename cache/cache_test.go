package cache

import (
	"testing"
	"time"

	"github.com/kartikbazzad/docstore/document"
)

func sampleDoc(id string) *document.Document {
	return document.New(id, map[string]document.Value{"name": document.NewString(id)}, time.Now())
}

func TestPutThenGetReturnsClone(t *testing.T) {
	c := New(10)
	doc := sampleDoc("1")
	c.Put("users", doc)

	got, ok := c.Get("users", "1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	got.Data["name"] = document.NewString("mutated")

	again, _ := c.Get("users", "1")
	if again.Data["name"].Str != "1" {
		t.Fatal("expected cached copy to be unaffected by caller mutation")
	}
}

func TestMissingEntryIsMiss(t *testing.T) {
	c := New(10)
	if _, ok := c.Get("users", "nope"); ok {
		t.Fatal("expected miss for unknown key")
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := New(10)
	c.Put("users", sampleDoc("1"))
	c.Invalidate("users", "1")
	if _, ok := c.Get("users", "1"); ok {
		t.Fatal("expected entry to be gone after invalidate")
	}
}

func TestInvalidateCollectionRemovesOnlyThatCollection(t *testing.T) {
	c := New(10)
	c.Put("users", sampleDoc("1"))
	c.Put("orders", sampleDoc("1"))

	c.InvalidateCollection("users")

	if _, ok := c.Get("users", "1"); ok {
		t.Fatal("expected users entry gone")
	}
	if _, ok := c.Get("orders", "1"); !ok {
		t.Fatal("expected orders entry to remain")
	}
}

func TestZeroSizeDisablesCaching(t *testing.T) {
	c := New(0)
	c.Put("users", sampleDoc("1"))
	if _, ok := c.Get("users", "1"); ok {
		t.Fatal("expected disabled cache to always miss")
	}
	if c.Len() != 0 {
		t.Fatal("expected disabled cache to report zero length")
	}
}

func TestEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := New(2)
	c.Put("users", sampleDoc("1"))
	c.Put("users", sampleDoc("2"))
	c.Get("users", "1") // touch 1, making 2 the LRU
	c.Put("users", sampleDoc("3"))

	if _, ok := c.Get("users", "2"); ok {
		t.Fatal("expected least-recently-used entry to be evicted")
	}
	if _, ok := c.Get("users", "1"); !ok {
		t.Fatal("expected recently-touched entry to survive")
	}
	if _, ok := c.Get("users", "3"); !ok {
		t.Fatal("expected newly inserted entry to be present")
	}
}
