package storage

import (
	"testing"
	"time"

	"github.com/kartikbazzad/docstore/document"
)

func TestWriteReadDelete(t *testing.T) {
	m := NewManager(t.TempDir())

	doc := document.New("doc-1", map[string]document.Value{
		"name": document.NewString("ada"),
	}, time.Now())

	if err := m.Write("users", doc.Id, doc); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := m.Read("users", doc.Id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got == nil || got.Id != doc.Id {
		t.Fatalf("expected doc back, got %+v", got)
	}
	if got.Data["name"].Str != "ada" {
		t.Fatalf("data not preserved: %+v", got.Data)
	}

	if err := m.Delete("users", doc.Id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = m.Read("users", doc.Id)
	if err != nil {
		t.Fatalf("read after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected absent after delete, got %+v", got)
	}
}

func TestReadMissingIsNotError(t *testing.T) {
	m := NewManager(t.TempDir())
	got, err := m.Read("users", "nope")
	if err != nil {
		t.Fatalf("expected no error for missing document, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestListDocumentsAndCollections(t *testing.T) {
	m := NewManager(t.TempDir())
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		doc := document.New(id, nil, now)
		if err := m.Write("items", id, doc); err != nil {
			t.Fatalf("write %s: %v", id, err)
		}
	}

	ids, err := m.ListDocuments("items")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %v", ids)
	}

	colls, err := m.ListCollections()
	if err != nil {
		t.Fatalf("list collections: %v", err)
	}
	if len(colls) != 1 || colls[0] != "items" {
		t.Fatalf("expected [items], got %v", colls)
	}
}

func TestDropCollectionRemovesFiles(t *testing.T) {
	m := NewManager(t.TempDir())
	doc := document.New("x", nil, time.Now())
	if err := m.Write("temp", "x", doc); err != nil {
		t.Fatal(err)
	}
	if err := m.DropCollection("temp"); err != nil {
		t.Fatal(err)
	}
	ids, err := m.ListDocuments("temp")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty after drop, got %v", ids)
	}
}
