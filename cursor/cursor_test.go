package cursor

import (
	"fmt"
	"testing"
	"time"

	"github.com/kartikbazzad/docstore/apperr"
	"github.com/kartikbazzad/docstore/document"
	"github.com/kartikbazzad/docstore/filter"
)

type fakeSource struct {
	docs map[string][]*document.Document
}

func (f *fakeSource) Scan(collection string) []*document.Document {
	out := make([]*document.Document, len(f.docs[collection]))
	copy(out, f.docs[collection])
	return out
}

func docsFixture(n int) []*document.Document {
	out := make([]*document.Document, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		out[i] = document.New(id, map[string]document.Value{
			"n": document.NewInt(int64(i)),
		}, time.Now())
	}
	return out
}

func TestCreateCursorAndGetMorePages(t *testing.T) {
	src := &fakeSource{docs: map[string][]*document.Document{"items": docsFixture(5)}}
	mgr := NewManager(src)

	res := mgr.CreateCursor("items", nil, nil, Options{BatchSize: 2})
	if !res.Success || len(res.Documents) != 2 || !res.HasMore {
		t.Fatalf("unexpected first batch: %+v", res)
	}

	res2 := mgr.GetMore(res.CursorId, 2)
	if !res2.Success || len(res2.Documents) != 2 || !res2.HasMore {
		t.Fatalf("unexpected second batch: %+v", res2)
	}

	res3 := mgr.GetMore(res.CursorId, 2)
	if !res3.Success || len(res3.Documents) != 1 || res3.HasMore {
		t.Fatalf("unexpected final batch: %+v", res3)
	}
}

func TestGetMoreUnknownCursorFails(t *testing.T) {
	mgr := NewManager(&fakeSource{docs: map[string][]*document.Document{}})
	res := mgr.GetMore("missing", 10)
	if res.Success {
		t.Fatal("expected failure for unknown cursor")
	}
}

func TestGetMoreZeroBatchSizeReusesCreationBatchSize(t *testing.T) {
	src := &fakeSource{docs: map[string][]*document.Document{"items": docsFixture(5)}}
	mgr := NewManager(src)

	res := mgr.CreateCursor("items", nil, nil, Options{BatchSize: 2})
	if !res.Success || len(res.Documents) != 2 {
		t.Fatalf("unexpected first batch: %+v", res)
	}

	res2 := mgr.GetMore(res.CursorId, 0)
	if !res2.Success || len(res2.Documents) != 2 {
		t.Fatalf("expected GetMore(0) to reuse the creation batch size of 2, got %+v", res2)
	}
}

func TestInvalidBatchSizeYieldsFailureResult(t *testing.T) {
	mgr := NewManager(&fakeSource{docs: map[string][]*document.Document{}})
	res := mgr.CreateCursor("items", nil, nil, Options{BatchSize: 99999})
	if res.Success {
		t.Fatal("expected validation failure, not an error, for out-of-range BatchSize")
	}
}

func TestIncludeTotalCountSetsTotal(t *testing.T) {
	src := &fakeSource{docs: map[string][]*document.Document{"items": docsFixture(7)}}
	mgr := NewManager(src)
	res := mgr.CreateCursor("items", nil, nil, Options{BatchSize: 2, IncludeTotalCount: true})
	if res.TotalCount == nil || *res.TotalCount != 7 {
		t.Fatalf("expected total count 7, got %v", res.TotalCount)
	}
}

func TestFilterAppliedBeforeSort(t *testing.T) {
	src := &fakeSource{docs: map[string][]*document.Document{"items": docsFixture(5)}}
	mgr := NewManager(src)

	f := filter.Field(filter.OpGte, "n", document.NewInt(2))
	sortSpec := []SortField{{Path: "n", Desc: true}}
	res := mgr.CreateCursor("items", f, sortSpec, Options{BatchSize: 10})
	if !res.Success || len(res.Documents) != 3 {
		t.Fatalf("expected 3 filtered documents, got %+v", res)
	}
	if res.Documents[0].Data["n"].I != 4 {
		t.Fatalf("expected descending sort, got %+v", res.Documents)
	}
}

func TestResumeViaTokenContinuesFromSamePosition(t *testing.T) {
	src := &fakeSource{docs: map[string][]*document.Document{"items": docsFixture(5)}}
	mgr := NewManager(src)

	first := mgr.CreateCursor("items", nil, nil, Options{BatchSize: 2})
	resumed := mgr.CreateCursor("items", nil, nil, Options{BatchSize: 2, ResumeToken: first.ResumeToken})
	if !resumed.Success || len(resumed.Documents) != 2 {
		t.Fatalf("unexpected resumed batch: %+v", resumed)
	}
	if resumed.Documents[0].Id == first.Documents[0].Id {
		t.Fatal("expected resumed batch to continue past the first batch")
	}
}

func TestKillReleasesCursor(t *testing.T) {
	src := &fakeSource{docs: map[string][]*document.Document{"items": docsFixture(3)}}
	mgr := NewManager(src)
	res := mgr.CreateCursor("items", nil, nil, Options{BatchSize: 1})
	mgr.Kill(res.CursorId)

	again := mgr.GetMore(res.CursorId, 1)
	if again.Success {
		t.Fatal("expected killed cursor to be gone")
	}
}

func TestResumeAfterReapRepositionsPastLastDocumentId(t *testing.T) {
	src := &fakeSource{docs: map[string][]*document.Document{"items": docsFixture(5)}}
	mgr := NewManager(src)

	first := mgr.CreateCursor("items", nil, nil, Options{BatchSize: 2})
	mgr.Kill(first.CursorId) // simulate reap

	resumed := mgr.CreateCursor("items", nil, nil, Options{BatchSize: 10, ResumeToken: first.ResumeToken})
	if !resumed.Success {
		t.Fatalf("expected reconstitution to succeed, got %+v", resumed)
	}
	if len(resumed.Documents) == 0 || resumed.Documents[0].Id <= first.Documents[len(first.Documents)-1].Id {
		t.Fatalf("expected resumed batch to start after last delivered id, got %+v", resumed.Documents)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	_, err := DecodeToken("not-a-valid-token!!")
	if !apperr.Is(err, apperr.InvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func largeDocsFixture(n int) []*document.Document {
	out := make([]*document.Document, n)
	for i := 0; i < n; i++ {
		out[i] = document.New(fmt.Sprintf("doc-%04d", i), map[string]document.Value{
			"n": document.NewInt(int64(i)),
		}, time.Now())
	}
	return out
}

func TestMaterializeParallelPathMatchesSequentialResult(t *testing.T) {
	const total = parallelFilterThreshold + 50
	src := &fakeSource{docs: map[string][]*document.Document{"items": largeDocsFixture(total)}}
	mgr := NewManager(src)
	defer mgr.Stop()

	f := filter.Field(filter.OpGte, "n", document.NewInt(int64(total-10)))
	res := mgr.CreateCursor("items", f, nil, Options{BatchSize: total, IncludeTotalCount: true})
	if !res.Success {
		t.Fatalf("unexpected failure: %+v", res)
	}
	if *res.TotalCount != 10 {
		t.Fatalf("expected 10 matches above the worker-pool threshold, got %d", *res.TotalCount)
	}
	for i, d := range res.Documents {
		want := fmt.Sprintf("doc-%04d", total-10+i)
		if d.Id != want {
			t.Fatalf("expected original scan order preserved, got %q at position %d want %q", d.Id, i, want)
		}
	}
}
