package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/kartikbazzad/docstore/document"
	"github.com/kartikbazzad/docstore/filter"
)

func sampleDocs() []*document.Document {
	mk := func(id string, dept string, salary int64) *document.Document {
		return document.New(id, map[string]document.Value{
			"dept":   document.NewString(dept),
			"salary": document.NewInt(salary),
		}, time.Now())
	}
	return []*document.Document{
		mk("1", "eng", 100),
		mk("2", "eng", 200),
		mk("3", "sales", 50),
	}
}

func TestMatchStage(t *testing.T) {
	p, err := New([]Stage{
		{Kind: StageMatch, Filter: filter.Field(filter.OpEq, "dept", document.NewString("eng"))},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Run(sampleDocs())
	if !res.Success || res.Count != 2 {
		t.Fatalf("expected 2 eng docs, got %+v", res)
	}
}

func TestProjectInclusionExcludesOthers(t *testing.T) {
	p, err := New([]Stage{
		{Kind: StageProject, Projection: map[string]bool{"dept": true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Run(sampleDocs())
	if !res.Success {
		t.Fatal(res.ErrorMessage)
	}
	for _, d := range res.Documents {
		if _, ok := d.Data["salary"]; ok {
			t.Fatalf("expected salary excluded, got %+v", d.Data)
		}
		if _, ok := d.Data["dept"]; !ok {
			t.Fatalf("expected dept included, got %+v", d.Data)
		}
	}
}

func TestMixedProjectionRejectedAtConstruction(t *testing.T) {
	_, err := New([]Stage{
		{Kind: StageProject, Projection: map[string]bool{"dept": true, "salary": false}},
	})
	if err == nil {
		t.Fatal("expected mixed inclusion/exclusion to be rejected")
	}
}

func TestNegativeSkipOrLimitRejectedAtConstruction(t *testing.T) {
	if _, err := New([]Stage{{Kind: StageSkip, N: -1}}); err == nil {
		t.Fatal("expected negative Skip to be rejected")
	}
	if _, err := New([]Stage{{Kind: StageLimit, N: -1}}); err == nil {
		t.Fatal("expected negative Limit to be rejected")
	}
}

func TestSortStableLexicographic(t *testing.T) {
	p, err := New([]Stage{
		{Kind: StageSort, SortFields: []SortField{{Path: "salary", Desc: true}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Run(sampleDocs())
	if res.Documents[0].Id != "2" || res.Documents[1].Id != "1" || res.Documents[2].Id != "3" {
		t.Fatalf("unexpected sort order: %v", ids(res.Documents))
	}
}

func TestSkipAndLimit(t *testing.T) {
	p, err := New([]Stage{
		{Kind: StageSkip, N: 1},
		{Kind: StageLimit, N: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Run(sampleDocs())
	if res.Count != 1 || res.Documents[0].Id != "2" {
		t.Fatalf("unexpected skip+limit result: %v", ids(res.Documents))
	}
}

func TestGroupSumAvgCount(t *testing.T) {
	p, err := New([]Stage{
		{Kind: StageGroup, GroupBy: "$dept", Accumulators: []Accumulator{
			{OutputField: "total", Op: AccSum, Field: "$salary"},
			{OutputField: "avg", Op: AccAvg, Field: "$salary"},
			{OutputField: "n", Op: AccCount},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Run(sampleDocs())
	if !res.Success || res.Count != 2 {
		t.Fatalf("expected 2 groups, got %+v", res)
	}
	byDept := map[string]*document.Document{}
	for _, d := range res.Documents {
		byDept[d.Data["_id"].Str] = d
	}
	eng := byDept["eng"]
	if eng.Data["total"].F != 300 || eng.Data["n"].I != 2 {
		t.Fatalf("unexpected eng group: %+v", eng.Data)
	}
}

func TestGroupWithoutByProducesSingleNullGroup(t *testing.T) {
	p, err := New([]Stage{
		{Kind: StageGroup, Accumulators: []Accumulator{{OutputField: "n", Op: AccCount}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Run(sampleDocs())
	if res.Count != 1 || res.Documents[0].Data["n"].I != 3 {
		t.Fatalf("expected single group of 3, got %+v", res)
	}
	if !res.Documents[0].Data["_id"].IsNull() {
		t.Fatalf("expected null _id for groupless aggregation")
	}
}

func TestUnknownAccumulatorRaisesAggregationStageException(t *testing.T) {
	p, err := New([]Stage{
		{Kind: StageGroup, Accumulators: []Accumulator{{OutputField: "x", Op: "Median", Field: "$salary"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	res := p.Run(sampleDocs())
	if res.Success {
		t.Fatal("expected failure for unknown accumulator")
	}
}

func TestCancellationObservedAtStageBoundary(t *testing.T) {
	p, err := New([]Stage{
		{Kind: StageMatch, Filter: nil},
		{Kind: StageSort, SortFields: []SortField{{Path: "salary"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.RunContext(ctx, sampleDocs())
	if res.Success {
		t.Fatal("expected cancelled pipeline to fail")
	}
}

func ids(docs []*document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Id
	}
	return out
}
