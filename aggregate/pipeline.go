// Package aggregate implements the aggregation pipeline (C8): an ordered
// list of stages — Match, Project, Sort, Skip, Limit, Group — each
// transforming a finite document sequence into another.
//
// Grounded on bundoc/iterator.go's Sort/Skip/Limit iterator chain
// (buffer-then-transform stages composed around a shared Iterator
// interface), adapted here into an eagerly-evaluated []*document.Document
// pipeline since spec.md §4.7 requires stage-boundary cancellation rather
// than bundoc's single-pass lazy iteration, plus a Group stage with
// accumulators bundoc's MVP never implemented.
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"github.com/kartikbazzad/docstore/apperr"
	"github.com/kartikbazzad/docstore/document"
	"github.com/kartikbazzad/docstore/filter"
)

// StageKind identifies a pipeline stage's operation.
type StageKind string

const (
	StageMatch   StageKind = "Match"
	StageProject StageKind = "Project"
	StageSort    StageKind = "Sort"
	StageSkip    StageKind = "Skip"
	StageLimit   StageKind = "Limit"
	StageGroup   StageKind = "Group"
)

// AccumulatorOp is a Group-stage aggregation operator.
type AccumulatorOp string

const (
	AccSum      AccumulatorOp = "Sum"
	AccAvg      AccumulatorOp = "Avg"
	AccMin      AccumulatorOp = "Min"
	AccMax      AccumulatorOp = "Max"
	AccCount    AccumulatorOp = "Count"
	AccFirst    AccumulatorOp = "First"
	AccLast     AccumulatorOp = "Last"
	AccPush     AccumulatorOp = "Push"
	AccAddToSet AccumulatorOp = "AddToSet"
)

// Accumulator maps one output field to an operator applied over an
// optional source field path (Count needs none).
type Accumulator struct {
	OutputField string
	Op          AccumulatorOp
	Field       string // "$field"-style reference; the leading "$" is optional
}

// SortField is one key in a multi-field Sort stage.
type SortField struct {
	Path string
	Desc bool
}

// Stage is one pipeline step. Exactly the fields relevant to Kind are
// populated.
type Stage struct {
	Kind StageKind

	// Match
	Filter *filter.Node

	// Project: field -> include(true)/exclude(false)
	Projection map[string]bool

	// Sort
	SortFields []SortField

	// Skip / Limit
	N int

	// Group
	GroupBy      string // "$field" path, or "" for a single null-keyed group
	Accumulators []Accumulator
}

// PipelineResult is the outcome of running a pipeline, per spec.md §4.7.
type PipelineResult struct {
	Success        bool
	Documents      []*document.Document
	Count          int
	StagesExecuted int
	ErrorMessage   string
}

// Pipeline is an ordered, validated list of stages.
type Pipeline struct {
	stages []Stage
}

// New validates and constructs a pipeline. Skip/Limit with a negative N
// reject at construction, per spec.md §4.7.
func New(stages []Stage) (*Pipeline, error) {
	for i, s := range stages {
		if (s.Kind == StageSkip || s.Kind == StageLimit) && s.N < 0 {
			return nil, apperr.Newf(apperr.InvalidArgument, nil, "stage %d: %s requires n >= 0", i, s.Kind)
		}
		if s.Kind == StageProject {
			if err := validateProjection(s.Projection); err != nil {
				return nil, err
			}
		}
	}
	return &Pipeline{stages: stages}, nil
}

func validateProjection(proj map[string]bool) error {
	hasInclude, hasExclude := false, false
	for field, include := range proj {
		if field == "_id" {
			continue
		}
		if include {
			hasInclude = true
		} else {
			hasExclude = true
		}
	}
	if hasInclude && hasExclude {
		return apperr.New(apperr.InvalidProjection, "projection cannot mix inclusion and exclusion of non-_id fields", nil)
	}
	return nil
}

// Run executes the pipeline synchronously against input.
func (p *Pipeline) Run(input []*document.Document) *PipelineResult {
	return p.RunContext(context.Background(), input)
}

// RunContext executes the pipeline, checking ctx for cancellation at
// every stage boundary, per spec.md §4.7's "suspension points occur
// between stages".
func (p *Pipeline) RunContext(ctx context.Context, input []*document.Document) *PipelineResult {
	docs := cloneAll(input)

	for i, stage := range p.stages {
		select {
		case <-ctx.Done():
			return &PipelineResult{
				Success:        false,
				StagesExecuted: i,
				ErrorMessage:   apperr.New(apperr.Cancelled, "pipeline cancelled", ctx.Err()).Error(),
			}
		default:
		}

		next, err := runStage(stage, docs)
		if err != nil {
			return &PipelineResult{
				Success:        false,
				StagesExecuted: i,
				ErrorMessage:   fmt.Sprintf("stage %d (%s): %s", i, stage.Kind, err.Error()),
			}
		}
		docs = next
	}

	return &PipelineResult{
		Success:        true,
		Documents:      docs,
		Count:          len(docs),
		StagesExecuted: len(p.stages),
	}
}

func cloneAll(docs []*document.Document) []*document.Document {
	out := make([]*document.Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}

func runStage(stage Stage, docs []*document.Document) ([]*document.Document, error) {
	switch stage.Kind {
	case StageMatch:
		return runMatch(stage, docs), nil
	case StageProject:
		return runProject(stage, docs), nil
	case StageSort:
		return runSort(stage, docs), nil
	case StageSkip:
		return runSkip(stage, docs), nil
	case StageLimit:
		return runLimit(stage, docs), nil
	case StageGroup:
		return runGroup(stage, docs)
	default:
		return nil, apperr.Newf(apperr.AggregationStageException, nil, "unknown stage kind %q", stage.Kind)
	}
}

func runMatch(stage Stage, docs []*document.Document) []*document.Document {
	out := make([]*document.Document, 0, len(docs))
	for _, d := range docs {
		if filter.Matches(stage.Filter, d.Data) {
			out = append(out, d)
		}
	}
	return out
}

func runProject(stage Stage, docs []*document.Document) []*document.Document {
	hasInclude := false
	for field, include := range stage.Projection {
		if field != "_id" && include {
			hasInclude = true
		}
	}

	out := make([]*document.Document, len(docs))
	for i, d := range docs {
		data := make(map[string]document.Value)
		if hasInclude {
			for field, include := range stage.Projection {
				if field == "_id" || !include {
					continue
				}
				if v, ok := d.Data[field]; ok {
					data[field] = v
				}
			}
		} else {
			for field, v := range d.Data {
				if exclude, ok := stage.Projection[field]; ok && !exclude {
					continue
				}
				data[field] = v
			}
		}
		copyDoc := d.Clone()
		copyDoc.Data = data
		if include, ok := stage.Projection["_id"]; ok && !include {
			copyDoc.Id = ""
		}
		out[i] = copyDoc
	}
	return out
}

func runSort(stage Stage, docs []*document.Document) []*document.Document {
	out := make([]*document.Document, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		return compareBySpec(out[i], out[j], stage.SortFields) < 0
	})
	return out
}

func compareBySpec(a, b *document.Document, fields []SortField) int {
	for _, f := range fields {
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

func runSkip(stage Stage, docs []*document.Document) []*document.Document {
	if stage.N >= len(docs) {
		return []*document.Document{}
	}
	return docs[stage.N:]
}

func runLimit(stage Stage, docs []*document.Document) []*document.Document {
	if stage.N >= len(docs) {
		return docs
	}
	return docs[:stage.N]
}

func fieldRef(path string) string {
	if len(path) > 0 && path[0] == '$' {
		return path[1:]
	}
	return path
}

func runGroup(stage Stage, docs []*document.Document) ([]*document.Document, error) {
	type bucket struct {
		key    document.Value
		docs   []*document.Document
	}

	order := make([]string, 0)
	buckets := make(map[string]*bucket)

	for _, d := range docs {
		var key document.Value
		if stage.GroupBy == "" {
			key = document.Null
		} else {
			v, ok := document.GetPath(d.Data, fieldRef(stage.GroupBy))
			if !ok {
				v = document.Null
			}
			key = v
		}
		keyStr := groupKeyString(key)
		b, ok := buckets[keyStr]
		if !ok {
			b = &bucket{key: key}
			buckets[keyStr] = b
			order = append(order, keyStr)
		}
		b.docs = append(b.docs, d)
	}

	out := make([]*document.Document, 0, len(order))
	for _, keyStr := range order {
		b := buckets[keyStr]
		data := map[string]document.Value{"_id": b.key}
		for _, acc := range stage.Accumulators {
			v, err := applyAccumulator(acc, b.docs)
			if err != nil {
				return nil, err
			}
			data[acc.OutputField] = v
		}
		out = append(out, &document.Document{Data: data})
	}
	return out, nil
}

func groupKeyString(v document.Value) string {
	native := v.Native()
	return fmt.Sprintf("%T:%v", native, native)
}

func applyAccumulator(acc Accumulator, docs []*document.Document) (document.Value, error) {
	switch acc.Op {
	case AccCount:
		return document.NewInt(int64(len(docs))), nil
	case AccSum, AccAvg:
		sum := 0.0
		count := 0
		for _, d := range docs {
			v, ok := document.GetPath(d.Data, fieldRef(acc.Field))
			if !ok || !v.IsNumeric() {
				continue
			}
			f, _ := v.AsFloat()
			sum += f
			count++
		}
		if acc.Op == AccAvg {
			if count == 0 {
				return document.NewFloat(0), nil
			}
			return document.NewFloat(sum / float64(count)), nil
		}
		return document.NewFloat(sum), nil
	case AccMin, AccMax:
		var best document.Value
		has := false
		for _, d := range docs {
			v, ok := document.GetPath(d.Data, fieldRef(acc.Field))
			if !ok || !v.IsNumeric() {
				continue
			}
			if !has || (acc.Op == AccMin && document.Compare(v, best) < 0) || (acc.Op == AccMax && document.Compare(v, best) > 0) {
				best = v
				has = true
			}
		}
		if !has {
			return document.Null, nil
		}
		return best, nil
	case AccFirst, AccLast:
		var result document.Value = document.Null
		found := false
		for _, d := range docs {
			v, ok := document.GetPath(d.Data, fieldRef(acc.Field))
			if !ok {
				continue
			}
			if acc.Op == AccFirst && !found {
				result = v
				found = true
			}
			if acc.Op == AccLast {
				result = v
				found = true
			}
		}
		return result, nil
	case AccPush:
		list := make([]document.Value, 0, len(docs))
		for _, d := range docs {
			v, ok := document.GetPath(d.Data, fieldRef(acc.Field))
			if !ok {
				v = document.Null
			}
			list = append(list, v)
		}
		return document.NewList(list), nil
	case AccAddToSet:
		list := make([]document.Value, 0, len(docs))
		for _, d := range docs {
			v, ok := document.GetPath(d.Data, fieldRef(acc.Field))
			if !ok {
				v = document.Null
			}
			dup := false
			for _, existing := range list {
				if document.Equal(existing, v) {
					dup = true
					break
				}
			}
			if !dup {
				list = append(list, v)
			}
		}
		return document.NewList(list), nil
	default:
		return document.Value{}, apperr.Newf(apperr.AggregationStageException, nil, "unknown accumulator operator %q", acc.Op)
	}
}
