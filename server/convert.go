// Package server supplies the thin transport loop that exercises the
// wire message contract (spec.md §6) end to end against a Database. It
// deliberately stays small: framing and payload shapes live in wire,
// every piece of actual behavior lives in the core packages, and this
// package is just the dispatch table plus an accept loop.
//
// Grounded on bundoc-server/internal/rpc/server.go's length-prefixed
// accept loop (net.Listen, per-connection read loop, request decode then
// dispatch then response encode) adapted from its HTTP-proxying CmdProxy*
// request/response pair to wire's OpCode-framed Command/Response pair.
package server

import (
	"fmt"
	"time"

	"github.com/kartikbazzad/docstore/document"
	"github.com/kartikbazzad/docstore/filter"
	"github.com/kartikbazzad/docstore/wire"
)

// docToWire flattens a document.Document into the wire shape: reserved
// "id"/"createdAt"/"updatedAt"/"version" keys alongside the attribute
// data nested under "data", so a client never confuses a document field
// named e.g. "id" with the document's own identity.
func docToWire(doc *document.Document) map[string]interface{} {
	data := make(map[string]interface{}, len(doc.Data))
	for k, v := range doc.Data {
		data[k] = v.Native()
	}
	return map[string]interface{}{
		"id":        doc.Id,
		"createdAt": doc.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": doc.UpdatedAt.Format(time.RFC3339Nano),
		"version":   doc.Version,
		"data":      data,
	}
}

// docFromWire reverses docToWire for client-submitted documents. Only
// "id" and "data" are read; CreatedAt/UpdatedAt/Version are server-owned
// and recomputed by the store on insert/update.
func docFromWire(m map[string]interface{}) (*document.Document, error) {
	id, _ := m["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("document requires a non-empty id")
	}
	data := make(map[string]document.Value)
	if raw, ok := m["data"].(map[string]interface{}); ok {
		for k, v := range raw {
			data[k] = document.FromNative(v)
		}
	}
	return document.New(id, data, time.Now()), nil
}

// filterFromWire converts the wire's self-describing filter tree into a
// filter.Node, mirroring filter.Op's constant set one-for-one.
func filterFromWire(spec *wire.FilterSpec) (*filter.Node, error) {
	if spec == nil {
		return nil, nil
	}
	op := filter.Op(spec.Op)
	switch op {
	case filter.OpEq, filter.OpNe, filter.OpLt, filter.OpLte, filter.OpGt, filter.OpGte:
		return filter.Field(op, spec.Path, document.FromNative(spec.Value)), nil
	case filter.OpIn, filter.OpNin:
		values := make([]document.Value, len(spec.Values))
		for i, v := range spec.Values {
			values[i] = document.FromNative(v)
		}
		return filter.InNode(op == filter.OpNin, spec.Path, values), nil
	case filter.OpExists:
		return filter.ExistsNode(spec.Path, spec.Exists), nil
	case filter.OpRegex:
		return filter.RegexNode(spec.Path, spec.Pattern), nil
	case filter.OpAnd:
		children, err := filterChildren(spec.Children)
		if err != nil {
			return nil, err
		}
		return filter.And(children...), nil
	case filter.OpOr:
		children, err := filterChildren(spec.Children)
		if err != nil {
			return nil, err
		}
		return filter.Or(children...), nil
	case filter.OpNot:
		if len(spec.Children) != 1 {
			return nil, fmt.Errorf("Not requires exactly one child")
		}
		child, err := filterFromWire(spec.Children[0])
		if err != nil {
			return nil, err
		}
		return filter.NotNode(child), nil
	default:
		return nil, fmt.Errorf("unknown filter op %q", spec.Op)
	}
}

func filterChildren(specs []*wire.FilterSpec) ([]*filter.Node, error) {
	out := make([]*filter.Node, len(specs))
	for i, s := range specs {
		n, err := filterFromWire(s)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
