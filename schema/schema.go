// Package schema implements optional per-collection JSON-Schema
// validation of documents before they are accepted by the store.
//
// Grounded on bundoc/collection.go's schemaLoader field and its
// SetSchema/validate methods: a collection without a schema always
// validates, and setting a schema to the empty string clears it. We keep
// the same gojsonschema.Schema compilation and the
// NewGoLoader(doc)/Validate shape, generalized from storage.Document
// (plain map[string]interface{}) to document.Document's tagged-union Data
// via Value.Native(), so validation sees the same JSON shape a client
// would see over the wire.
package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kartikbazzad/docstore/apperr"
	"github.com/kartikbazzad/docstore/document"
)

// Registry holds one compiled schema per collection.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
	raw     map[string]string
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*gojsonschema.Schema),
		raw:     make(map[string]string),
	}
}

// Set compiles and installs schemaJSON for collection. An empty
// schemaJSON clears any schema previously set, making the collection
// unconstrained again.
func (r *Registry) Set(collection, schemaJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(schemaJSON) == "" {
		delete(r.schemas, collection)
		delete(r.raw, collection)
		return nil
	}

	loader := gojsonschema.NewStringLoader(schemaJSON)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return apperr.New(apperr.InvalidArgument, "invalid json schema", err)
	}

	r.schemas[collection] = compiled
	r.raw[collection] = schemaJSON
	return nil
}

// Clear removes any schema installed for collection.
func (r *Registry) Clear(collection string) {
	r.mu.Lock()
	delete(r.schemas, collection)
	delete(r.raw, collection)
	r.mu.Unlock()
}

// Get returns the raw JSON schema text for collection, if any.
func (r *Registry) Get(collection string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.raw[collection]
	return s, ok
}

// Validate checks doc against collection's installed schema. A
// collection with no schema always passes.
func (r *Registry) Validate(collection string, doc *document.Document) error {
	r.mu.RLock()
	compiled, ok := r.schemas[collection]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	native := make(map[string]any, len(doc.Data))
	for k, v := range doc.Data {
		native[k] = v.Native()
	}
	native["id"] = doc.Id

	docLoader := gojsonschema.NewGoLoader(native)
	result, err := compiled.Validate(docLoader)
	if err != nil {
		return apperr.New(apperr.SchemaValidationFailed, "schema validation error", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return apperr.New(apperr.SchemaValidationFailed, fmt.Sprintf("document invalid against schema: %s", strings.Join(msgs, "; ")), nil)
	}
	return nil
}
