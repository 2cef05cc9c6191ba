// Package openapi loads and indexes OpenAPI documents attached to api
// connectors, providing operation lookup by operationId.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// SpecSource describes an OpenAPI document to load for one connector.
type SpecSource struct {
	ConnectorID string
	// BaseURL overrides the document's first server URL when set.
	BaseURL  string
	SpecPath string
}

// IndexedOperation holds a resolved OpenAPI operation with its context.
type IndexedOperation struct {
	ConnectorID  string
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
	BaseURL      string
}

// ValidationError describes a schema validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Index is an in-memory index of OpenAPI operations keyed by
// (connectorID, operationID). It is safe for concurrent use.
type Index struct {
	mu          sync.RWMutex
	operations  map[string]IndexedOperation // key: "connectorID:operationID"
	byConnector map[string][]string         // connectorID → []operationID
	sources     map[string]SpecSource
}

// NewIndex creates an empty OpenAPI index.
func NewIndex() *Index {
	return &Index{
		operations:  make(map[string]IndexedOperation),
		byConnector: make(map[string][]string),
		sources:     make(map[string]SpecSource),
	}
}

func operationKey(connectorID, operationID string) string {
	return connectorID + ":" + operationID
}

// Load parses every source and indexes its operations. Loading stops at the
// first document that fails.
func (idx *Index) Load(specs []SpecSource) error {
	for _, src := range specs {
		if err := idx.LoadSource(src); err != nil {
			return err
		}
	}
	return nil
}

// Ensure loads src unless the same document is already indexed for its
// connector. A changed path or base URL replaces the previous operations.
func (idx *Index) Ensure(src SpecSource) error {
	idx.mu.RLock()
	prev, ok := idx.sources[src.ConnectorID]
	idx.mu.RUnlock()
	if ok && prev == src {
		return nil
	}
	return idx.LoadSource(src)
}

// LoadSource parses one document and replaces the operations indexed for
// its connector.
func (idx *Index) LoadSource(src SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(src.SpecPath)
	if err != nil {
		return fmt.Errorf("openapi: loading %s (%s): %w", src.ConnectorID, src.SpecPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", src.ConnectorID, err)
	}

	baseURL := src.BaseURL
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}

	ops := make(map[string]IndexedOperation)
	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}

			// Merge path-level and operation-level parameters.
			params := make([]*openapi3.Parameter, 0)
			for _, ref := range pathItem.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}

			ops[op.OperationID] = IndexedOperation{
				ConnectorID:  src.ConnectorID,
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
				BaseURL:      baseURL,
			}
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(src.ConnectorID)
	ids := make([]string, 0, len(ops))
	for id, op := range ops {
		idx.operations[operationKey(src.ConnectorID, id)] = op
		ids = append(ids, id)
	}
	idx.byConnector[src.ConnectorID] = ids
	idx.sources[src.ConnectorID] = src
	return nil
}

// Remove drops every operation indexed for the connector.
func (idx *Index) Remove(connectorID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(connectorID)
}

func (idx *Index) removeLocked(connectorID string) {
	for _, id := range idx.byConnector[connectorID] {
		delete(idx.operations, operationKey(connectorID, id))
	}
	delete(idx.byConnector, connectorID)
	delete(idx.sources, connectorID)
}

// GetOperation returns the indexed operation for the given connector and operation ID.
func (idx *Index) GetOperation(connectorID, operationID string) (IndexedOperation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	op, ok := idx.operations[operationKey(connectorID, operationID)]
	return op, ok
}

// AllOperationIDs returns all operation IDs for the given connector, sorted.
func (idx *Index) AllOperationIDs(connectorID string) []string {
	idx.mu.RLock()
	ids := make([]string, len(idx.byConnector[connectorID]))
	copy(ids, idx.byConnector[connectorID])
	idx.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Count returns the number of indexed operations across all connectors.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.operations)
}

// ValidateRequest checks a request body against the operation's required
// top-level properties. Returns an empty slice if valid.
func (idx *Index) ValidateRequest(connectorID, operationID string, body map[string]any) []ValidationError {
	op, ok := idx.GetOperation(connectorID, operationID)
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %s/%s not found", connectorID, operationID)}}
	}

	if op.RequestBody == nil {
		return nil
	}

	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}

	var errs []ValidationError
	for _, req := range ct.Schema.Value.Required {
		if _, exists := body[req]; !exists {
			errs = append(errs, ValidationError{
				Field:   req,
				Message: fmt.Sprintf("%s is required", req),
			})
		}
	}
	return errs
}
