// Package openapi indexes the catalog service's OpenAPI document so that
// catalog calls are resolved by operationId rather than hard-coded paths.
package openapi

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/getkin/kin-openapi/openapi3"
)

// SpecSource describes an OpenAPI document to load.
type SpecSource struct {
	ServiceID string
	BaseURL   string
	SpecPath  string
}

// IndexedOperation holds a resolved operation with its service context.
type IndexedOperation struct {
	ServiceID    string
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
	Responses    *openapi3.Responses
	BaseURL      string
}

// QueryParameter reports whether the operation declares a query parameter
// called name.
func (op IndexedOperation) QueryParameter(name string) bool {
	for _, p := range op.Parameters {
		if p.In == openapi3.ParameterInQuery && p.Name == name {
			return true
		}
	}
	return false
}

// ValidationError describes a request body that does not match its schema.
type ValidationError struct {
	Field   string
	Message string
}

// MissingOperationsError lists operation ids a service does not declare.
type MissingOperationsError struct {
	ServiceID  string
	Operations []string
}

func (e *MissingOperationsError) Error() string {
	return fmt.Sprintf("openapi: service %s does not declare operations %s",
		e.ServiceID, strings.Join(e.Operations, ", "))
}

// Index is an in-memory index of operations keyed by (serviceID, operationID).
type Index struct {
	operations map[string]IndexedOperation // key: "serviceID:operationID"
	byService  map[string][]string         // serviceID → []operationID
	loaded     atomic.Bool
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		operations: make(map[string]IndexedOperation),
		byService:  make(map[string][]string),
	}
}

func operationKey(serviceID, operationID string) string {
	return serviceID + ":" + operationID
}

// Load parses and validates the given documents and indexes every operation
// that carries an operationId. Load is not safe for concurrent use with
// lookups; call it once before serving.
func (idx *Index) Load(specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range specs {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("openapi: loading %s (%s): %w", src.ServiceID, src.SpecPath, err)
		}
		if err := idx.add(src, doc); err != nil {
			return err
		}
	}

	idx.loaded.Store(true)
	return nil
}

// LoadData indexes a document held in memory.
func (idx *Index) LoadData(src SpecSource, data []byte) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("openapi: parsing %s: %w", src.ServiceID, err)
	}
	if err := idx.add(src, doc); err != nil {
		return err
	}
	idx.loaded.Store(true)
	return nil
}

func (idx *Index) add(src SpecSource, doc *openapi3.T) error {
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", src.ServiceID, err)
	}

	baseURL := src.BaseURL
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}

	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}

			// Path-level parameters first, then operation-level ones.
			params := make([]*openapi3.Parameter, 0, len(pathItem.Parameters)+len(op.Parameters))
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

			key := operationKey(src.ServiceID, op.OperationID)
			if _, dup := idx.operations[key]; !dup {
				idx.byService[src.ServiceID] = append(idx.byService[src.ServiceID], op.OperationID)
			}
			idx.operations[key] = IndexedOperation{
				ServiceID:    src.ServiceID,
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  reqBody,
				Responses:    op.Responses,
				BaseURL:      baseURL,
			}
		}
	}
	return nil
}

// Loaded reports whether at least one document has been indexed.
func (idx *Index) Loaded() bool {
	return idx.loaded.Load()
}

// GetOperation returns the indexed operation for the given service and
// operation id.
func (idx *Index) GetOperation(serviceID, operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationKey(serviceID, operationID)]
	return op, ok
}

// AllOperationIDs returns all operation ids for the given service, sorted.
func (idx *Index) AllOperationIDs(serviceID string) []string {
	ids := slices.Clone(idx.byService[serviceID])
	sort.Strings(ids)
	return ids
}

// Require checks that the service declares every operation in ids.
func (idx *Index) Require(serviceID string, ids ...string) error {
	var missing []string
	for _, id := range ids {
		if _, ok := idx.GetOperation(serviceID, id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return &MissingOperationsError{ServiceID: serviceID, Operations: missing}
	}
	return nil
}

// ValidateRequest checks a JSON body against the operation's request schema:
// required properties must be present and enumerated string properties must
// hold one of their values. An empty result means the body is acceptable.
func (idx *Index) ValidateRequest(serviceID, operationID string, body map[string]any) []ValidationError {
	op, ok := idx.operations[operationKey(serviceID, operationID)]
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %s/%s not found", serviceID, operationID)}}
	}
	if op.RequestBody == nil {
		return nil
	}

	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}
	schema := ct.Schema.Value

	var errs []ValidationError
	for _, req := range schema.Required {
		if _, exists := body[req]; !exists {
			errs = append(errs, ValidationError{
				Field:   req,
				Message: fmt.Sprintf("%s is required", req),
			})
		}
	}

	for name, ref := range schema.Properties {
		v, present := body[name]
		if !present || ref == nil || ref.Value == nil || len(ref.Value.Enum) == 0 {
			continue
		}
		if !slices.Contains(ref.Value.Enum, v) {
			errs = append(errs, ValidationError{
				Field:   name,
				Message: fmt.Sprintf("%s must be one of %v", name, ref.Value.Enum),
			})
		}
	}

	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}
