// Package registry holds JSON schemas for capability parameters and
// validates payloads against them before dispatch.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidPayload is wrapped by Validate failures.
var ErrInvalidPayload = errors.New("invalid capability payload")

type entry struct {
	raw      string
	compiled *validator.Schema
}

// Registry implements SchemaRegistry using in-memory storage.
type Registry struct {
	schemas   map[string]entry
	mu        sync.RWMutex
	reflector *jsonschema.Reflector
}

var _ SchemaRegistry = (*Registry)(nil)

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithAdditionalProperties controls whether generated schemas accept
// properties that the model does not define. Defaults to false.
func WithAdditionalProperties(allow bool) RegistryOption {
	return func(r *Registry) {
		r.reflector.AllowAdditionalProperties = allow
	}
}

// NewRegistry creates a new schema registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		schemas:   make(map[string]entry),
		reflector: new(jsonschema.Reflector),
	}
	r.reflector.ExpandedStruct = true
	r.reflector.Anonymous = true

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a schema for a capability id.
// model can be a Go struct (to generate schema) or a raw JSON schema string/map/bytes.
func (r *Registry) Register(capabilityID string, model any) error {
	raw, err := r.schemaText(model)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", capabilityID, err)
	}

	url := "tuff://capabilities/" + capabilityID + ".json"
	c := validator.NewCompiler()
	if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
		return fmt.Errorf("schema for %s: %w", capabilityID, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", capabilityID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[capabilityID]; exists {
		return fmt.Errorf("schema already registered: %s", capabilityID)
	}
	r.schemas[capabilityID] = entry{raw: raw, compiled: compiled}
	return nil
}

func (r *Registry) schemaText(model any) (string, error) {
	switch v := model.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal schema map: %w", err)
		}
		return string(b), nil
	}

	t := reflect.TypeOf(model)
	if t == nil || (t.Kind() != reflect.Struct && !(t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct)) {
		return "", fmt.Errorf("unsupported schema model %T", model)
	}
	s := r.reflector.Reflect(model)
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal generated schema: %w", err)
	}
	return string(b), nil
}

// GetSchema retrieves the JSON Schema for a capability id.
func (r *Registry) GetSchema(capabilityID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.schemas[capabilityID]
	return e.raw, ok
}

// Validate checks payload against the capability's schema. The payload is
// normalized through JSON first so Go maps, structs and numbers of any
// width validate the same way.
func (r *Registry) Validate(capabilityID string, payload any) error {
	r.mu.RLock()
	e, ok := r.schemas[capabilityID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, capabilityID, err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, capabilityID, err)
	}
	if err := e.compiled.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, capabilityID, err)
	}
	return nil
}

// List returns all capability ids with a schema, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
