package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/helm-ledger/pkg/canonicalize"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	schemaFileSuffix = ".schema.json"
	schemaURLBase    = "https://helm.schemas.local/ledger/"
)

// JSONSchema validates payloads against compiled JSON Schema (draft 2020-12)
// documents keyed by schema id. Unknown ids fail closed.
type JSONSchema struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewJSONSchema returns an empty validator.
func NewJSONSchema() *JSONSchema {
	return &JSONSchema{schemas: make(map[string]*jsonschema.Schema)}
}

// LoadDir compiles every <schema_id>.schema.json file found in dir.
func LoadDir(dir string) (*JSONSchema, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("schema: read dir %q: %w", dir, err)
	}

	v := NewJSONSchema()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, schemaFileSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // operator supplied schema dir
		if err != nil {
			return nil, fmt.Errorf("schema: read %q: %w", name, err)
		}
		if err := v.Add(strings.TrimSuffix(name, schemaFileSuffix), string(data)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Add compiles schema and registers it under id, replacing any previous one.
func (v *JSONSchema) Add(id, schema string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := schemaURLBase + id + schemaFileSuffix
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("schema %q: load failed: %w", id, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("schema %q: compile failed: %w", id, err)
	}

	v.mu.Lock()
	v.schemas[id] = compiled
	v.mu.Unlock()
	return nil
}

// IDs returns the registered schema ids, sorted.
func (v *JSONSchema) IDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.schemas))
	for id := range v.schemas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (v *JSONSchema) Validate(payload canonicalize.Payload, schemaID string) Result {
	v.mu.RLock()
	compiled, ok := v.schemas[schemaID]
	v.mu.RUnlock()
	if !ok {
		return Invalid(fmt.Sprintf("unknown schema %q", schemaID))
	}

	// Normalise Go values (ints, structs) into the generic JSON shapes the
	// compiled schema walks.
	generic, err := canonicalize.Clone(payload)
	if err != nil {
		return Invalid(err.Error())
	}
	if err := compiled.Validate(map[string]interface{}(generic)); err != nil {
		return Invalid(err.Error())
	}
	return Valid()
}
