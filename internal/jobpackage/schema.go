/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package jobpackage

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
)

// TranslationSchemaRef names the built-in per-word translation schema.
const TranslationSchemaRef = "translation_response"

//go:embed schemas/translation_response.json
var translationSchema []byte

// SchemaRegistry resolves schema references to JSON schema documents.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]json.RawMessage
}

// NewSchemaRegistry returns a registry holding the built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		schemas: map[string]json.RawMessage{
			TranslationSchemaRef: json.RawMessage(translationSchema),
		},
	}
}

// Register adds or replaces a schema. The document must be valid JSON.
func (r *SchemaRegistry) Register(ref string, schema []byte) error {
	if ref == "" {
		return fmt.Errorf("empty schema reference")
	}
	if !json.Valid(schema) {
		return fmt.Errorf("schema %q is not valid JSON", ref)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[ref] = json.RawMessage(schema)
	return nil
}

// Lookup returns the schema registered under ref.
func (r *SchemaRegistry) Lookup(ref string) (json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[ref]
	if !ok {
		return nil, fmt.Errorf("unknown schema reference %q", ref)
	}
	return s, nil
}
