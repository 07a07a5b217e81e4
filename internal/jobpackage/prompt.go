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

// The prompt configuration shared by every unit of a run.

package jobpackage

import (
	"encoding/json"
	"fmt"
)

const (
	DefaultModel      = "gpt-4o-mini"
	DefaultMaxTokens  = 1152
	DefaultUserPrefix = "Translate the following words: "
	DefaultSchemaName = "response"

	DefaultSystemPrompt = `Translate the provided German words into English. Return the response as an object with a key "response". ` +
		`The value is an array of objects, one per word, each containing "word" (the word being translated) and "translations" ` +
		`(an object keyed by grammatical category such as "verb", "noun" or "adjective", whose values are lists of possible English translations). ` +
		`Respond only with the JSON object in a single line. ` +
		`Example: {"response": [{"word": "gehen", "translations": {"verb": ["go", "walk"], "noun": ["going"]}}, {"word": "Haus", "translations": {"noun": ["house", "home"]}}]}`
)

const (
	formatKindPlain  = "plain"
	formatKindSchema = "schema"
)

// ResponseFormat is either Plain or SchemaConstrained.
type ResponseFormat interface {
	isResponseFormat()
}

// Plain leaves the model output unconstrained.
type Plain struct{}

// SchemaConstrained attaches the registered schema SchemaRef to each unit under SchemaName.
type SchemaConstrained struct {
	SchemaRef  string
	SchemaName string
}

func (Plain) isResponseFormat()             {}
func (SchemaConstrained) isResponseFormat() {}

// PromptConfig is the prompt and model configuration applied to every unit of a run.
type PromptConfig struct {
	Model        string
	SystemPrompt string
	UserPrefix   string
	MaxTokens    int
	Format       ResponseFormat
}

// DefaultPromptConfig returns the translation prompt constrained to the built-in schema.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		Model:        DefaultModel,
		SystemPrompt: DefaultSystemPrompt,
		UserPrefix:   DefaultUserPrefix,
		MaxTokens:    DefaultMaxTokens,
		Format: SchemaConstrained{
			SchemaRef:  TranslationSchemaRef,
			SchemaName: DefaultSchemaName,
		},
	}
}

// WithDefaults fills empty fields from DefaultPromptConfig.
func (c PromptConfig) WithDefaults() PromptConfig {
	d := DefaultPromptConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.UserPrefix == "" {
		c.UserPrefix = d.UserPrefix
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Format == nil {
		c.Format = d.Format
	}
	if sc, ok := c.Format.(SchemaConstrained); ok && sc.SchemaName == "" {
		sc.SchemaName = DefaultSchemaName
		c.Format = sc
	}
	return c
}

type promptConfigJSON struct {
	Model        string             `json:"model,omitempty"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	UserPrefix   string             `json:"user_prefix,omitempty"`
	MaxTokens    int                `json:"max_tokens,omitempty"`
	Format       responseFormatJSON `json:"response_format"`
}

type responseFormatJSON struct {
	Kind       string `json:"kind"`
	SchemaRef  string `json:"schema_ref,omitempty"`
	SchemaName string `json:"schema_name,omitempty"`
}

// MarshalJSON encodes the format variant with an explicit kind tag so queue payloads round trip.
func (c PromptConfig) MarshalJSON() ([]byte, error) {
	out := promptConfigJSON{
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
		UserPrefix:   c.UserPrefix,
		MaxTokens:    c.MaxTokens,
	}
	switch f := c.Format.(type) {
	case nil, Plain:
		out.Format.Kind = formatKindPlain
	case SchemaConstrained:
		out.Format = responseFormatJSON{Kind: formatKindSchema, SchemaRef: f.SchemaRef, SchemaName: f.SchemaName}
	default:
		return nil, fmt.Errorf("unsupported response format %T", c.Format)
	}
	return json.Marshal(out)
}

func (c *PromptConfig) UnmarshalJSON(data []byte) error {
	var in promptConfigJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	c.Model = in.Model
	c.SystemPrompt = in.SystemPrompt
	c.UserPrefix = in.UserPrefix
	c.MaxTokens = in.MaxTokens
	switch in.Format.Kind {
	case "", formatKindPlain:
		c.Format = Plain{}
	case formatKindSchema:
		c.Format = SchemaConstrained{SchemaRef: in.Format.SchemaRef, SchemaName: in.Format.SchemaName}
	default:
		return fmt.Errorf("unknown response format kind %q", in.Format.Kind)
	}
	return nil
}
