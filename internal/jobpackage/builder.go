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

// Package jobpackage builds batch request units from word groups and writes them as JSONL packages.
package jobpackage

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/corpus"
	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
)

const customIDPrefix = "request-"

// JobUnit is a single chat completion request of a batch. Immutable once built.
type JobUnit struct {
	ID           int
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Format       ResponseFormat
}

// CustomID is the correlation id echoed back by the provider in the result line.
func (u JobUnit) CustomID() string {
	return fmt.Sprintf("%s%d", customIDPrefix, u.ID)
}

// Builder turns word groups into job units using one prompt configuration.
type Builder struct {
	prompt PromptConfig
}

func NewBuilder(prompt PromptConfig) *Builder {
	return &Builder{prompt: prompt.WithDefaults()}
}

// Prompt returns the effective prompt configuration.
func (b *Builder) Prompt() PromptConfig {
	return b.prompt
}

// Build returns one unit per group with ids assigned sequentially from offset.
// A fractional offset is truncated and logged, an offset below 1 is rejected.
func (b *Builder) Build(ctx context.Context, groups []corpus.WordGroup, offset float64) ([]JobUnit, error) {
	logger := klog.FromContext(ctx)

	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		return nil, fmt.Errorf("invalid unit id offset %v", offset)
	}
	start := math.Trunc(offset)
	if start != offset {
		logger.Info("Unit id offset is not an integer, truncating", "offset", offset, "truncated", start)
	}
	if start < 1 || start > math.MaxInt32 {
		return nil, fmt.Errorf("unit id offset must be between 1 and %d, got %v", math.MaxInt32, offset)
	}

	units := make([]JobUnit, 0, len(groups))
	for i, group := range groups {
		if len(group) == 0 {
			return nil, fmt.Errorf("word group %d is empty", i)
		}
		units = append(units, b.unit(int(start)+i, group))
	}
	return units, nil
}

func (b *Builder) unit(id int, words corpus.WordGroup) JobUnit {
	return JobUnit{
		ID:           id,
		Model:        b.prompt.Model,
		SystemPrompt: b.prompt.SystemPrompt,
		UserPrompt:   b.prompt.UserPrefix + strings.Join(words, ", "),
		MaxTokens:    b.prompt.MaxTokens,
		Format:       b.prompt.Format,
	}
}

// requestLine renders the unit as a batch input line, resolving its schema reference.
func requestLine(u JobUnit, schemas *SchemaRegistry) (*openai.BatchRequestLine, error) {
	line := &openai.BatchRequestLine{
		CustomID: u.CustomID(),
		Method:   http.MethodPost,
		URL:      openai.EndpointChatCompletions,
		Body: openai.ChatCompletionRequest{
			Model: u.Model,
			Messages: []openai.ChatMessage{
				{Role: openai.RoleSystem, Content: u.SystemPrompt},
				{Role: openai.RoleUser, Content: u.UserPrompt},
			},
			MaxTokens: u.MaxTokens,
		},
	}

	switch f := u.Format.(type) {
	case nil, Plain:
	case SchemaConstrained:
		schema, err := schemas.Lookup(f.SchemaRef)
		if err != nil {
			return nil, err
		}
		line.Body.ResponseFormat = &openai.ResponseFormat{
			Type: "json_schema",
			JSONSchema: &openai.JSONSchema{
				Name:   f.SchemaName,
				Schema: schema,
				Strict: true,
			},
		}
	default:
		return nil, fmt.Errorf("unsupported response format %T", u.Format)
	}
	return line, nil
}
