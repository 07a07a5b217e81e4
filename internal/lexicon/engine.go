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

package lexicon

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/util/logging"
)

const (
	DefaultMaxNeighbours     = 50
	DefaultDistanceThreshold = 3
)

type Config struct {
	MaxNeighbours     int  `yaml:"max_neighbours"`
	DistanceThreshold int  `yaml:"distance_threshold"`
	CaseInsensitive   bool `yaml:"case_insensitive"`
}

func DefaultConfig() Config {
	return Config{
		MaxNeighbours:     DefaultMaxNeighbours,
		DistanceThreshold: DefaultDistanceThreshold,
		CaseInsensitive:   true,
	}
}

func (c Config) Validate() error {
	if c.MaxNeighbours < 0 {
		return fmt.Errorf("max_neighbours must be >= 0, got %d", c.MaxNeighbours)
	}
	if c.DistanceThreshold < 0 {
		return fmt.Errorf("distance_threshold must be >= 0, got %d", c.DistanceThreshold)
	}
	return nil
}

// Engine clusters entries by edit distance inside a bounded window.
// Work is O(n * MaxNeighbours * translations^2).
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// candidate is an entry with its comparison keys folded once up front.
type candidate struct {
	entry        TranslationEntry
	key          string
	translations []string
	excluded     bool
}

func (e *Engine) fold(s string) string {
	if !e.cfg.CaseInsensitive {
		return s
	}
	return cases.Fold().String(s)
}

func (e *Engine) prepare(entries []TranslationEntry) []candidate {
	out := make([]candidate, len(entries))
	for i, entry := range entries {
		flat := entry.Flatten()
		c := candidate{
			entry:        entry,
			key:          e.fold(entry.Word),
			translations: make([]string, len(flat)),
			excluded:     isSelfTranslation(entry.Word, flat),
		}
		for k, t := range flat {
			c.translations[k] = e.fold(t)
		}
		out[i] = c
	}
	return out
}

// isSelfTranslation reports whether the entry carries nothing beyond its own word,
// as with acronyms and most proper nouns.
func isSelfTranslation(word string, translations []string) bool {
	for _, t := range translations {
		if t != word {
			return false
		}
	}
	return true
}

func (e *Engine) close(a, b string) bool {
	return Distance(a, b, false) <= e.cfg.DistanceThreshold
}

func (e *Engine) similar(a, b *candidate) bool {
	if e.close(a.key, b.key) {
		return true
	}
	for _, ta := range a.translations {
		for _, tb := range b.translations {
			if e.close(ta, tb) {
				return true
			}
		}
	}
	return false
}

// Process returns the surviving entries in input order with their relations filled in.
// The result only depends on the input order and the config.
func (e *Engine) Process(ctx context.Context, entries []TranslationEntry) []ProcessedEntry {
	logger := klog.FromContext(ctx)

	candidates := e.prepare(entries)
	out := make([]ProcessedEntry, 0, len(candidates))
	edges := 0
	for i := range candidates {
		c := &candidates[i]
		if c.excluded {
			logger.V(logging.TRACE).Info("Excluding self-translated entry", "word", c.entry.Word)
			continue
		}

		lo := max(0, i-e.cfg.MaxNeighbours)
		hi := min(len(candidates)-1, i+e.cfg.MaxNeighbours)
		seen := map[string]struct{}{}
		similar := []string{}
		for j := lo; j <= hi; j++ {
			n := &candidates[j]
			if j == i || n.key == c.key {
				continue
			}
			if _, ok := seen[n.key]; ok {
				continue
			}
			if e.similar(c, n) {
				seen[n.key] = struct{}{}
				similar = append(similar, n.entry.Word)
			}
		}
		edges += len(similar)

		out = append(out, ProcessedEntry{
			TranslationEntry:  c.entry,
			SimilarWords:      similar,
			GrammarCategories: c.entry.Categories(),
		})
	}

	logger.V(logging.DEBUG).Info("Clustered entries",
		"input", len(entries), "kept", len(out), "excluded", len(entries)-len(out), "edges", edges)
	return out
}
