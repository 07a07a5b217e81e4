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

package persistence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/lexicon"
	"github.com/llm-d-incubation/lexicon-batch/internal/processor/metrics"
	"github.com/llm-d-incubation/lexicon-batch/internal/util/logging"
)

const (
	DefaultParameterLimit = 16384
	// MaxParameterLimit is the PostgreSQL bind parameter ceiling.
	MaxParameterLimit = 65535

	TableWords             = "words"
	TableTranslations      = "translations"
	TableSimilarWords      = "similar_words"
	TableGrammarCategories = "grammar_categories"

	wordColumns        = 2
	translationColumns = 4
	similarColumns     = 2
	grammarColumns     = 2
)

type Config struct {
	ParameterLimit int `yaml:"parameter_limit" env:"PERSISTENCE_PARAMETER_LIMIT"`
}

func DefaultConfig() Config {
	return Config{ParameterLimit: DefaultParameterLimit}
}

func (c Config) Validate() error {
	if c.ParameterLimit <= translationColumns || c.ParameterLimit >= MaxParameterLimit {
		return fmt.Errorf("parameter_limit must be in (%d, %d), got %d", translationColumns, MaxParameterLimit, c.ParameterLimit)
	}
	return nil
}

// Stats counts the rows one Write inserted. Skipped counts entries and edges whose word had no id.
type Stats struct {
	Words             int64 `json:"words"`
	Translations      int64 `json:"translations"`
	SimilarWords      int64 `json:"similar_words"`
	GrammarCategories int64 `json:"grammar_categories"`
	Skipped           int   `json:"skipped"`
}

// Writer persists processed entries. Calls for the same language pair must not run concurrently.
type Writer struct {
	repo  Repository
	limit int
}

func NewWriter(repo Repository, cfg Config) (*Writer, error) {
	if cfg.ParameterLimit == 0 {
		cfg.ParameterLimit = DefaultParameterLimit
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Writer{repo: repo, limit: cfg.ParameterLimit}, nil
}

// chunkRows is how many rows of the given width fit under the parameter limit.
func (w *Writer) chunkRows(columns int) int {
	return w.limit / columns
}

// Write runs fetch, insert missing, fetch again, then inserts the three dependent row sets.
// Running it twice on the same input inserts nothing the second time.
func (w *Writer) Write(ctx context.Context, pair LanguagePair, entries []lexicon.ProcessedEntry) (*Stats, error) {
	logger := klog.FromContext(ctx).WithValues("source", pair.Source, "target", pair.Target)
	if pair.Source == "" || pair.Target == "" {
		return nil, fmt.Errorf("%w: language pair %q/%q", ErrInvalidInput, pair.Source, pair.Target)
	}

	start := time.Now()
	stats := &Stats{}
	if len(entries) == 0 {
		return stats, nil
	}

	words := lo.Uniq(lo.Map(entries, func(e lexicon.ProcessedEntry, _ int) string { return e.Word }))

	existing, err := w.findWords(ctx, pair.Source, words)
	if err != nil {
		return nil, err
	}
	missing := lo.Filter(words, func(word string, _ int) bool {
		_, ok := existing[word]
		return !ok
	})
	for _, chunk := range lo.Chunk(missing, w.chunkRows(wordColumns)) {
		n, err := w.repo.InsertWords(ctx, pair.Source, chunk)
		if err != nil {
			return nil, fmt.Errorf("insert words: %w", err)
		}
		stats.Words += n
	}
	metrics.RecordRowsPersisted(TableWords, int(stats.Words))
	logger.V(logging.DEBUG).Info("Inserted words", "distinct", len(words), "existing", len(existing), "inserted", stats.Words)

	// similar words may point at words stored by earlier runs
	lookup := lo.Union(words, lo.FlatMap(entries, func(e lexicon.ProcessedEntry, _ int) []string {
		return e.SimilarWords
	}))
	ids, err := w.findWords(ctx, pair.Source, lookup)
	if err != nil {
		return nil, err
	}

	var (
		translations []TranslationRow
		similar      []SimilarWordRow
		grammar      []GrammarCategoryRow
	)
	for _, e := range entries {
		id, ok := ids[e.Word]
		if !ok {
			stats.Skipped++
			logger.Info("Skipping entry without word id", "word", e.Word)
			continue
		}

		cats := make([]string, 0, len(e.Translations))
		for cat := range e.Translations {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		for _, cat := range cats {
			for _, t := range e.Translations[cat] {
				if t == "" {
					continue
				}
				translations = append(translations, TranslationRow{WordID: id, Category: cat, Translation: t, Language: pair.Target})
			}
		}

		for _, s := range e.SimilarWords {
			sid, ok := ids[s]
			if !ok || sid == id {
				stats.Skipped++
				logger.V(logging.DEBUG).Info("Skipping similar word without id", "word", e.Word, "similar", s)
				continue
			}
			similar = append(similar, SimilarWordRow{WordID: id, SimilarWordID: sid})
		}

		for _, cat := range e.GrammarCategories {
			grammar = append(grammar, GrammarCategoryRow{WordID: id, Category: cat})
		}
	}

	if stats.Translations, err = insertChunked(ctx, translations, w.chunkRows(translationColumns), w.repo.InsertTranslations); err != nil {
		return nil, fmt.Errorf("insert translations: %w", err)
	}
	if stats.SimilarWords, err = insertChunked(ctx, similar, w.chunkRows(similarColumns), w.repo.InsertSimilarWords); err != nil {
		return nil, fmt.Errorf("insert similar words: %w", err)
	}
	if stats.GrammarCategories, err = insertChunked(ctx, grammar, w.chunkRows(grammarColumns), w.repo.InsertGrammarCategories); err != nil {
		return nil, fmt.Errorf("insert grammar categories: %w", err)
	}
	metrics.RecordRowsPersisted(TableTranslations, int(stats.Translations))
	metrics.RecordRowsPersisted(TableSimilarWords, int(stats.SimilarWords))
	metrics.RecordRowsPersisted(TableGrammarCategories, int(stats.GrammarCategories))

	logger.Info("Persisted entries", "entries", len(entries), "words", stats.Words,
		"translations", stats.Translations, "similarWords", stats.SimilarWords,
		"grammarCategories", stats.GrammarCategories, "skipped", stats.Skipped,
		"duration", time.Since(start))
	return stats, nil
}

// findWords looks words up in chunks. The language takes one parameter of each query.
func (w *Writer) findWords(ctx context.Context, language string, words []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(words))
	for _, chunk := range lo.Chunk(words, w.limit-1) {
		found, err := w.repo.FindWords(ctx, language, chunk)
		if err != nil {
			return nil, fmt.Errorf("find words: %w", err)
		}
		for word, id := range found {
			ids[word] = id
		}
	}
	return ids, nil
}

func insertChunked[T any](ctx context.Context, rows []T, size int, insert func(context.Context, []T) (int64, error)) (int64, error) {
	var total int64
	for _, chunk := range lo.Chunk(rows, size) {
		n, err := insert(ctx, chunk)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
