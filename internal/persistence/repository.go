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

// Package persistence flattens processed entries into relational rows and bulk-inserts them.
package persistence

import (
	"context"
	"errors"
)

var (
	// ErrPersistenceConflict is a unique violation that the fetch-before-insert protocol did not prevent.
	ErrPersistenceConflict = errors.New("persistence conflict")
	ErrInvalidInput        = errors.New("invalid input")
)

// LanguagePair scopes words to Source and translations to Target.
type LanguagePair struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

func DefaultLanguagePair() LanguagePair {
	return LanguagePair{Source: "de", Target: "en"}
}

type TranslationRow struct {
	WordID      int64
	Category    string
	Translation string
	Language    string
}

type SimilarWordRow struct {
	WordID        int64
	SimilarWordID int64
}

type GrammarCategoryRow struct {
	WordID   int64
	Category string
}

// Repository is the language-scoped store the writer drives. Inserts skip rows that already exist
// and return the number actually inserted.
type Repository interface {
	FindWords(ctx context.Context, language string, words []string) (map[string]int64, error)
	InsertWords(ctx context.Context, language string, words []string) (int64, error)
	InsertTranslations(ctx context.Context, rows []TranslationRow) (int64, error)
	InsertSimilarWords(ctx context.Context, rows []SimilarWordRow) (int64, error)
	InsertGrammarCategories(ctx context.Context, rows []GrammarCategoryRow) (int64, error)
}
