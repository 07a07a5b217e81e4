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

// Package lexicon derives similar-word and grammar-category relations from translated entries.
package lexicon

import (
	"sort"
	"strings"
)

// GrammarCategories lists the categories a translation response may carry, sorted.
var GrammarCategories = []string{
	"adjective",
	"adverb",
	"article",
	"conjunction",
	"modal_verb",
	"noun",
	"numeral",
	"preposition",
	"pronoun",
	"verb",
}

func IsGrammarCategory(name string) bool {
	i := sort.SearchStrings(GrammarCategories, name)
	return i < len(GrammarCategories) && GrammarCategories[i] == name
}

// TranslationEntry is one source word with its translations keyed by grammar category.
type TranslationEntry struct {
	Word         string              `json:"word"`
	Translations map[string][]string `json:"translations"`
}

// Categories returns the keys with at least one non-empty translation, sorted.
func (e TranslationEntry) Categories() []string {
	out := make([]string, 0, len(e.Translations))
	for cat, list := range e.Translations {
		for _, t := range list {
			if strings.TrimSpace(t) != "" {
				out = append(out, cat)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Flatten returns the non-empty translations in sorted category order.
func (e TranslationEntry) Flatten() []string {
	cats := make([]string, 0, len(e.Translations))
	for cat := range e.Translations {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	var out []string
	for _, cat := range cats {
		for _, t := range e.Translations[cat] {
			if strings.TrimSpace(t) != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// ProcessedEntry is a surviving entry together with its derived relations.
type ProcessedEntry struct {
	TranslationEntry
	SimilarWords      []string `json:"similar_words"`
	GrammarCategories []string `json:"grammar_categories"`
}
