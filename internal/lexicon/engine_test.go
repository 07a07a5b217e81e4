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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func words(entries []ProcessedEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Word)
	}
	return out
}

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b            string
		caseInsensitive bool
		want            int
	}{
		{"", "", true, 0},
		{"abc", "", true, 3},
		{"", "Größe", false, 5},
		{"kitten", "sitting", false, 3},
		{"Haus", "haus", false, 1},
		{"Haus", "haus", true, 0},
		{"Aachen", "Aachener", true, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.a, tt.b), func(t *testing.T) {
			assert.Equal(t, tt.want, Distance(tt.a, tt.b, tt.caseInsensitive))
			assert.Equal(t, tt.want, Distance(tt.b, tt.a, tt.caseInsensitive), "symmetric")
		})
	}
}

func TestDistanceTriangleInequality(t *testing.T) {
	samples := []string{"", "Haus", "Häuser", "Maus", "house", "mouse", "Hausaufgabe"}
	for _, a := range samples {
		for _, b := range samples {
			for _, c := range samples {
				ab := Distance(a, b, true)
				bc := Distance(b, c, true)
				ac := Distance(a, c, true)
				assert.LessOrEqual(t, ac, ab+bc, "%q %q %q", a, b, c)
			}
		}
	}
}

func TestProcessAachen(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	out := e.Process(context.Background(), []TranslationEntry{
		{Word: "Aachen", Translations: map[string][]string{"noun": {"Aachen"}}},
		{Word: "Aachener", Translations: map[string][]string{"noun": {"native of Aachen"}}},
	})

	require.Len(t, out, 1)
	assert.Equal(t, "Aachener", out[0].Word)
	assert.Equal(t, []string{"Aachen"}, out[0].SimilarWords)
	assert.Equal(t, []string{"noun"}, out[0].GrammarCategories)
}

func TestProcessExcludesSelfTranslations(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	out := e.Process(context.Background(), []TranslationEntry{
		{Word: "CIA", Translations: map[string][]string{"noun": {"CIA"}}},
		{Word: "leer", Translations: map[string][]string{}},
		{Word: "NATO", Translations: map[string][]string{"noun": {"NATO"}, "verb": {}}},
		{Word: "Haus", Translations: map[string][]string{"noun": {"house"}}},
	})

	assert.Equal(t, []string{"Haus"}, words(out))
}

func TestProcessTranslationMatch(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	out := e.Process(context.Background(), []TranslationEntry{
		{Word: "Gebäude", Translations: map[string][]string{"noun": {"building"}}},
		{Word: "Bau", Translations: map[string][]string{"noun": {"construction", "build"}}},
		{Word: "Zitrone", Translations: map[string][]string{"noun": {"lemon"}}},
	})

	require.Len(t, out, 3)
	// "building" is three edits away from "build"
	assert.Equal(t, []string{"Bau"}, out[0].SimilarWords)
	assert.Equal(t, []string{"Gebäude"}, out[1].SimilarWords)
	assert.Empty(t, out[2].SimilarWords)
}

func TestProcessWindow(t *testing.T) {
	e := newEngine(t, Config{MaxNeighbours: 1, DistanceThreshold: 3, CaseInsensitive: true})

	out := e.Process(context.Background(), []TranslationEntry{
		{Word: "Hand", Translations: map[string][]string{"noun": {"hand"}}},
		{Word: "Zitrone", Translations: map[string][]string{"noun": {"lemon"}}},
		{Word: "Band", Translations: map[string][]string{"noun": {"ribbon"}}},
	})

	require.Len(t, out, 3)
	// Hand and Band are close but two positions apart
	assert.Empty(t, out[0].SimilarWords)
	assert.Empty(t, out[2].SimilarWords)
}

func TestProcessSkipsSameWordAndDedupes(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	out := e.Process(context.Background(), []TranslationEntry{
		{Word: "Bank", Translations: map[string][]string{"noun": {"bench"}}},
		{Word: "bank", Translations: map[string][]string{"noun": {"shore"}}},
		{Word: "Dank", Translations: map[string][]string{"noun": {"thanks"}}},
		{Word: "Dank", Translations: map[string][]string{"noun": {"gratitude"}}},
	})

	require.Len(t, out, 4)
	assert.Equal(t, []string{"Dank"}, out[0].SimilarWords)
	assert.Equal(t, []string{"Bank"}, out[2].SimilarWords)
}

func TestProcessCaseSensitive(t *testing.T) {
	e := newEngine(t, Config{MaxNeighbours: 50, DistanceThreshold: 0, CaseInsensitive: false})

	out := e.Process(context.Background(), []TranslationEntry{
		{Word: "Essen", Translations: map[string][]string{"noun": {"food"}}},
		{Word: "essen", Translations: map[string][]string{"verb": {"to eat"}}},
	})

	require.Len(t, out, 2)
	assert.Empty(t, out[0].SimilarWords)
	assert.Empty(t, out[1].SimilarWords)
}

func TestProcessGrammarCategories(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	out := e.Process(context.Background(), []TranslationEntry{
		{Word: "laufen", Translations: map[string][]string{
			"verb":      {"to run", "to walk"},
			"noun":      {"running"},
			"adjective": {},
			"adverb":    {" "},
		}},
	})

	require.Len(t, out, 1)
	assert.Equal(t, []string{"noun", "verb"}, out[0].GrammarCategories)
}

func TestProcessDeterministic(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	var entries []TranslationEntry
	for i := 0; i < 200; i++ {
		entries = append(entries, TranslationEntry{
			Word: fmt.Sprintf("Wort%d", i%37),
			Translations: map[string][]string{
				"noun": {fmt.Sprintf("word %d", i)},
				"verb": {fmt.Sprintf("to word %d", i%11)},
			},
		})
	}

	first := e.Process(context.Background(), entries)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, e.Process(context.Background(), entries))
	}
}

func TestNewEngineValidates(t *testing.T) {
	_, err := NewEngine(Config{MaxNeighbours: -1})
	assert.Error(t, err)
	_, err = NewEngine(Config{DistanceThreshold: -1})
	assert.Error(t, err)
}

func TestIsGrammarCategory(t *testing.T) {
	assert.True(t, IsGrammarCategory("modal_verb"))
	assert.True(t, IsGrammarCategory("verb"))
	assert.False(t, IsGrammarCategory("interjection"))
	assert.False(t, IsGrammarCategory(""))
}
