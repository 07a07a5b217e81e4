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

// This file extracts a word list out of a subtitle (.srt) file.

package corpus

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	srtIndexLine = regexp.MustCompile(`^\d+$`)
	srtMarkup    = regexp.MustCompile(`<[^>]*>`)
	nonWordRunes = regexp.MustCompile(`[^\p{L}\p{M}\s\-]`)
)

// ExtractSubtitleWords returns the words spoken in an SRT file.
// Cue numbers, timestamps and markup are removed, and only letters, marks and hyphens are kept.
func ExtractSubtitleWords(srt []byte) []string {
	text := norm.NFC.String(string(srt))

	// A digits-only line is a cue number and is dropped on its own. The line after it is
	// kept unless it is a timestamp, so dialogue following a numeric line survives.
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if strings.Contains(line, "-->") || srtIndexLine.MatchString(line) {
			continue
		}
		line = strings.TrimSpace(srtMarkup.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}

	cleaned := nonWordRunes.ReplaceAllString(strings.Join(kept, " "), "")
	return strings.Fields(cleaned)
}

// DedupeAndCapitalize drops case-insensitive duplicates, keeping first occurrence order,
// and returns each word lower-cased with its first letter upper-cased.
func DedupeAndCapitalize(words []string) []string {
	lower := cases.Lower(language.Und)
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		lw := lower.String(w)
		if _, ok := seen[lw]; ok {
			continue
		}
		seen[lw] = struct{}{}
		out = append(out, capitalize(lw))
	}
	return out
}

func capitalize(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + w[size:]
}
