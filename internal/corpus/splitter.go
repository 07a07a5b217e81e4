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

// Package corpus turns raw word lists into prompt sized groups and provider sized batches.
package corpus

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultWordCapacity = 8
	DefaultMaxBatchSize = 50000
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WordGroup is the list of words sent in a single prompt. Never empty.
type WordGroup []string

// Batch is the list of word groups submitted as one provider job. Never empty.
type Batch []WordGroup

// Lines decodes the buffer and returns its non-blank lines, trimmed, in order.
// Lines may end with "\n" or "\r\n".
func Lines(buf []byte) []string {
	buf = bytes.TrimPrefix(buf, utf8BOM)
	text := norm.NFC.String(string(buf))

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// SplitBatches partitions the non-blank lines of buf into groups of at most wordCapacity
// lines and then into batches of at most maxBatchSize groups.
// An empty input yields no batches.
func SplitBatches(buf []byte, wordCapacity, maxBatchSize int) ([]Batch, error) {
	return SplitWords(Lines(buf), wordCapacity, maxBatchSize)
}

// SplitWords is SplitBatches over an already decoded word list.
func SplitWords(words []string, wordCapacity, maxBatchSize int) ([]Batch, error) {
	if wordCapacity < 1 {
		return nil, fmt.Errorf("word capacity must be positive, got %d", wordCapacity)
	}
	if maxBatchSize < 1 {
		return nil, fmt.Errorf("max batch size must be positive, got %d", maxBatchSize)
	}
	if len(words) == 0 {
		return nil, nil
	}

	groups := lo.Map(lo.Chunk(words, wordCapacity), func(chunk []string, _ int) WordGroup {
		return WordGroup(chunk)
	})
	return lo.Map(lo.Chunk(groups, maxBatchSize), func(chunk []WordGroup, _ int) Batch {
		return Batch(chunk)
	}), nil
}

// CountWords returns the number of words across all batches.
func CountWords(batches []Batch) int {
	n := 0
	for _, b := range batches {
		for _, g := range b {
			n += len(g)
		}
	}
	return n
}

// CountGroups returns the number of word groups across all batches.
func CountGroups(batches []Batch) int {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	return n
}

const (
	FormatLines = "lines"
	FormatSRT   = "srt"
)

// Split decodes buf as a word list or a subtitle file and splits it. An empty format means lines.
// Subtitle words are deduplicated and capitalised first.
func Split(buf []byte, format string, wordCapacity, maxBatchSize int) ([]Batch, error) {
	switch format {
	case "", FormatLines:
		return SplitBatches(buf, wordCapacity, maxBatchSize)
	case FormatSRT:
		return SplitWords(DedupeAndCapitalize(ExtractSubtitleWords(buf)), wordCapacity, maxBatchSize)
	default:
		return nil, fmt.Errorf("unknown corpus format %q", format)
	}
}
