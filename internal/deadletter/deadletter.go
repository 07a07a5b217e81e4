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

// Package deadletter keeps raw result lines that could not be decoded.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/files_store/api"
	"github.com/llm-d-incubation/lexicon-batch/internal/processor/metrics"
	"github.com/llm-d-incubation/lexicon-batch/internal/util/logging"
)

const (
	ReasonMalformedLine = "malformed_line"
	ReasonPayloadDecode = "payload_decode"

	// DefaultMaxLetterSize caps a single stored letter.
	DefaultMaxLetterSize = 1 << 20
)

// Letter is one undecodable line. Line is already sanitised.
type Letter struct {
	BatchID string `json:"batch_id"`
	Reason  string `json:"reason"`
	Key     string `json:"key"`
	Line    string `json:"line"`
}

// Sink receives dead letters. Writing the same letter twice is a no-op.
type Sink interface {
	Write(ctx context.Context, letters ...Letter) error
}

// Sanitize escapes control characters and invalid UTF-8 so the line stays on one line.
func Sanitize(line string) string {
	line = strings.ToValidUTF8(line, string(utf8.RuneError))
	var sb strings.Builder
	sb.Grow(len(line))
	for _, r := range line {
		switch r {
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if unicode.IsControl(r) {
				fmt.Fprintf(&sb, `\u%04x`, r)
				continue
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Clip sanitises line and cuts the result to at most limit bytes on a rune boundary.
func Clip(line string, limit int) string {
	if len(line) > limit {
		line = line[:limit]
	}
	line = Sanitize(line)
	if len(line) <= limit {
		return line
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut]
}

func segment(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Location returns <prefix>/<batch_id>/<reason>/<key>.txt.
func Location(prefix string, l Letter) string {
	return path.Join(prefix, segment(l.BatchID), segment(l.Reason), segment(l.Key)+".txt")
}

// StoreSink writes letters to an object store.
type StoreSink struct {
	store   api.ObjectStore
	prefix  string
	maxSize int64
}

var _ Sink = (*StoreSink)(nil)

func NewStoreSink(store api.ObjectStore, prefix string) *StoreSink {
	return &StoreSink{store: store, prefix: strings.Trim(prefix, "/"), maxSize: DefaultMaxLetterSize}
}

// Write stores every letter and returns the joined failures. An existing letter counts as written.
func (s *StoreSink) Write(ctx context.Context, letters ...Letter) error {
	logger := klog.FromContext(ctx)

	var errs []error
	for _, l := range letters {
		loc := Location(s.prefix, l)
		sctx, cancel := s.store.GetContext(ctx, 0)
		_, err := s.store.Store(sctx, loc, s.maxSize, strings.NewReader(l.Line))
		cancel()

		switch {
		case err == nil:
			metrics.RecordDeadLetter(l.Reason, metrics.ResultSuccess)
			logger.V(logging.DEBUG).Info("Dead letter stored", "location", loc)
		case errors.Is(err, api.ErrFileExists):
			logger.V(logging.DEBUG).Info("Dead letter already stored", "location", loc)
		default:
			metrics.RecordDeadLetter(l.Reason, metrics.ResultFailed)
			errs = append(errs, fmt.Errorf("dead letter %s: %w", loc, err))
		}
	}
	return errors.Join(errs...)
}

// List reads back the letters of one batch.
func (s *StoreSink) List(ctx context.Context, batchID string) ([]Letter, error) {
	base := path.Join(s.prefix, segment(batchID))
	objects, err := s.store.List(ctx, base+"/")
	if err != nil {
		return nil, err
	}

	letters := make([]Letter, 0, len(objects))
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Location, base+"/")
		reason, file, ok := strings.Cut(rel, "/")
		if !ok {
			continue
		}
		r, _, err := s.store.Retrieve(ctx, obj.Location)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			return nil, err
		}
		letters = append(letters, Letter{
			BatchID: batchID,
			Reason:  reason,
			Key:     strings.TrimSuffix(file, ".txt"),
			Line:    string(data),
		})
	}
	return letters, nil
}

// LogSink only logs letters. Used where no store is configured.
type LogSink struct{}

func (LogSink) Write(ctx context.Context, letters ...Letter) error {
	logger := klog.FromContext(ctx)
	for _, l := range letters {
		logger.Info("Dead letter", "batchID", l.BatchID, "reason", l.Reason, "key", l.Key, "line", l.Line)
	}
	return nil
}

// MemorySink keeps letters in memory, keyed by location.
type MemorySink struct {
	mu      sync.Mutex
	letters map[string]Letter
	order   []string
	Err     error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{letters: map[string]Letter{}}
}

func (m *MemorySink) Write(ctx context.Context, letters ...Letter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, l := range letters {
		loc := Location("", l)
		if _, ok := m.letters[loc]; ok {
			continue
		}
		m.letters[loc] = l
		m.order = append(m.order, loc)
	}
	return nil
}

// Letters returns the stored letters in write order.
func (m *MemorySink) Letters() []Letter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Letter, 0, len(m.order))
	for _, loc := range m.order {
		out = append(out, m.letters[loc])
	}
	return out
}
