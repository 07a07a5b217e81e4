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

// Package extractor turns raw batch output and error files into translation entries and error records.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/deadletter"
	"github.com/llm-d-incubation/lexicon-batch/internal/processor/metrics"
	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
	"github.com/llm-d-incubation/lexicon-batch/internal/util/logging"
)

const (
	streamOutput = "output"
	streamErrors = "errors"

	maxLineSize = 16 << 20
)

// Bundle holds the decoded records of one batch, output lines first.
type Bundle struct {
	BatchID   string                `json:"batch_id"`
	Records   []openai.ResultRecord `json:"records"`
	Malformed int                   `json:"malformed"`
}

type Extractor struct {
	sink deadletter.Sink
}

// New returns an extractor writing undecodable lines to sink. A nil sink only logs.
func New(sink deadletter.Sink) *Extractor {
	if sink == nil {
		sink = deadletter.LogSink{}
	}
	return &Extractor{sink: sink}
}

// Extract parses both streams and classifies the records.
func (e *Extractor) Extract(ctx context.Context, batchID, output, errors string) (*Result, error) {
	bundle, err := e.Parse(ctx, batchID, output, errors)
	if err != nil {
		return nil, err
	}
	return e.Classify(ctx, bundle)
}

// Parse decodes every non-blank line. Lines that do not decode, or exceed maxLineSize, go to
// the dead letter sink and are otherwise skipped. Parse never fails on line content.
func (e *Extractor) Parse(ctx context.Context, batchID, output, errors string) (*Bundle, error) {
	logger := klog.FromContext(ctx).WithValues("batchID", batchID)

	bundle := &Bundle{BatchID: batchID}
	var letters []deadletter.Letter
	malformed := func(stream string, lineNo int, line string) {
		letters = append(letters, deadletter.Letter{
			BatchID: batchID,
			Reason:  deadletter.ReasonMalformedLine,
			Key:     fmt.Sprintf("%s-%d", stream, lineNo),
			Line:    deadletter.Clip(line, deadletter.DefaultMaxLetterSize),
		})
	}
	for _, stream := range []struct{ name, text string }{
		{streamOutput, output},
		{streamErrors, errors},
	} {
		rest, lineNo := stream.text, 0
		for rest != "" {
			var line string
			line, rest, _ = strings.Cut(rest, "\n")
			lineNo++
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if len(line) > maxLineSize {
				logger.Info("Skipping oversized result line", "stream", stream.name, "line", lineNo, "size", len(line))
				malformed(stream.name, lineNo, line)
				continue
			}
			var rec openai.ResultRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				logger.V(logging.DEBUG).Info("Skipping malformed result line", "stream", stream.name, "line", lineNo, "err", err)
				malformed(stream.name, lineNo, line)
				continue
			}
			bundle.Records = append(bundle.Records, rec)
		}
	}

	bundle.Malformed = len(letters)
	metrics.RecordResultRecords(metrics.RecordMalformed, len(letters))
	if len(letters) > 0 {
		if err := e.sink.Write(ctx, letters...); err != nil {
			logger.Error(err, "Failed to write dead letters", "count", len(letters))
		}
		logger.Info("Skipped malformed result lines", "count", len(letters))
	}
	return bundle, nil
}
