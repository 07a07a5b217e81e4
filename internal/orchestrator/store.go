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

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	db "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
	"github.com/llm-d-incubation/lexicon-batch/internal/extractor"
	"github.com/llm-d-incubation/lexicon-batch/internal/lexicon"
	"github.com/llm-d-incubation/lexicon-batch/internal/persistence"
	"github.com/llm-d-incubation/lexicon-batch/internal/processor/metrics"
	"github.com/llm-d-incubation/lexicon-batch/internal/util/logging"
)

// maxLoggedErrors caps the per-record error lines of one store job.
const maxLoggedErrors = 20

// StoreHandler consumes store-batch-results messages: classify, cluster, persist.
type StoreHandler struct {
	extractor *extractor.Extractor
	engine    *lexicon.Engine
	writer    *persistence.Writer
	runs      db.RunStatusClient
}

func NewStoreHandler(ex *extractor.Extractor, engine *lexicon.Engine, writer *persistence.Writer, runs db.RunStatusClient) (*StoreHandler, error) {
	if ex == nil || engine == nil || writer == nil || runs == nil {
		return nil, fmt.Errorf("store handler is missing a dependency")
	}
	return &StoreHandler{extractor: ex, engine: engine, writer: writer, runs: runs}, nil
}

func (h *StoreHandler) Handle(ctx context.Context, msg *db.QueueMessage) error {
	p, err := decode[StorePayload](msg)
	if err != nil {
		return err
	}
	logger := klog.FromContext(ctx).WithValues("runID", p.RunID, "batchID", p.BatchID, "index", p.Index)
	ctx = klog.NewContext(ctx, logger)
	start := time.Now()

	rec := &db.StorageRecord{Attempt: msg.Attempt}
	stats, result, err := h.store(ctx, p)
	metrics.RecordJobDuration(time.Since(start), QueueStore, metrics.GetSizeBucket(len(p.Bundle.Records)))
	if result != nil {
		rec.Entries, rec.Errors = len(result.Entries), len(result.Errors)
	}
	if err != nil {
		rec.Status, rec.Error = db.StorageRetried, err.Error()
		if msg.Exhausted() {
			rec.Status = db.StorageFailed
		}
		h.putStorage(ctx, p, rec)
		return err
	}

	rec.Status = db.StorageStored
	rec.Words, rec.Translations = stats.Words, stats.Translations
	rec.SimilarWords, rec.GrammarCategories = stats.SimilarWords, stats.GrammarCategories
	rec.Skipped = stats.Skipped
	h.putStorage(ctx, p, rec)
	return nil
}

func (h *StoreHandler) store(ctx context.Context, p *StorePayload) (*persistence.Stats, *extractor.Result, error) {
	logger := klog.FromContext(ctx)

	bundle := p.Bundle
	if bundle.BatchID == "" {
		bundle.BatchID = p.BatchID
	}
	result, err := h.extractor.Classify(ctx, &bundle)
	if err != nil {
		return nil, nil, err
	}
	logErrors(logger, result)

	processed := h.engine.Process(ctx, result.Entries)
	stats, err := h.writer.Write(ctx, p.Languages, processed)
	if err != nil {
		return nil, result, fmt.Errorf("persist batch %s: %w", p.BatchID, err)
	}
	return stats, result, nil
}

func logErrors(logger klog.Logger, result *extractor.Result) {
	if len(result.Errors) == 0 {
		return
	}
	counts := map[string]int{}
	for i, e := range result.Errors {
		counts[e.Kind]++
		if i < maxLoggedErrors {
			logger.V(logging.DEBUG).Info("Record not translated", "customID", e.CustomID, "kind", e.Kind, "payload", string(e.Payload))
		}
	}
	logger.Info("Batch has untranslated records", "errors", counts[extractor.KindError], "refusals", counts[extractor.KindRefusal])
}

func (h *StoreHandler) putStorage(ctx context.Context, p *StorePayload, rec *db.StorageRecord) {
	rec.UpdatedAt = time.Now().UTC()
	if err := h.runs.PutStorage(ctx, p.RunID, p.Index, rec); err != nil {
		klog.FromContext(ctx).Error(err, "Failed to record storage state", "status", rec.Status)
	}
}
