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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	"github.com/llm-d-incubation/lexicon-batch/internal/corpus"
	db "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
	"github.com/llm-d-incubation/lexicon-batch/internal/extractor"
	"github.com/llm-d-incubation/lexicon-batch/internal/jobpackage"
	"github.com/llm-d-incubation/lexicon-batch/internal/poller"
	"github.com/llm-d-incubation/lexicon-batch/internal/processor/metrics"
	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
)

// BatchError is a failure that ends one batch of a run but not the run.
type BatchError struct {
	Index  int
	Reason string
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d: %s: %v", e.Index, e.Reason, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// failureReason maps a batch error to its metrics label.
func failureReason(stage string, err error) string {
	var (
		terminal  *poller.TerminalJobFailure
		exhausted *poller.RetriesExhaustedError
		upload    *batchclient.UploadError
	)
	switch {
	case errors.Is(err, jobpackage.ErrPayloadTooLarge):
		return metrics.ReasonPayloadTooLarge
	case errors.As(err, &upload):
		return metrics.ReasonUploadFailed
	case errors.As(err, &terminal):
		return metrics.ReasonTerminalStatus
	case errors.As(err, &exhausted):
		return metrics.ReasonRetriesExhausted
	case stage != "":
		return stage
	default:
		return metrics.ReasonSystemError
	}
}

// Deps are the components shared by the submit and store handlers.
type Deps struct {
	Provider  batchclient.Client
	Writer    *jobpackage.Writer
	Poller    *poller.Poller
	Extractor *extractor.Extractor
	Queue     db.WorkQueueClient
	Runs      db.RunStatusClient
}

func (d Deps) validate() error {
	if d.Provider == nil || d.Writer == nil || d.Poller == nil || d.Extractor == nil || d.Queue == nil || d.Runs == nil {
		return fmt.Errorf("submit handler is missing a dependency")
	}
	return nil
}

// SubmitHandler consumes submit-and-poll-batches messages, one run at a time.
type SubmitHandler struct {
	deps             Deps
	stager           *Stager
	storeMaxAttempts int
}

func NewSubmitHandler(deps Deps, storeMaxAttempts int) (*SubmitHandler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if storeMaxAttempts < 1 {
		storeMaxAttempts = 1
	}
	return &SubmitHandler{
		deps:             deps,
		stager:           NewStager(deps.Provider, deps.Writer),
		storeMaxAttempts: storeMaxAttempts,
	}, nil
}

// Handle processes the batches of a run in order. A batch that fails is recorded and skipped.
// Batches already handed to the store queue by an earlier delivery are not submitted again, and
// a batch that was created but not finished is polled under its existing id.
func (h *SubmitHandler) Handle(ctx context.Context, msg *db.QueueMessage) error {
	p, err := decode[SubmitPayload](msg)
	if err != nil {
		return err
	}
	logger := klog.FromContext(ctx).WithValues("runID", p.RunID)
	ctx = klog.NewContext(ctx, logger)

	previous := map[int]db.BatchRecord{}
	if run, err := h.deps.Runs.GetRun(ctx, p.RunID); err == nil {
		for _, rec := range run.Records {
			previous[rec.Index] = rec
		}
	} else if !errors.Is(err, db.ErrNotFound) {
		logger.Error(err, "Failed to read run state, starting from the first batch")
	}
	h.setRunStatus(ctx, p.RunID, db.RunRunning, "")

	builder := jobpackage.NewBuilder(p.Prompt)
	offsets := Offsets(p.Batches, p.IDOffset)
	failed := 0
	for i, batch := range p.Batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := previous[i]
		if rec.Status == StageQueued || rec.Status == StageFailed {
			logger.Info("Skipping batch handled by an earlier delivery", "index", i, "status", rec.Status)
			if rec.Status == StageFailed {
				failed++
			}
			continue
		}
		rec.Index, rec.Groups = i, len(batch)

		err := h.runBatch(ctx, p, builder, batch, offsets[i], &rec)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var be *BatchError
		if !errors.As(err, &be) {
			be = &BatchError{Index: i, Reason: metrics.ReasonSystemError, Err: err}
		}
		failed++
		metrics.RecordBatchFailure(be.Reason)
		logger.Error(be.Err, "Batch failed, continuing with the next one", "index", i, "batchID", rec.BatchID, "reason", be.Reason)
		rec.Status, rec.Error = StageFailed, be.Error()
		h.putBatch(ctx, p.RunID, &rec)
	}

	switch {
	case failed == len(p.Batches):
		h.setRunStatus(ctx, p.RunID, db.RunFailed, "all batches failed")
	case failed > 0:
		h.setRunStatus(ctx, p.RunID, db.RunCompleted, fmt.Sprintf("%d of %d batches failed", failed, len(p.Batches)))
	default:
		h.setRunStatus(ctx, p.RunID, db.RunCompleted, "")
	}
	logger.Info("Run processed", "batches", len(p.Batches), "failed", failed)
	return nil
}

func (h *SubmitHandler) runBatch(ctx context.Context, p *SubmitPayload, builder *jobpackage.Builder, batch corpus.Batch, offset int, rec *db.BatchRecord) error {
	logger := klog.FromContext(ctx).WithValues("index", rec.Index)
	start := time.Now()
	defer func() {
		metrics.RecordJobDuration(time.Since(start), QueueSubmit, metrics.GetSizeBucket(len(batch)))
	}()
	fail := func(stage string, err error) error {
		return &BatchError{Index: rec.Index, Reason: failureReason(stage, err), Err: err}
	}

	if rec.BatchID == "" {
		file, err := h.stager.Stage(ctx, builder, batch, offset)
		if err != nil {
			return fail("", err)
		}
		rec.FileID = file.ID

		job, err := h.deps.Provider.CreateJob(ctx, openai.CreateBatchRequest{
			InputFileID:      file.ID,
			Endpoint:         openai.EndpointChatCompletions,
			CompletionWindow: openai.CompletionWindow24h,
			Metadata: map[string]string{
				"run_id":      p.RunID,
				"batch_index": strconv.Itoa(rec.Index),
			},
		})
		if err != nil {
			return fail(metrics.ReasonCreateFailed, err)
		}
		rec.BatchID = job.ID
		rec.Status = StageSubmitted
		h.putBatch(ctx, p.RunID, rec)
		logger.Info("Batch submitted", "batchID", job.ID, "groups", len(batch))
	} else {
		logger.Info("Resuming batch", "batchID", rec.BatchID)
	}

	job, err := h.deps.Poller.Poll(ctx, rec.BatchID)
	if err != nil {
		return fail("", err)
	}
	rec.Status = string(job.Status)
	h.putBatch(ctx, p.RunID, rec)

	output, errs, err := h.deps.Provider.FetchResults(ctx, rec.BatchID)
	if err != nil {
		return fail(metrics.ReasonFetchFailed, err)
	}
	bundle, err := h.deps.Extractor.Parse(ctx, rec.BatchID, output, errs)
	if err != nil {
		return fail(metrics.ReasonFetchFailed, err)
	}

	payload, err := json.Marshal(&StorePayload{
		RunID:     p.RunID,
		Index:     rec.Index,
		BatchID:   rec.BatchID,
		Languages: p.Languages,
		Bundle:    *bundle,
	})
	if err != nil {
		return fail(metrics.ReasonEnqueueFailed, err)
	}
	if err := h.deps.Queue.Enqueue(ctx, &db.QueueMessage{
		Queue:       QueueStore,
		Payload:     payload,
		MaxAttempts: h.storeMaxAttempts,
	}); err != nil {
		return fail(metrics.ReasonEnqueueFailed, err)
	}

	rec.Status = StageQueued
	h.putBatch(ctx, p.RunID, rec)
	logger.Info("Batch results queued for storage", "batchID", rec.BatchID, "records", len(bundle.Records), "malformed", bundle.Malformed)
	return nil
}

// Run store writes only log on failure. The run state is informational.
func (h *SubmitHandler) putBatch(ctx context.Context, runID string, rec *db.BatchRecord) {
	rec.UpdatedAt = time.Now().UTC()
	if err := h.deps.Runs.PutBatch(ctx, runID, rec); err != nil {
		klog.FromContext(ctx).Error(err, "Failed to record batch state", "index", rec.Index, "status", rec.Status)
	}
}

func (h *SubmitHandler) setRunStatus(ctx context.Context, runID string, status db.RunStatus, msg string) {
	if err := h.deps.Runs.SetRunStatus(ctx, runID, status, msg); err != nil {
		klog.FromContext(ctx).Error(err, "Failed to record run status", "status", status)
	}
}
