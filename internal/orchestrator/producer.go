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
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/corpus"
	db "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
	"github.com/llm-d-incubation/lexicon-batch/internal/jobpackage"
	"github.com/llm-d-incubation/lexicon-batch/internal/persistence"
)

var ErrEmptyRun = errors.New("run has no batches")

type SubmitRequest struct {
	Batches   []corpus.Batch
	Prompt    jobpackage.PromptConfig
	Languages persistence.LanguagePair
	IDOffset  int
}

// Producer starts runs by putting one message on the submit queue.
type Producer struct {
	queue       db.WorkQueueClient
	runs        db.RunStatusClient
	maxAttempts int
}

func NewProducer(queue db.WorkQueueClient, runs db.RunStatusClient, maxAttempts int) *Producer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Producer{queue: queue, runs: runs, maxAttempts: maxAttempts}
}

// SubmitRun records a queued run and enqueues it. It returns the run id.
func (p *Producer) SubmitRun(ctx context.Context, req SubmitRequest) (string, error) {
	if len(req.Batches) == 0 {
		return "", ErrEmptyRun
	}
	for i, b := range req.Batches {
		if len(b) == 0 {
			return "", fmt.Errorf("batch %d is empty", i)
		}
	}
	if req.Languages.Source == "" || req.Languages.Target == "" {
		req.Languages = persistence.DefaultLanguagePair()
	}
	if req.IDOffset < 1 {
		req.IDOffset = 1
	}
	// defaults are resolved here so an empty format is not read back as plain text
	req.Prompt = req.Prompt.WithDefaults()

	runID := uuid.NewString()
	logger := klog.FromContext(ctx).WithValues("runID", runID)

	payload, err := json.Marshal(&SubmitPayload{
		RunID:     runID,
		Batches:   req.Batches,
		Prompt:    req.Prompt,
		Languages: req.Languages,
		IDOffset:  req.IDOffset,
	})
	if err != nil {
		return "", fmt.Errorf("encode submit payload: %w", err)
	}

	now := time.Now().UTC()
	if err := p.runs.CreateRun(ctx, &db.Run{
		ID:        runID,
		Status:    db.RunQueued,
		Batches:   len(req.Batches),
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	if err := p.queue.Enqueue(ctx, &db.QueueMessage{
		ID:          runID,
		Queue:       QueueSubmit,
		Payload:     payload,
		MaxAttempts: p.maxAttempts,
	}); err != nil {
		if serr := p.runs.SetRunStatus(ctx, runID, db.RunFailed, err.Error()); serr != nil {
			logger.Error(serr, "Failed to mark run as failed")
		}
		return "", fmt.Errorf("enqueue run: %w", err)
	}

	logger.Info("Run enqueued", "batches", len(req.Batches), "groups", corpus.CountGroups(req.Batches))
	return runID, nil
}
