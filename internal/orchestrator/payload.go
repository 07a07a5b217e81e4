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

// Package orchestrator moves runs through the submit and store queues.
package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/llm-d-incubation/lexicon-batch/internal/corpus"
	db "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
	"github.com/llm-d-incubation/lexicon-batch/internal/extractor"
	"github.com/llm-d-incubation/lexicon-batch/internal/jobpackage"
	"github.com/llm-d-incubation/lexicon-batch/internal/persistence"
)

const (
	QueueSubmit = "submit-and-poll-batches"
	QueueStore  = "store-batch-results"
)

// Batch record stages, in the order a healthy batch goes through them.
const (
	StageSubmitted = "submitted"
	StageQueued    = "results_queued"
	StageFailed    = "failed"
)

// SubmitPayload is the body of a submit-and-poll-batches message. One message covers a whole run.
type SubmitPayload struct {
	RunID     string                   `json:"run_id"`
	Batches   []corpus.Batch           `json:"batches"`
	Prompt    jobpackage.PromptConfig  `json:"prompt"`
	Languages persistence.LanguagePair `json:"languages"`
	IDOffset  int                      `json:"id_offset"`
}

// StorePayload is the body of a store-batch-results message. It carries the parsed records
// so the store job never goes back to the provider.
type StorePayload struct {
	RunID     string                   `json:"run_id"`
	Index     int                      `json:"batch_index"`
	BatchID   string                   `json:"batch_id"`
	Languages persistence.LanguagePair `json:"languages"`
	Bundle    extractor.Bundle         `json:"bundle"`
}

func decode[T any](msg *db.QueueMessage) (*T, error) {
	var p T
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", msg.Queue, err)
	}
	return &p, nil
}
