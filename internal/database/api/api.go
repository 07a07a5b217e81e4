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

// Package api defines the queue and run status contracts shared by the apiserver and the processor.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidMessage = errors.New("invalid queue message")
)

// QueueMessage is one unit of queued work. Receipt is set by Dequeue and identifies
// the in-flight copy for Ack and Retry.
type QueueMessage struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
	Receipt     string          `json:"-"`
}

func (m *QueueMessage) IsValid() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if m.Queue == "" {
		return fmt.Errorf("%w: empty queue name", ErrInvalidMessage)
	}
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidMessage)
	}
	if m.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be >= 1, got %d", ErrInvalidMessage, m.MaxAttempts)
	}
	return nil
}

// Exhausted reports whether the current attempt is the last one allowed.
func (m *QueueMessage) Exhausted() bool {
	return m.Attempt+1 >= m.MaxAttempts
}

// WorkQueueClient is an at-least-once work queue. A dequeued message stays in flight
// until it is acked or retried.
type WorkQueueClient interface {
	Enqueue(ctx context.Context, msg *QueueMessage) error
	// Dequeue blocks up to timeout and returns nil without error when nothing arrived.
	Dequeue(ctx context.Context, queue string, timeout time.Duration) (*QueueMessage, error)
	Ack(ctx context.Context, msg *QueueMessage) error
	// Retry requeues the message with its attempt bumped, or moves it to the failed list
	// once attempts are exhausted. It reports whether the message was requeued.
	Retry(ctx context.Context, msg *QueueMessage, cause error) (bool, error)
	// Failed returns the retained failed messages, newest first.
	Failed(ctx context.Context, queue string) ([]*QueueMessage, error)
	// Recover moves in-flight messages left by a crashed consumer back to the queue.
	Recover(ctx context.Context, queue string) (int, error)
	Len(ctx context.Context, queue string) (int64, error)
	Close() error
}

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

const (
	StorageStored  = "stored"
	StorageRetried = "retrying"
	StorageFailed  = "failed"
)

// BatchRecord tracks one batch of a run through submission and polling.
type BatchRecord struct {
	Index     int            `json:"index"`
	Groups    int            `json:"groups"`
	FileID    string         `json:"file_id,omitempty"`
	BatchID   string         `json:"batch_id,omitempty"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
	Storage   *StorageRecord `json:"storage,omitempty"`
}

// StorageRecord is the outcome of the store job of one batch.
type StorageRecord struct {
	Status            string    `json:"status"`
	Attempt           int       `json:"attempt"`
	Entries           int       `json:"entries"`
	Errors            int       `json:"errors"`
	Words             int64     `json:"words"`
	Translations      int64     `json:"translations"`
	SimilarWords      int64     `json:"similar_words"`
	GrammarCategories int64     `json:"grammar_categories"`
	Skipped           int       `json:"skipped"`
	Error             string    `json:"error,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Run struct {
	ID        string        `json:"id"`
	Status    RunStatus     `json:"status"`
	Batches   int           `json:"batches"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Records   []BatchRecord `json:"records"`
}

// RunStatusClient keeps the progress of orchestrator runs. Batch and storage records
// live in separate fields so the two consumers never overwrite each other.
type RunStatusClient interface {
	CreateRun(ctx context.Context, run *Run) error
	SetRunStatus(ctx context.Context, runID string, status RunStatus, errMsg string) error
	PutBatch(ctx context.Context, runID string, rec *BatchRecord) error
	PutStorage(ctx context.Context, runID string, index int, rec *StorageRecord) error
	GetRun(ctx context.Context, runID string) (*Run, error)
}
