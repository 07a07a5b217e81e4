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

// The file defines the Batch API data structures used by the OpenAI-compatible provider.
package openai

// BatchStatus is the lifecycle status reported by the provider for a batch.
type BatchStatus string

const (
	StatusValidating BatchStatus = "validating"
	StatusInProgress BatchStatus = "in_progress"
	StatusFinalizing BatchStatus = "finalizing"
	StatusCompleted  BatchStatus = "completed"
	StatusFailed     BatchStatus = "failed"
	StatusError      BatchStatus = "error"
	StatusExpired    BatchStatus = "expired"
	StatusCancelling BatchStatus = "cancelling"
	StatusCancelled  BatchStatus = "cancelled"
)

const (
	// EndpointChatCompletions is the only endpoint kind the pipeline submits to.
	EndpointChatCompletions = "/v1/chat/completions"

	// CompletionWindow24h is the only completion window the provider accepts today.
	CompletionWindow24h = "24h"
)

func (s BatchStatus) String() string {
	return string(s)
}

// IsTerminalFailure reports whether the status ends the batch without usable results.
// cancelling is included: once a cancel was requested the batch never completes.
func (s BatchStatus) IsTerminalFailure() bool {
	switch s {
	case StatusFailed, StatusError, StatusExpired, StatusCancelled, StatusCancelling:
		return true
	}
	return false
}

func (s BatchStatus) IsCompleted() bool {
	return s == StatusCompleted
}

// IsInFlight reports whether the provider is still working on the batch.
func (s BatchStatus) IsInFlight() bool {
	switch s {
	case StatusValidating, StatusInProgress, StatusFinalizing:
		return true
	}
	return false
}

// IsKnown reports whether the status is one of the documented values.
func (s BatchStatus) IsKnown() bool {
	return s.IsCompleted() || s.IsInFlight() || s.IsTerminalFailure()
}

// https://platform.openai.com/docs/api-reference/batch
type Batch struct {
	ID string `json:"id"`

	// The object type, which is always `batch`.
	Object string `json:"object"`

	// The OpenAI API endpoint used by the batch.
	Endpoint string `json:"endpoint"`

	Errors *BatchErrors `json:"errors,omitempty"`

	// The ID of the input file for the batch.
	InputFileID string `json:"input_file_id"`

	// The time frame within which the batch should be processed.
	CompletionWindow string `json:"completion_window"`

	// The current status of the batch.
	Status BatchStatus `json:"status"`

	// The ID of the file containing the outputs of successfully executed requests.
	OutputFileID string `json:"output_file_id,omitempty"`

	// The ID of the file containing the outputs of requests with errors.
	ErrorFileID string `json:"error_file_id,omitempty"`

	// The Unix timestamp (in seconds) for when the batch was created.
	CreatedAt int64 `json:"created_at"`

	InProgressAt int64 `json:"in_progress_at,omitempty"`
	ExpiresAt    int64 `json:"expires_at,omitempty"`
	FinalizingAt int64 `json:"finalizing_at,omitempty"`
	CompletedAt  int64 `json:"completed_at,omitempty"`
	FailedAt     int64 `json:"failed_at,omitempty"`
	ExpiredAt    int64 `json:"expired_at,omitempty"`
	CancellingAt int64 `json:"cancelling_at,omitempty"`
	CancelledAt  int64 `json:"cancelled_at,omitempty"`

	RequestCounts BatchRequestCounts `json:"request_counts"`

	// Caller supplied key-value pairs. The provider accepts at most 16 keys.
	Metadata map[string]string `json:"metadata,omitempty"`
}

type BatchErrorsData struct {

	// An error code identifying the error type.
	Code string `json:"code,omitempty"`

	// A human-readable message providing more details about the error.
	Message string `json:"message,omitempty"`

	// The name of the parameter that caused the error, if applicable.
	Param *string `json:"param,omitempty"`

	// The line number of the input file where the error occurred, if applicable.
	Line *int32 `json:"line,omitempty"`
}

type BatchErrors struct {

	// The object type, which is always `list`.
	Object string `json:"object,omitempty"`

	Data []BatchErrorsData `json:"data,omitempty"`
}

// BatchRequestCounts - The request counts for different statuses within the batch.
type BatchRequestCounts struct {
	Total     int32 `json:"total"`
	Completed int32 `json:"completed"`
	Failed    int32 `json:"failed"`
}

// BatchList is one page of the list batches endpoint.
type BatchList struct {
	Object  string  `json:"object"`
	Data    []Batch `json:"data"`
	FirstID string  `json:"first_id,omitempty"`
	LastID  string  `json:"last_id,omitempty"`
	HasMore bool    `json:"has_more"`
}

// CreateBatchRequest is the body of POST /v1/batches.
type CreateBatchRequest struct {
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}
