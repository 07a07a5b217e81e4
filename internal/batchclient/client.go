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

// Package batchclient talks to an OpenAI compatible batch API.
package batchclient

import (
	"context"
	"io"

	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
)

// Client is the remote batch provider.
type Client interface {
	// Upload stores a batch input file. Failures are returned as *UploadError.
	Upload(ctx context.Context, name string, r io.Reader) (*openai.File, error)

	CreateJob(ctx context.Context, req openai.CreateBatchRequest) (*openai.Batch, error)

	// GetStatus returns *NotFoundError for an unknown id and *TransientError for
	// failures worth repeating.
	GetStatus(ctx context.Context, batchID string) (*openai.Batch, error)

	// FetchResults returns the raw output and error files of a batch. Either may be empty.
	FetchResults(ctx context.Context, batchID string) (output, errors string, err error)

	Cancel(ctx context.Context, batchID string) (*openai.Batch, error)

	// List returns one page of batches, newest first. An empty after starts from the top.
	List(ctx context.Context, limit int, after string) (*openai.BatchList, error)
}

// ListAll pages through List until the provider reports no more batches.
func ListAll(ctx context.Context, c Client, pageSize int) ([]openai.Batch, error) {
	var (
		all   []openai.Batch
		after string
	)
	for {
		page, err := c.List(ctx, pageSize, after)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		if !page.HasMore || len(page.Data) == 0 {
			return all, nil
		}
		after = page.LastID
		if after == "" {
			after = page.Data[len(page.Data)-1].ID
		}
	}
}
