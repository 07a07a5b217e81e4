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

// Package fake provides an in-memory batchclient.Client with scripted status sequences.
package fake

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
)

// Step is one scripted GetStatus answer. Err takes precedence over Status.
type Step struct {
	Status openai.BatchStatus
	Err    error
}

type Results struct {
	Output string
	Errors string
	Err    error
}

type Upload struct {
	Name string
	Data []byte
}

// Client hands out batch ids batch_1, batch_2 and so on in creation order.
// The last scripted step of a batch repeats forever.
type Client struct {
	mu sync.Mutex

	Steps     map[string][]Step
	Results   map[string]Results
	UploadErr error
	CreateErr error

	Uploads     []Upload
	Created     []openai.CreateBatchRequest
	Cancelled   []string
	statusCalls map[string]int
	batches     map[string]*openai.Batch
}

var _ batchclient.Client = (*Client)(nil)

func NewClient() *Client {
	return &Client{
		Steps:       map[string][]Step{},
		Results:     map[string]Results{},
		statusCalls: map[string]int{},
		batches:     map[string]*openai.Batch{},
	}
}

// Script sets the status sequence returned for batchID.
func (c *Client) Script(batchID string, steps ...Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Steps[batchID] = steps
}

func (c *Client) SetResults(batchID, output, errs string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Results[batchID] = Results{Output: output, Errors: errs}
}

// StatusCalls returns the number of GetStatus calls made for batchID.
func (c *Client) StatusCalls(batchID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusCalls[batchID]
}

func (c *Client) UploadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Uploads)
}

func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (*openai.File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &batchclient.UploadError{Name: name, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.UploadErr != nil {
		return nil, &batchclient.UploadError{Name: name, Err: c.UploadErr}
	}
	c.Uploads = append(c.Uploads, Upload{Name: name, Data: data})
	return &openai.File{
		ID:       fmt.Sprintf("file-%d", len(c.Uploads)),
		Object:   "file",
		Bytes:    int64(len(data)),
		Filename: name,
		Purpose:  openai.FilePurposeBatch,
	}, nil
}

func (c *Client) CreateJob(ctx context.Context, req openai.CreateBatchRequest) (*openai.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CreateErr != nil {
		return nil, c.CreateErr
	}
	c.Created = append(c.Created, req)
	b := &openai.Batch{
		ID:               fmt.Sprintf("batch_%d", len(c.Created)),
		Object:           "batch",
		Endpoint:         req.Endpoint,
		InputFileID:      req.InputFileID,
		CompletionWindow: req.CompletionWindow,
		Status:           openai.StatusValidating,
		Metadata:         req.Metadata,
	}
	c.batches[b.ID] = b
	cp := *b
	return &cp, nil
}

func (c *Client) GetStatus(ctx context.Context, batchID string) (*openai.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.statusCalls[batchID]
	c.statusCalls[batchID] = n + 1

	steps, ok := c.Steps[batchID]
	if !ok || len(steps) == 0 {
		if b, ok := c.batches[batchID]; ok {
			cp := *b
			return &cp, nil
		}
		return nil, &batchclient.NotFoundError{Resource: "batch", ID: batchID}
	}
	step := steps[min(n, len(steps)-1)]
	if step.Err != nil {
		return nil, step.Err
	}
	b := openai.Batch{ID: batchID, Object: "batch", Status: step.Status}
	if existing, ok := c.batches[batchID]; ok {
		b = *existing
		b.Status = step.Status
	}
	return &b, nil
}

func (c *Client) FetchResults(ctx context.Context, batchID string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.Results[batchID]
	if !ok {
		return "", "", nil
	}
	return r.Output, r.Errors, r.Err
}

func (c *Client) Cancel(ctx context.Context, batchID string) (*openai.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.batches[batchID]
	if !ok {
		return nil, &batchclient.NotFoundError{Resource: "batch", ID: batchID}
	}
	b.Status = openai.StatusCancelling
	c.Cancelled = append(c.Cancelled, batchID)
	cp := *b
	return &cp, nil
}

func (c *Client) List(ctx context.Context, limit int, after string) (*openai.BatchList, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.batches))
	for id := range c.batches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := 0
	if after != "" {
		start = sort.SearchStrings(ids, after) + 1
	}
	if limit <= 0 {
		limit = 20
	}
	end := min(start+limit, len(ids))
	list := &openai.BatchList{Object: "list"}
	for _, id := range ids[min(start, len(ids)):end] {
		list.Data = append(list.Data, *c.batches[id])
	}
	if len(list.Data) > 0 {
		list.FirstID = list.Data[0].ID
		list.LastID = list.Data[len(list.Data)-1].ID
	}
	list.HasMore = end < len(ids)
	return list, nil
}
