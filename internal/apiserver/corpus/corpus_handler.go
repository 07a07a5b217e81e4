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

// The file provides HTTP handlers for corpus endpoints.
// A corpus is either uploaded batch by batch while the request waits, or handed to the processor as a run.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/common"
	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/metrics"
	splitter "github.com/llm-d-incubation/lexicon-batch/internal/corpus"
	"github.com/llm-d-incubation/lexicon-batch/internal/jobpackage"
	"github.com/llm-d-incubation/lexicon-batch/internal/orchestrator"
	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
)

const (
	UploadPath  = "/v1/corpus/upload"
	ProcessPath = "/v1/corpus/process"

	HeaderSystemPrompt = "X-System-Prompt"
	HeaderUserPrefix   = "X-User-Prefix"
)

// Stager uploads the package of one batch.
type Stager interface {
	Stage(ctx context.Context, builder *jobpackage.Builder, batch splitter.Batch, offset int) (*openai.File, error)
}

// Submitter starts a queued run.
type Submitter interface {
	SubmitRun(ctx context.Context, req orchestrator.SubmitRequest) (string, error)
}

type UploadResponse struct {
	Files []openai.File `json:"files"`
}

type ProcessResponse struct {
	RunID   string `json:"run_id"`
	Batches int    `json:"batches"`
	Groups  int    `json:"groups"`
}

type CorpusApiHandler struct {
	config    *common.ServerConfig
	stager    Stager
	submitter Submitter
}

func NewCorpusApiHandler(config *common.ServerConfig, stager Stager, submitter Submitter) *CorpusApiHandler {
	return &CorpusApiHandler{config: config, stager: stager, submitter: submitter}
}

func (c *CorpusApiHandler) GetRoutes() []common.Route {
	return []common.Route{
		{
			Method:      http.MethodPost,
			Pattern:     UploadPath,
			HandlerFunc: c.UploadCorpus,
		},
		{
			Method:      http.MethodPost,
			Pattern:     ProcessPath,
			HandlerFunc: c.ProcessCorpus,
		},
	}
}

type corpusRequest struct {
	batches  []splitter.Batch
	prompt   jobpackage.PromptConfig
	idOffset int
}

// parseRequest reads the body and query of a corpus request. On failure the error
// response has already been written.
func (c *CorpusApiHandler) parseRequest(w http.ResponseWriter, r *http.Request) (*corpusRequest, bool) {
	ctx := r.Context()
	q := r.URL.Query()

	wordCapacity, err := positiveInt(q.Get("word_capacity"), c.config.WordCapacity)
	if err != nil {
		common.WriteBadRequest(ctx, w, fmt.Sprintf("word_capacity: %v", err))
		return nil, false
	}
	maxBatchSize, err := positiveInt(q.Get("max_batch_size"), c.config.MaxBatchSize)
	if err != nil {
		common.WriteBadRequest(ctx, w, fmt.Sprintf("max_batch_size: %v", err))
		return nil, false
	}
	idOffset, err := unitOffset(ctx, q.Get("id_offset"))
	if err != nil {
		common.WriteBadRequest(ctx, w, fmt.Sprintf("id_offset: %v", err))
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.WriteAPIError(ctx, w, http.StatusRequestEntityTooLarge, common.ErrTypeInvalidRequest, "corpus_too_large",
				fmt.Sprintf("corpus exceeds %d bytes", tooLarge.Limit))
			return nil, false
		}
		common.WriteBadRequest(ctx, w, fmt.Sprintf("failed to read corpus: %v", err))
		return nil, false
	}

	batches, err := splitter.Split(body, q.Get("format"), wordCapacity, maxBatchSize)
	if err != nil {
		common.WriteBadRequest(ctx, w, err.Error())
		return nil, false
	}
	if len(batches) == 0 {
		common.WriteBadRequest(ctx, w, "corpus contains no words")
		return nil, false
	}

	prompt := jobpackage.PromptConfig{
		SystemPrompt: r.Header.Get(HeaderSystemPrompt),
		UserPrefix:   r.Header.Get(HeaderUserPrefix),
	}
	metrics.RecordCorpusWords(splitter.CountWords(batches))
	return &corpusRequest{batches: batches, prompt: prompt.WithDefaults(), idOffset: idOffset}, true
}

// UploadCorpus uploads one input file per batch and returns them in batch order.
// The first failing batch ends the request.
func (c *CorpusApiHandler) UploadCorpus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := klog.FromContext(ctx)

	req, ok := c.parseRequest(w, r)
	if !ok {
		return
	}

	builder := jobpackage.NewBuilder(req.prompt)
	offsets := orchestrator.Offsets(req.batches, req.idOffset)
	files := make([]openai.File, 0, len(req.batches))
	for i, batch := range req.batches {
		file, err := c.stager.Stage(ctx, builder, batch, offsets[i])
		if err != nil {
			logger.Error(err, "Failed to upload batch", "index", i, "uploaded", len(files))
			if errors.Is(err, jobpackage.ErrPayloadTooLarge) {
				common.WriteAPIError(ctx, w, http.StatusRequestEntityTooLarge, common.ErrTypeInvalidRequest, "payload_too_large",
					fmt.Sprintf("batch %d: %v", i, err))
				return
			}
			common.WriteProviderError(ctx, w, fmt.Errorf("batch %d: %w", i, err))
			return
		}
		files = append(files, *file)
	}

	logger.Info("Corpus uploaded", "batches", len(files), "groups", splitter.CountGroups(req.batches))
	common.WriteJSON(ctx, w, http.StatusOK, UploadResponse{Files: files})
}

// ProcessCorpus enqueues the corpus as a run and returns its id.
func (c *CorpusApiHandler) ProcessCorpus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := c.parseRequest(w, r)
	if !ok {
		return
	}

	runID, err := c.submitter.SubmitRun(ctx, orchestrator.SubmitRequest{
		Batches:   req.batches,
		Prompt:    req.prompt,
		Languages: c.config.Languages,
		IDOffset:  req.idOffset,
	})
	if err != nil {
		common.WriteInternalError(ctx, w, err)
		return
	}

	common.WriteJSON(ctx, w, http.StatusAccepted, ProcessResponse{
		RunID:   runID,
		Batches: len(req.batches),
		Groups:  splitter.CountGroups(req.batches),
	})
}

func positiveInt(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", raw)
	}
	if n < 1 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}

// unitOffset accepts a fractional offset and truncates it.
func unitOffset(ctx context.Context, raw string) (int, error) {
	if raw == "" {
		return 1, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	t := math.Trunc(f)
	if t < 1 || t > math.MaxInt32 {
		return 0, fmt.Errorf("must be between 1 and %d, got %v", math.MaxInt32, f)
	}
	if t != f {
		klog.FromContext(ctx).Info("Unit id offset is not an integer, truncating", "offset", f, "truncated", t)
	}
	return int(t), nil
}
