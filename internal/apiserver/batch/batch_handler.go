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

// The file provides HTTP handlers for batch-related API endpoints.
// Batches live at the provider; these endpoints list, retrieve and cancel them and extract their results.
package batch

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/common"
	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	"github.com/llm-d-incubation/lexicon-batch/internal/extractor"
	"github.com/llm-d-incubation/lexicon-batch/internal/lexicon"
	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ResultsResponse carries the clustered entries and the failed requests of a batch.
type ResultsResponse struct {
	BatchID string                   `json:"batch_id"`
	Entries []lexicon.ProcessedEntry `json:"entries"`
	Errors  []extractor.ErrorInfo    `json:"errors"`
}

type BatchApiHandler struct {
	client    batchclient.Client
	extractor *extractor.Extractor
	engine    *lexicon.Engine
}

func NewBatchApiHandler(client batchclient.Client, ex *extractor.Extractor, engine *lexicon.Engine) *BatchApiHandler {
	return &BatchApiHandler{client: client, extractor: ex, engine: engine}
}

func (c *BatchApiHandler) GetRoutes() []common.Route {
	return []common.Route{
		{
			Method:      http.MethodPost,
			Pattern:     "/v1/batches/{batch_id}/cancel",
			HandlerFunc: c.CancelBatch,
		},
		{
			Method:      http.MethodGet,
			Pattern:     "/v1/batches",
			HandlerFunc: c.ListBatches,
		},
		{
			Method:      http.MethodGet,
			Pattern:     "/v1/batches/{batch_id}",
			HandlerFunc: c.RetrieveBatch,
		},
		{
			Method:      http.MethodGet,
			Pattern:     "/v1/batches/{batch_id}/results",
			HandlerFunc: c.BatchResults,
		},
	}
}

func (c *BatchApiHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := r.PathValue("batch_id")

	batch, err := c.client.Cancel(ctx, batchID)
	if err != nil {
		common.WriteProviderError(ctx, w, err)
		return
	}
	klog.FromContext(ctx).Info("Batch cancel requested", "batchID", batchID, "status", batch.Status)
	common.WriteJSON(ctx, w, http.StatusOK, batch)
}

func (c *BatchApiHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			common.WriteBadRequest(ctx, w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
			return
		}
		limit = n
	}

	list, err := c.client.List(ctx, limit, q.Get("after"))
	if err != nil {
		common.WriteProviderError(ctx, w, err)
		return
	}
	if list.Data == nil {
		list.Data = []openai.Batch{}
	}
	common.WriteJSON(ctx, w, http.StatusOK, list)
}

func (c *BatchApiHandler) RetrieveBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batch, err := c.client.GetStatus(ctx, r.PathValue("batch_id"))
	if err != nil {
		common.WriteProviderError(ctx, w, err)
		return
	}
	common.WriteJSON(ctx, w, http.StatusOK, batch)
}

// BatchResults extracts and clusters the results of a completed batch without storing them.
func (c *BatchApiHandler) BatchResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := r.PathValue("batch_id")

	batch, err := c.client.GetStatus(ctx, batchID)
	if err != nil {
		common.WriteProviderError(ctx, w, err)
		return
	}
	if batch.Status != openai.StatusCompleted {
		common.WriteAPIError(ctx, w, http.StatusConflict, common.ErrTypeInvalidRequest, "batch_not_completed",
			fmt.Sprintf("batch %s is %s", batchID, batch.Status))
		return
	}

	output, errs, err := c.client.FetchResults(ctx, batchID)
	if err != nil {
		common.WriteProviderError(ctx, w, err)
		return
	}
	result, err := c.extractor.Extract(ctx, batchID, output, errs)
	if err != nil {
		var perr *extractor.PayloadError
		if errors.As(err, &perr) {
			klog.FromContext(ctx).Error(err, "Batch results do not decode", "batchID", batchID)
			common.WriteAPIError(ctx, w, http.StatusBadGateway, common.ErrTypeProvider, "undecodable_payload", err.Error())
			return
		}
		common.WriteInternalError(ctx, w, err)
		return
	}

	resp := ResultsResponse{
		BatchID: batchID,
		Entries: c.engine.Process(ctx, result.Entries),
		Errors:  result.Errors,
	}
	if resp.Entries == nil {
		resp.Entries = []lexicon.ProcessedEntry{}
	}
	if resp.Errors == nil {
		resp.Errors = []extractor.ErrorInfo{}
	}
	klog.FromContext(ctx).Info("Batch results extracted", "batchID", batchID, "entries", len(resp.Entries), "errors", len(resp.Errors))
	common.WriteJSON(ctx, w, http.StatusOK, resp)
}
