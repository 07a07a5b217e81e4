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

// The file provides the HTTP handler for run progress.
package runs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/common"
	db "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
)

type RunsApiHandler struct {
	runs db.RunStatusClient
}

func NewRunsApiHandler(runs db.RunStatusClient) *RunsApiHandler {
	return &RunsApiHandler{runs: runs}
}

func (c *RunsApiHandler) GetRoutes() []common.Route {
	return []common.Route{
		{
			Method:      http.MethodGet,
			Pattern:     "/v1/runs/{run_id}",
			HandlerFunc: c.RetrieveRun,
		},
	}
}

func (c *RunsApiHandler) RetrieveRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("run_id")

	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			common.WriteAPIError(ctx, w, http.StatusNotFound, common.ErrTypeNotFound, "run_not_found",
				fmt.Sprintf("run %s not found", runID))
			return
		}
		common.WriteInternalError(ctx, w, err)
		return
	}
	if run.Records == nil {
		run.Records = []db.BatchRecord{}
	}
	common.WriteJSON(ctx, w, http.StatusOK, run)
}
