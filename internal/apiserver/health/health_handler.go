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

// The file provides HTTP handlers for health check endpoints.
// /health reports liveness, /ready also checks the backing stores.
package health

import (
	"context"
	"net/http"
	"time"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/common"
)

const (
	HealthPath = "/health"
	ReadyPath  = "/ready"

	readyTimeout = 2 * time.Second
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthApiHandler struct {
	checks map[string]Pinger
}

func NewHealthApiHandler(checks map[string]Pinger) *HealthApiHandler {
	return &HealthApiHandler{checks: checks}
}

func (c *HealthApiHandler) GetRoutes() []common.Route {
	return []common.Route{
		{
			Method:      http.MethodGet,
			Pattern:     HealthPath,
			HandlerFunc: c.HealthHandler,
		},
		{
			Method:      http.MethodHead,
			Pattern:     HealthPath,
			HandlerFunc: c.HealthHandler,
		},
		{
			Method:      http.MethodGet,
			Pattern:     ReadyPath,
			HandlerFunc: c.ReadyHandler,
		},
	}
}

func (c *HealthApiHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (c *HealthApiHandler) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for name, p := range c.checks {
		if err := p.Ping(ctx); err != nil {
			klog.FromContext(ctx).Error(err, "Readiness check failed", "dependency", name)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(name + " unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
