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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/common"
	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/corpus"
	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/health"
	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient/fake"
	db "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
	dbredis "github.com/llm-d-incubation/lexicon-batch/internal/database/redis"
	"github.com/llm-d-incubation/lexicon-batch/internal/extractor"
	"github.com/llm-d-incubation/lexicon-batch/internal/jobpackage"
	"github.com/llm-d-incubation/lexicon-batch/internal/lexicon"
	"github.com/llm-d-incubation/lexicon-batch/internal/orchestrator"
	uredis "github.com/llm-d-incubation/lexicon-batch/internal/util/redis"
)

func newTestServer(t *testing.T) (*Server, *dbredis.DSClientRedis) {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store, err := dbredis.NewDSClientRedis(ctx, &uredis.RedisClientConfig{
		Url:         "redis://" + mr.Addr(),
		ServiceName: "server-test",
		Timeout:     2 * time.Second,
	}, dbredis.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine, err := lexicon.NewEngine(lexicon.DefaultConfig())
	require.NoError(t, err)

	config := common.NewConfig()
	config.Host = "127.0.0.1"
	config.Port = 0
	config.ShutdownTimeout = time.Second
	return NewWithDeps(config, Deps{
		Provider:  fake.NewClient(),
		Queue:     store,
		Runs:      store,
		Writer:    jobpackage.NewWriter(jobpackage.WriterConfig{TempDir: t.TempDir()}, nil),
		Extractor: extractor.New(nil),
		Engine:    engine,
		Checks:    map[string]health.Pinger{"redis": store},
	}), store
}

func TestRoutes(t *testing.T) {
	s, store := newTestServer(t)
	h := s.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, health.ReadyPath, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, corpus.ProcessPath, strings.NewReader("Haus\nMaus\n")))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var accepted corpus.ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	n, err := store.Len(context.Background(), orchestrator.QueueSubmit)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/"+accepted.RunID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var run db.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, db.RunQueued, run.Status)
	assert.Equal(t, 1, run.Batches)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/batches", nil)
	req.Header.Set("X-Request-ID", "req-42")
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
