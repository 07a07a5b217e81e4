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

// Package server assembles the api server: dependencies, routes and the listener lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/batch"
	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/common"
	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/corpus"
	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/health"
	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/metrics"
	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/middleware"
	"github.com/llm-d-incubation/lexicon-batch/internal/apiserver/runs"
	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	db "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
	dbredis "github.com/llm-d-incubation/lexicon-batch/internal/database/redis"
	"github.com/llm-d-incubation/lexicon-batch/internal/deadletter"
	"github.com/llm-d-incubation/lexicon-batch/internal/extractor"
	"github.com/llm-d-incubation/lexicon-batch/internal/jobpackage"
	"github.com/llm-d-incubation/lexicon-batch/internal/lexicon"
	"github.com/llm-d-incubation/lexicon-batch/internal/orchestrator"
)

// Deps are the collaborators behind the routes.
type Deps struct {
	Provider  batchclient.Client
	Queue     db.WorkQueueClient
	Runs      db.RunStatusClient
	Writer    *jobpackage.Writer
	Extractor *extractor.Extractor
	Engine    *lexicon.Engine
	Checks    map[string]health.Pinger
}

type Server struct {
	config     *common.ServerConfig
	httpServer *http.Server
	closers    []func() error
}

// New connects to redis and the dead letter store and builds the provider client.
func New(ctx context.Context, config *common.ServerConfig) (*Server, error) {
	provider, err := batchclient.NewHTTPClient(config.Provider)
	if err != nil {
		return nil, fmt.Errorf("provider client: %w", err)
	}
	engine, err := lexicon.NewEngine(config.Lexicon)
	if err != nil {
		return nil, err
	}

	store, err := dbredis.NewDSClientRedis(ctx, &config.Redis, dbredis.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	sink, objects, err := deadletter.NewSink(ctx, config.DeadLetter)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("dead letter store: %w", err)
	}

	s := NewWithDeps(config, Deps{
		Provider:  provider,
		Queue:     store,
		Runs:      store,
		Writer:    jobpackage.NewWriter(config.Writer, nil),
		Extractor: extractor.New(sink),
		Engine:    engine,
		Checks:    map[string]health.Pinger{"redis": store},
	})
	s.closers = append(s.closers, store.Close)
	if objects != nil {
		s.closers = append(s.closers, objects.Close)
	}
	return s, nil
}

func NewWithDeps(config *common.ServerConfig, deps Deps) *Server {
	return &Server{
		config: config,
		httpServer: &http.Server{
			Addr:              config.Addr(),
			Handler:           newHandler(config, deps),
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
	}
}

func newHandler(config *common.ServerConfig, deps Deps) http.Handler {
	mux := http.NewServeMux()
	common.RegisterHandler(mux, health.NewHealthApiHandler(deps.Checks))
	common.RegisterHandler(mux, metrics.NewMetricsApiHandler())
	common.RegisterHandler(mux, corpus.NewCorpusApiHandler(config,
		orchestrator.NewStager(deps.Provider, deps.Writer),
		orchestrator.NewProducer(deps.Queue, deps.Runs, config.SubmitMaxAttempts)))
	common.RegisterHandler(mux, batch.NewBatchApiHandler(deps.Provider, deps.Extractor, deps.Engine))
	common.RegisterHandler(mux, runs.NewRunsApiHandler(deps.Runs))
	return middleware.RequestMiddleware(mux)
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then drains in-flight requests for at most
// ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	logger := klog.FromContext(ctx)
	defer s.close(logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "address", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down api server")
	sctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) close(logger klog.Logger) {
	for _, c := range s.closers {
		if err := c(); err != nil {
			logger.Error(err, "failed to release server resource")
		}
	}
}
