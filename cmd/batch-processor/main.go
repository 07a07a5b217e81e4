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

// The entry point for the worker process.

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	"github.com/llm-d-incubation/lexicon-batch/internal/database/postgres"
	dbredis "github.com/llm-d-incubation/lexicon-batch/internal/database/redis"
	"github.com/llm-d-incubation/lexicon-batch/internal/deadletter"
	"github.com/llm-d-incubation/lexicon-batch/internal/extractor"
	"github.com/llm-d-incubation/lexicon-batch/internal/jobpackage"
	"github.com/llm-d-incubation/lexicon-batch/internal/lexicon"
	"github.com/llm-d-incubation/lexicon-batch/internal/orchestrator"
	"github.com/llm-d-incubation/lexicon-batch/internal/persistence"
	"github.com/llm-d-incubation/lexicon-batch/internal/poller"
	"github.com/llm-d-incubation/lexicon-batch/internal/processor/config"
	"github.com/llm-d-incubation/lexicon-batch/internal/processor/metrics"
	"github.com/llm-d-incubation/lexicon-batch/internal/processor/worker"
)

func main() {
	// initialize klog
	fs := flag.NewFlagSet("lexicon-batch-processor", flag.ExitOnError)
	klog.InitFlags(fs)
	defer klog.Flush()

	cfgFilePath := fs.String("config", "cmd/batch-processor/config.yaml", "Path to configuration file")
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(*cfgFilePath)
	if err != nil {
		klog.ErrorS(err, "Failed to load configuration", "path", *cfgFilePath)
		os.Exit(1)
	}

	// setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 2)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signalChan
		klog.InfoS("Received shutdown signal, starting graceful shutdown...", "signal", sig)
		cancel() // stop consumers by cancelling context

		sig = <-signalChan
		klog.InfoS("Received second shutdown signal, forcing shutdown...", "signal", sig)
		os.Exit(1) // force exit immediately for second signal
	}()

	if err := run(ctx, cfg); err != nil {
		klog.ErrorS(err, "Processor exited with error")
		klog.Flush()
		os.Exit(1)
	}
	klog.InfoS("Processor exited gracefully")
}

func run(ctx context.Context, cfg *config.ProcessorConfig) error {
	// postgres
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.AutoMigrate {
		applied, err := postgres.Migrate(ctx, pool)
		if err != nil {
			return err
		}
		klog.InfoS("Database migrations applied", "versions", applied)
	}

	// redis queues and run store
	store, err := dbredis.NewDSClientRedis(ctx, &cfg.Redis, cfg.Queue.Options)
	if err != nil {
		return err
	}
	defer store.Close()

	// dead letters
	sink, objects, err := deadletter.NewSink(ctx, cfg.DeadLetter)
	if err != nil {
		return err
	}
	if objects != nil {
		defer objects.Close()
	}

	// pipeline stages
	provider, err := batchclient.NewHTTPClient(cfg.Provider)
	if err != nil {
		return err
	}
	engine, err := lexicon.NewEngine(cfg.Lexicon)
	if err != nil {
		return err
	}
	writer, err := persistence.NewWriter(postgres.NewRepository(pool), cfg.Persistence)
	if err != nil {
		return err
	}
	ex := extractor.New(sink)

	submit, err := orchestrator.NewSubmitHandler(orchestrator.Deps{
		Provider:  provider,
		Writer:    jobpackage.NewWriter(cfg.Writer, nil),
		Poller:    poller.New(provider, nil, cfg.Poller, poller.NewJobLocks()),
		Extractor: ex,
		Queue:     store,
		Runs:      store,
	}, cfg.Queue.StoreMaxAttempts)
	if err != nil {
		return err
	}
	storer, err := orchestrator.NewStoreHandler(ex, engine, writer, store)
	if err != nil {
		return err
	}

	// setup metrics and health checks endpoints (background goroutine)
	obs := &http.Server{Addr: cfg.MetricsAddress, Handler: observabilityMux(store), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		klog.InfoS("Starting observability server", "address", cfg.MetricsAddress)
		if err := obs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.ErrorS(err, "Observability server failed")
		}
	}()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = obs.Shutdown(sctx)
	}()

	// one consumer per queue; submit runs are sequential, store jobs too
	proc := worker.NewProcessor(
		worker.NewConsumer(orchestrator.QueueSubmit, store, submit, cfg.Queue.DequeueTimeout),
		worker.NewConsumer(orchestrator.QueueStore, store, storer, cfg.Queue.DequeueTimeout),
	)
	klog.InfoS("Processor started", "queues", []string{orchestrator.QueueSubmit, orchestrator.QueueStore})

	done := make(chan error, 1)
	go func() { done <- proc.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	// give in-flight jobs the shutdown timeout, their messages are recovered on restart otherwise
	select {
	case err := <-done:
		return err
	case <-time.After(cfg.ShutdownTimeout):
		klog.InfoS("Shutdown timeout reached, leaving in-flight jobs for recovery", "timeout", cfg.ShutdownTimeout)
		return nil
	}
}

func observabilityMux(store *dbredis.DSClientRedis) *http.ServeMux {
	m := http.NewServeMux()
	m.Handle("GET /metrics", metrics.NewMetricsHandler())
	m.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	m.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("redis unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return m
}
