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

// this file contains the queue consumers that drive the orchestrator handlers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	db "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
	"github.com/llm-d-incubation/lexicon-batch/internal/processor/metrics"
	"github.com/llm-d-incubation/lexicon-batch/internal/util/logging"
)

const defaultDequeueTimeout = 5 * time.Second

// Handler processes one queue message. A returned error sends the message to Retry.
type Handler interface {
	Handle(ctx context.Context, msg *db.QueueMessage) error
}

type HandlerFunc func(ctx context.Context, msg *db.QueueMessage) error

func (f HandlerFunc) Handle(ctx context.Context, msg *db.QueueMessage) error {
	return f(ctx, msg)
}

// Consumer drains one named queue with a single worker.
type Consumer struct {
	queue          string
	client         db.WorkQueueClient
	handler        Handler
	workerPool     *WorkerPool
	dequeueTimeout time.Duration
}

func NewConsumer(queue string, client db.WorkQueueClient, handler Handler, dequeueTimeout time.Duration) *Consumer {
	if dequeueTimeout <= 0 {
		dequeueTimeout = defaultDequeueTimeout
	}
	return &Consumer{
		queue:          queue,
		client:         client,
		handler:        handler,
		workerPool:     NewWorkerPool(1),
		dequeueTimeout: dequeueTimeout,
	}
}

func (c *Consumer) Queue() string {
	return c.queue
}

// Run recovers messages left in flight by a previous process, then consumes until ctx is done.
// In-flight work is waited for before returning.
func (c *Consumer) Run(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithValues("queue", c.queue)
	ctx = klog.NewContext(ctx, logger)

	recovered, err := c.client.Recover(ctx, c.queue)
	if err != nil {
		return fmt.Errorf("recover queue %s: %w", c.queue, err)
	}
	logger.Info("Consumer started", "recovered", recovered, "workers", c.workerPool.Size())
	defer c.workerPool.WaitAll()

	for {
		if err := c.workerPool.Acquire(ctx); err != nil {
			logger.Info("Shutting down consumer")
			return nil
		}

		msg, err := c.client.Dequeue(ctx, c.queue, c.dequeueTimeout)
		if err != nil {
			c.workerPool.Release()
			if ctx.Err() != nil {
				logger.Info("Shutting down consumer")
				return nil
			}
			logger.Error(err, "Failed to dequeue")
			select {
			case <-ctx.Done():
			case <-time.After(c.dequeueTimeout):
			}
			continue
		}
		if msg == nil {
			c.workerPool.Release()
			continue
		}

		go c.process(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, msg *db.QueueMessage) {
	logger := klog.FromContext(ctx).WithValues("messageID", msg.ID, "attempt", msg.Attempt)
	jobCtx := klog.NewContext(ctx, logger)

	metrics.IncActiveWorkers(c.queue)
	defer func() {
		metrics.DecActiveWorkers(c.queue)
		c.workerPool.Release()
	}()

	logger.V(logging.DEBUG).Info("Worker started job")
	err := c.handle(jobCtx, msg)
	if err == nil {
		if aerr := c.client.Ack(ctx, msg); aerr != nil {
			logger.Error(aerr, "Failed to ack message")
		}
		metrics.RecordJobProcessed(c.queue, metrics.ResultSuccess)
		logger.Info("Job processed")
		return
	}

	// a cancelled job stays in the processing list and is recovered on the next start
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		logger.Info("Job interrupted by shutdown, left for recovery")
		return
	}

	requeued, rerr := c.client.Retry(ctx, msg, err)
	switch {
	case rerr != nil:
		logger.Error(rerr, "Failed to retry message", "cause", err.Error())
	case requeued:
		metrics.RecordJobProcessed(c.queue, metrics.ResultRetried)
		logger.Error(err, "Job failed, requeued")
	default:
		metrics.RecordJobProcessed(c.queue, metrics.ResultFailed)
		logger.Error(err, "Job failed, attempts exhausted", "maxAttempts", msg.MaxAttempts)
	}
}

func (c *Consumer) handle(ctx context.Context, msg *db.QueueMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return c.handler.Handle(ctx, msg)
}

// Processor runs one consumer per queue.
type Processor struct {
	consumers []*Consumer
}

func NewProcessor(consumers ...*Consumer) *Processor {
	return &Processor{consumers: consumers}
}

// pre-flight check
func (p *Processor) prepare(ctx context.Context) error {
	logger := klog.FromContext(ctx)

	if len(p.consumers) == 0 {
		return fmt.Errorf("no consumers configured")
	}
	seen := make(map[string]bool, len(p.consumers))
	for _, c := range p.consumers {
		if c.client == nil || c.handler == nil {
			return fmt.Errorf("consumer for queue %q is missing its client or handler", c.queue)
		}
		if seen[c.queue] {
			return fmt.Errorf("queue %q has more than one consumer", c.queue)
		}
		seen[c.queue] = true
	}

	logger.Info("Processor pre-flight check done", "consumers", len(p.consumers))
	return nil
}

// Run blocks until ctx is cancelled or a consumer fails to start.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.prepare(ctx); err != nil {
		return fmt.Errorf("failed to prepare processor: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range p.consumers {
		g.Go(func() error {
			return c.Run(gctx)
		})
	}
	err := g.Wait()
	klog.FromContext(ctx).Info("All workers have finished")
	return err
}
