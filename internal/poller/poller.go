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

// Package poller drives a remote batch to a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	"github.com/llm-d-incubation/lexicon-batch/internal/processor/metrics"
	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
	"github.com/llm-d-incubation/lexicon-batch/internal/util/logging"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultRetryBackoff = 30 * time.Second
	DefaultMaxRetries   = 5
)

var (
	ErrAlreadyPolling      = errors.New("batch is already being polled")
	ErrMaxDurationExceeded = errors.New("batch did not finish within the maximum polling duration")
)

// TerminalJobFailure is returned when the provider reports a status that can never complete.
type TerminalJobFailure struct {
	Batch *openai.Batch
}

func (e *TerminalJobFailure) Error() string {
	return fmt.Sprintf("batch %s ended with status %s", e.Batch.ID, e.Batch.Status)
}

// RetriesExhaustedError wraps the last status check failure.
type RetriesExhaustedError struct {
	BatchID  string
	Failures int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("batch %s: giving up after %d failed status checks: %v", e.BatchID, e.Failures, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

type Config struct {
	Interval     time.Duration `yaml:"interval"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	MaxRetries   int           `yaml:"max_retries"`
	// MaxDuration bounds a single Poll call. Zero means no bound.
	MaxDuration time.Duration `yaml:"max_duration"`
}

func DefaultConfig() Config {
	return Config{
		Interval:     DefaultInterval,
		RetryBackoff: DefaultRetryBackoff,
		MaxRetries:   DefaultMaxRetries,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}

type Poller struct {
	client batchclient.Client
	clock  clockwork.Clock
	cfg    Config
	locks  *JobLocks
}

// New returns a poller. A nil clock uses the real clock and nil locks get a private registry.
func New(client batchclient.Client, clock clockwork.Clock, cfg Config, locks *JobLocks) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if locks == nil {
		locks = NewJobLocks()
	}
	return &Poller{client: client, clock: clock, cfg: cfg.withDefaults(), locks: locks}
}

// Poll checks the batch until it completes or fails.
// Only one Poll per batch id may run at a time, a second caller gets ErrAlreadyPolling.
func (p *Poller) Poll(ctx context.Context, batchID string) (*openai.Batch, error) {
	if !p.locks.TryLock(batchID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPolling, batchID)
	}
	defer p.locks.Unlock(batchID)

	logger := klog.FromContext(ctx).WithValues("batchID", batchID)

	var deadline time.Time
	if p.cfg.MaxDuration > 0 {
		deadline = p.clock.Now().Add(p.cfg.MaxDuration)
	}

	retries := p.cfg.MaxRetries
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var wait time.Duration
		batch, err := p.client.GetStatus(ctx, batchID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.RecordStatusCheckFailure()
			if !batchclient.IsTransient(err) {
				logger.Error(err, "Failed to get batch status, not retrying")
				return nil, err
			}
			failures++
			retries--
			if retries <= 0 {
				return nil, &RetriesExhaustedError{BatchID: batchID, Failures: failures, Err: err}
			}
			logger.Error(err, "Failed to get batch status, retrying", "retriesLeft", retries, "backoff", p.cfg.RetryBackoff)
			wait = p.cfg.RetryBackoff

		case batch.Status.IsCompleted():
			metrics.RecordPoll(batch.Status.String())
			logRequestCounts(logger, batch)
			logger.V(logging.INFO).Info("Batch completed")
			return batch, nil

		case batch.Status.IsTerminalFailure():
			metrics.RecordPoll(batch.Status.String())
			logger.Info("Batch reached a terminal status", "status", batch.Status)
			return nil, &TerminalJobFailure{Batch: batch}

		case batch.Status.IsInFlight():
			metrics.RecordPoll(batch.Status.String())
			logger.V(logging.INFO).Info("Batch in progress", "status", batch.Status)
			logRequestCounts(logger, batch)
			wait = p.cfg.Interval

		default:
			// Unknown statuses use up the retry budget but never end the poll on their own.
			metrics.RecordPoll("unknown")
			if retries > 0 {
				retries--
			}
			logger.Info("Unrecognised batch status", "status", batch.Status, "retriesLeft", retries)
			wait = p.cfg.Interval
		}

		if !deadline.IsZero() && !p.clock.Now().Add(wait).Before(deadline) {
			return nil, fmt.Errorf("batch %s: %w (%s)", batchID, ErrMaxDurationExceeded, p.cfg.MaxDuration)
		}
		if err := p.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	timer := p.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

func logRequestCounts(logger klog.Logger, batch *openai.Batch) {
	logger.V(logging.INFO).Info("Requests",
		"total", batch.RequestCounts.Total,
		"completed", batch.RequestCounts.Completed,
		"failed", batch.RequestCounts.Failed)
}
