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

package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient/fake"
	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
)

type pollResult struct {
	batch *openai.Batch
	err   error
}

func startPoll(ctx context.Context, p *Poller, id string) <-chan pollResult {
	ch := make(chan pollResult, 1)
	go func() {
		b, err := p.Poll(ctx, id)
		ch <- pollResult{batch: b, err: err}
	}()
	return ch
}

// advance waits for the poller to park on its timer and then fires it, n times.
func advance(t *testing.T, clock *clockwork.FakeClock, d time.Duration, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < n; i++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(d)
	}
}

func wait(t *testing.T, ch <-chan pollResult) pollResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not return")
		return pollResult{}
	}
}

func transient() error {
	return &batchclient.TransientError{Op: "get batch", Err: &batchclient.ClientError{Category: batchclient.ErrCategoryServer, Message: "HTTP 503"}}
}

func TestPollCompletes(t *testing.T) {
	client := fake.NewClient()
	client.Script("batch_1",
		fake.Step{Status: openai.StatusValidating},
		fake.Step{Status: openai.StatusInProgress},
		fake.Step{Status: openai.StatusCompleted},
	)
	clock := clockwork.NewFakeClock()
	p := New(client, clock, DefaultConfig(), nil)

	ch := startPoll(context.Background(), p, "batch_1")
	advance(t, clock, DefaultInterval, 2)

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, openai.StatusCompleted, r.batch.Status)
	assert.Equal(t, 3, client.StatusCalls("batch_1"))
}

func TestPollTerminalStatuses(t *testing.T) {
	for _, status := range []openai.BatchStatus{
		openai.StatusFailed,
		openai.StatusError,
		openai.StatusExpired,
		openai.StatusCancelling,
		openai.StatusCancelled,
	} {
		t.Run(status.String(), func(t *testing.T) {
			client := fake.NewClient()
			client.Script("batch_1", fake.Step{Status: openai.StatusInProgress}, fake.Step{Status: status})
			clock := clockwork.NewFakeClock()
			p := New(client, clock, DefaultConfig(), nil)

			ch := startPoll(context.Background(), p, "batch_1")
			advance(t, clock, DefaultInterval, 1)

			r := wait(t, ch)
			var terminal *TerminalJobFailure
			require.ErrorAs(t, r.err, &terminal)
			assert.Equal(t, status, terminal.Batch.Status)
			assert.Equal(t, 2, client.StatusCalls("batch_1"))
		})
	}
}

func TestPollRetriesExhausted(t *testing.T) {
	client := fake.NewClient()
	client.Script("batch_1", fake.Step{Err: transient()})
	clock := clockwork.NewFakeClock()
	cfg := Config{Interval: time.Second, RetryBackoff: 10 * time.Second, MaxRetries: 3}
	p := New(client, clock, cfg, nil)

	ch := startPoll(context.Background(), p, "batch_1")
	advance(t, clock, 10*time.Second, 2)

	r := wait(t, ch)
	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, r.err, &exhausted)
	assert.Equal(t, 3, exhausted.Failures)
	assert.True(t, batchclient.IsTransient(r.err))
	assert.Equal(t, 3, client.StatusCalls("batch_1"))
}

func TestPollRecoversFromTransientErrors(t *testing.T) {
	client := fake.NewClient()
	client.Script("batch_1",
		fake.Step{Err: transient()},
		fake.Step{Err: transient()},
		fake.Step{Status: openai.StatusCompleted},
	)
	clock := clockwork.NewFakeClock()
	p := New(client, clock, DefaultConfig(), nil)

	ch := startPoll(context.Background(), p, "batch_1")
	advance(t, clock, DefaultRetryBackoff, 2)

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, openai.StatusCompleted, r.batch.Status)
}

func TestPollNotFoundIsTerminal(t *testing.T) {
	client := fake.NewClient()
	p := New(client, clockwork.NewFakeClock(), DefaultConfig(), nil)

	_, err := p.Poll(context.Background(), "batch_missing")
	var nf *batchclient.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 1, client.StatusCalls("batch_missing"))
}

func TestPollPermanentErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"auth", &batchclient.ClientError{Category: batchclient.ErrCategoryAuth, StatusCode: 401, Message: "invalid api key"}},
		{"invalid request", &batchclient.ClientError{Category: batchclient.ErrCategoryInvalidReq, StatusCode: 400, Message: "bad batch id"}},
		{"undecodable response", &batchclient.ClientError{Category: batchclient.ErrCategoryUnknown, StatusCode: 200, Message: "failed to decode response"}},
		{"unclassified", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := fake.NewClient()
			client.Script("batch_1", fake.Step{Err: tt.err})
			p := New(client, clockwork.NewFakeClock(), DefaultConfig(), nil)

			_, err := p.Poll(context.Background(), "batch_1")
			require.ErrorIs(t, err, tt.err)
			var exhausted *RetriesExhaustedError
			assert.False(t, errors.As(err, &exhausted))
			assert.Equal(t, 1, client.StatusCalls("batch_1"))
		})
	}
}

func TestPollUnknownStatusNeverAborts(t *testing.T) {
	client := fake.NewClient()
	client.Script("batch_1",
		fake.Step{Status: "paused"},
		fake.Step{Status: "paused"},
		fake.Step{Status: "paused"},
		fake.Step{Status: openai.StatusCompleted},
	)
	clock := clockwork.NewFakeClock()
	p := New(client, clock, Config{MaxRetries: 2}, nil)

	ch := startPoll(context.Background(), p, "batch_1")
	advance(t, clock, DefaultInterval, 3)

	r := wait(t, ch)
	require.NoError(t, r.err)
	assert.Equal(t, 4, client.StatusCalls("batch_1"))
}

func TestPollContextCancelled(t *testing.T) {
	client := fake.NewClient()
	client.Script("batch_1", fake.Step{Status: openai.StatusInProgress})
	clock := clockwork.NewFakeClock()
	p := New(client, clock, DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := startPoll(ctx, p, "batch_1")

	bctx, bcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer bcancel()
	require.NoError(t, clock.BlockUntilContext(bctx, 1))
	cancel()

	r := wait(t, ch)
	assert.True(t, errors.Is(r.err, context.Canceled))
}

func TestPollMaxDuration(t *testing.T) {
	client := fake.NewClient()
	client.Script("batch_1", fake.Step{Status: openai.StatusInProgress})
	clock := clockwork.NewFakeClock()
	p := New(client, clock, Config{Interval: 30 * time.Second, MaxDuration: time.Minute}, nil)

	ch := startPoll(context.Background(), p, "batch_1")
	advance(t, clock, 30*time.Second, 1)

	r := wait(t, ch)
	assert.ErrorIs(t, r.err, ErrMaxDurationExceeded)
	assert.Equal(t, 2, client.StatusCalls("batch_1"))
}

func TestPollSingleFlightPerBatch(t *testing.T) {
	client := fake.NewClient()
	client.Script("batch_1", fake.Step{Status: openai.StatusCompleted})
	client.Script("batch_2", fake.Step{Status: openai.StatusCompleted})
	locks := NewJobLocks()
	p := New(client, clockwork.NewFakeClock(), DefaultConfig(), locks)

	require.True(t, locks.TryLock("batch_1"))
	_, err := p.Poll(context.Background(), "batch_1")
	assert.ErrorIs(t, err, ErrAlreadyPolling)
	assert.Zero(t, client.StatusCalls("batch_1"))

	b, err := p.Poll(context.Background(), "batch_2")
	require.NoError(t, err)
	assert.Equal(t, "batch_2", b.ID)
	assert.False(t, locks.Held("batch_2"))

	locks.Unlock("batch_1")
	_, err = p.Poll(context.Background(), "batch_1")
	assert.NoError(t, err)
}
