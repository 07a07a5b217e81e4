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

// Tests for the redis work queue and run status store.

package redis_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	goredis "github.com/redis/go-redis/v9"

	db_api "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
	dbredis "github.com/llm-d-incubation/lexicon-batch/internal/database/redis"
	uredis "github.com/llm-d-incubation/lexicon-batch/internal/util/redis"
)

func TestDBRedis(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "DB Redis Suite")
}

var (
	redisUrl string
	minirds  *miniredis.Miniredis
)

var _ = BeforeSuite(func() {
	redisUrl = os.Getenv("TEST_REDIS_URL")
	if redisUrl == "" {
		minirds = miniredis.RunT(GinkgoT())
		redisUrl = "redis://" + minirds.Addr()
	}
})

func newClient(opts dbredis.Options) *dbredis.DSClientRedis {
	client, err := dbredis.NewDSClientRedis(context.Background(), &uredis.RedisClientConfig{
		Url:         redisUrl,
		ServiceName: "test-service",
		Timeout:     2 * time.Second,
	}, opts)
	Expect(err).To(BeNil())
	DeferCleanup(client.Close)
	return client
}

func rawClient() *goredis.Client {
	opts, err := goredis.ParseURL(redisUrl)
	Expect(err).To(BeNil())
	c := goredis.NewClient(opts)
	DeferCleanup(c.Close)
	return c
}

func message(queue string, maxAttempts int, payload string) *db_api.QueueMessage {
	return &db_api.QueueMessage{
		Queue:       queue,
		Payload:     json.RawMessage(payload),
		MaxAttempts: maxAttempts,
	}
}

var _ = Describe("Work queue", func() {
	var (
		ctx    context.Context
		client *dbredis.DSClientRedis
		queue  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = newClient(dbredis.Options{FailedRetention: 3})
		queue = "q-" + uuid.NewString()
	})

	It("should reject invalid messages", func() {
		Expect(client.Enqueue(ctx, nil)).To(MatchError(db_api.ErrInvalidMessage))
		Expect(client.Enqueue(ctx, message("", 1, `{}`))).To(MatchError(db_api.ErrInvalidMessage))
		Expect(client.Enqueue(ctx, message(queue, 0, `{}`))).To(MatchError(db_api.ErrInvalidMessage))
		Expect(client.Enqueue(ctx, message(queue, 1, ``))).To(MatchError(db_api.ErrInvalidMessage))
	})

	It("should deliver messages in order and ack them", func() {
		for _, p := range []string{`{"n":1}`, `{"n":2}`} {
			Expect(client.Enqueue(ctx, message(queue, 1, p))).To(Succeed())
		}
		n, err := client.Len(ctx, queue)
		Expect(err).To(BeNil())
		Expect(n).To(Equal(int64(2)))

		first, err := client.Dequeue(ctx, queue, time.Second)
		Expect(err).To(BeNil())
		Expect(first).NotTo(BeNil())
		Expect(first.ID).NotTo(BeEmpty())
		Expect(string(first.Payload)).To(MatchJSON(`{"n":1}`))
		Expect(client.Ack(ctx, first)).To(Succeed())

		second, err := client.Dequeue(ctx, queue, time.Second)
		Expect(err).To(BeNil())
		Expect(string(second.Payload)).To(MatchJSON(`{"n":2}`))
		Expect(client.Ack(ctx, second)).To(Succeed())

		recovered, err := client.Recover(ctx, queue)
		Expect(err).To(BeNil())
		Expect(recovered).To(BeZero())
	})

	It("should return nil when the queue stays empty", func() {
		msg, err := client.Dequeue(ctx, queue, 100*time.Millisecond)
		Expect(err).To(BeNil())
		Expect(msg).To(BeNil())
	})

	It("should retry until attempts are exhausted and keep the failure", func() {
		Expect(client.Enqueue(ctx, message(queue, 4, `{"batch_id":"batch_1"}`))).To(Succeed())

		for attempt := 0; attempt < 4; attempt++ {
			msg, err := client.Dequeue(ctx, queue, time.Second)
			Expect(err).To(BeNil())
			Expect(msg).NotTo(BeNil())
			Expect(msg.Attempt).To(Equal(attempt))

			requeued, err := client.Retry(ctx, msg, errors.New("database unavailable"))
			Expect(err).To(BeNil())
			Expect(requeued).To(Equal(attempt < 3))
		}

		n, err := client.Len(ctx, queue)
		Expect(err).To(BeNil())
		Expect(n).To(BeZero())

		failed, err := client.Failed(ctx, queue)
		Expect(err).To(BeNil())
		Expect(failed).To(HaveLen(1))
		Expect(failed[0].Attempt).To(Equal(3))
		Expect(failed[0].LastError).To(Equal("database unavailable"))
		Expect(string(failed[0].Payload)).To(MatchJSON(`{"batch_id":"batch_1"}`))
	})

	It("should cap the failed list", func() {
		for i := 0; i < 5; i++ {
			Expect(client.Enqueue(ctx, message(queue, 1, `{}`))).To(Succeed())
			msg, err := client.Dequeue(ctx, queue, time.Second)
			Expect(err).To(BeNil())
			requeued, err := client.Retry(ctx, msg, errors.New("boom"))
			Expect(err).To(BeNil())
			Expect(requeued).To(BeFalse())
		}
		failed, err := client.Failed(ctx, queue)
		Expect(err).To(BeNil())
		Expect(failed).To(HaveLen(3))
	})

	It("should recover in-flight messages in their original order", func() {
		for _, p := range []string{`{"n":1}`, `{"n":2}`} {
			Expect(client.Enqueue(ctx, message(queue, 1, p))).To(Succeed())
		}
		for i := 0; i < 2; i++ {
			_, err := client.Dequeue(ctx, queue, time.Second)
			Expect(err).To(BeNil())
		}

		recovered, err := client.Recover(ctx, queue)
		Expect(err).To(BeNil())
		Expect(recovered).To(Equal(2))

		msg, err := client.Dequeue(ctx, queue, time.Second)
		Expect(err).To(BeNil())
		Expect(string(msg.Payload)).To(MatchJSON(`{"n":1}`))
	})

	It("should move undecodable messages to the failed list", func() {
		raw := rawClient()
		Expect(raw.RPush(ctx, "lexicon_batch:queue:"+queue, "not json").Err()).To(Succeed())

		msg, err := client.Dequeue(ctx, queue, time.Second)
		Expect(err).To(BeNil())
		Expect(msg).To(BeNil())

		failed, err := client.Failed(ctx, queue)
		Expect(err).To(BeNil())
		Expect(failed).To(HaveLen(1))
		Expect(failed[0].LastError).To(Equal("undecodable message"))
		Expect(string(failed[0].Payload)).To(Equal(`"not json"`))
	})

	It("should report a failed move of an undecodable message", func() {
		raw := rawClient()
		Expect(raw.Set(ctx, "lexicon_batch:queue:"+queue+":failed", "occupied", 0).Err()).To(Succeed())
		Expect(raw.RPush(ctx, "lexicon_batch:queue:"+queue, "not json").Err()).To(Succeed())

		msg, err := client.Dequeue(ctx, queue, time.Second)
		Expect(err).NotTo(BeNil())
		Expect(msg).To(BeNil())
	})

	It("should refuse to ack a message that was never dequeued", func() {
		Expect(client.Ack(ctx, message(queue, 1, `{}`))).To(MatchError(db_api.ErrInvalidMessage))
		_, err := client.Retry(ctx, message(queue, 1, `{}`), nil)
		Expect(err).To(MatchError(db_api.ErrInvalidMessage))
	})
})

var _ = Describe("Run status store", func() {
	var (
		ctx    context.Context
		client *dbredis.DSClientRedis
		runID  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = newClient(dbredis.DefaultOptions())
		runID = uuid.NewString()
	})

	It("should round trip a run with batch and storage records", func() {
		Expect(client.CreateRun(ctx, &db_api.Run{ID: runID, Batches: 2})).To(Succeed())
		Expect(client.SetRunStatus(ctx, runID, db_api.RunRunning, "")).To(Succeed())
		Expect(client.PutBatch(ctx, runID, &db_api.BatchRecord{Index: 1, Groups: 3, BatchID: "batch_2", Status: "in_progress"})).To(Succeed())
		Expect(client.PutBatch(ctx, runID, &db_api.BatchRecord{Index: 0, Groups: 8, BatchID: "batch_1", Status: "completed"})).To(Succeed())
		Expect(client.PutStorage(ctx, runID, 0, &db_api.StorageRecord{Status: db_api.StorageStored, Entries: 8, Words: 8})).To(Succeed())

		run, err := client.GetRun(ctx, runID)
		Expect(err).To(BeNil())
		Expect(run.ID).To(Equal(runID))
		Expect(run.Status).To(Equal(db_api.RunRunning))
		Expect(run.Batches).To(Equal(2))
		Expect(run.CreatedAt.IsZero()).To(BeFalse())
		Expect(run.Records).To(HaveLen(2))
		Expect(run.Records[0].BatchID).To(Equal("batch_1"))
		Expect(run.Records[0].Storage).NotTo(BeNil())
		Expect(run.Records[0].Storage.Words).To(Equal(int64(8)))
		Expect(run.Records[1].BatchID).To(Equal("batch_2"))
		Expect(run.Records[1].Storage).To(BeNil())
	})

	It("should keep storage when the batch record is rewritten", func() {
		Expect(client.CreateRun(ctx, &db_api.Run{ID: runID, Batches: 1})).To(Succeed())
		Expect(client.PutStorage(ctx, runID, 0, &db_api.StorageRecord{Status: db_api.StorageFailed, Error: "boom"})).To(Succeed())
		Expect(client.PutBatch(ctx, runID, &db_api.BatchRecord{Index: 0, BatchID: "batch_1", Status: "completed"})).To(Succeed())

		run, err := client.GetRun(ctx, runID)
		Expect(err).To(BeNil())
		Expect(run.Records).To(HaveLen(1))
		Expect(run.Records[0].Status).To(Equal("completed"))
		Expect(run.Records[0].Storage.Error).To(Equal("boom"))
	})

	It("should report unknown runs", func() {
		_, err := client.GetRun(ctx, runID)
		Expect(err).To(MatchError(db_api.ErrNotFound))
		Expect(client.SetRunStatus(ctx, runID, db_api.RunFailed, "x")).To(MatchError(db_api.ErrNotFound))
	})

	It("should expire runs after the ttl", func() {
		if minirds == nil {
			Skip("needs miniredis to fast forward time")
		}
		Expect(client.CreateRun(ctx, &db_api.Run{ID: runID})).To(Succeed())
		minirds.FastForward(dbredis.DefaultRunTTL + time.Second)
		_, err := client.GetRun(ctx, runID)
		Expect(err).To(MatchError(db_api.ErrNotFound))
	})
})
