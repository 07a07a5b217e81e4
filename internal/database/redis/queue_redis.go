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

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	db_api "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
	"github.com/llm-d-incubation/lexicon-batch/internal/util/logging"
)

func (c *DSClientRedis) Enqueue(ctx context.Context, msg *db_api.QueueMessage) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := klog.FromContext(ctx)
	if err = msg.IsValid(); err != nil {
		logger.Error(err, "Enqueue: message is invalid")
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	logger = logger.WithValues("queue", msg.Queue, "messageId", msg.ID)

	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error(err, "Enqueue: Marshal failed")
		return
	}
	cctx, ccancel := c.GetContext(ctx, 0)
	err = c.redisClient.RPush(cctx, getKeyForQueue(msg.Queue), data).Err()
	ccancel()
	if err != nil {
		logger.Error(err, "Enqueue: redis RPush failed")
		return
	}
	logger.Info("Enqueue: succeeded", "attempt", msg.Attempt)
	return nil
}

func (c *DSClientRedis) Dequeue(ctx context.Context, queue string, timeout time.Duration) (*db_api.QueueMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := klog.FromContext(ctx).WithValues("queue", queue)

	cctx, ccancel := context.WithTimeout(ctx, timeout+blockingGrace)
	raw, err := c.redisClient.BLMove(cctx, getKeyForQueue(queue), getKeyForProcessing(queue), "LEFT", "RIGHT", timeout).Result()
	ccancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if unrecognizedBlockingError(err) {
			logger.Error(err, "Dequeue: BLMove failed")
			if cerr := c.redisClientChecker.Check(ctx); cerr != nil {
				logger.Error(cerr, "Dequeue: ClientCheck failed")
			}
			return nil, err
		}
		now := time.Now().UnixNano()
		last := c.idleLogLast.Load()
		if time.Duration(now-last) >= c.idleLogFreq && c.idleLogLast.CompareAndSwap(last, now) {
			logger.Info("Dequeue: no messages")
		}
		return nil, nil
	}

	msg := &db_api.QueueMessage{}
	if err := json.Unmarshal([]byte(raw), msg); err != nil {
		logger.Error(err, "Dequeue: Unmarshal failed, moving to failed list", "size", len(raw))
		if berr := c.bury(ctx, queue, raw, raw); berr != nil {
			logger.Error(berr, "Dequeue: could not move undecodable message to failed list", "size", len(raw))
			return nil, berr
		}
		return nil, nil
	}
	msg.Receipt = raw
	logger.V(logging.DEBUG).Info("Dequeue: succeeded", "messageId", msg.ID, "attempt", msg.Attempt)
	return msg, nil
}

func (c *DSClientRedis) Ack(ctx context.Context, msg *db_api.QueueMessage) error {
	if msg == nil || msg.Receipt == "" {
		return fmt.Errorf("%w: message was not dequeued", db_api.ErrInvalidMessage)
	}
	cctx, ccancel := c.GetContext(ctx, 0)
	defer ccancel()
	n, err := c.redisClient.LRem(cctx, getKeyForProcessing(msg.Queue), 1, msg.Receipt).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		klog.FromContext(ctx).Info("Ack: message was no longer in flight", "queue", msg.Queue, "messageId", msg.ID)
	}
	return nil
}

func (c *DSClientRedis) Retry(ctx context.Context, msg *db_api.QueueMessage, cause error) (bool, error) {
	if msg == nil || msg.Receipt == "" {
		return false, fmt.Errorf("%w: message was not dequeued", db_api.ErrInvalidMessage)
	}
	logger := klog.FromContext(ctx).WithValues("queue", msg.Queue, "messageId", msg.ID, "attempt", msg.Attempt)

	next := *msg
	next.Receipt = ""
	if cause != nil {
		next.LastError = cause.Error()
	}

	if msg.Exhausted() {
		data, err := json.Marshal(&next)
		if err != nil {
			return false, err
		}
		if err := c.bury(ctx, msg.Queue, msg.Receipt, string(data)); err != nil {
			return false, err
		}
		logger.Info("Retry: attempts exhausted, moved to failed list", "maxAttempts", msg.MaxAttempts)
		return false, nil
	}

	next.Attempt++
	data, err := json.Marshal(&next)
	if err != nil {
		return false, err
	}
	cctx, ccancel := c.GetContext(ctx, 0)
	_, err = c.redisClient.TxPipelined(cctx, func(pipe goredis.Pipeliner) error {
		pipe.LRem(cctx, getKeyForProcessing(msg.Queue), 1, msg.Receipt)
		pipe.RPush(cctx, getKeyForQueue(msg.Queue), data)
		return nil
	})
	ccancel()
	if err != nil {
		logger.Error(err, "Retry: TxPipelined failed")
		return false, err
	}
	logger.Info("Retry: requeued", "nextAttempt", next.Attempt)
	return true, nil
}

// bury removes the in-flight copy and keeps data at the head of the capped failed list.
func (c *DSClientRedis) bury(ctx context.Context, queue, receipt, data string) error {
	cctx, ccancel := c.GetContext(ctx, 0)
	defer ccancel()
	_, err := c.redisClient.TxPipelined(cctx, func(pipe goredis.Pipeliner) error {
		pipe.LRem(cctx, getKeyForProcessing(queue), 1, receipt)
		pipe.LPush(cctx, getKeyForFailed(queue), data)
		pipe.LTrim(cctx, getKeyForFailed(queue), 0, int64(c.opts.FailedRetention-1))
		return nil
	})
	if err != nil {
		klog.FromContext(ctx).Error(err, "bury: TxPipelined failed", "queue", queue)
	}
	return err
}

func (c *DSClientRedis) Failed(ctx context.Context, queue string) ([]*db_api.QueueMessage, error) {
	cctx, ccancel := c.GetContext(ctx, 0)
	vals, err := c.redisClient.LRange(cctx, getKeyForFailed(queue), 0, -1).Result()
	ccancel()
	if err != nil {
		return nil, err
	}
	msgs := make([]*db_api.QueueMessage, 0, len(vals))
	for _, val := range vals {
		msg := &db_api.QueueMessage{}
		if err := json.Unmarshal([]byte(val), msg); err != nil {
			msg = &db_api.QueueMessage{Queue: queue, LastError: "undecodable message", Payload: json.RawMessage(fmt.Sprintf("%q", val))}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (c *DSClientRedis) Recover(ctx context.Context, queue string) (int, error) {
	n := 0
	for {
		cctx, ccancel := c.GetContext(ctx, 0)
		err := c.redisClient.LMove(cctx, getKeyForProcessing(queue), getKeyForQueue(queue), "RIGHT", "LEFT").Err()
		ccancel()
		if err == goredis.Nil {
			break
		}
		if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		klog.FromContext(ctx).Info("Recover: requeued in-flight messages", "queue", queue, "count", n)
	}
	return n, nil
}

func (c *DSClientRedis) Len(ctx context.Context, queue string) (int64, error) {
	cctx, ccancel := c.GetContext(ctx, 0)
	defer ccancel()
	return c.redisClient.LLen(cctx, getKeyForQueue(queue)).Result()
}
