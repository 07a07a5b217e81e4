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

// This file provides a redis implementation of the work queue and run status store.

package redis

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	db_api "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
	uredis "github.com/llm-d-incubation/lexicon-batch/internal/util/redis"
)

const (
	keysPrefix       = "lexicon_batch:"
	queueKeysPrefix  = keysPrefix + "queue:"
	runKeysPrefix    = keysPrefix + "run:"
	processingSuffix = ":processing"
	failedSuffix     = ":failed"
	logFreqDefault   = 10 * time.Minute
	blockingGrace    = 2 * time.Second
)

const (
	DefaultFailedRetention = 3
	DefaultRunTTL          = 7 * 24 * time.Hour
)

type Options struct {
	// FailedRetention caps the failed list of every queue.
	FailedRetention int           `yaml:"failed_retention"`
	RunTTL          time.Duration `yaml:"run_ttl"`
}

func DefaultOptions() Options {
	return Options{FailedRetention: DefaultFailedRetention, RunTTL: DefaultRunTTL}
}

// DSClientRedis implements db_api.WorkQueueClient and db_api.RunStatusClient.
type DSClientRedis struct {
	redisClient        *goredis.Client
	redisClientChecker *uredis.RedisClientChecker
	timeout            time.Duration
	opts               Options
	idleLogFreq        time.Duration
	idleLogLast        atomic.Int64 // unix nanos, shared by concurrent Dequeue callers
}

var (
	_ db_api.WorkQueueClient = (*DSClientRedis)(nil)
	_ db_api.RunStatusClient = (*DSClientRedis)(nil)
)

func NewDSClientRedis(ctx context.Context, conf *uredis.RedisClientConfig, opts Options) (*DSClientRedis, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := klog.FromContext(ctx)
	if conf == nil {
		err := fmt.Errorf("empty redis config")
		logger.Error(err, "NewDSClientRedis:")
		return nil, err
	}
	if opts.FailedRetention <= 0 {
		opts.FailedRetention = DefaultFailedRetention
	}
	if opts.RunTTL <= 0 {
		opts.RunTTL = DefaultRunTTL
	}
	redisClient, err := uredis.NewRedisClient(ctx, conf)
	if err != nil {
		return nil, err
	}
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	redisClientChecker := uredis.NewRedisClientChecker(redisClient, keysPrefix, conf.ServiceName, timeout)
	logger.Info("NewDSClientRedis: succeeded", "serviceName", conf.ServiceName)
	c := &DSClientRedis{
		redisClient:        redisClient,
		redisClientChecker: redisClientChecker,
		timeout:            timeout,
		opts:               opts,
		idleLogFreq:        logFreqDefault,
	}
	c.idleLogLast.Store(time.Now().UnixNano())
	return c, nil
}

func (c *DSClientRedis) Close() (err error) {
	if c.redisClient != nil {
		err = c.redisClient.Close()
	}
	return err
}

// Ping reports whether redis answers, for readiness checks.
func (c *DSClientRedis) Ping(ctx context.Context) error {
	cctx, ccancel := c.GetContext(ctx, 0)
	defer ccancel()
	return c.redisClient.Ping(cctx).Err()
}

func (c *DSClientRedis) GetContext(parentCtx context.Context, timeLimit time.Duration) (context.Context, context.CancelFunc) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	if timeLimit > 0 {
		return context.WithTimeout(parentCtx, timeLimit)
	}
	return context.WithTimeout(parentCtx, c.timeout)
}

func getKeyForQueue(queue string) string {
	return queueKeysPrefix + queue
}

func getKeyForProcessing(queue string) string {
	return queueKeysPrefix + queue + processingSuffix
}

func getKeyForFailed(queue string) string {
	return queueKeysPrefix + queue + failedSuffix
}

func getKeyForRun(runID string) string {
	return runKeysPrefix + runID
}

func unrecognizedBlockingError(err error) bool {
	errStr := err.Error()
	unrecognized :=
		err != goredis.Nil &&
			!strings.Contains(errStr, "i/o timeout") &&
			!strings.Contains(errStr, "context")
	return unrecognized
}
