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
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	db_api "github.com/llm-d-incubation/lexicon-batch/internal/database/api"
)

const (
	fieldNameId        = "id"
	fieldNameStatus    = "status"
	fieldNameError     = "error"
	fieldNameBatches   = "batches"
	fieldNameCreated   = "created_at"
	fieldNameUpdated   = "updated_at"
	fieldPrefixBatch   = "batch:"
	fieldPrefixStorage = "storage:"
)

func (c *DSClientRedis) CreateRun(ctx context.Context, run *db_api.Run) error {
	logger := klog.FromContext(ctx)
	if run == nil || run.ID == "" {
		err := fmt.Errorf("empty or invalid run")
		logger.Error(err, "CreateRun:")
		return err
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.Status == "" {
		run.Status = db_api.RunQueued
	}

	key := getKeyForRun(run.ID)
	cctx, ccancel := c.GetContext(ctx, 0)
	_, err := c.redisClient.TxPipelined(cctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(cctx, key,
			fieldNameId, run.ID,
			fieldNameStatus, string(run.Status),
			fieldNameError, run.Error,
			fieldNameBatches, run.Batches,
			fieldNameCreated, run.CreatedAt.Format(time.RFC3339Nano),
			fieldNameUpdated, run.UpdatedAt.Format(time.RFC3339Nano))
		pipe.Expire(cctx, key, c.opts.RunTTL)
		return nil
	})
	ccancel()
	if err != nil {
		logger.Error(err, "CreateRun: TxPipelined failed", "runId", run.ID)
		return err
	}
	logger.Info("CreateRun: succeeded", "runId", run.ID, "batches", run.Batches)
	return nil
}

func (c *DSClientRedis) SetRunStatus(ctx context.Context, runID string, status db_api.RunStatus, errMsg string) error {
	return c.setFields(ctx, runID,
		fieldNameStatus, string(status),
		fieldNameError, errMsg)
}

func (c *DSClientRedis) PutBatch(ctx context.Context, runID string, rec *db_api.BatchRecord) error {
	if rec == nil {
		return fmt.Errorf("empty batch record")
	}
	rec.UpdatedAt = time.Now().UTC()
	stored := *rec
	stored.Storage = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	return c.setFields(ctx, runID, fieldPrefixBatch+strconv.Itoa(rec.Index), string(data))
}

func (c *DSClientRedis) PutStorage(ctx context.Context, runID string, index int, rec *db_api.StorageRecord) error {
	if rec == nil {
		return fmt.Errorf("empty storage record")
	}
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.setFields(ctx, runID, fieldPrefixStorage+strconv.Itoa(index), string(data))
}

// setFields updates an existing run and bumps its updated_at.
func (c *DSClientRedis) setFields(ctx context.Context, runID string, fieldsAndValues ...any) error {
	logger := klog.FromContext(ctx).WithValues("runId", runID)
	key := getKeyForRun(runID)

	cctx, ccancel := c.GetContext(ctx, 0)
	defer ccancel()
	n, err := c.redisClient.Exists(cctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, db_api.ErrNotFound)
	}

	args := append(fieldsAndValues, fieldNameUpdated, time.Now().UTC().Format(time.RFC3339Nano))
	_, err = c.redisClient.TxPipelined(cctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(cctx, key, args...)
		pipe.Expire(cctx, key, c.opts.RunTTL)
		return nil
	})
	if err != nil {
		logger.Error(err, "setFields: TxPipelined failed")
	}
	return err
}

func (c *DSClientRedis) GetRun(ctx context.Context, runID string) (*db_api.Run, error) {
	cctx, ccancel := c.GetContext(ctx, 0)
	vals, err := c.redisClient.HGetAll(cctx, getKeyForRun(runID)).Result()
	ccancel()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 || vals[fieldNameId] == "" {
		return nil, fmt.Errorf("run %s: %w", runID, db_api.ErrNotFound)
	}
	return runFromHget(vals)
}

func runFromHget(vals map[string]string) (*db_api.Run, error) {
	run := &db_api.Run{
		ID:     vals[fieldNameId],
		Status: db_api.RunStatus(vals[fieldNameStatus]),
		Error:  vals[fieldNameError],
	}
	var err error
	if v := vals[fieldNameBatches]; v != "" {
		if run.Batches, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("run %s: bad %s: %w", run.ID, fieldNameBatches, err)
		}
	}
	if v := vals[fieldNameCreated]; v != "" {
		if run.CreatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("run %s: bad %s: %w", run.ID, fieldNameCreated, err)
		}
	}
	if v := vals[fieldNameUpdated]; v != "" {
		if run.UpdatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("run %s: bad %s: %w", run.ID, fieldNameUpdated, err)
		}
	}

	records := map[int]*db_api.BatchRecord{}
	record := func(index int) *db_api.BatchRecord {
		if rec, ok := records[index]; ok {
			return rec
		}
		rec := &db_api.BatchRecord{Index: index}
		records[index] = rec
		return rec
	}
	for field, val := range vals {
		switch {
		case strings.HasPrefix(field, fieldPrefixBatch):
			index, err := strconv.Atoi(strings.TrimPrefix(field, fieldPrefixBatch))
			if err != nil {
				continue
			}
			rec := record(index)
			storage := rec.Storage
			if err := json.Unmarshal([]byte(val), rec); err != nil {
				return nil, fmt.Errorf("run %s: bad %s: %w", run.ID, field, err)
			}
			rec.Storage = storage
		case strings.HasPrefix(field, fieldPrefixStorage):
			index, err := strconv.Atoi(strings.TrimPrefix(field, fieldPrefixStorage))
			if err != nil {
				continue
			}
			storage := &db_api.StorageRecord{}
			if err := json.Unmarshal([]byte(val), storage); err != nil {
				return nil, fmt.Errorf("run %s: bad %s: %w", run.ID, field, err)
			}
			record(index).Storage = storage
		}
	}

	run.Records = make([]db_api.BatchRecord, 0, len(records))
	for _, rec := range records {
		run.Records = append(run.Records, *rec)
	}
	sort.Slice(run.Records, func(i, j int) bool { return run.Records[i].Index < run.Records[j].Index })
	return run, nil
}
