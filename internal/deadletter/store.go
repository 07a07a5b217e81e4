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

package deadletter

import (
	"context"
	"fmt"

	"github.com/llm-d-incubation/lexicon-batch/internal/files_store/api"
	"github.com/llm-d-incubation/lexicon-batch/internal/files_store/fs"
	"github.com/llm-d-incubation/lexicon-batch/internal/files_store/s3"
)

const (
	BackendFS   = "fs"
	BackendS3   = "s3"
	BackendNone = "none"
)

type StoreConfig struct {
	Backend string    `yaml:"backend" env:"DEADLETTER_BACKEND"`
	Prefix  string    `yaml:"prefix"`
	FSPath  string    `yaml:"fs_path" env:"DEADLETTER_FS_PATH"`
	S3      s3.Config `yaml:"s3"`
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case BackendNone:
		return nil
	case BackendFS:
		if c.FSPath == "" {
			return fmt.Errorf("dead letter fs_path is required for the fs backend")
		}
		return nil
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("dead letter s3.bucket is required for the s3 backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown dead letter backend %q", c.Backend)
	}
}

// NewObjectStore opens the configured backend. It returns nil for the none backend.
func NewObjectStore(ctx context.Context, cfg StoreConfig) (api.ObjectStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendFS:
		return fs.New(cfg.FSPath)
	case BackendS3:
		return s3.New(ctx, cfg.S3)
	default:
		return nil, nil
	}
}

// NewSink returns a StoreSink on the configured backend, or a LogSink for the none backend.
func NewSink(ctx context.Context, cfg StoreConfig) (Sink, api.ObjectStore, error) {
	store, err := NewObjectStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return LogSink{}, nil, nil
	}
	return NewStoreSink(store, cfg.Prefix), store, nil
}
