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

package jobpackage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/util/logging"
)

const (
	DefaultMaxUnits = 50000
	DefaultMaxBytes = 100 << 20

	LimitUnits = "units"
	LimitBytes = "bytes"
)

var ErrPayloadTooLarge = errors.New("job package exceeds provider limits")

// PayloadTooLargeError reports which ceiling a package would have crossed.
type PayloadTooLargeError struct {
	Limit  string
	Max    int64
	Actual int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("%s: %d %s exceeds the limit of %d", ErrPayloadTooLarge, e.Actual, e.Limit, e.Max)
}

func (e *PayloadTooLargeError) Is(target error) bool {
	return target == ErrPayloadTooLarge
}

type WriterConfig struct {
	MaxUnits int    `yaml:"max_units"`
	MaxBytes int64  `yaml:"max_bytes"`
	TempDir  string `yaml:"temp_dir"`
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.MaxUnits <= 0 {
		c.MaxUnits = DefaultMaxUnits
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	return c
}

// Writer serialises job units into JSONL packages ready for upload.
type Writer struct {
	cfg     WriterConfig
	schemas *SchemaRegistry
}

func NewWriter(cfg WriterConfig, schemas *SchemaRegistry) *Writer {
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	return &Writer{cfg: cfg.withDefaults(), schemas: schemas}
}

// Package is a JSONL file on local disk. The caller owns it and must call Release.
type Package struct {
	Path  string
	Units int
	Bytes int64

	releaseOnce sync.Once
	releaseErr  error
}

// Name is the file name used for the upload.
func (p *Package) Name() string {
	return filepath.Base(p.Path)
}

func (p *Package) Open() (*os.File, error) {
	return os.Open(p.Path)
}

// Release removes the package file. Calling it more than once is safe.
func (p *Package) Release() error {
	p.releaseOnce.Do(func() {
		if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.releaseErr = err
		}
	})
	return p.releaseErr
}

// Write streams units to a temp file, one request line each. It fails without
// truncating when a ceiling would be exceeded and never leaves a partial file behind.
func (w *Writer) Write(ctx context.Context, units []JobUnit) (pkg *Package, err error) {
	logger := klog.FromContext(ctx)

	if len(units) == 0 {
		return nil, fmt.Errorf("no job units to write")
	}
	if len(units) > w.cfg.MaxUnits {
		return nil, &PayloadTooLargeError{Limit: LimitUnits, Max: int64(w.cfg.MaxUnits), Actual: int64(len(units))}
	}

	f, err := os.CreateTemp(w.cfg.TempDir, "batch-*.jsonl")
	if err != nil {
		return nil, fmt.Errorf("failed to create package file: %w", err)
	}
	path := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logger.Error(rmErr, "Failed to remove partial package", "path", path)
			}
		}
	}()

	bw := bufio.NewWriter(f)
	var written int64
	for _, u := range units {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		line, lerr := requestLine(u, w.schemas)
		if lerr != nil {
			err = fmt.Errorf("unit %s: %w", u.CustomID(), lerr)
			return nil, err
		}
		data, merr := json.Marshal(line)
		if merr != nil {
			err = fmt.Errorf("unit %s: %w", u.CustomID(), merr)
			return nil, err
		}
		data = append(data, '\n')
		if written+int64(len(data)) > w.cfg.MaxBytes {
			err = &PayloadTooLargeError{Limit: LimitBytes, Max: w.cfg.MaxBytes, Actual: written + int64(len(data))}
			return nil, err
		}
		if _, err = bw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to write package: %w", err)
		}
		written += int64(len(data))
	}
	if err = bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush package: %w", err)
	}
	if err = f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close package: %w", err)
	}

	logger.V(logging.DEBUG).Info("Package written", "path", path, "units", len(units), "bytes", written)
	return &Package{Path: path, Units: len(units), Bytes: written}, nil
}
