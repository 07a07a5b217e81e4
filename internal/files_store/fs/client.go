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

// Package fs provides a filesystem-based implementation of the ObjectStore interface.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/llm-d-incubation/lexicon-batch/internal/files_store/api"
)

// DefaultTimeout is the default timeout for filesystem operations.
const DefaultTimeout = 30 * time.Second

// Client implements api.ObjectStore using local filesystem storage.
type Client struct {
	basePath       string
	defaultTimeout time.Duration
}

var _ api.ObjectStore = (*Client)(nil)

// New creates the base directory if needed and returns a client rooted there.
func New(basePath string) (*Client, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Client{
		basePath:       filepath.Clean(absPath),
		defaultTimeout: DefaultTimeout,
	}, nil
}

func (c *Client) SetDefaultTimeout(timeout time.Duration) {
	c.defaultTimeout = timeout
}

// resolvePath sanitizes and resolves a location to a full path, preventing path traversal.
func (c *Client) resolvePath(location string) (string, error) {
	fullPath := filepath.Join(c.basePath, filepath.Clean(filepath.FromSlash(location)))
	if !strings.HasPrefix(fullPath, c.basePath+string(os.PathSeparator)) &&
		fullPath != c.basePath {
		return "", fmt.Errorf("invalid path: %w", os.ErrInvalid)
	}
	return fullPath, nil
}

func (c *Client) metadata(fullPath string, info iofs.FileInfo) api.ObjectMetadata {
	rel, err := filepath.Rel(c.basePath, fullPath)
	if err != nil {
		rel = fullPath
	}
	return api.ObjectMetadata{
		Location: filepath.ToSlash(rel),
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
}

// Store writes to a temp file and links it into place, so a concurrent writer to the
// same location gets api.ErrFileExists instead of overwriting.
func (c *Client) Store(ctx context.Context, location string, sizeLimit int64, reader io.Reader) (
	*api.ObjectMetadata, error,
) {
	fullPath, err := c.resolvePath(location)
	if err != nil {
		return nil, err
	}
	if fullPath == c.basePath {
		return nil, fmt.Errorf("invalid location %q: %w", location, os.ErrInvalid)
	}

	if _, err := os.Stat(fullPath); err == nil {
		return nil, api.ErrFileExists
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	written, err := io.Copy(tmpFile, io.LimitReader(reader, sizeLimit+1))
	if err != nil {
		_ = tmpFile.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}
	if written > sizeLimit {
		return nil, api.ErrFileTooLarge
	}

	if err := os.Link(tmpPath, fullPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, api.ErrFileExists
		}
		return nil, fmt.Errorf("failed to move file into place: %w", err)
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	md := c.metadata(fullPath, info)
	return &md, nil
}

func (c *Client) Retrieve(ctx context.Context, location string) (io.ReadCloser, *api.ObjectMetadata, error) {
	fullPath, err := c.resolvePath(location)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, nil, fmt.Errorf("%s is a directory: %w", location, os.ErrInvalid)
	}

	md := c.metadata(fullPath, info)
	return file, &md, nil
}

// List walks the directory tree under prefix. Temp files of in-flight stores are skipped.
func (c *Client) List(ctx context.Context, prefix string) ([]api.ObjectMetadata, error) {
	root, err := c.resolvePath(prefix)
	if err != nil {
		return nil, err
	}

	var files []api.ObjectMetadata
	err = filepath.WalkDir(root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, c.metadata(path, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Location < files[j].Location })
	return files, nil
}

func (c *Client) GetContext(parentCtx context.Context, timeLimit time.Duration) (context.Context, context.CancelFunc) {
	if timeLimit == 0 {
		timeLimit = c.defaultTimeout
	}
	return context.WithTimeout(parentCtx, timeLimit)
}

func (c *Client) Close() error {
	return nil
}
