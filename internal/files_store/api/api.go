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

// Package api defines the object store used for dead letters and exported packages.
package api

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrFileTooLarge is returned when the object exceeds the size limit given to Store.
	ErrFileTooLarge = errors.New("file size exceeds limit")

	// ErrFileExists is returned when storing to a location that is already taken.
	// Stores never overwrite.
	ErrFileExists = errors.New("file already exists")
)

// ObjectMetadata describes a stored object. Location is relative to the store root.
type ObjectMetadata struct {
	Location string
	Size     int64
	ModTime  time.Time
}

// ObjectStore is an append-only object store keyed by slash separated locations.
type ObjectStore interface {
	// Store writes the reader to location. It returns ErrFileExists if the location is taken
	// and ErrFileTooLarge if more than sizeLimit bytes are read.
	Store(ctx context.Context, location string, sizeLimit int64, reader io.Reader) (*ObjectMetadata, error)

	// Retrieve opens the object at location. The caller closes the returned reader.
	// A missing object yields os.ErrNotExist.
	Retrieve(ctx context.Context, location string) (io.ReadCloser, *ObjectMetadata, error)

	// List returns every object under prefix, sorted by location.
	List(ctx context.Context, prefix string) ([]ObjectMetadata, error)

	// GetContext returns a derived context bounded by timeLimit, or the store default when zero.
	GetContext(parentCtx context.Context, timeLimit time.Duration) (context.Context, context.CancelFunc)

	Close() error
}
