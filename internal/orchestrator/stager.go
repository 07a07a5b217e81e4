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

package orchestrator

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
	"github.com/llm-d-incubation/lexicon-batch/internal/corpus"
	"github.com/llm-d-incubation/lexicon-batch/internal/jobpackage"
	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
)

// Stager builds, writes and uploads the package of one batch.
type Stager struct {
	provider batchclient.Client
	writer   *jobpackage.Writer
}

func NewStager(provider batchclient.Client, writer *jobpackage.Writer) *Stager {
	return &Stager{provider: provider, writer: writer}
}

// Stage uploads batch as one input file with unit ids starting at offset. The local
// package is removed whatever the outcome.
func (s *Stager) Stage(ctx context.Context, builder *jobpackage.Builder, batch corpus.Batch, offset int) (*openai.File, error) {
	logger := klog.FromContext(ctx)

	units, err := builder.Build(ctx, batch, float64(offset))
	if err != nil {
		return nil, err
	}
	pkg, err := s.writer.Write(ctx, units)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := pkg.Release(); rerr != nil {
			logger.Error(rerr, "Failed to remove job package", "path", pkg.Path)
		}
	}()

	f, err := pkg.Open()
	if err != nil {
		return nil, fmt.Errorf("open job package: %w", err)
	}
	defer f.Close()

	file, err := s.provider.Upload(ctx, pkg.Name(), f)
	if err != nil {
		return nil, err
	}
	logger.Info("Uploaded job package", "fileID", file.ID, "units", pkg.Units, "bytes", pkg.Bytes)
	return file, nil
}

// Offsets returns the first unit id of every batch when ids run on across batches from base.
func Offsets(batches []corpus.Batch, base int) []int {
	if base < 1 {
		base = 1
	}
	out := make([]int, len(batches))
	next := base
	for i, b := range batches {
		out[i] = next
		next += len(b)
	}
	return out
}
