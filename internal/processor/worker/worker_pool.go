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

package worker

import (
	"context"
	"sync"
)

// WorkerPool bounds the number of jobs a consumer runs at once.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{sem: make(chan struct{}, size)}
}

func (wp *WorkerPool) Size() int {
	return cap(wp.sem)
}

func (wp *WorkerPool) TryAcquire() bool {
	select {
	case wp.sem <- struct{}{}:
		wp.wg.Add(1)
		return true
	default:
		return false
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (wp *WorkerPool) Acquire(ctx context.Context) error {
	select {
	case wp.sem <- struct{}{}:
		wp.wg.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (wp *WorkerPool) Release() {
	<-wp.sem
	wp.wg.Done()
}

func (wp *WorkerPool) WaitAll() {
	wp.wg.Wait()
}
