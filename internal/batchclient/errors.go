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

package batchclient

import (
	"errors"
	"fmt"
)

type ErrorCategory string

const (
	ErrCategoryRateLimit  ErrorCategory = "RATE_LIMIT"   // retryable
	ErrCategoryServer     ErrorCategory = "SERVER_ERROR" // retryable
	ErrCategoryInvalidReq ErrorCategory = "INVALID_REQ"  // not retryable
	ErrCategoryAuth       ErrorCategory = "AUTH_ERROR"   // not retryable
	ErrCategoryNotFound   ErrorCategory = "NOT_FOUND"    // not retryable
	ErrCategoryUnknown    ErrorCategory = "UNKNOWN"      // not retryable
)

// ClientError is a failed provider call.
type ClientError struct {
	Category   ErrorCategory
	StatusCode int
	Message    string
	RawError   error
}

func (e *ClientError) Error() string {
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.RawError
}

func (e *ClientError) IsRetryable() bool {
	return e.Category == ErrCategoryRateLimit || e.Category == ErrCategoryServer
}

// TransientError is a provider failure that may succeed when repeated.
type TransientError struct {
	Op  string
	Err *ClientError
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient provider error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NotFoundError reports an unknown batch or file id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// UploadError is returned by Upload whatever the underlying cause.
type UploadError struct {
	Name string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to upload %s: %v", e.Name, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// classify sorts a client error into the typed taxonomy.
func classify(op, resource, id string, ce *ClientError) error {
	switch {
	case ce.Category == ErrCategoryNotFound:
		return &NotFoundError{Resource: resource, ID: id}
	case ce.IsRetryable():
		return &TransientError{Op: op, Err: ce}
	default:
		return ce
	}
}
