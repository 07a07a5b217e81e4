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

// The file provides JSON response helpers with OpenAI style error bodies.
package common

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/batchclient"
)

const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeNotFound       = "not_found_error"
	ErrTypeProvider       = "provider_error"
	ErrTypeServer         = "server_error"
)

type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}

func WriteJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.FromContext(ctx).Error(err, "Failed to write response body")
	}
}

func WriteAPIError(ctx context.Context, w http.ResponseWriter, status int, errType, code, message string) {
	WriteJSON(ctx, w, status, ErrorResponse{Error: APIError{Message: message, Type: errType, Code: code}})
}

func WriteBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	WriteAPIError(ctx, w, http.StatusBadRequest, ErrTypeInvalidRequest, "invalid_parameter", message)
}

func WriteInternalError(ctx context.Context, w http.ResponseWriter, err error) {
	klog.FromContext(ctx).Error(err, "Internal error")
	WriteAPIError(ctx, w, http.StatusInternalServerError, ErrTypeServer, "internal_error", "internal server error")
}

// WriteProviderError maps a batch provider failure to a response status.
func WriteProviderError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		notFound  *batchclient.NotFoundError
		transient *batchclient.TransientError
		clientErr *batchclient.ClientError
		uploadErr *batchclient.UploadError
	)
	switch {
	case errors.As(err, &notFound):
		WriteAPIError(ctx, w, http.StatusNotFound, ErrTypeNotFound, "not_found", notFound.Error())
	case errors.As(err, &transient):
		klog.FromContext(ctx).Error(err, "Provider unavailable")
		code := ""
		if transient.Err != nil {
			code = string(transient.Err.Category)
		}
		WriteAPIError(ctx, w, http.StatusServiceUnavailable, ErrTypeProvider, code, err.Error())
	case errors.As(err, &clientErr):
		klog.FromContext(ctx).Error(err, "Provider rejected request")
		WriteAPIError(ctx, w, http.StatusBadGateway, ErrTypeProvider, string(clientErr.Category), err.Error())
	case errors.As(err, &uploadErr):
		klog.FromContext(ctx).Error(err, "Upload failed")
		WriteAPIError(ctx, w, http.StatusBadGateway, ErrTypeProvider, "upload_failed", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		WriteAPIError(ctx, w, http.StatusGatewayTimeout, ErrTypeProvider, "timeout", err.Error())
	default:
		WriteInternalError(ctx, w, err)
	}
}
