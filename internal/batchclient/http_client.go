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
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
	"github.com/llm-d-incubation/lexicon-batch/internal/util/logging"
	utls "github.com/llm-d-incubation/lexicon-batch/internal/util/tls"
)

const (
	filesPath       = "/v1/files"
	fileContentPath = "/v1/files/{file_id}/content"
	batchesPath     = "/v1/batches"
	batchPath       = "/v1/batches/{batch_id}"
	batchCancelPath = "/v1/batches/{batch_id}/cancel"
)

// HTTPClient implements Client against the provider REST API.
type HTTPClient struct {
	client *resty.Client
	// upload runs without resty retries since the file reader cannot be rewound.
	upload *resty.Client
}

// HTTPClientConfig holds configuration for the HTTP client
type HTTPClientConfig struct {
	BaseURL         string        `yaml:"base_url" env:"PROVIDER_BASE_URL"`
	APIKey          string        `yaml:"-" env:"PROVIDER_API_KEY"`
	Timeout         time.Duration `yaml:"timeout"`           // default: 5 minutes
	MaxIdleConns    int           `yaml:"max_idle_conns"`    // default: 100
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"` // default: 90 seconds

	// TLS configuration (optional)
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify"`
	TLSCACertFile         string `yaml:"tls_ca_cert_file"`
	TLSClientCertFile     string `yaml:"tls_client_cert_file"`
	TLSClientKeyFile      string `yaml:"tls_client_key_file"`
	TLSMinVersion         uint16 `yaml:"tls_min_version"`

	// Retry configuration (optional, set MaxRetries > 0 to enable).
	// Uses resty's built-in exponential backoff with jitter.
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"` // default: 1 second
	MaxBackoff     time.Duration `yaml:"max_backoff"`     // default: 60 seconds
}

func (c HTTPClientConfig) withDefaults() HTTPClientConfig {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 100
	}
	if c.IdleConnTimeout == 0 {
		c.IdleConnTimeout = 90 * time.Second
	}
	if c.MaxRetries > 0 {
		if c.InitialBackoff == 0 {
			c.InitialBackoff = 1 * time.Second
		}
		if c.MaxBackoff == 0 {
			c.MaxBackoff = 60 * time.Second
		}
	}
	return c
}

// NewHTTPClient creates a provider client. It fails only on an invalid TLS setup.
func NewHTTPClient(config HTTPClientConfig) (*HTTPClient, error) {
	config = config.withDefaults()
	if config.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is empty")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = config.MaxIdleConns
	transport.MaxIdleConnsPerHost = config.MaxIdleConns
	transport.IdleConnTimeout = config.IdleConnTimeout
	transport.ResponseHeaderTimeout = 30 * time.Second

	tlsConfig, err := buildTLSConfig(config)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	client := newRestyClient(config, transport)
	if config.MaxRetries > 0 {
		client.SetRetryCount(config.MaxRetries).
			SetRetryWaitTime(config.InitialBackoff).
			SetRetryMaxWaitTime(config.MaxBackoff)

		// Retry on server errors, rate limits and network errors
		client.AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			statusCode := r.StatusCode()
			return statusCode == http.StatusTooManyRequests || statusCode >= 500
		})
		client.AddRetryHook(func(resp *resty.Response, err error) {
			klog.V(logging.INFO).Infof("Retrying %s %s (attempt %d/%d)",
				resp.Request.Method, resp.Request.URL, resp.Request.Attempt, config.MaxRetries)
		})
	}

	return &HTTPClient{
		client: client,
		upload: newRestyClient(config, transport),
	}, nil
}

func newRestyClient(config HTTPClientConfig, transport http.RoundTripper) *resty.Client {
	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetHeader("Accept", "application/json").
		SetTransport(transport)
	if config.APIKey != "" {
		client.SetAuthToken(config.APIKey)
	}
	return client
}

func (c *HTTPClient) Upload(ctx context.Context, name string, r io.Reader) (*openai.File, error) {
	logger := klog.FromContext(ctx)

	resp, err := c.upload.R().
		SetContext(ctx).
		SetFileReader("file", name, r).
		SetFormData(map[string]string{"purpose": openai.FilePurposeBatch}).
		Post(filesPath)
	if err != nil {
		return nil, &UploadError{Name: name, Err: handleRequestError(ctx, err)}
	}
	if resp.IsError() {
		return nil, &UploadError{Name: name, Err: handleErrorResponse(resp.StatusCode(), resp.Body())}
	}

	file := &openai.File{}
	if err := json.Unmarshal(resp.Body(), file); err != nil {
		return nil, &UploadError{Name: name, Err: fmt.Errorf("failed to decode file object: %w", err)}
	}
	logger.V(logging.DEBUG).Info("File uploaded", "fileID", file.ID, "name", name, "bytes", file.Bytes)
	return file, nil
}

func (c *HTTPClient) CreateJob(ctx context.Context, req openai.CreateBatchRequest) (*openai.Batch, error) {
	if req.InputFileID == "" {
		return nil, &ClientError{Category: ErrCategoryInvalidReq, Message: "input file id cannot be empty"}
	}
	if req.Endpoint == "" {
		req.Endpoint = openai.EndpointChatCompletions
	}
	if req.CompletionWindow == "" {
		req.CompletionWindow = openai.CompletionWindow24h
	}

	batch := &openai.Batch{}
	if err := c.do(ctx, "create batch", "file", req.InputFileID,
		c.client.R().SetContext(ctx).SetHeader("Content-Type", "application/json").SetBody(req),
		http.MethodPost, batchesPath, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, batchID string) (*openai.Batch, error) {
	batch := &openai.Batch{}
	if err := c.do(ctx, "get batch", "batch", batchID,
		c.client.R().SetContext(ctx).SetPathParam("batch_id", batchID),
		http.MethodGet, batchPath, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, batchID string) (*openai.Batch, error) {
	batch := &openai.Batch{}
	if err := c.do(ctx, "cancel batch", "batch", batchID,
		c.client.R().SetContext(ctx).SetPathParam("batch_id", batchID),
		http.MethodPost, batchCancelPath, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *HTTPClient) List(ctx context.Context, limit int, after string) (*openai.BatchList, error) {
	req := c.client.R().SetContext(ctx)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if after != "" {
		req.SetQueryParam("after", after)
	}

	list := &openai.BatchList{}
	if err := c.do(ctx, "list batches", "batch", after, req, http.MethodGet, batchesPath, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *HTTPClient) FetchResults(ctx context.Context, batchID string) (string, string, error) {
	batch, err := c.GetStatus(ctx, batchID)
	if err != nil {
		return "", "", err
	}

	output, err := c.fileContent(ctx, batch.OutputFileID)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch output file of batch %s: %w", batchID, err)
	}
	errs, err := c.fileContent(ctx, batch.ErrorFileID)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch error file of batch %s: %w", batchID, err)
	}
	return output, errs, nil
}

func (c *HTTPClient) fileContent(ctx context.Context, fileID string) (string, error) {
	if fileID == "" {
		return "", nil
	}
	resp, err := c.client.R().SetContext(ctx).SetPathParam("file_id", fileID).Get(fileContentPath)
	if err != nil {
		return "", classify("get file content", "file", fileID, handleRequestError(ctx, err))
	}
	if resp.IsError() {
		return "", classify("get file content", "file", fileID, handleErrorResponse(resp.StatusCode(), resp.Body()))
	}
	return resp.String(), nil
}

// do executes req and decodes a successful JSON body into out.
func (c *HTTPClient) do(ctx context.Context, op, resource, id string, req *resty.Request, method, path string, out any) error {
	logger := klog.FromContext(ctx)
	logger.V(logging.TRACE).Info("Sending provider request", "op", op, "method", method, "path", path, "id", id)

	resp, err := req.Execute(method, path)
	if err != nil {
		return classify(op, resource, id, handleRequestError(ctx, err))
	}
	if resp.IsError() {
		return classify(op, resource, id, handleErrorResponse(resp.StatusCode(), resp.Body()))
	}
	if resp.Request.Attempt > 1 {
		logger.V(logging.INFO).Info("Request succeeded after retries", "op", op, "retries", resp.Request.Attempt-1)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &ClientError{
			Category:   ErrCategoryUnknown,
			StatusCode: resp.StatusCode(),
			Message:    fmt.Sprintf("%s: failed to decode response: %v", op, err),
			RawError:   err,
		}
	}
	return nil
}

// handleRequestError processes request-level errors (network, timeout, cancellation)
func handleRequestError(ctx context.Context, err error) *ClientError {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &ClientError{Category: ErrCategoryUnknown, Message: "request cancelled", RawError: err}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ClientError{Category: ErrCategoryServer, Message: "request timeout", RawError: err}
	}
	return &ClientError{
		Category: ErrCategoryServer,
		Message:  fmt.Sprintf("failed to execute request: %v", err),
		RawError: err,
	}
}

// handleErrorResponse parses an OpenAI style error body and maps the status code.
func handleErrorResponse(statusCode int, body []byte) *ClientError {
	var errorResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		message = errorResp.Error.Message
	}

	return &ClientError{
		Category:   mapStatusCodeToCategory(statusCode),
		StatusCode: statusCode,
		Message:    fmt.Sprintf("HTTP %d: %s", statusCode, message),
		RawError:   fmt.Errorf("status code: %d, body: %s", statusCode, string(body)),
	}
}

func mapStatusCodeToCategory(statusCode int) ErrorCategory {
	switch statusCode {
	case http.StatusBadRequest:
		return ErrCategoryInvalidReq
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCategoryAuth
	case http.StatusNotFound:
		return ErrCategoryNotFound
	case http.StatusTooManyRequests:
		return ErrCategoryRateLimit
	default:
		if statusCode >= 500 {
			return ErrCategoryServer
		}
		return ErrCategoryUnknown
	}
}

// buildTLSConfig returns nil when no custom TLS option is set.
func buildTLSConfig(config HTTPClientConfig) (*tls.Config, error) {
	if !config.TLSInsecureSkipVerify &&
		config.TLSCACertFile == "" &&
		config.TLSClientCertFile == "" &&
		config.TLSClientKeyFile == "" &&
		config.TLSMinVersion == 0 {
		return nil, nil
	}
	if (config.TLSClientCertFile == "") != (config.TLSClientKeyFile == "") {
		return nil, fmt.Errorf("both TLSClientCertFile and TLSClientKeyFile must be specified for mTLS")
	}
	if config.TLSInsecureSkipVerify {
		klog.Warning("TLS certificate verification is disabled - this is insecure and should only be used for testing")
	}

	tlsConfig, err := utls.GetTlsConfig(utls.LOAD_TYPE_CLIENT, config.TLSInsecureSkipVerify,
		config.TLSClientCertFile, config.TLSClientKeyFile, config.TLSCACertFile)
	if err != nil {
		return nil, err
	}
	if config.TLSMinVersion != 0 {
		tlsConfig.MinVersion = config.TLSMinVersion
	}
	return tlsConfig, nil
}
