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

// Package s3 provides an S3-based implementation of the ObjectStore interface.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/llm-d-incubation/lexicon-batch/internal/files_store/api"
)

const DefaultTimeout = 30 * time.Second

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type uploaderAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Client implements api.ObjectStore on an S3 compatible bucket.
// Locations are keys relative to Prefix.
type Client struct {
	s3Client       s3API
	uploader       uploaderAPI
	bucket         string
	prefix         string
	defaultTimeout time.Duration
}

var _ api.ObjectStore = (*Client)(nil)

type Config struct {
	Bucket          string `yaml:"bucket" env:"DEADLETTER_S3_BUCKET"`
	Region          string `yaml:"region" env:"AWS_REGION"`
	Endpoint        string `yaml:"endpoint" env:"DEADLETTER_S3_ENDPOINT"`
	AccessKeyID     string `yaml:"-" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"-" env:"AWS_SECRET_ACCESS_KEY"`
	Prefix          string `yaml:"prefix"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is empty")
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	s3Client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &Client{
		s3Client:       s3Client,
		uploader:       manager.NewUploader(s3Client),
		bucket:         cfg.Bucket,
		prefix:         strings.Trim(cfg.Prefix, "/"),
		defaultTimeout: DefaultTimeout,
	}, nil
}

func (c *Client) SetDefaultTimeout(timeout time.Duration) {
	c.defaultTimeout = timeout
}

func (c *Client) resolveKey(location string) string {
	location = strings.TrimPrefix(location, "/")
	if c.prefix == "" {
		return location
	}
	if location == "" {
		return c.prefix + "/"
	}
	return c.prefix + "/" + location
}

// relativeKey strips the client prefix from a bucket key.
func (c *Client) relativeKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, c.prefix+"/")
}

type limitedCountingReader struct {
	reader    io.Reader
	limit     int64
	bytesRead int64
}

func (r *limitedCountingReader) Read(p []byte) (n int, err error) {
	n, err = r.reader.Read(p)
	r.bytesRead += int64(n)
	if r.bytesRead > r.limit {
		return n, api.ErrFileTooLarge
	}
	return n, err
}

// Store checks the key first and then uploads.
func (c *Client) Store(ctx context.Context, location string, sizeLimit int64, reader io.Reader) (
	*api.ObjectMetadata, error,
) {
	key := c.resolveKey(location)

	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil, api.ErrFileExists
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("failed to check if object exists: %w", err)
	}

	countingReader := &limitedCountingReader{
		reader: reader,
		limit:  sizeLimit,
	}

	_, err = c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   countingReader,
	})
	if err != nil {
		if errors.Is(err, api.ErrFileTooLarge) {
			return nil, api.ErrFileTooLarge
		}
		return nil, fmt.Errorf("failed to upload object: %w", err)
	}

	return &api.ObjectMetadata{
		Location: c.relativeKey(key),
		Size:     countingReader.bytesRead,
		ModTime:  time.Now(),
	}, nil
}

func (c *Client) Retrieve(ctx context.Context, location string) (io.ReadCloser, *api.ObjectMetadata, error) {
	key := c.resolveKey(location)

	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, nil, os.ErrNotExist
		}
		return nil, nil, fmt.Errorf("failed to get object: %w", err)
	}

	modTime := time.Now()
	if out.LastModified != nil {
		modTime = *out.LastModified
	}

	return out.Body, &api.ObjectMetadata{
		Location: c.relativeKey(key),
		Size:     aws.ToInt64(out.ContentLength),
		ModTime:  modTime,
	}, nil
}

func (c *Client) List(ctx context.Context, prefix string) ([]api.ObjectMetadata, error) {
	keyPrefix := c.resolveKey(prefix)

	var files []api.ObjectMetadata
	var continuationToken *string

	for {
		out, err := c.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(c.bucket),
			Prefix:            aws.String(keyPrefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range out.Contents {
			var modTime time.Time
			if obj.LastModified != nil {
				modTime = *obj.LastModified
			}
			files = append(files, api.ObjectMetadata{
				Location: c.relativeKey(aws.ToString(obj.Key)),
				Size:     aws.ToInt64(obj.Size),
				ModTime:  modTime,
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuationToken = out.NextContinuationToken
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
