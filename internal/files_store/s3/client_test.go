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

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d-incubation/lexicon-batch/internal/files_store/api"
)

// fakeBucket is an in-memory bucket. ListObjectsV2 pages by pageSize keys.
type fakeBucket struct {
	objects  map[string][]byte
	pageSize int
	headErr  error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, pageSize: 1000}
}

func (b *fakeBucket) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.objects[aws.ToString(in.Key)] = data
	return &manager.UploadOutput{}, nil
}

func (b *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := b.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (b *fakeBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if b.headErr != nil {
		return nil, b.headErr
	}
	if _, ok := b.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

// ListObjectsV2 pages through the keys in reverse order, so the client has to sort them.
func (b *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	start := 0
	if in.ContinuationToken != nil {
		for i, k := range keys {
			if k == *in.ContinuationToken {
				start = i
			}
		}
	}
	end := min(start+b.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, key := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key), Size: aws.Int64(int64(len(b.objects[key])))})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func newBucketClient(bucket *fakeBucket, prefix string) *Client {
	return &Client{
		s3Client:       bucket,
		uploader:       bucket,
		bucket:         "dead-letters",
		prefix:         prefix,
		defaultTimeout: DefaultTimeout,
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("keys are relative to the prefix", func(t *testing.T) {
		bucket := newFakeBucket()
		client := newBucketClient(bucket, "lexicon")

		md, err := client.Store(ctx, "batch_1/malformed_line/output-3.txt", 1024, strings.NewReader(`{"custom_id":`))
		require.NoError(t, err)
		assert.Equal(t, "batch_1/malformed_line/output-3.txt", md.Location)
		assert.Equal(t, int64(13), md.Size)
		assert.Equal(t, []byte(`{"custom_id":`), bucket.objects["lexicon/batch_1/malformed_line/output-3.txt"])
	})

	t.Run("never overwrites", func(t *testing.T) {
		bucket := newFakeBucket()
		client := newBucketClient(bucket, "")

		_, err := client.Store(ctx, "a.txt", 1024, strings.NewReader("original"))
		require.NoError(t, err)
		_, err = client.Store(ctx, "a.txt", 1024, strings.NewReader("changed"))
		assert.ErrorIs(t, err, api.ErrFileExists)
		assert.Equal(t, []byte("original"), bucket.objects["a.txt"])
	})

	t.Run("size limit", func(t *testing.T) {
		client := newBucketClient(newFakeBucket(), "")

		_, err := client.Store(ctx, "exact.txt", 5, strings.NewReader("12345"))
		assert.NoError(t, err)
		_, err = client.Store(ctx, "large.txt", 5, strings.NewReader("123456"))
		assert.ErrorIs(t, err, api.ErrFileTooLarge)
	})

	t.Run("existence check failure", func(t *testing.T) {
		bucket := newFakeBucket()
		bucket.headErr = errors.New("access denied")

		_, err := newBucketClient(bucket, "").Store(ctx, "a.txt", 1024, strings.NewReader("x"))
		assert.ErrorContains(t, err, "access denied")
		assert.Empty(t, bucket.objects)
	})
}

func TestListAndRetrieve(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	bucket.pageSize = 2
	client := newBucketClient(bucket, "dl")

	for _, loc := range []string{
		"batch_1/payload_decode/request-7.txt",
		"batch_1/malformed_line/output-2.txt",
		"batch_1/malformed_line/output-1.txt",
		"batch_2/malformed_line/output-1.txt",
	} {
		_, err := client.Store(ctx, loc, 1024, strings.NewReader(loc))
		require.NoError(t, err)
	}
	bucket.objects["other/batch_1/malformed_line/output-9.txt"] = []byte("outside the prefix")

	files, err := client.List(ctx, "batch_1/")
	require.NoError(t, err)
	locations := make([]string, 0, len(files))
	for _, f := range files {
		locations = append(locations, f.Location)
	}
	assert.Equal(t, []string{
		"batch_1/malformed_line/output-1.txt",
		"batch_1/malformed_line/output-2.txt",
		"batch_1/payload_decode/request-7.txt",
	}, locations)

	r, md, err := client.Retrieve(ctx, files[2].Location)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "batch_1/payload_decode/request-7.txt", string(data))
	assert.Equal(t, files[2].Location, md.Location)

	_, _, err = client.Retrieve(ctx, "batch_1/missing.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)

	files, err = client.List(ctx, "batch_9/")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestResolveKey(t *testing.T) {
	tests := []struct {
		prefix, location, key string
	}{
		{"", "b1/x.txt", "b1/x.txt"},
		{"", "/b1/x.txt", "b1/x.txt"},
		{"dl", "b1/x.txt", "dl/b1/x.txt"},
		{"dl", "", "dl/"},
	}
	for _, tt := range tests {
		client := &Client{prefix: tt.prefix}
		assert.Equal(t, tt.key, client.resolveKey(tt.location))
		if tt.location != "" {
			assert.Equal(t, strings.TrimPrefix(tt.location, "/"), client.relativeKey(tt.key))
		}
	}
}

func TestGetContext(t *testing.T) {
	client := newBucketClient(newFakeBucket(), "")
	client.SetDefaultTimeout(time.Minute)

	ctx, cancel := client.GetContext(context.Background(), 0)
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	assert.Error(t, err)
}
