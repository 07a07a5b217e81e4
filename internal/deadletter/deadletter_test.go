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

package deadletter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d-incubation/lexicon-batch/internal/files_store/fs"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text", in: `{"custom_id": "request-1"`, want: `{"custom_id": "request-1"`},
		{name: "newlines and tabs", in: "a\nb\r\tc", want: `a\nb\r\tc`},
		{name: "other control characters", in: "x\x00y\x1bz", want: `x\u0000y\u001bz`},
		{name: "invalid utf8", in: "ab\xffcd", want: "ab\ufffdcd"},
		{name: "non ascii letters kept", in: "Größe", want: "Größe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", Clip("short", 10))
	assert.Equal(t, "abcde", Clip("abcdefgh", 5))
	// an escaped control character grows the line past the limit
	assert.Equal(t, `ab\u00`, Clip("ab\x00cd", 7))
	// never splits a rune
	assert.Equal(t, "ab", Clip("abä", 3))
}

func TestLocation(t *testing.T) {
	assert.Equal(t, "dl/batch_1/malformed_line/output-3.txt",
		Location("dl", Letter{BatchID: "batch_1", Reason: ReasonMalformedLine, Key: "output-3"}))
	assert.Equal(t, "batch_1/payload_decode/request-7.txt",
		Location("", Letter{BatchID: "batch_1", Reason: ReasonPayloadDecode, Key: "request-7"}))
	assert.Equal(t, "_/payload_decode/a_b.txt",
		Location("", Letter{BatchID: "..", Reason: ReasonPayloadDecode, Key: "a/b"}))
}

func TestStoreSink(t *testing.T) {
	ctx := context.Background()
	store, err := fs.New(t.TempDir())
	require.NoError(t, err)
	sink := NewStoreSink(store, "deadletters")

	letters := []Letter{
		{BatchID: "batch_1", Reason: ReasonMalformedLine, Key: "output-2", Line: `{"custom_id":`},
		{BatchID: "batch_1", Reason: ReasonPayloadDecode, Key: "request-4", Line: `not json`},
		{BatchID: "batch_2", Reason: ReasonMalformedLine, Key: "errors-1", Line: `x`},
	}
	require.NoError(t, sink.Write(ctx, letters...))

	// a second write of the same letters is a no-op, even with different content
	again := letters[0]
	again.Line = "changed"
	require.NoError(t, sink.Write(ctx, again))

	got, err := sink.List(ctx, "batch_1")
	require.NoError(t, err)
	assert.Equal(t, letters[:2], got)

	got, err = sink.List(ctx, "batch_missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewSink(t *testing.T) {
	ctx := context.Background()

	sink, store, err := NewSink(ctx, StoreConfig{Backend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, store)
	assert.IsType(t, LogSink{}, sink)

	sink, store, err = NewSink(ctx, StoreConfig{Backend: BackendFS, FSPath: t.TempDir(), Prefix: "dl"})
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.IsType(t, &StoreSink{}, sink)

	_, _, err = NewSink(ctx, StoreConfig{Backend: BackendFS})
	assert.Error(t, err)
	_, _, err = NewSink(ctx, StoreConfig{Backend: BackendS3})
	assert.Error(t, err)
	_, _, err = NewSink(ctx, StoreConfig{Backend: "gcs"})
	assert.Error(t, err)
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	l := Letter{BatchID: "b", Reason: ReasonMalformedLine, Key: "output-1", Line: "x"}

	require.NoError(t, sink.Write(context.Background(), l, l))
	assert.Equal(t, []Letter{l}, sink.Letters())

	sink.Err = errors.New("unavailable")
	assert.Error(t, sink.Write(context.Background(), l))
}
