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

package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d-incubation/lexicon-batch/internal/deadletter"
	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
)

func successLine(t *testing.T, customID, content string) string {
	t.Helper()
	body, err := json.Marshal(openai.ChatCompletion{
		ID:     "chatcmpl-" + customID,
		Object: "chat.completion",
		Model:  "gpt-4o-mini",
		Choices: []openai.ChatChoice{{
			Message:      openai.ChatResponseOutput{Role: "assistant", Content: &content},
			FinishReason: "stop",
		}},
	})
	require.NoError(t, err)
	return recordLine(t, openai.ResultRecord{
		ID:       "batch_req_" + customID,
		CustomID: customID,
		Response: &openai.ResultResponse{StatusCode: 200, RequestID: "req_" + customID, Body: body},
	})
}

func refusalLine(t *testing.T, customID, refusal string) string {
	t.Helper()
	body, err := json.Marshal(openai.ChatCompletion{
		Choices: []openai.ChatChoice{{
			Message: openai.ChatResponseOutput{Role: "assistant", Refusal: &refusal},
		}},
	})
	require.NoError(t, err)
	return recordLine(t, openai.ResultRecord{
		CustomID: customID,
		Response: &openai.ResultResponse{StatusCode: 200, Body: body},
	})
}

func recordLine(t *testing.T, rec openai.ResultRecord) string {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(data)
}

const twoWords = `{"response":[` +
	`{"word":"Haus","translations":{"noun":["house","home"],"verb":[]}},` +
	`{"word":"laufen","translations":{"verb":["to run"],"interjection":["hop"]}}]}`

func TestExtract(t *testing.T) {
	sink := deadletter.NewMemorySink()
	ex := New(sink)

	output := strings.Join([]string{
		successLine(t, "request-1", twoWords),
		"",
		refusalLine(t, "request-2", "I can't help with that."),
		recordLine(t, openai.ResultRecord{
			CustomID: "request-3",
			Response: &openai.ResultResponse{StatusCode: 429, Body: json.RawMessage(`{"error":{"message":"rate limited"}}`)},
		}),
		`{"custom_id": "request-4", "response": {`,
	}, "\n")
	errs := recordLine(t, openai.ResultRecord{
		CustomID: "request-5",
		Error:    &openai.ResultError{Code: "batch_expired", Message: "expired"},
	}) + "\n"

	res, err := ex.Extract(context.Background(), "batch_1", output, errs)
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 4)
	assert.Equal(t, 1, res.Successes())
	assert.Equal(t, len(res.Outcomes), res.Successes()+len(res.Errors))

	require.Len(t, res.Entries, 2)
	assert.Equal(t, "Haus", res.Entries[0].Word)
	assert.Equal(t, []string{"house", "home"}, res.Entries[0].Translations["noun"])
	assert.Equal(t, map[string][]string{"verb": {"to run"}}, res.Entries[1].Translations)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, ErrorInfo{CustomID: "request-2", Kind: KindRefusal, Payload: json.RawMessage(`{"refusal":"I can't help with that."}`)}, res.Errors[0])
	assert.Equal(t, "request-3", res.Errors[1].CustomID)
	assert.Equal(t, KindError, res.Errors[1].Kind)
	assert.JSONEq(t, `{"error":{"message":"rate limited"}}`, string(res.Errors[1].Payload))
	assert.Equal(t, "request-5", res.Errors[2].CustomID)
	assert.JSONEq(t, `{"code":"batch_expired","message":"expired"}`, string(res.Errors[2].Payload))

	letters := sink.Letters()
	require.Len(t, letters, 1)
	assert.Equal(t, deadletter.Letter{
		BatchID: "batch_1",
		Reason:  deadletter.ReasonMalformedLine,
		Key:     "output-5",
		Line:    `{"custom_id": "request-4", "response": {`,
	}, letters[0])
}

func TestRefusalYieldsNoEntries(t *testing.T) {
	res, err := New(deadletter.NewMemorySink()).Extract(context.Background(), "batch_1",
		refusalLine(t, "request-1", "no"), "")
	require.NoError(t, err)

	assert.Empty(t, res.Entries)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, KindRefusal, res.Errors[0].Kind)
	assert.IsType(t, Refusal{}, res.Outcomes[0])
}

func TestPayloadDecodeFailsBatch(t *testing.T) {
	tests := []struct {
		name    string
		line    func(t *testing.T) string
		wantRaw string
	}{
		{
			name:    "content is not json",
			line:    func(t *testing.T) string { return successLine(t, "request-9", "Haus:\thouse") },
			wantRaw: `Haus:\thouse`,
		},
		{
			name:    "content misses the response array",
			line:    func(t *testing.T) string { return successLine(t, "request-9", `{"words":[]}`) },
			wantRaw: `{"words":[]}`,
		},
		{
			name: "body is not a chat completion",
			line: func(t *testing.T) string {
				return recordLine(t, openai.ResultRecord{
					CustomID: "request-9",
					Response: &openai.ResultResponse{StatusCode: 200, Body: json.RawMessage(`{"choices":"none"}`)},
				})
			},
			wantRaw: `{"choices":"none"}`,
		},
		{
			name: "no choices",
			line: func(t *testing.T) string {
				return recordLine(t, openai.ResultRecord{
					CustomID: "request-9",
					Response: &openai.ResultResponse{StatusCode: 200, Body: json.RawMessage(`{"choices":[]}`)},
				})
			},
			wantRaw: `{"choices":[]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := deadletter.NewMemorySink()
			output := successLine(t, "request-1", twoWords) + "\n" + tt.line(t)

			res, err := New(sink).Extract(context.Background(), "batch_7", output, "")
			assert.Nil(t, res)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrPayloadDecode)

			var pe *PayloadError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "batch_7", pe.BatchID)
			assert.Equal(t, "request-9", pe.CustomID)

			letters := sink.Letters()
			require.Len(t, letters, 1)
			assert.Equal(t, deadletter.ReasonPayloadDecode, letters[0].Reason)
			assert.Equal(t, "request-9", letters[0].Key)
			assert.Equal(t, tt.wantRaw, letters[0].Line)
		})
	}
}

func TestPayloadDecodeSurvivesSinkFailure(t *testing.T) {
	sink := deadletter.NewMemorySink()
	sink.Err = errors.New("store unavailable")

	_, err := New(sink).Extract(context.Background(), "batch_1", successLine(t, "request-1", "oops"), "")
	assert.ErrorIs(t, err, ErrPayloadDecode)
}

func TestParse(t *testing.T) {
	sink := deadletter.NewMemorySink()
	sink.Err = errors.New("store unavailable")
	ex := New(sink)

	output := "not json\n\r\n" + successLine(t, "request-1", twoWords) + "\r\n"
	errs := "{\n"

	bundle, err := ex.Parse(context.Background(), "batch_1", output, errs)
	require.NoError(t, err)
	assert.Equal(t, "batch_1", bundle.BatchID)
	assert.Equal(t, 2, bundle.Malformed)
	require.Len(t, bundle.Records, 1)
	assert.Equal(t, "request-1", bundle.Records[0].CustomID)
}

func TestParseOversizedLine(t *testing.T) {
	sink := deadletter.NewMemorySink()
	ex := New(sink)

	output := strings.Join([]string{
		"not json",
		successLine(t, "request-1", twoWords),
		strings.Repeat("x", maxLineSize+1<<20),
		successLine(t, "request-2", twoWords),
	}, "\n")

	bundle, err := ex.Parse(context.Background(), "batch_1", output, "")
	require.NoError(t, err)
	require.Len(t, bundle.Records, 2)
	assert.Equal(t, "request-1", bundle.Records[0].CustomID)
	assert.Equal(t, "request-2", bundle.Records[1].CustomID)
	assert.Equal(t, 2, bundle.Malformed)

	letters := sink.Letters()
	require.Len(t, letters, 2)
	assert.Equal(t, "output-1", letters[0].Key)
	assert.Equal(t, "not json", letters[0].Line)
	assert.Equal(t, "output-3", letters[1].Key)
	assert.Equal(t, deadletter.ReasonMalformedLine, letters[1].Reason)
	assert.Len(t, letters[1].Line, deadletter.DefaultMaxLetterSize)
}

func TestParseEmpty(t *testing.T) {
	bundle, err := New(nil).Parse(context.Background(), "batch_1", "", "")
	require.NoError(t, err)
	assert.Empty(t, bundle.Records)
	assert.Zero(t, bundle.Malformed)

	res, err := New(nil).Classify(context.Background(), bundle)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Empty(t, res.Errors)
}
