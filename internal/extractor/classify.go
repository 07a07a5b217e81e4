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
	"fmt"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/lexicon-batch/internal/deadletter"
	"github.com/llm-d-incubation/lexicon-batch/internal/lexicon"
	"github.com/llm-d-incubation/lexicon-batch/internal/processor/metrics"
	"github.com/llm-d-incubation/lexicon-batch/internal/shared/openai"
	"github.com/llm-d-incubation/lexicon-batch/internal/util/logging"
)

const (
	KindError   = "error"
	KindRefusal = "refusal"
)

// ErrPayloadDecode marks a success payload that is not a translation response.
var ErrPayloadDecode = errors.New("payload decode failed")

// PayloadError is fatal for the batch. The raw content is in the dead letter sink by the time it is returned.
type PayloadError struct {
	BatchID  string
	CustomID string
	Err      error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("batch %s: decode payload of %s: %v", e.BatchID, e.CustomID, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

func (e *PayloadError) Is(target error) bool {
	return target == ErrPayloadDecode
}

// ErrorInfo is a request that produced no translation.
type ErrorInfo struct {
	CustomID string          `json:"custom_id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"error"`
}

// Outcome is one of Success, ProviderError or Refusal.
type Outcome interface {
	outcome()
}

type Success struct {
	CustomID string
	Entries  []lexicon.TranslationEntry
}

type ProviderError struct {
	CustomID string
	Payload  json.RawMessage
}

type Refusal struct {
	CustomID string
	Message  string
}

func (Success) outcome()       {}
func (ProviderError) outcome() {}
func (Refusal) outcome()       {}

// Result has one outcome per record. Entries and Errors are flattened from the outcomes.
type Result struct {
	BatchID  string
	Outcomes []Outcome
	Entries  []lexicon.TranslationEntry
	Errors   []ErrorInfo
}

// Successes counts the records that decoded into entries.
func (r *Result) Successes() int {
	n := 0
	for _, o := range r.Outcomes {
		if _, ok := o.(Success); ok {
			n++
		}
	}
	return n
}

type translationPayload struct {
	Response []lexicon.TranslationEntry `json:"response"`
}

// errUndecodable wraps success bodies that are not even a chat completion.
type errUndecodable struct {
	raw json.RawMessage
	err error
}

func (e *errUndecodable) Error() string { return e.err.Error() }

// outcomeOf sorts a record into the union. A returned error carries the content to dead-letter.
func outcomeOf(rec openai.ResultRecord) (Outcome, error) {
	if rec.Error != nil {
		payload, err := json.Marshal(rec.Error)
		if err != nil {
			return nil, err
		}
		return ProviderError{CustomID: rec.CustomID, Payload: payload}, nil
	}
	if rec.Response == nil {
		return ProviderError{CustomID: rec.CustomID, Payload: json.RawMessage(`{"message":"record has neither response nor error"}`)}, nil
	}
	if rec.Response.StatusCode >= 400 {
		payload := rec.Response.Body
		if !json.Valid(payload) {
			payload, _ = json.Marshal(string(payload))
		}
		return ProviderError{CustomID: rec.CustomID, Payload: payload}, nil
	}

	var completion openai.ChatCompletion
	if err := json.Unmarshal(rec.Response.Body, &completion); err != nil {
		return nil, &errUndecodable{raw: rec.Response.Body, err: err}
	}
	if len(completion.Choices) == 0 {
		return nil, &errUndecodable{raw: rec.Response.Body, err: errors.New("no choices")}
	}
	msg := completion.Choices[0].Message
	if msg.Refusal != nil {
		return Refusal{CustomID: rec.CustomID, Message: *msg.Refusal}, nil
	}
	if msg.Content == nil {
		return nil, &errUndecodable{raw: rec.Response.Body, err: errors.New("no content")}
	}

	var payload translationPayload
	if err := json.Unmarshal([]byte(*msg.Content), &payload); err != nil {
		return nil, &errUndecodable{raw: json.RawMessage(*msg.Content), err: err}
	}
	if payload.Response == nil {
		return nil, &errUndecodable{raw: json.RawMessage(*msg.Content), err: errors.New(`missing "response" array`)}
	}
	return Success{CustomID: rec.CustomID, Entries: payload.Response}, nil
}

// Classify turns each record into exactly one outcome. A success whose payload
// does not decode fails the whole batch with *PayloadError.
func (e *Extractor) Classify(ctx context.Context, bundle *Bundle) (*Result, error) {
	logger := klog.FromContext(ctx).WithValues("batchID", bundle.BatchID)

	res := &Result{BatchID: bundle.BatchID, Outcomes: make([]Outcome, 0, len(bundle.Records))}
	for _, rec := range bundle.Records {
		o, err := outcomeOf(rec)
		if err != nil {
			var raw json.RawMessage
			var u *errUndecodable
			if errors.As(err, &u) {
				raw, err = u.raw, u.err
			}
			letter := deadletter.Letter{
				BatchID: bundle.BatchID,
				Reason:  deadletter.ReasonPayloadDecode,
				Key:     rec.CustomID,
				Line:    deadletter.Sanitize(string(raw)),
			}
			if serr := e.sink.Write(ctx, letter); serr != nil {
				logger.Error(serr, "Failed to write dead letter", "customID", rec.CustomID)
			}
			metrics.RecordResultRecords(metrics.RecordMalformed, 1)
			return nil, &PayloadError{BatchID: bundle.BatchID, CustomID: rec.CustomID, Err: err}
		}

		switch o := o.(type) {
		case Success:
			o.Entries = cleanEntries(logger, o.CustomID, o.Entries)
			res.Entries = append(res.Entries, o.Entries...)
			res.Outcomes = append(res.Outcomes, o)
		case ProviderError:
			res.Errors = append(res.Errors, ErrorInfo{CustomID: o.CustomID, Kind: KindError, Payload: o.Payload})
			res.Outcomes = append(res.Outcomes, o)
		case Refusal:
			payload, _ := json.Marshal(map[string]string{"refusal": o.Message})
			res.Errors = append(res.Errors, ErrorInfo{CustomID: o.CustomID, Kind: KindRefusal, Payload: payload})
			res.Outcomes = append(res.Outcomes, o)
		}
	}

	success := res.Successes()
	refusals := 0
	for _, ei := range res.Errors {
		if ei.Kind == KindRefusal {
			refusals++
		}
	}
	metrics.RecordResultRecords(metrics.RecordSuccess, success)
	metrics.RecordResultRecords(metrics.RecordError, len(res.Errors)-refusals)
	metrics.RecordResultRecords(metrics.RecordRefusal, refusals)

	logger.Info("Classified results", "records", len(bundle.Records), "success", success,
		"errors", len(res.Errors)-refusals, "refusals", refusals, "entries", len(res.Entries))
	return res, nil
}

// cleanEntries drops entries without a word and categories outside the known set.
func cleanEntries(logger klog.Logger, customID string, entries []lexicon.TranslationEntry) []lexicon.TranslationEntry {
	out := make([]lexicon.TranslationEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Word == "" {
			logger.V(logging.DEBUG).Info("Dropping entry without word", "customID", customID)
			continue
		}
		for cat := range entry.Translations {
			if !lexicon.IsGrammarCategory(cat) {
				logger.V(logging.DEBUG).Info("Dropping unknown grammar category", "customID", customID, "word", entry.Word, "category", cat)
				delete(entry.Translations, cat)
			}
		}
		out = append(out, entry)
	}
	return out
}
