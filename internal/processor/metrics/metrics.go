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

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// labels definition
const (
	// result labels
	ResultSuccess = "success"
	ResultRetried = "retried"
	ResultFailed  = "failed"

	// batch failure reasons
	ReasonPayloadTooLarge  = "payload_too_large"
	ReasonUploadFailed     = "upload_failed"
	ReasonCreateFailed     = "create_failed"
	ReasonTerminalStatus   = "terminal_status"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonFetchFailed      = "fetch_failed"
	ReasonEnqueueFailed    = "enqueue_failed"
	ReasonSystemError      = "system_error"

	// record kinds
	RecordSuccess   = "success"
	RecordError     = "error"
	RecordRefusal   = "refusal"
	RecordMalformed = "malformed"

	// size bucket labels
	Bucket100   = "100"   // less than 100 groups
	Bucket1000  = "1000"  // less than 1000 groups
	Bucket10000 = "10000" // less than 10000 groups
	Bucket30000 = "30000" // less than 30000 groups
	BucketLarge = "large" // more than 30000 groups
)

func GetSizeBucket(groups int) string {
	switch {
	case groups < 100:
		return Bucket100
	case groups < 1000:
		return Bucket1000
	case groups < 10000:
		return Bucket10000
	case groups < 30000:
		return Bucket30000
	default:
		return BucketLarge
	}
}

var (
	// queue messages handled so far
	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Total number of queue jobs processed",
		}, []string{"queue", "result"},
	)

	jobProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "job_processing_duration_seconds",
			Help: "Duration of queue job processing in seconds",
			// 0.1s doubling up to ~27m. Submit jobs poll for hours and land in +Inf.
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		}, []string{"queue", "size_bucket"},
	)

	activeWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Current number of active workers processing jobs",
		}, []string{"queue"},
	)

	batchPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_polls_total",
			Help: "Total number of provider status checks by reported status",
		}, []string{"status"},
	)

	statusCheckFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "batch_status_check_failures_total",
			Help: "Total number of failed provider status checks",
		},
	)

	batchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_failures_total",
			Help: "Total number of batches that failed before their results were queued",
		}, []string{"reason"},
	)

	resultRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_records_total",
			Help: "Total number of batch result records by kind",
		}, []string{"kind"},
	)

	deadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Total number of dead letters by reason and outcome",
		}, []string{"reason", "result"},
	)

	rowsPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rows_persisted_total",
			Help: "Total number of rows inserted by table",
		}, []string{"table"},
	)
)

func init() {
	prometheus.MustRegister(jobsProcessed)
	prometheus.MustRegister(jobProcessingDuration)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(batchPolls)
	prometheus.MustRegister(statusCheckFailures)
	prometheus.MustRegister(batchFailures)
	prometheus.MustRegister(resultRecords)
	prometheus.MustRegister(deadLetters)
	prometheus.MustRegister(rowsPersisted)
}

// Recorder funcs

// RecordJobProcessed increments the processed queue job count.
func RecordJobProcessed(queue, result string) {
	jobsProcessed.WithLabelValues(queue, result).Inc()
}

func RecordJobDuration(duration time.Duration, queue string, sizeBucket string) {
	jobProcessingDuration.WithLabelValues(queue, sizeBucket).Observe(duration.Seconds())
}

func IncActiveWorkers(queue string) {
	activeWorkers.WithLabelValues(queue).Inc()
}

func DecActiveWorkers(queue string) {
	activeWorkers.WithLabelValues(queue).Dec()
}

// RecordPoll counts one status check that returned status.
func RecordPoll(status string) {
	batchPolls.WithLabelValues(status).Inc()
}

func RecordStatusCheckFailure() {
	statusCheckFailures.Inc()
}

func RecordBatchFailure(reason string) {
	batchFailures.WithLabelValues(reason).Inc()
}

func RecordResultRecords(kind string, n int) {
	resultRecords.WithLabelValues(kind).Add(float64(n))
}

func RecordDeadLetter(reason, result string) {
	deadLetters.WithLabelValues(reason, result).Inc()
}

func RecordRowsPersisted(table string, n int) {
	rowsPersisted.WithLabelValues(table).Add(float64(n))
}

// NewMetricsHandler serves the default registry.
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}
