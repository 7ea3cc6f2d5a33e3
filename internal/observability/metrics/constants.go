// Package metrics provides custom Prometheus metrics for the audio
// processing pipeline.
package metrics

// Label value constants shared across collectors.
const (
	// StatusSuccess marks an operation that completed normally.
	StatusSuccess = "success"
	// StatusError marks an operation that failed.
	StatusError = "error"
	// StatusDegraded marks a job that shipped DSP-only output after the
	// enhancement stage was skipped or failed.
	StatusDegraded = "degraded"
	// StatusFailed marks a job that reached a terminal failure.
	StatusFailed = "failed"
	// StatusAccepted marks a submission or connection that was admitted.
	StatusAccepted = "accepted"
	// StatusRejected marks a submission or connection that was refused.
	StatusRejected = "rejected"
	// StatusExhausted marks a pool acquire that found no free buffer.
	StatusExhausted = "exhausted"

	// LabelEnhanced marks output that went through the AI stage.
	LabelEnhanced = "enhanced"
	// LabelDSPOnly marks output produced by the DSP chain alone.
	LabelDSPOnly = "dsp_only"

	// DirectionIn labels inbound gateway traffic.
	DirectionIn = "in"
	// DirectionOut labels outbound gateway traffic.
	DirectionOut = "out"
)

// Histogram bucket configuration constants.
const (
	// BucketStart100us is the starting bucket for 0.1ms histograms
	// (0.1ms to ~400ms range).
	BucketStart100us = 0.0001
	// BucketStart1ms is the starting bucket for 1ms histograms
	// (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart64B is the starting bucket for payload size histograms
	// (64 bytes to ~32KB range with 10 buckets).
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)
