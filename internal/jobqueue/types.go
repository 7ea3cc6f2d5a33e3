// Package jobqueue bounds the concurrency of the processing pipeline. A
// fixed set of workers carries each job through the DSP chain, optional AI
// enhancement and quality observation; transient failures retry with
// exponential backoff, capped so no job can occupy a worker indefinitely.
//
// Buffer ownership: the caller owns the job buffer until Submit accepts it.
// A Result with a nil error hands the processed buffer back to the caller;
// on every other outcome the queue has already released it to the pool.
package jobqueue

import (
	"time"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/errors"
)

// Common errors returned by queue operations
var (
	ErrQueueFull    = errors.NewStd("job queue is full")
	ErrQueueStopped = errors.NewStd("job queue has been stopped")
)

// Priority ranks a job for logging and metrics. Dispatch stays FIFO: with
// two workers sharing a 10 ms budget, reordering buys nothing but jitter.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String returns a string representation of the priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Job is one unit of work: a pooled buffer plus the config snapshot it was
// captured under.
type Job struct {
	Buffer     *audio.Buffer // pooled samples, ownership transfers on accept
	Config     audio.Config  // immutable config snapshot for this buffer
	Priority   Priority      // advisory, recorded in logs and stats
	EnqueuedAt time.Time     // defaulted to the submission time when zero
}

// Result is the terminal outcome of a job.
type Result struct {
	Buffer   *audio.Buffer       // processed buffer, nil when Err is set
	Quality  audio.QualityMetrics
	Metrics  RunMetrics
	Enhanced bool // enhancement ran and its output was applied
	Attempts int
	Err      error
}

// RunMetrics describes the queue-side cost of producing a result.
type RunMetrics struct {
	ProcessingTime    time.Duration // wall time from dequeue to result
	BufferUtilization float64       // pool utilization at completion
	QueueLength       int           // jobs still pending at completion
}

// Stats is a point-in-time snapshot of queue activity.
type Stats struct {
	Submitted uint64 // jobs accepted into the queue
	Succeeded uint64 // jobs that produced a result
	Failed    uint64 // jobs that exhausted retries or failed fast
	Retried   uint64 // individual retry attempts
	Rejected  uint64 // submissions refused because the queue was full
	Degraded  uint64 // jobs that shipped DSP-only after an enhancement failure

	Pending     int     // jobs waiting for a worker
	MaxPending  int     // pending capacity
	Utilization float64 // pending / capacity
}
