package queue

import (
	"context"
	"time"
)

// Entry states as stored in the queue backend.
const (
	StateWaiting   = "waiting"
	StateDelayed   = "delayed"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Queue lane names. Stages bind to lanes one-to-one.
const (
	QueueFast       = "fast"
	QueueBackground = "background"
)

// maxStalls is how many times an entry may lose its lock before it is
// failed instead of requeued.
const maxStalls = 2

// maxBackoff caps the exponential retry delay.
const maxBackoff = 5 * time.Minute

// Task is one claimed unit of queue work. AttemptsMade counts the claim
// that produced this task.
type Task struct {
	JobID        string
	Queue        string
	AttemptsMade int
	MaxAttempts  int
	Stalls       int
	EnqueuedAt   time.Time
}

// EnqueueOptions tunes a single enqueue.
type EnqueueOptions struct {
	// Delay holds the entry back before it becomes claimable.
	Delay time.Duration
}

// StallResult reports what the sweep did to one expired-lock entry.
type StallResult struct {
	JobID  string
	Stalls int
	// Failed is set when the entry exceeded the stall budget and was
	// moved to failed instead of requeued.
	Failed bool
}

// Counts is a point-in-time census of one lane.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// TaskQueue is the two-lane work queue. Entries are identified by job id;
// the durable job record lives in the job store, the queue only sequences
// work.
type TaskQueue interface {
	// Enqueue adds a job to a lane; errno.ErrAlreadyQueued when the job
	// is already waiting or active there.
	Enqueue(ctx context.Context, queue, jobID string, opts EnqueueOptions) error

	// Claim pops the next due entry. Returns (nil, nil) when the lane is
	// empty, nothing is due yet, or the lane's start rate is exhausted.
	Claim(ctx context.Context, queue string) (*Task, error)

	// ExtendLock pushes the claim's lock expiry forward. Called from the
	// worker heartbeat while a job runs.
	ExtendLock(ctx context.Context, queue, jobID string) error

	// Complete moves an active entry to completed.
	Complete(ctx context.Context, queue, jobID string) error

	// Retry releases an active entry after a failure: requeued with
	// exponential backoff while attempts remain, moved to failed
	// otherwise. Returns whether it was requeued and with what delay.
	Retry(ctx context.Context, queue, jobID string) (requeued bool, delay time.Duration, err error)

	// SweepStalled collects entries whose lock expired without a
	// heartbeat and either requeues or fails them.
	SweepStalled(ctx context.Context, queue string) ([]StallResult, error)

	// Remove drops an entry from whatever state it is in.
	Remove(ctx context.Context, queue, jobID string) error

	// Counts reports the lane census.
	Counts(ctx context.Context, queue string) (Counts, error)

	// TrimCompleted evicts completed entries past the retention age or
	// count.
	TrimCompleted(ctx context.Context, queue string) error
}

// Backoff computes the retry delay after attemptsMade failed attempts:
// base, 2*base, 4*base... capped at maxBackoff.
func Backoff(base time.Duration, attemptsMade int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	delay := base
	for i := 1; i < attemptsMade; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
