package queue

import (
	"context"
	"testing"
	"time"

	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/errno"
)

func testQueueConfig() *config.Config {
	lane := config.QueueLaneConfig{
		Concurrency:   1,
		LockDuration:  60 * time.Second,
		LockRenew:     30 * time.Second,
		StallInterval: 30 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
	}
	return &config.Config{
		Queue: config.QueueConfig{
			Fast:             lane,
			Background:       lane,
			RateLimitMax:     10,
			RateLimitWindow:  60 * time.Second,
			CompletedMaxAge:  24 * time.Hour,
			CompletedMaxKeep: 100,
			PollInterval:     time.Second,
		},
	}
}

func newTestQueue(t *testing.T) (*MemoryTaskQueue, *time.Time) {
	t.Helper()
	q := NewMemoryTaskQueue(testQueueConfig())
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := &now
	q.SetClock(func() time.Time { return *clock })
	return q, clock
}

func TestEnqueueClaimFIFO(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, QueueFast, "job-a", EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	*clock = clock.Add(time.Second)
	if err := q.Enqueue(ctx, QueueFast, "job-b", EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	task, err := q.Claim(ctx, QueueFast)
	if err != nil || task == nil {
		t.Fatalf("Claim: task=%v err=%v", task, err)
	}
	if task.JobID != "job-a" {
		t.Errorf("claimed %s, want job-a (FIFO)", task.JobID)
	}
	if task.AttemptsMade != 1 {
		t.Errorf("attempts made = %d, want 1", task.AttemptsMade)
	}

	task, err = q.Claim(ctx, QueueFast)
	if err != nil || task == nil || task.JobID != "job-b" {
		t.Fatalf("second claim = %v err=%v, want job-b", task, err)
	}
}

func TestClaimTieBreakByJobID(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	// Same availability instant: lexicographic job id decides.
	_ = q.Enqueue(ctx, QueueFast, "job-z", EnqueueOptions{})
	_ = q.Enqueue(ctx, QueueFast, "job-a", EnqueueOptions{})

	task, err := q.Claim(ctx, QueueFast)
	if err != nil || task == nil {
		t.Fatalf("Claim: %v", err)
	}
	if task.JobID != "job-a" {
		t.Errorf("claimed %s, want job-a", task.JobID)
	}
}

func TestEnqueueDuplicate(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_ = q.Enqueue(ctx, QueueFast, "job-a", EnqueueOptions{})
	err := q.Enqueue(ctx, QueueFast, "job-a", EnqueueOptions{})
	kind, _ := errno.Decode(err)
	if kind != errno.ErrAlreadyQueued {
		t.Errorf("duplicate enqueue = %v, want ErrAlreadyQueued", err)
	}

	// Active entries also block re-enqueue.
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("expected a claim")
	}
	err = q.Enqueue(ctx, QueueFast, "job-a", EnqueueOptions{})
	kind, _ = errno.Decode(err)
	if kind != errno.ErrAlreadyQueued {
		t.Errorf("enqueue over active = %v, want ErrAlreadyQueued", err)
	}

	// A completed entry may be replaced.
	_ = q.Complete(ctx, QueueFast, "job-a")
	if err := q.Enqueue(ctx, QueueFast, "job-a", EnqueueOptions{}); err != nil {
		t.Errorf("enqueue after completion: %v", err)
	}
}

func TestDelayedEntryNotClaimableEarly(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	_ = q.Enqueue(ctx, QueueFast, "job-a", EnqueueOptions{Delay: 10 * time.Second})
	if task, _ := q.Claim(ctx, QueueFast); task != nil {
		t.Fatalf("claimed delayed entry early: %v", task)
	}
	*clock = clock.Add(11 * time.Second)
	task, _ := q.Claim(ctx, QueueFast)
	if task == nil || task.JobID != "job-a" {
		t.Fatalf("delayed entry should be claimable after its delay, got %v", task)
	}
}

func TestRetryBackoffThenFailed(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()
	_ = q.Enqueue(ctx, QueueFast, "job-a", EnqueueOptions{})

	// Attempt 1 fails: requeued with base backoff.
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("claim 1 failed")
	}
	requeued, delay, err := q.Retry(ctx, QueueFast, "job-a")
	if err != nil || !requeued {
		t.Fatalf("retry 1: requeued=%v err=%v", requeued, err)
	}
	if delay != 2*time.Second {
		t.Errorf("retry 1 delay = %v, want 2s", delay)
	}

	// Attempt 2 fails: doubled backoff.
	*clock = clock.Add(delay)
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("claim 2 failed")
	}
	requeued, delay, _ = q.Retry(ctx, QueueFast, "job-a")
	if !requeued || delay != 4*time.Second {
		t.Fatalf("retry 2: requeued=%v delay=%v, want 4s", requeued, delay)
	}

	// Attempt 3 fails: attempts exhausted, entry moves to failed.
	*clock = clock.Add(delay)
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("claim 3 failed")
	}
	requeued, _, _ = q.Retry(ctx, QueueFast, "job-a")
	if requeued {
		t.Error("retry after max attempts should not requeue")
	}
	counts, _ := q.Counts(ctx, QueueFast)
	if counts.Failed != 1 {
		t.Errorf("failed count = %d, want 1", counts.Failed)
	}
}

func TestSweepStalled(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()
	_ = q.Enqueue(ctx, QueueFast, "job-a", EnqueueOptions{})
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("claim failed")
	}

	// Lock still live: nothing to sweep.
	results, _ := q.SweepStalled(ctx, QueueFast)
	if len(results) != 0 {
		t.Fatalf("sweep before expiry = %v, want empty", results)
	}

	// First expiry: requeued with a stall mark.
	*clock = clock.Add(61 * time.Second)
	results, _ = q.SweepStalled(ctx, QueueFast)
	if len(results) != 1 || results[0].Failed || results[0].Stalls != 1 {
		t.Fatalf("first sweep = %+v, want requeue with 1 stall", results)
	}

	// Claimed again, lock lost again: stall budget exhausted.
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("reclaim failed")
	}
	*clock = clock.Add(61 * time.Second)
	results, _ = q.SweepStalled(ctx, QueueFast)
	if len(results) != 1 || !results[0].Failed {
		t.Fatalf("second sweep = %+v, want failed", results)
	}
}

func TestExtendLockKeepsEntryActive(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()
	_ = q.Enqueue(ctx, QueueFast, "job-a", EnqueueOptions{})
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("claim failed")
	}

	*clock = clock.Add(50 * time.Second)
	if err := q.ExtendLock(ctx, QueueFast, "job-a"); err != nil {
		t.Fatalf("ExtendLock: %v", err)
	}
	*clock = clock.Add(50 * time.Second) // past original expiry, inside renewed one
	results, _ := q.SweepStalled(ctx, QueueFast)
	if len(results) != 0 {
		t.Errorf("heartbeated entry swept: %v", results)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testQueueConfig()
	cfg.Queue.RateLimitMax = 2
	q := NewMemoryTaskQueue(cfg)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := &now
	q.SetClock(func() time.Time { return *clock })
	ctx := context.Background()

	for _, id := range []string{"job-a", "job-b", "job-c"} {
		_ = q.Enqueue(ctx, QueueFast, id, EnqueueOptions{})
	}
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("claim 1 rate-limited too early")
	}
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("claim 2 rate-limited too early")
	}
	if task, _ := q.Claim(ctx, QueueFast); task != nil {
		t.Fatalf("claim 3 should be rate-limited, got %v", task.JobID)
	}

	// The next window admits starts again.
	*clock = clock.Add(60 * time.Second)
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("claim in fresh window should succeed")
	}
}

func TestRemoveAndCounts(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	_ = q.Enqueue(ctx, QueueFast, "job-a", EnqueueOptions{})
	_ = q.Enqueue(ctx, QueueFast, "job-b", EnqueueOptions{})
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("claim failed")
	}

	counts, _ := q.Counts(ctx, QueueFast)
	if counts.Waiting != 1 || counts.Active != 1 {
		t.Errorf("counts = %+v, want 1 waiting 1 active", counts)
	}

	_ = q.Remove(ctx, QueueFast, "job-a")
	_ = q.Remove(ctx, QueueFast, "job-b")
	counts, _ = q.Counts(ctx, QueueFast)
	if counts.Waiting != 0 || counts.Active != 0 {
		t.Errorf("counts after remove = %+v, want zeroes", counts)
	}
}

func TestTrimCompleted(t *testing.T) {
	cfg := testQueueConfig()
	cfg.Queue.CompletedMaxKeep = 2
	q := NewMemoryTaskQueue(cfg)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := &now
	q.SetClock(func() time.Time { return *clock })
	ctx := context.Background()

	// One entry completed beyond the retention age.
	_ = q.Enqueue(ctx, QueueFast, "job-old", EnqueueOptions{})
	if task, _ := q.Claim(ctx, QueueFast); task == nil {
		t.Fatal("claim failed")
	}
	_ = q.Complete(ctx, QueueFast, "job-old")

	*clock = clock.Add(25 * time.Hour)
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		_ = q.Enqueue(ctx, QueueFast, id, EnqueueOptions{})
		if task, _ := q.Claim(ctx, QueueFast); task == nil {
			t.Fatal("claim failed")
		}
		_ = q.Complete(ctx, QueueFast, id)
		*clock = clock.Add(time.Minute)
	}

	if err := q.TrimCompleted(ctx, QueueFast); err != nil {
		t.Fatalf("TrimCompleted: %v", err)
	}
	counts, _ := q.Counts(ctx, QueueFast)
	if counts.Completed != 2 {
		t.Errorf("completed after trim = %d, want 2 (age + keep limits)", counts.Completed)
	}
}
