package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/errno"
)

type memoryEntry struct {
	jobID        string
	state        string
	availableAt  time.Time
	lockExpires  time.Time
	attemptsMade int
	stalls       int
	enqueuedAt   time.Time
	finishedAt   time.Time
}

type memoryLane struct {
	entries map[string]*memoryEntry
	started int
	window  time.Time
}

// MemoryTaskQueue is a map-backed TaskQueue with the same semantics as
// the Redis implementation. Used by tests and the standalone dev profile.
type MemoryTaskQueue struct {
	mu    sync.Mutex
	cfg   *config.Config
	lanes map[string]*memoryLane
	// now is swappable so tests can steer time.
	now func() time.Time
}

func NewMemoryTaskQueue(cfg *config.Config) *MemoryTaskQueue {
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	return &MemoryTaskQueue{
		cfg:   cfg,
		lanes: make(map[string]*memoryLane),
		now:   time.Now,
	}
}

// SetClock replaces the queue clock. Test hook.
func (q *MemoryTaskQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryTaskQueue) lane(queue string) *memoryLane {
	l, ok := q.lanes[queue]
	if !ok {
		l = &memoryLane{entries: make(map[string]*memoryEntry)}
		q.lanes[queue] = l
	}
	return l
}

func (q *MemoryTaskQueue) Enqueue(ctx context.Context, queue, jobID string, opts EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.lane(queue)
	if e, ok := l.entries[jobID]; ok {
		switch e.state {
		case StateWaiting, StateDelayed, StateActive:
			return errno.NewBizError(errno.ErrAlreadyQueued, nil)
		}
	}
	now := q.now()
	state := StateWaiting
	if opts.Delay > 0 {
		state = StateDelayed
	}
	l.entries[jobID] = &memoryEntry{
		jobID:       jobID,
		state:       state,
		availableAt: now.Add(opts.Delay),
		enqueuedAt:  now,
	}
	return nil
}

func (q *MemoryTaskQueue) Claim(ctx context.Context, queue string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	lane := q.cfg.Queue.Lane(queue)
	l := q.lane(queue)
	now := q.now()

	var due []*memoryEntry
	for _, e := range l.entries {
		if (e.state == StateWaiting || e.state == StateDelayed) && !e.availableAt.After(now) {
			due = append(due, e)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	// FIFO by availability, job id breaks ties.
	sort.Slice(due, func(i, j int) bool {
		if !due[i].availableAt.Equal(due[j].availableAt) {
			return due[i].availableAt.Before(due[j].availableAt)
		}
		return due[i].jobID < due[j].jobID
	})

	window := q.cfg.Queue.RateLimitWindow
	windowStart := now.Truncate(window)
	if !l.window.Equal(windowStart) {
		l.window = windowStart
		l.started = 0
	}
	if l.started >= q.cfg.Queue.RateLimitMax {
		return nil, nil
	}
	l.started++

	e := due[0]
	e.state = StateActive
	e.attemptsMade++
	e.lockExpires = now.Add(lane.LockDuration)
	return &Task{
		JobID:        e.jobID,
		Queue:        queue,
		AttemptsMade: e.attemptsMade,
		MaxAttempts:  lane.MaxAttempts,
		Stalls:       e.stalls,
		EnqueuedAt:   e.enqueuedAt,
	}, nil
}

func (q *MemoryTaskQueue) ExtendLock(ctx context.Context, queue, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	lane := q.cfg.Queue.Lane(queue)
	if e, ok := q.lane(queue).entries[jobID]; ok && e.state == StateActive {
		e.lockExpires = q.now().Add(lane.LockDuration)
	}
	return nil
}

func (q *MemoryTaskQueue) Complete(ctx context.Context, queue, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.lane(queue).entries[jobID]; ok {
		e.state = StateCompleted
		e.finishedAt = q.now()
	}
	return nil
}

func (q *MemoryTaskQueue) Retry(ctx context.Context, queue, jobID string) (bool, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	lane := q.cfg.Queue.Lane(queue)
	e, ok := q.lane(queue).entries[jobID]
	if !ok {
		return false, 0, nil
	}
	if e.attemptsMade >= lane.MaxAttempts {
		e.state = StateFailed
		e.finishedAt = q.now()
		return false, 0, nil
	}
	delay := Backoff(lane.BackoffBase, e.attemptsMade)
	e.state = StateDelayed
	e.availableAt = q.now().Add(delay)
	return true, delay, nil
}

func (q *MemoryTaskQueue) SweepStalled(ctx context.Context, queue string) ([]StallResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.lane(queue)
	now := q.now()

	var results []StallResult
	for _, e := range l.entries {
		if e.state != StateActive || e.lockExpires.After(now) {
			continue
		}
		e.stalls++
		result := StallResult{JobID: e.jobID, Stalls: e.stalls}
		if e.stalls >= maxStalls {
			e.state = StateFailed
			e.finishedAt = now
			result.Failed = true
		} else {
			e.state = StateWaiting
			e.availableAt = now
		}
		results = append(results, result)
	}
	return results, nil
}

func (q *MemoryTaskQueue) Remove(ctx context.Context, queue, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.lane(queue).entries, jobID)
	return nil
}

func (q *MemoryTaskQueue) Counts(ctx context.Context, queue string) (Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var c Counts
	for _, e := range q.lane(queue).entries {
		switch e.state {
		case StateWaiting, StateDelayed:
			c.Waiting++
		case StateActive:
			c.Active++
		case StateCompleted:
			c.Completed++
		case StateFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (q *MemoryTaskQueue) TrimCompleted(ctx context.Context, queue string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	l := q.lane(queue)
	cutoff := q.now().Add(-q.cfg.Queue.CompletedMaxAge)

	var completed []*memoryEntry
	for _, e := range l.entries {
		if e.state != StateCompleted {
			continue
		}
		if e.finishedAt.Before(cutoff) {
			delete(l.entries, e.jobID)
			continue
		}
		completed = append(completed, e)
	}
	if keep := q.cfg.Queue.CompletedMaxKeep; len(completed) > keep {
		sort.Slice(completed, func(i, j int) bool {
			return completed[i].finishedAt.Before(completed[j].finishedAt)
		})
		for _, e := range completed[:len(completed)-keep] {
			delete(l.entries, e.jobID)
		}
	}
	return nil
}
