package task

import (
	"context"
	"sync"
)

// BackgroundTask is a long-running background process hosted by this
// process (transcode worker, stall sweeper, kafka consumer).
type BackgroundTask interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

type registry struct {
	tasks  []BackgroundTask
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

var defaultRegistry = &registry{}

// Register adds a background task; call during assembly before StartAll.
func Register(t BackgroundTask) {
	if t == nil {
		return
	}
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	defaultRegistry.tasks = append(defaultRegistry.tasks, t)
}

// StartAll starts every registered task once; later calls are no-ops.
func StartAll(ctx context.Context) error {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if defaultRegistry.cancel != nil {
		return nil
	}
	defaultRegistry.ctx, defaultRegistry.cancel = context.WithCancel(ctx)
	for _, t := range defaultRegistry.tasks {
		if err := t.Start(defaultRegistry.ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll cancels the shared context and stops tasks in reverse order.
func StopAll() {
	defaultRegistry.mu.Lock()
	defer defaultRegistry.mu.Unlock()
	if defaultRegistry.cancel != nil {
		defaultRegistry.cancel()
	}
	for i := len(defaultRegistry.tasks) - 1; i >= 0; i-- {
		_ = defaultRegistry.tasks[i].Stop()
	}
	defaultRegistry.cancel = nil
}
