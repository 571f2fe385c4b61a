package queue

import (
	"context"
	"sync"
	"time"

	"transcode-pipeline/ddd/domain/entity"
	"transcode-pipeline/ddd/domain/repo"
	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/errno"
	"transcode-pipeline/pkg/logger"
)

// trimInterval paces completed-set retention.
const trimInterval = 5 * time.Minute

// Scheduler runs the per-lane housekeeping loops: stall sweeps, completed
// retention, and the startup recovery pass. Queue outcomes are mirrored
// into the job store so user-visible state never depends on reading the
// queue backend.
type Scheduler struct {
	cfg   *config.Config
	queue TaskQueue
	jobs  repo.JobRepository

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(cfg *config.Config, q TaskQueue, jobs repo.JobRepository) *Scheduler {
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	return &Scheduler{cfg: cfg, queue: q, jobs: jobs}
}

func (s *Scheduler) Name() string { return "queue-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.recoverOrphans(runCtx); err != nil {
		logger.Warn("Startup recovery sweep failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	for _, lane := range []string{QueueFast, QueueBackground} {
		s.wg.Add(1)
		go s.sweepLoop(runCtx, lane)
	}
	s.wg.Add(1)
	go s.trimLoop(runCtx)

	logger.Info("Queue scheduler started", nil)
	return nil
}

func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Scheduler) sweepLoop(ctx context.Context, lane string) {
	defer s.wg.Done()
	interval := s.cfg.Queue.Lane(lane).StallInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx, lane)
		}
	}
}

func (s *Scheduler) sweepOnce(ctx context.Context, lane string) {
	results, err := s.queue.SweepStalled(ctx, lane)
	if err != nil {
		logger.Error("Stall sweep failed", map[string]interface{}{
			"queue": lane,
			"error": err.Error(),
		})
		return
	}
	for _, result := range results {
		s.mirrorStall(ctx, lane, result)
	}
}

// mirrorStall reflects one sweep outcome into the job store. The expected
// status keeps a worker that already finished the job from being clobbered.
func (s *Scheduler) mirrorStall(ctx context.Context, lane string, result StallResult) {
	processing := vo.JobStatusProcessing
	if result.Failed {
		failed := vo.JobStatusFailed
		now := time.Now()
		patch := repo.JobPatch{
			Status:   &failed,
			FailedAt: &now,
			Error: &entity.JobError{
				Message:    "stalled",
				Detail:     "lock expired without heartbeat twice",
				OccurredAt: now,
			},
		}
		_, err := s.jobs.Update(ctx, result.JobID, patch, &processing)
		if err != nil && !isPrecondition(err) {
			logger.Error("Failed to mirror stall failure", map[string]interface{}{
				"job_id": result.JobID,
				"error":  err.Error(),
			})
		}
		logger.Warn("Job failed after repeated stalls", map[string]interface{}{
			"job_id": result.JobID,
			"queue":  lane,
			"stalls": result.Stalls,
		})
		return
	}

	queued := vo.JobStatusQueued
	zero := 0
	now := time.Now()
	_, err := s.jobs.Update(ctx, result.JobID, repo.JobPatch{
		Status:          &queued,
		Progress:        &zero,
		ClearRenditions: true,
		QueuedAt:        &now,
	}, &processing)
	if err != nil && !isPrecondition(err) {
		logger.Error("Failed to mirror stall requeue", map[string]interface{}{
			"job_id": result.JobID,
			"error":  err.Error(),
		})
	}
	logger.Warn("Job requeued after stall", map[string]interface{}{
		"job_id": result.JobID,
		"queue":  lane,
		"stalls": result.Stalls,
	})
}

func (s *Scheduler) trimLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(trimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, lane := range []string{QueueFast, QueueBackground} {
				if err := s.queue.TrimCompleted(ctx, lane); err != nil {
					logger.Warn("Completed-set trim failed", map[string]interface{}{
						"queue": lane,
						"error": err.Error(),
					})
				}
			}
		}
	}
}

// recoverOrphans requeues jobs the store says are queued or processing but
// the queue has forgotten, e.g. after a Redis flush or a crash between
// the two writes.
func (s *Scheduler) recoverOrphans(ctx context.Context) error {
	for _, status := range []vo.JobStatus{vo.JobStatusQueued, vo.JobStatusProcessing} {
		st := status
		jobs, _, err := s.jobs.List(ctx, repo.JobFilter{Status: &st, Limit: 500})
		if err != nil {
			return err
		}
		for _, job := range jobs {
			lane := job.Stage().QueueName()
			err := s.queue.Enqueue(ctx, lane, job.JobID(), EnqueueOptions{})
			if err != nil {
				if isAlreadyQueued(err) {
					continue
				}
				return err
			}
			queued := vo.JobStatusQueued
			zero := 0
			now := time.Now()
			if _, err := s.jobs.Update(ctx, job.JobID(), repo.JobPatch{
				Status:   &queued,
				Progress: &zero,
				QueuedAt: &now,
			}, nil); err != nil {
				return err
			}
			logger.Info("Recovered orphaned job", map[string]interface{}{
				"job_id": job.JobID(),
				"queue":  lane,
			})
		}
	}
	return nil
}

func isPrecondition(err error) bool {
	kind, _ := errno.Decode(err)
	return kind == errno.ErrPrecondition
}

func isAlreadyQueued(err error) bool {
	kind, _ := errno.Decode(err)
	return kind == errno.ErrAlreadyQueued
}
