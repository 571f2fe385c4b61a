package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"transcode-pipeline/ddd/domain/entity"
	"transcode-pipeline/ddd/domain/gateway"
	"transcode-pipeline/ddd/domain/port"
	"transcode-pipeline/ddd/domain/repo"
	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/ddd/infrastructure/queue"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/logger"
)

// Stats is a point-in-time census of one lane worker.
type Stats struct {
	ProcessedJobs    uint64    `json:"processed_jobs"`
	SuccessfulJobs   uint64    `json:"successful_jobs"`
	FailedJobs       uint64    `json:"failed_jobs"`
	CurrentlyRunning int       `json:"currently_running"`
	StartTime        time.Time `json:"start_time"`
	LastJobTime      time.Time `json:"last_job_time"`
}

// TranscodeWorker drains one queue lane: claim, download, encode, upload,
// mirror the outcome into the job store. One instance per lane; the lane
// decides the encode spec and lock cadence.
type TranscodeWorker struct {
	lane        string
	concurrency int
	cfg         *config.Config
	queue       queue.TaskQueue
	jobs        repo.JobRepository
	store       gateway.ObjectStore
	encoder     port.Encoder
	notifier    gateway.Notifier

	running bool
	cancel  context.CancelFunc
	stats   Stats
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

func NewTranscodeWorker(
	lane string,
	concurrency int,
	cfg *config.Config,
	q queue.TaskQueue,
	jobs repo.JobRepository,
	store gateway.ObjectStore,
	encoder port.Encoder,
	notifier gateway.Notifier,
) *TranscodeWorker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	return &TranscodeWorker{
		lane:        lane,
		concurrency: concurrency,
		cfg:         cfg,
		queue:       q,
		jobs:        jobs,
		store:       store,
		encoder:     encoder,
		notifier:    notifier,
	}
}

func (w *TranscodeWorker) Name() string {
	return fmt.Sprintf("transcode-worker-%s", w.lane)
}

func (w *TranscodeWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("worker %s is already running", w.lane)
	}
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.stats.StartTime = time.Now()

	logger.Info("Starting transcode worker", map[string]interface{}{
		"lane":        w.lane,
		"concurrency": w.concurrency,
	})
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(workerCtx, i)
	}
	return nil
}

func (w *TranscodeWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	logger.Info("Transcode worker stopped", map[string]interface{}{"lane": w.lane})
	return nil
}

func (w *TranscodeWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *TranscodeWorker) GetStats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *TranscodeWorker) updateStats(fn func(*Stats)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.stats)
}

func (w *TranscodeWorker) workerLoop(ctx context.Context, slot int) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.Queue.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, err := w.queue.Claim(ctx, w.lane)
			if err != nil {
				logger.Error("Claim failed", map[string]interface{}{
					"lane":  w.lane,
					"slot":  slot,
					"error": err.Error(),
				})
				continue
			}
			if task == nil {
				continue
			}
			w.processJob(ctx, task)
		}
	}
}

func (w *TranscodeWorker) processJob(ctx context.Context, t *queue.Task) {
	w.updateStats(func(s *Stats) {
		s.CurrentlyRunning++
		s.LastJobTime = time.Now()
	})
	defer w.updateStats(func(s *Stats) {
		s.CurrentlyRunning--
		s.ProcessedJobs++
	})

	job, err := w.jobs.Get(ctx, t.JobID)
	if err != nil {
		logger.Error("Failed to load claimed job", map[string]interface{}{
			"job_id": t.JobID,
			"error":  err.Error(),
		})
		_, _, _ = w.queue.Retry(ctx, w.lane, t.JobID)
		return
	}
	if job == nil {
		// The queue entry outlived its job record.
		logger.Warn("Dropping queue entry without job record", map[string]interface{}{
			"job_id": t.JobID,
			"lane":   w.lane,
		})
		_ = w.queue.Remove(ctx, w.lane, t.JobID)
		return
	}
	if job.IsTerminal() {
		logger.Info("Skipping terminal job from queue", map[string]interface{}{
			"job_id": job.JobID(),
			"status": string(job.Status()),
		})
		_ = w.queue.Remove(ctx, w.lane, t.JobID)
		return
	}

	stopHeartbeat := w.startHeartbeat(ctx, t.JobID)
	defer stopHeartbeat()

	if err := w.runJob(ctx, job, t.AttemptsMade); err != nil {
		// A shutdown mid-encode is not a job failure: the lock expires
		// and the stall sweep requeues the entry.
		if ctx.Err() != nil {
			logger.Warn("Job interrupted by shutdown", map[string]interface{}{
				"job_id": job.JobID(),
				"lane":   w.lane,
			})
			return
		}
		w.failJob(ctx, job, err)
		return
	}
	w.updateStats(func(s *Stats) { s.SuccessfulJobs++ })
}

// startHeartbeat renews the queue lock at the lane's renewal cadence
// until the returned stop function runs.
func (w *TranscodeWorker) startHeartbeat(ctx context.Context, jobID string) func() {
	interval := w.cfg.Queue.Lane(w.lane).LockRenew
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.ExtendLock(ctx, w.lane, jobID); err != nil {
					logger.Warn("Lock renewal failed", map[string]interface{}{
						"job_id": jobID,
						"error":  err.Error(),
					})
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func (w *TranscodeWorker) runJob(ctx context.Context, job *entity.Job, attemptsMade int) error {
	processing := vo.JobStatusProcessing
	now := time.Now()
	five := 5
	// attempts mirrors the queue's claim count, so a stall requeue shows
	// up in the job record even though no failure was ever reported.
	if _, err := w.jobs.Update(ctx, job.JobID(), repo.JobPatch{
		Status:     &processing,
		Progress:   &five,
		Attempts:   &attemptsMade,
		StartedAt:  &now,
		ClearError: true,
	}, nil); err != nil {
		return fmt.Errorf("mirror processing: %w", err)
	}

	tempDir, err := os.MkdirTemp(w.cfg.Worker.TempRoot, "job-"+job.JobID()+"-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	inputPath := filepath.Join(tempDir, "input"+filepath.Ext(job.RawObjectKey()))
	if err := w.store.Download(ctx, job.RawObjectKey(), inputPath); err != nil {
		return fmt.Errorf("download source: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	w.mirrorProgress(ctx, job.JobID(), 10, nil)

	ff := w.cfg.Transcode.FFmpeg
	spec := vo.SpecForStage(job.Stage(), ff.BackgroundThreads, ff.SegmentDuration)
	outputDir := filepath.Join(tempDir, "hls")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := w.encoder.Transcode(ctx, inputPath, outputDir, spec, w.encodeProgressFunc(ctx, job.JobID(), spec)); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := w.store.UploadTree(ctx, outputDir, job.OutputPrefix()); err != nil {
		return fmt.Errorf("upload hls tree: %w", err)
	}
	w.mirrorProgress(ctx, job.JobID(), 95, nil)

	masterURL := w.masterURL(job.OutputPrefix())
	if err := w.completeJob(ctx, job, spec, masterURL); err != nil {
		return err
	}

	w.notifyPlayable(ctx, job, masterURL)
	if job.Stage() == vo.StageFast {
		w.enqueueSibling(ctx, job)
	}
	return nil
}

// encodeProgressFunc maps per-rendition percents onto the job's 10-70
// progress window and mirrors rendition states as they change.
func (w *TranscodeWorker) encodeProgressFunc(ctx context.Context, jobID string, spec vo.EncodeSpec) port.ProgressFunc {
	var mu sync.Mutex
	perRendition := make(map[vo.Resolution]int, len(spec.TargetResolutions))
	lastOverall := 10

	return func(res vo.Resolution, pct int) {
		mu.Lock()
		defer mu.Unlock()
		if pct <= perRendition[res] && pct != 100 {
			return
		}
		perRendition[res] = pct

		sum := 0
		for _, tag := range spec.TargetResolutions {
			sum += perRendition[tag]
		}
		overall := 10 + sum*60/(len(spec.TargetResolutions)*100)

		// A rendition stays processing even at 100%: completed means the
		// objects exist in the store, which is only true after the upload,
		// so promotion happens in completeJob.
		renditions := map[vo.Resolution]entity.RenditionState{
			res: {Status: vo.JobStatusProcessing, Progress: pct},
		}

		if overall > lastOverall || pct == 100 {
			lastOverall = overall
			w.mirrorProgress(ctx, jobID, overall, renditions)
		}
	}
}

func (w *TranscodeWorker) mirrorProgress(ctx context.Context, jobID string, progress int, renditions map[vo.Resolution]entity.RenditionState) {
	_, err := w.jobs.Update(ctx, jobID, repo.JobPatch{
		Progress:   &progress,
		Renditions: renditions,
	}, nil)
	if err != nil {
		logger.Debug("Progress mirror failed", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	}
}

func (w *TranscodeWorker) completeJob(ctx context.Context, job *entity.Job, spec vo.EncodeSpec, masterURL string) error {
	completed := vo.JobStatusCompleted
	hundred := 100
	now := time.Now()
	renditions := make(map[vo.Resolution]entity.RenditionState, len(spec.TargetResolutions))
	for _, tag := range spec.TargetResolutions {
		renditions[tag] = entity.RenditionState{Status: vo.JobStatusCompleted, Progress: 100}
	}
	if _, err := w.jobs.Update(ctx, job.JobID(), repo.JobPatch{
		Status:       &completed,
		Progress:     &hundred,
		HLSMasterURL: &masterURL,
		Renditions:   renditions,
		CompletedAt:  &now,
	}, nil); err != nil {
		return fmt.Errorf("mirror completion: %w", err)
	}
	if err := w.queue.Complete(ctx, w.lane, job.JobID()); err != nil {
		logger.Warn("Queue completion failed", map[string]interface{}{
			"job_id": job.JobID(),
			"error":  err.Error(),
		})
	}
	logger.Info("Job completed", map[string]interface{}{
		"job_id":         job.JobID(),
		"lane":           w.lane,
		"hls_master_url": masterURL,
	})
	return nil
}

// enqueueSibling schedules the HD pass once the fast rendition is
// playable. Sibling failures never fail the finished fast job.
func (w *TranscodeWorker) enqueueSibling(ctx context.Context, job *entity.Job) {
	sibling := entity.NewJob(
		job.RawObjectKey(),
		job.OriginalFilename(),
		job.MimeType(),
		job.OriginalSize(),
		vo.StageBackground,
		job.CorrelationID(),
		w.cfg.Queue.Lane(queue.QueueBackground).MaxAttempts,
	)
	if err := w.jobs.Create(ctx, sibling); err != nil {
		logger.Error("Failed to create background job", map[string]interface{}{
			"fast_job_id": job.JobID(),
			"error":       err.Error(),
		})
		return
	}
	if err := w.queue.Enqueue(ctx, queue.QueueBackground, sibling.JobID(), queue.EnqueueOptions{}); err != nil {
		logger.Error("Failed to enqueue background job", map[string]interface{}{
			"job_id": sibling.JobID(),
			"error":  err.Error(),
		})
		return
	}
	logger.Info("Background job enqueued", map[string]interface{}{
		"fast_job_id": job.JobID(),
		"job_id":      sibling.JobID(),
	})
}

func (w *TranscodeWorker) notifyPlayable(ctx context.Context, job *entity.Job, masterURL string) {
	if w.notifier == nil || job.CorrelationID() == "" {
		return
	}
	if err := w.notifier.NotifyCompleted(ctx, job.CorrelationID(), masterURL); err != nil {
		logger.Warn("Completion notification failed", map[string]interface{}{
			"job_id":         job.JobID(),
			"correlation_id": job.CorrelationID(),
			"error":          err.Error(),
		})
	}
}

func (w *TranscodeWorker) failJob(ctx context.Context, job *entity.Job, jobErr error) {
	w.updateStats(func(s *Stats) { s.FailedJobs++ })

	message := jobErr.Error()
	detail := ""
	var encErr *port.EncoderError
	if errors.As(jobErr, &encErr) {
		message = encErr.Error()
		detail = encErr.StderrTail
	}

	requeued, delay, err := w.queue.Retry(ctx, w.lane, job.JobID())
	if err != nil {
		logger.Error("Queue retry failed", map[string]interface{}{
			"job_id": job.JobID(),
			"error":  err.Error(),
		})
	}

	now := time.Now()
	jobError := &entity.JobError{Message: message, Detail: detail, OccurredAt: now}
	if requeued {
		queued := vo.JobStatusQueued
		zero := 0
		_, uerr := w.jobs.Update(ctx, job.JobID(), repo.JobPatch{
			Status:          &queued,
			Progress:        &zero,
			Error:           jobError,
			ClearRenditions: true,
			QueuedAt:        &now,
		}, nil)
		if uerr != nil {
			logger.Error("Failed to mirror retry", map[string]interface{}{
				"job_id": job.JobID(),
				"error":  uerr.Error(),
			})
		}
		logger.Warn("Job failed, retrying", map[string]interface{}{
			"job_id": job.JobID(),
			"lane":   w.lane,
			"delay":  delay.String(),
			"error":  message,
		})
		return
	}

	failed := vo.JobStatusFailed
	_, uerr := w.jobs.Update(ctx, job.JobID(), repo.JobPatch{
		Status:   &failed,
		Error:    jobError,
		FailedAt: &now,
	}, nil)
	if uerr != nil {
		logger.Error("Failed to mirror failure", map[string]interface{}{
			"job_id": job.JobID(),
			"error":  uerr.Error(),
		})
	}
	logger.Error("Job failed permanently", map[string]interface{}{
		"job_id": job.JobID(),
		"lane":   w.lane,
		"error":  message,
	})
}

func (w *TranscodeWorker) masterURL(outputPrefix string) string {
	base := strings.TrimRight(w.cfg.Public.APIBaseURL, "/")
	return fmt.Sprintf("%s/hls/%s/master.m3u8", base, outputPrefix)
}
