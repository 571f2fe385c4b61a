package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"transcode-pipeline/ddd/domain/entity"
	"transcode-pipeline/ddd/domain/gateway"
	"transcode-pipeline/ddd/domain/port"
	"transcode-pipeline/ddd/domain/repo"
	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/ddd/infrastructure/database/persistence"
	"transcode-pipeline/ddd/infrastructure/queue"
	"transcode-pipeline/pkg/config"
)

type workerFakeStore struct {
	uploadedPrefixes []string
	uploadErr        error
}

func (s *workerFakeStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	return nil
}

func (s *workerFakeStore) GetStream(ctx context.Context, key string) (io.ReadCloser, *gateway.ObjectInfo, error) {
	return io.NopCloser(bytes.NewReader(nil)), &gateway.ObjectInfo{Key: key}, nil
}

func (s *workerFakeStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, *gateway.ObjectInfo, error) {
	return io.NopCloser(bytes.NewReader(nil)), &gateway.ObjectInfo{Key: key}, nil
}

func (s *workerFakeStore) Stat(ctx context.Context, key string) (*gateway.ObjectInfo, error) {
	return &gateway.ObjectInfo{Key: key, Size: 1024}, nil
}

func (s *workerFakeStore) Download(ctx context.Context, key, localPath string) error {
	return os.WriteFile(localPath, []byte("fake source"), 0o644)
}

func (s *workerFakeStore) UploadTree(ctx context.Context, localDir, keyPrefix string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.uploadedPrefixes = append(s.uploadedPrefixes, keyPrefix)
	return nil
}

func (s *workerFakeStore) List(ctx context.Context, prefix string) ([]gateway.ObjectEntry, error) {
	return nil, nil
}

func (s *workerFakeStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", nil
}

type fakeEncoder struct {
	transcode func(ctx context.Context, inputPath, outputDir string, spec vo.EncodeSpec, progress port.ProgressFunc) error
}

func (e *fakeEncoder) Transcode(ctx context.Context, inputPath, outputDir string, spec vo.EncodeSpec, progress port.ProgressFunc) error {
	if e.transcode != nil {
		return e.transcode(ctx, inputPath, outputDir, spec, progress)
	}
	for _, tag := range spec.TargetResolutions {
		if progress != nil {
			progress(tag, 50)
			progress(tag, 100)
		}
	}
	return nil
}

type fakeNotifier struct {
	correlationIDs []string
	masterURLs     []string
}

func (n *fakeNotifier) NotifyCompleted(ctx context.Context, correlationID, hlsMasterURL string) error {
	n.correlationIDs = append(n.correlationIDs, correlationID)
	n.masterURLs = append(n.masterURLs, hlsMasterURL)
	return nil
}

func testWorkerConfig(t *testing.T) *config.Config {
	t.Helper()
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
			PollInterval:     10 * time.Millisecond,
		},
		Worker: config.WorkerConfig{TempRoot: t.TempDir()},
		Transcode: config.TranscodeConfig{
			FFmpeg: config.FFmpegConfig{
				BinaryPath:        "ffmpeg",
				ProbePath:         "ffprobe",
				BackgroundThreads: 2,
				SegmentDuration:   15,
			},
		},
		Public: config.PublicConfig{APIBaseURL: "http://localhost:8084/api/upload"},
	}
}

type workerHarness struct {
	worker   *TranscodeWorker
	jobs     *persistence.MemoryJobRepository
	queue    *queue.MemoryTaskQueue
	store    *workerFakeStore
	notifier *fakeNotifier
}

func newWorkerHarness(t *testing.T, lane string, encoder port.Encoder) *workerHarness {
	t.Helper()
	cfg := testWorkerConfig(t)
	jobs := persistence.NewMemoryJobRepository()
	q := queue.NewMemoryTaskQueue(cfg)
	store := &workerFakeStore{}
	notifier := &fakeNotifier{}
	if encoder == nil {
		encoder = &fakeEncoder{}
	}
	return &workerHarness{
		worker:   NewTranscodeWorker(lane, 1, cfg, q, jobs, store, encoder, notifier),
		jobs:     jobs,
		queue:    q,
		store:    store,
		notifier: notifier,
	}
}

func (h *workerHarness) admitAndClaim(t *testing.T, stage vo.Stage, correlationID string) (*entity.Job, *queue.Task) {
	t.Helper()
	ctx := context.Background()
	job := entity.NewJob("raw-videos/demo.mp4", "demo.mp4", "video/mp4", 1024, stage, correlationID, 3)
	if err := h.jobs.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	lane := stage.QueueName()
	if err := h.queue.Enqueue(ctx, lane, job.JobID(), queue.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	task, err := h.queue.Claim(ctx, lane)
	if err != nil || task == nil {
		t.Fatalf("Claim: task=%v err=%v", task, err)
	}
	return job, task
}

func TestProcessJobFastHappyPath(t *testing.T) {
	h := newWorkerHarness(t, queue.QueueFast, nil)
	ctx := context.Background()
	job, task := h.admitAndClaim(t, vo.StageFast, "corr-1")

	h.worker.processJob(ctx, task)

	got, _ := h.jobs.Get(ctx, job.JobID())
	if got.Status() != vo.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed", got.Status())
	}
	if got.Progress() != 100 {
		t.Errorf("progress = %d, want 100", got.Progress())
	}
	wantURL := "http://localhost:8084/api/upload/hls/demo/master.m3u8"
	if got.HLSMasterURL() != wantURL {
		t.Errorf("master url = %q, want %q", got.HLSMasterURL(), wantURL)
	}
	if state := got.PerResolution()[vo.Res360p]; state.Status != vo.JobStatusCompleted || state.Progress != 100 {
		t.Errorf("360p state = %+v, want completed/100", state)
	}

	// The HLS tree lands directly under the output prefix.
	if len(h.store.uploadedPrefixes) != 1 || h.store.uploadedPrefixes[0] != "demo" {
		t.Errorf("uploaded prefixes = %v, want [demo]", h.store.uploadedPrefixes)
	}

	// Completion of the fast pass schedules the background sibling.
	counts, _ := h.queue.Counts(ctx, queue.QueueBackground)
	if counts.Waiting != 1 {
		t.Errorf("background waiting = %d, want the sibling", counts.Waiting)
	}
	background := vo.JobStatusQueued
	siblings, _, _ := h.jobs.List(ctx, repo.JobFilter{Status: &background, Limit: 10})
	foundSibling := false
	for _, s := range siblings {
		if s.Stage() == vo.StageBackground && s.RawObjectKey() == job.RawObjectKey() {
			foundSibling = true
			if s.CorrelationID() != "corr-1" {
				t.Errorf("sibling correlation id = %q, want corr-1", s.CorrelationID())
			}
		}
	}
	if !foundSibling {
		t.Error("background sibling job not created")
	}

	// The webhook fires once, for the fast pass.
	if len(h.notifier.correlationIDs) != 1 || h.notifier.correlationIDs[0] != "corr-1" {
		t.Errorf("notifications = %v, want [corr-1]", h.notifier.correlationIDs)
	}
	if h.notifier.masterURLs[0] != wantURL {
		t.Errorf("notified url = %q, want %q", h.notifier.masterURLs[0], wantURL)
	}

	stats := h.worker.GetStats()
	if stats.ProcessedJobs != 1 || stats.SuccessfulJobs != 1 {
		t.Errorf("stats = %+v, want 1 processed 1 successful", stats)
	}
}

func TestProcessJobBackgroundNoSibling(t *testing.T) {
	h := newWorkerHarness(t, queue.QueueBackground, nil)
	ctx := context.Background()
	job, task := h.admitAndClaim(t, vo.StageBackground, "corr-1")

	h.worker.processJob(ctx, task)

	got, _ := h.jobs.Get(ctx, job.JobID())
	if got.Status() != vo.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed", got.Status())
	}
	for _, tag := range []vo.Resolution{vo.Res480p, vo.Res720p, vo.Res1080p} {
		if state := got.PerResolution()[tag]; state.Status != vo.JobStatusCompleted {
			t.Errorf("%s state = %+v, want completed", tag, state)
		}
	}

	// No further sibling for the background pass, but the webhook still
	// announces the HD completion.
	counts, _ := h.queue.Counts(ctx, queue.QueueBackground)
	if counts.Waiting != 0 {
		t.Errorf("background waiting = %d, want 0", counts.Waiting)
	}
	if len(h.notifier.correlationIDs) != 1 || h.notifier.correlationIDs[0] != "corr-1" {
		t.Errorf("background completion should notify, got %v", h.notifier.correlationIDs)
	}
}

func TestProcessJobStallRecoveryCountsAttempts(t *testing.T) {
	h := newWorkerHarness(t, queue.QueueFast, nil)
	ctx := context.Background()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	h.queue.SetClock(func() time.Time { return now })

	// First claim dies without a heartbeat, as a crashed worker would.
	job, _ := h.admitAndClaim(t, vo.StageFast, "")
	now = now.Add(2 * time.Minute)
	results, err := h.queue.SweepStalled(ctx, queue.QueueFast)
	if err != nil || len(results) != 1 || results[0].Failed {
		t.Fatalf("sweep = %+v, %v, want one requeue", results, err)
	}

	task, err := h.queue.Claim(ctx, queue.QueueFast)
	if err != nil || task == nil {
		t.Fatalf("second claim: task=%v err=%v", task, err)
	}
	if task.AttemptsMade != 2 {
		t.Fatalf("attempts made = %d, want 2 after the stall requeue", task.AttemptsMade)
	}
	h.worker.processJob(ctx, task)

	got, _ := h.jobs.Get(ctx, job.JobID())
	if got.Status() != vo.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed", got.Status())
	}
	if got.Attempts() != 2 {
		t.Errorf("attempts = %d, want 2: the crashed first run counts", got.Attempts())
	}
}

func TestProcessJobUploadFailureLeavesNoCompletedRungs(t *testing.T) {
	h := newWorkerHarness(t, queue.QueueFast, nil)
	h.store.uploadErr = errors.New("bucket unreachable")
	ctx := context.Background()
	job, task := h.admitAndClaim(t, vo.StageFast, "")

	h.worker.processJob(ctx, task)

	got, _ := h.jobs.Get(ctx, job.JobID())
	if got.Status() != vo.JobStatusQueued {
		t.Fatalf("job status = %s, want queued for retry", got.Status())
	}
	// The encode finished but nothing reached the store, so no rendition
	// may claim completed.
	for tag, state := range got.PerResolution() {
		if state.Status == vo.JobStatusCompleted {
			t.Errorf("%s marked completed although nothing was uploaded", tag)
		}
	}
	if len(got.PerResolution()) != 0 {
		t.Errorf("rendition states should be reset for the retry, got %v", got.PerResolution())
	}
	if got.HLSMasterURL() != "" {
		t.Errorf("master url = %q, want empty before any upload succeeds", got.HLSMasterURL())
	}
}

func TestProcessJobEncoderFailureRequeues(t *testing.T) {
	encoder := &fakeEncoder{
		transcode: func(ctx context.Context, inputPath, outputDir string, spec vo.EncodeSpec, progress port.ProgressFunc) error {
			return &port.EncoderError{Resolution: vo.Res360p, StderrTail: "x264 exploded"}
		},
	}
	h := newWorkerHarness(t, queue.QueueFast, encoder)
	ctx := context.Background()
	job, task := h.admitAndClaim(t, vo.StageFast, "")

	h.worker.processJob(ctx, task)

	got, _ := h.jobs.Get(ctx, job.JobID())
	if got.Status() != vo.JobStatusQueued {
		t.Fatalf("job status = %s, want queued for retry", got.Status())
	}
	if got.Progress() != 0 {
		t.Errorf("progress = %d, want reset to 0", got.Progress())
	}
	if got.Attempts() != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts())
	}
	if got.LastError() == nil || got.LastError().Detail != "x264 exploded" {
		t.Errorf("job error = %+v, want the stderr tail as detail", got.LastError())
	}

	stats := h.worker.GetStats()
	if stats.FailedJobs != 1 {
		t.Errorf("failed jobs = %d, want 1", stats.FailedJobs)
	}
}

func TestProcessJobExhaustedAttemptsFails(t *testing.T) {
	encoder := &fakeEncoder{
		transcode: func(ctx context.Context, inputPath, outputDir string, spec vo.EncodeSpec, progress port.ProgressFunc) error {
			return &port.EncoderError{Resolution: vo.Res360p, StderrTail: "still broken"}
		},
	}
	h := newWorkerHarness(t, queue.QueueFast, encoder)
	ctx := context.Background()

	// Drive the clock manually so retry backoff elapses instantly.
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	h.queue.SetClock(func() time.Time { return now })

	job, task := h.admitAndClaim(t, vo.StageFast, "")
	h.worker.processJob(ctx, task)

	// Two more rounds: the second failure requeues again, the third is final.
	for i := 0; i < 2; i++ {
		now = now.Add(time.Minute)
		next, err := h.queue.Claim(ctx, queue.QueueFast)
		if err != nil || next == nil {
			t.Fatalf("claim round %d: task=%v err=%v", i+2, next, err)
		}
		h.worker.processJob(ctx, next)
	}

	got, _ := h.jobs.Get(ctx, job.JobID())
	if got.Status() != vo.JobStatusFailed {
		t.Fatalf("job status = %s, want failed after exhausting attempts", got.Status())
	}
	if got.Attempts() != 3 {
		t.Errorf("attempts = %d, want 3", got.Attempts())
	}
	if got.FailedAt() == nil {
		t.Error("failed job must carry failed_at")
	}

	counts, _ := h.queue.Counts(ctx, queue.QueueFast)
	if counts.Waiting != 0 || counts.Active != 0 {
		t.Errorf("no live queue entry should remain: %+v", counts)
	}
}

func TestProcessJobTerminalEntryDropped(t *testing.T) {
	h := newWorkerHarness(t, queue.QueueFast, nil)
	ctx := context.Background()
	job, task := h.admitAndClaim(t, vo.StageFast, "")

	// Another worker already finished the job; the stale entry must go.
	processing := vo.JobStatusProcessing
	completed := vo.JobStatusCompleted
	_, _ = h.jobs.Update(ctx, job.JobID(), repo.JobPatch{Status: &processing}, nil)
	_, _ = h.jobs.Update(ctx, job.JobID(), repo.JobPatch{Status: &completed}, nil)

	h.worker.processJob(ctx, task)

	counts, _ := h.queue.Counts(ctx, queue.QueueFast)
	if counts.Active != 0 || counts.Waiting != 0 {
		t.Errorf("stale entry survived: %+v", counts)
	}
	if len(h.store.uploadedPrefixes) != 0 {
		t.Error("terminal job must not be re-encoded")
	}
}

func TestProcessJobMissingRecordDropped(t *testing.T) {
	h := newWorkerHarness(t, queue.QueueFast, nil)
	ctx := context.Background()

	_ = h.queue.Enqueue(ctx, queue.QueueFast, "ghost-job", queue.EnqueueOptions{})
	task, _ := h.queue.Claim(ctx, queue.QueueFast)
	if task == nil {
		t.Fatal("claim failed")
	}

	h.worker.processJob(ctx, task)

	counts, _ := h.queue.Counts(ctx, queue.QueueFast)
	if counts.Active != 0 {
		t.Errorf("entry without a job record should be removed: %+v", counts)
	}
}
