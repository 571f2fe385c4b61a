package app

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"transcode-pipeline/ddd/application/cqe"
	"transcode-pipeline/ddd/domain/entity"
	"transcode-pipeline/ddd/domain/gateway"
	"transcode-pipeline/ddd/domain/repo"
	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/ddd/infrastructure/database/persistence"
	"transcode-pipeline/ddd/infrastructure/queue"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/errno"
)

// fakeObjectStore serves Stat/GetStream from an in-memory map.
type fakeObjectStore struct {
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *fakeObjectStore) GetStream(ctx context.Context, key string) (io.ReadCloser, *gateway.ObjectInfo, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, nil, errno.NewBizError(errno.ErrObjectNotFound, nil)
	}
	return io.NopCloser(bytes.NewReader(data)), &gateway.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *fakeObjectStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, *gateway.ObjectInfo, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, nil, errno.NewBizError(errno.ErrObjectNotFound, nil)
	}
	if end < 0 || end >= int64(len(data)) {
		end = int64(len(data)) - 1
	}
	return io.NopCloser(bytes.NewReader(data[start : end+1])), &gateway.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *fakeObjectStore) Stat(ctx context.Context, key string) (*gateway.ObjectInfo, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errno.NewBizError(errno.ErrObjectNotFound, nil)
	}
	return &gateway.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now()}, nil
}

func (s *fakeObjectStore) Download(ctx context.Context, key, localPath string) error { return nil }

func (s *fakeObjectStore) UploadTree(ctx context.Context, localDir, keyPrefix string) error {
	return nil
}

func (s *fakeObjectStore) List(ctx context.Context, prefix string) ([]gateway.ObjectEntry, error) {
	var out []gateway.ObjectEntry
	for k, v := range s.objects {
		out = append(out, gateway.ObjectEntry{Key: k, Size: int64(len(v))})
	}
	return out, nil
}

func (s *fakeObjectStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func testAppConfig() *config.Config {
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
		Public: config.PublicConfig{
			APIBaseURL:     "http://localhost:8084/api/upload",
			MaxSourceBytes: 1 << 20,
		},
	}
}

func newTestApp(t *testing.T) (UploadApp, *persistence.MemoryJobRepository, *queue.MemoryTaskQueue, *fakeObjectStore) {
	t.Helper()
	cfg := testAppConfig()
	jobs := persistence.NewMemoryJobRepository()
	q := queue.NewMemoryTaskQueue(cfg)
	store := newFakeObjectStore()
	return NewUploadAppWith(cfg, jobs, q, store), jobs, q, store
}

func TestCreateJob(t *testing.T) {
	uploadApp, _, q, store := newTestApp(t)
	ctx := context.Background()
	store.objects["raw-videos/demo.mp4"] = make([]byte, 2048)

	job, err := uploadApp.CreateJob(ctx, &cqe.CreateJobReq{RawObjectKey: "raw-videos/demo.mp4"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != "queued" || job.Stage != "fast" {
		t.Errorf("new job = %s/%s, want queued/fast", job.Status, job.Stage)
	}
	if job.OutputPrefix != "demo" {
		t.Errorf("output prefix = %q, want demo", job.OutputPrefix)
	}
	if job.OriginalSize != 2048 {
		t.Errorf("size = %d, want the stored object's size", job.OriginalSize)
	}
	wantStatusURL := "http://localhost:8084/api/upload/v1/jobs/" + job.JobID + "/status"
	if job.StatusURL != wantStatusURL {
		t.Errorf("status url = %q, want %q", job.StatusURL, wantStatusURL)
	}

	counts, _ := q.Counts(ctx, queue.QueueFast)
	if counts.Waiting != 1 {
		t.Errorf("fast lane waiting = %d, want 1", counts.Waiting)
	}
}

func TestCreateJobMissingObject(t *testing.T) {
	uploadApp, _, _, _ := newTestApp(t)
	_, err := uploadApp.CreateJob(context.Background(), &cqe.CreateJobReq{RawObjectKey: "raw-videos/ghost.mp4"})
	kind, _ := errno.Decode(err)
	if kind != errno.ErrObjectNotFound {
		t.Errorf("CreateJob on missing object = %v, want ErrObjectNotFound", err)
	}
}

func TestCreateJobStoredSizeWins(t *testing.T) {
	uploadApp, _, _, store := newTestApp(t)
	// Declared size is small but the stored object breaches the cap.
	store.objects["raw-videos/huge.mp4"] = make([]byte, 2<<20)
	_, err := uploadApp.CreateJob(context.Background(), &cqe.CreateJobReq{
		RawObjectKey: "raw-videos/huge.mp4",
		Size:         10,
	})
	kind, _ := errno.Decode(err)
	if kind != errno.ErrSourceTooLarge {
		t.Errorf("CreateJob = %v, want ErrSourceTooLarge from the true size", err)
	}
}

func TestGetJob(t *testing.T) {
	uploadApp, _, _, store := newTestApp(t)
	ctx := context.Background()
	store.objects["raw-videos/demo.mp4"] = make([]byte, 64)
	created, _ := uploadApp.CreateJob(ctx, &cqe.CreateJobReq{RawObjectKey: "raw-videos/demo.mp4"})

	got, err := uploadApp.GetJob(ctx, created.JobID)
	if err != nil || got.JobID != created.JobID {
		t.Fatalf("GetJob = %v, %v", got, err)
	}

	_, err = uploadApp.GetJob(ctx, "nope")
	kind, _ := errno.Decode(err)
	if kind != errno.ErrJobNotFound {
		t.Errorf("GetJob(nope) = %v, want ErrJobNotFound", err)
	}
}

func TestListJobsPaging(t *testing.T) {
	uploadApp, jobs, _, _ := newTestApp(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		job := entity.NewJob("raw-videos/demo.mp4", "demo.mp4", "video/mp4", 64, vo.StageFast, "", 3)
		if err := jobs.Create(ctx, job); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	list, err := uploadApp.ListJobs(ctx, &cqe.ListJobsReq{Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if list.Total != 5 || len(list.Jobs) != 2 {
		t.Errorf("first page = %d jobs of %d, want 2 of 5", len(list.Jobs), list.Total)
	}

	list, _ = uploadApp.ListJobs(ctx, &cqe.ListJobsReq{Limit: 2, Offset: 4})
	if len(list.Jobs) != 1 {
		t.Errorf("offset 4 = %d jobs, want the 1 leftover", len(list.Jobs))
	}
}

func TestRetryJobOnlyFailed(t *testing.T) {
	uploadApp, _, _, store := newTestApp(t)
	ctx := context.Background()
	store.objects["raw-videos/demo.mp4"] = make([]byte, 64)
	created, _ := uploadApp.CreateJob(ctx, &cqe.CreateJobReq{RawObjectKey: "raw-videos/demo.mp4"})

	_, err := uploadApp.RetryJob(ctx, created.JobID)
	kind, _ := errno.Decode(err)
	if kind != errno.ErrJobNotFailed {
		t.Errorf("retry of queued job = %v, want ErrJobNotFailed", err)
	}
}

func TestRetryJob(t *testing.T) {
	uploadApp, jobs, q, store := newTestApp(t)
	ctx := context.Background()
	store.objects["raw-videos/demo.mp4"] = make([]byte, 64)
	created, _ := uploadApp.CreateJob(ctx, &cqe.CreateJobReq{RawObjectKey: "raw-videos/demo.mp4"})

	// Drive the job to failed through its state machine.
	processing := vo.JobStatusProcessing
	failed := vo.JobStatusFailed
	_, _ = jobs.Update(ctx, created.JobID, repo.JobPatch{Status: &processing}, nil)
	_, _ = jobs.Update(ctx, created.JobID, repo.JobPatch{
		Status: &failed,
		Error:  &entity.JobError{Message: "boom", OccurredAt: time.Now()},
	}, nil)
	_ = q.Remove(ctx, queue.QueueFast, created.JobID)

	got, err := uploadApp.RetryJob(ctx, created.JobID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if got.Status != "queued" {
		t.Errorf("retried job status = %s, want queued", got.Status)
	}
	if got.Error != nil {
		t.Error("retry should clear the last error")
	}
	counts, _ := q.Counts(ctx, queue.QueueFast)
	if counts.Waiting != 1 {
		t.Errorf("fast lane waiting = %d, want 1 after retry", counts.Waiting)
	}
}

func TestRetryJobAttemptsExhausted(t *testing.T) {
	uploadApp, jobs, q, store := newTestApp(t)
	ctx := context.Background()
	store.objects["raw-videos/demo.mp4"] = make([]byte, 64)
	created, _ := uploadApp.CreateJob(ctx, &cqe.CreateJobReq{RawObjectKey: "raw-videos/demo.mp4"})

	// The job burned through its whole attempt budget before failing.
	processing := vo.JobStatusProcessing
	failed := vo.JobStatusFailed
	three := 3
	_, _ = jobs.Update(ctx, created.JobID, repo.JobPatch{Status: &processing, Attempts: &three}, nil)
	_, _ = jobs.Update(ctx, created.JobID, repo.JobPatch{
		Status: &failed,
		Error:  &entity.JobError{Message: "boom", OccurredAt: time.Now()},
	}, nil)
	_ = q.Remove(ctx, queue.QueueFast, created.JobID)

	_, err := uploadApp.RetryJob(ctx, created.JobID)
	kind, _ := errno.Decode(err)
	if kind != errno.ErrAttemptsExhausted {
		t.Errorf("retry past max attempts = %v, want ErrAttemptsExhausted", err)
	}
}

func TestDeleteJob(t *testing.T) {
	uploadApp, jobs, q, store := newTestApp(t)
	ctx := context.Background()
	store.objects["raw-videos/demo.mp4"] = make([]byte, 64)
	created, _ := uploadApp.CreateJob(ctx, &cqe.CreateJobReq{RawObjectKey: "raw-videos/demo.mp4"})

	if err := uploadApp.DeleteJob(ctx, created.JobID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	_, err := uploadApp.GetJob(ctx, created.JobID)
	kind, _ := errno.Decode(err)
	if kind != errno.ErrJobNotFound {
		t.Errorf("deleted job still readable: %v", err)
	}
	counts, _ := q.Counts(ctx, queue.QueueFast)
	if counts.Waiting != 0 {
		t.Errorf("queue entry survived deletion: %+v", counts)
	}

	// Processing jobs refuse deletion.
	store.objects["raw-videos/live.mp4"] = make([]byte, 64)
	live, _ := uploadApp.CreateJob(ctx, &cqe.CreateJobReq{RawObjectKey: "raw-videos/live.mp4"})
	processing := vo.JobStatusProcessing
	_, _ = jobs.Update(ctx, live.JobID, repo.JobPatch{Status: &processing}, nil)
	err = uploadApp.DeleteJob(ctx, live.JobID)
	kind, _ = errno.Decode(err)
	if kind != errno.ErrJobProcessing {
		t.Errorf("delete of processing job = %v, want ErrJobProcessing", err)
	}
}

func TestQueueStats(t *testing.T) {
	uploadApp, _, _, store := newTestApp(t)
	ctx := context.Background()
	store.objects["raw-videos/demo.mp4"] = make([]byte, 64)
	_, _ = uploadApp.CreateJob(ctx, &cqe.CreateJobReq{RawObjectKey: "raw-videos/demo.mp4"})

	stats, err := uploadApp.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Queues[queue.QueueFast].Waiting != 1 {
		t.Errorf("fast waiting = %d, want 1", stats.Queues[queue.QueueFast].Waiting)
	}
	if stats.Jobs[vo.JobStatusQueued] != 1 {
		t.Errorf("queued jobs = %d, want 1", stats.Jobs[vo.JobStatusQueued])
	}
}
