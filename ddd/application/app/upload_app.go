package app

import (
	"context"
	"strings"
	"sync"

	"transcode-pipeline/ddd/application/cqe"
	"transcode-pipeline/ddd/application/dto"
	"transcode-pipeline/ddd/domain/entity"
	"transcode-pipeline/ddd/domain/gateway"
	"transcode-pipeline/ddd/domain/repo"
	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/ddd/infrastructure/database/persistence"
	"transcode-pipeline/ddd/infrastructure/queue"
	"transcode-pipeline/ddd/infrastructure/storage"
	"transcode-pipeline/ddd/infrastructure/worker"
	"transcode-pipeline/internal/resource"
	"transcode-pipeline/pkg/assert"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/errno"
	"transcode-pipeline/pkg/logger"
)

var (
	singleUploadApp UploadApp
	onceUploadApp   sync.Once
)

// UploadApp is the admission and job-management facade behind the HTTP
// and Kafka adapters.
type UploadApp interface {
	// CreateJob admits a stored raw object and schedules the fast pass.
	CreateJob(ctx context.Context, req *cqe.CreateJobReq) (*dto.JobDTO, error)
	// GetJob loads one job.
	GetJob(ctx context.Context, jobID string) (*dto.JobDTO, error)
	// ListJobs pages jobs newest-first.
	ListJobs(ctx context.Context, req *cqe.ListJobsReq) (*dto.JobListDTO, error)
	// RetryJob requeues a failed job.
	RetryJob(ctx context.Context, jobID string) (*dto.JobDTO, error)
	// DeleteJob removes a job and its queue entry.
	DeleteJob(ctx context.Context, jobID string) error
	// QueueStats reports lane counts, job counts and worker stats.
	QueueStats(ctx context.Context) (*dto.QueueStatsDTO, error)
}

type uploadAppImpl struct {
	cfg   *config.Config
	jobs  repo.JobRepository
	queue queue.TaskQueue
	store gateway.ObjectStore
}

func DefaultUploadApp() UploadApp {
	assert.NotCircular()
	onceUploadApp.Do(func() {
		cfg := config.GetGlobalConfig()
		singleUploadApp = NewUploadAppWith(
			cfg,
			persistence.NewJobRepository(),
			queue.NewRedisTaskQueue(resource.DefaultRedisResource().Client(), cfg),
			storage.NewObjectStore(cfg),
		)
	})
	assert.NotNil(singleUploadApp)
	return singleUploadApp
}

func NewUploadAppWith(cfg *config.Config, jobs repo.JobRepository, q queue.TaskQueue, store gateway.ObjectStore) UploadApp {
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	return &uploadAppImpl{cfg: cfg, jobs: jobs, queue: q, store: store}
}

func (a *uploadAppImpl) CreateJob(ctx context.Context, req *cqe.CreateJobReq) (*dto.JobDTO, error) {
	if err := req.Validate(a.cfg.Public.MaxSourceBytes); err != nil {
		return nil, err
	}

	// The raw object must already exist; its true size wins over the
	// declared one.
	info, err := a.store.Stat(ctx, req.RawObjectKey)
	if err != nil {
		return nil, err
	}
	if max := a.cfg.Public.MaxSourceBytes; max > 0 && info.Size > max {
		return nil, errno.NewBizError(errno.ErrSourceTooLarge, nil)
	}

	job := entity.NewJob(
		req.RawObjectKey,
		req.OriginalFilename,
		req.MimeType,
		info.Size,
		vo.StageFast,
		req.CorrelationID,
		a.cfg.Queue.Lane(queue.QueueFast).MaxAttempts,
	)
	if err := a.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := a.queue.Enqueue(ctx, queue.QueueFast, job.JobID(), queue.EnqueueOptions{}); err != nil {
		logger.Error("Admission enqueue failed", map[string]interface{}{
			"job_id": job.JobID(),
			"error":  err.Error(),
		})
		failed := vo.JobStatusFailed
		_, _ = a.jobs.Update(ctx, job.JobID(), repo.JobPatch{
			Status: &failed,
			Error: &entity.JobError{
				Message: "enqueue failed",
				Detail:  err.Error(),
			},
		}, nil)
		return nil, err
	}

	logger.Info("Job admitted", map[string]interface{}{
		"job_id":         job.JobID(),
		"raw_object_key": req.RawObjectKey,
		"size":           info.Size,
	})
	out := dto.NewJobDTO(job)
	out.StatusURL = a.statusURL(job.JobID())
	return out, nil
}

func (a *uploadAppImpl) statusURL(jobID string) string {
	return strings.TrimRight(a.cfg.Public.APIBaseURL, "/") + "/v1/jobs/" + jobID + "/status"
}

func (a *uploadAppImpl) GetJob(ctx context.Context, jobID string) (*dto.JobDTO, error) {
	if jobID == "" {
		return nil, errno.ErrValidation
	}
	job, err := a.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errno.ErrJobNotFound
	}
	return dto.NewJobDTO(job), nil
}

func (a *uploadAppImpl) ListJobs(ctx context.Context, req *cqe.ListJobsReq) (*dto.JobListDTO, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	filter := repo.JobFilter{
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	if req.Status != "" {
		status := vo.JobStatus(req.Status)
		filter.Status = &status
	}
	jobs, total, err := a.jobs.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := &dto.JobListDTO{
		Jobs:   make([]*dto.JobDTO, 0, len(jobs)),
		Total:  total,
		Limit:  req.Limit,
		Offset: req.Offset,
	}
	for _, job := range jobs {
		out.Jobs = append(out.Jobs, dto.NewJobDTO(job))
	}
	return out, nil
}

func (a *uploadAppImpl) RetryJob(ctx context.Context, jobID string) (*dto.JobDTO, error) {
	if jobID == "" {
		return nil, errno.ErrValidation
	}
	job, err := a.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errno.ErrJobNotFound
	}
	if job.Status() != vo.JobStatusFailed {
		return nil, errno.ErrJobNotFailed
	}
	if job.Attempts() >= job.MaxAttempts() {
		return nil, errno.ErrAttemptsExhausted
	}

	// The failed-status precondition makes concurrent retries lose
	// cleanly instead of double-enqueueing.
	expected := vo.JobStatusFailed
	queued := vo.JobStatusQueued
	zero := 0
	updated, err := a.jobs.Update(ctx, jobID, repo.JobPatch{
		Status:          &queued,
		Progress:        &zero,
		ClearError:      true,
		ClearRenditions: true,
	}, &expected)
	if err != nil {
		kind, _ := errno.Decode(err)
		if kind == errno.ErrPrecondition {
			return nil, errno.NewBizError(errno.ErrConflict, nil)
		}
		return nil, err
	}

	lane := job.Stage().QueueName()
	if err := a.queue.Enqueue(ctx, lane, jobID, queue.EnqueueOptions{}); err != nil {
		kind, _ := errno.Decode(err)
		if kind != errno.ErrAlreadyQueued {
			return nil, err
		}
	}
	logger.Info("Job retried", map[string]interface{}{
		"job_id": jobID,
		"queue":  lane,
	})
	return dto.NewJobDTO(updated), nil
}

func (a *uploadAppImpl) DeleteJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errno.ErrValidation
	}
	job, err := a.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return errno.ErrJobNotFound
	}
	if err := a.jobs.Delete(ctx, jobID); err != nil {
		return err
	}
	if err := a.queue.Remove(ctx, job.Stage().QueueName(), jobID); err != nil {
		logger.Warn("Queue entry removal failed", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	}
	logger.Info("Job deleted", map[string]interface{}{"job_id": jobID})
	return nil
}

func (a *uploadAppImpl) QueueStats(ctx context.Context) (*dto.QueueStatsDTO, error) {
	stats := &dto.QueueStatsDTO{
		Queues:  make(map[string]queue.Counts, 2),
		Workers: worker.AllStats(),
	}
	for _, lane := range []string{queue.QueueFast, queue.QueueBackground} {
		counts, err := a.queue.Counts(ctx, lane)
		if err != nil {
			return nil, err
		}
		stats.Queues[lane] = counts
	}
	jobCounts, err := a.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats.Jobs = jobCounts
	return stats, nil
}
