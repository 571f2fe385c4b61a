package persistence

import (
	"context"
	"sort"
	"sync"

	"transcode-pipeline/ddd/domain/entity"
	"transcode-pipeline/ddd/domain/repo"
	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/pkg/errno"
)

// MemoryJobRepository is a map-backed JobRepository with the same
// optimistic-update semantics as the MySQL implementation. Used by tests
// and the standalone dev profile.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*entity.Job
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*entity.Job)}
}

func cloneJob(j *entity.Job) *entity.Job {
	if j == nil {
		return nil
	}
	var lastError *entity.JobError
	if je := j.LastError(); je != nil {
		cp := *je
		lastError = &cp
	}
	return entity.RehydrateJob(
		j.JobID(), j.OriginalFilename(), j.MimeType(), j.RawObjectKey(), j.OutputPrefix(),
		j.OriginalSize(),
		j.Status(), j.Stage(),
		j.Progress(), j.Attempts(), j.MaxAttempts(),
		j.PerResolution(),
		j.HLSMasterURL(), j.CorrelationID(),
		lastError,
		j.CreatedAt(), j.UpdatedAt(),
		j.QueuedAt(), j.StartedAt(), j.CompletedAt(), j.FailedAt(),
	)
}

func (r *MemoryJobRepository) Create(ctx context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.JobID()]; ok {
		return errno.NewBizError(errno.ErrJobExists, nil)
	}
	r.jobs[job.JobID()] = cloneJob(job)
	return nil
}

func (r *MemoryJobRepository) Get(ctx context.Context, jobID string) (*entity.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneJob(r.jobs[jobID]), nil
}

func (r *MemoryJobRepository) Update(ctx context.Context, jobID string, patch repo.JobPatch, expected *vo.JobStatus) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.jobs[jobID]
	if !ok {
		return nil, errno.NewBizError(errno.ErrJobNotFound, nil)
	}
	if expected != nil && current.Status() != *expected {
		return nil, errno.NewBizError(errno.ErrPrecondition, nil)
	}

	status := current.Status()
	if patch.Status != nil {
		status = *patch.Status
	}
	progress := current.Progress()
	if patch.Progress != nil {
		progress = *patch.Progress
	}
	masterURL := current.HLSMasterURL()
	if patch.HLSMasterURL != nil {
		masterURL = *patch.HLSMasterURL
	}
	lastError := current.LastError()
	if patch.Error != nil {
		cp := *patch.Error
		lastError = &cp
	}
	if patch.ClearError {
		lastError = nil
	}
	attempts := current.Attempts()
	if patch.Attempts != nil && *patch.Attempts > attempts {
		attempts = *patch.Attempts
	}
	renditions := current.PerResolution()
	if patch.ClearRenditions {
		renditions = make(map[vo.Resolution]entity.RenditionState)
	}
	for tag, state := range patch.Renditions {
		renditions[tag] = state
	}
	queuedAt := current.QueuedAt()
	if patch.QueuedAt != nil {
		queuedAt = patch.QueuedAt
	}
	startedAt := current.StartedAt()
	if patch.StartedAt != nil {
		startedAt = patch.StartedAt
	}
	completedAt := current.CompletedAt()
	if patch.CompletedAt != nil {
		completedAt = patch.CompletedAt
	}
	failedAt := current.FailedAt()
	if patch.FailedAt != nil {
		failedAt = patch.FailedAt
	}

	updated := entity.RehydrateJob(
		current.JobID(), current.OriginalFilename(), current.MimeType(), current.RawObjectKey(), current.OutputPrefix(),
		current.OriginalSize(),
		status, current.Stage(),
		progress, attempts, current.MaxAttempts(),
		renditions,
		masterURL, current.CorrelationID(),
		lastError,
		current.CreatedAt(), current.UpdatedAt(),
		queuedAt, startedAt, completedAt, failedAt,
	)
	r.jobs[jobID] = updated
	return cloneJob(updated), nil
}

func (r *MemoryJobRepository) List(ctx context.Context, filter repo.JobFilter) ([]*entity.Job, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*entity.Job
	for _, j := range r.jobs {
		if filter.Status != nil && j.Status() != *filter.Status {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt().After(matched[k].CreatedAt())
	})
	total := int64(len(matched))

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	page := make([]*entity.Job, 0, end-offset)
	for _, j := range matched[offset:end] {
		page = append(page, cloneJob(j))
	}
	return page, total, nil
}

func (r *MemoryJobRepository) CountByStatus(ctx context.Context) (map[vo.JobStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[vo.JobStatus]int64)
	for _, j := range r.jobs {
		out[j.Status()]++
	}
	return out, nil
}

func (r *MemoryJobRepository) Delete(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.jobs[jobID]
	if !ok {
		return errno.NewBizError(errno.ErrJobNotFound, nil)
	}
	if current.Status() == vo.JobStatusProcessing {
		return errno.NewBizError(errno.ErrJobProcessing, nil)
	}
	delete(r.jobs, jobID)
	return nil
}
