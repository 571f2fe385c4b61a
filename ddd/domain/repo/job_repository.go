package repo

import (
	"context"
	"time"

	"transcode-pipeline/ddd/domain/entity"
	"transcode-pipeline/ddd/domain/vo"
)

// JobPatch is an optimistic partial update. Nil fields are left untouched.
// Attempts raises the counter to the given value and never lowers it, so
// the count stays monotonic under concurrent writers.
type JobPatch struct {
	Status          *vo.JobStatus
	Progress        *int
	HLSMasterURL    *string
	Error           *entity.JobError
	ClearError      bool
	Attempts        *int
	Renditions      map[vo.Resolution]entity.RenditionState
	ClearRenditions bool
	QueuedAt        *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	FailedAt        *time.Time
}

// JobFilter narrows List results. Zero Limit defaults to 20.
type JobFilter struct {
	Status *vo.JobStatus
	Limit  int
	Offset int
}

// JobRepository is the durable job store: the single source of truth for
// user-visible job state.
type JobRepository interface {
	// Create persists a new job; errno.ErrJobExists on a duplicate job id.
	Create(ctx context.Context, job *entity.Job) error

	// Get loads a job; (nil, nil) when absent.
	Get(ctx context.Context, jobID string) (*entity.Job, error)

	// Update applies the patch atomically. When expected is non-nil and
	// the stored status differs, errno.ErrPrecondition is returned and
	// nothing changes.
	Update(ctx context.Context, jobID string, patch JobPatch, expected *vo.JobStatus) (*entity.Job, error)

	// List returns jobs newest-first plus the total matching count.
	List(ctx context.Context, filter JobFilter) ([]*entity.Job, int64, error)

	// CountByStatus aggregates job counts per status.
	CountByStatus(ctx context.Context) (map[vo.JobStatus]int64, error)

	// Delete removes a job; errno.ErrJobProcessing while it is running.
	Delete(ctx context.Context, jobID string) error
}
