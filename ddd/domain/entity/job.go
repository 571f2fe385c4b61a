package entity

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"transcode-pipeline/ddd/domain/vo"
)

// JobError captures the last failure of a job.
type JobError struct {
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RenditionState tracks one ladder rung inside a job.
type RenditionState struct {
	Status   vo.JobStatus `json:"status"`
	Progress int          `json:"progress"`
}

// Job is the durable unit of transcode work. One logical upload produces
// one fast job and, after it completes, one sibling background job sharing
// the same raw object key.
type Job struct {
	jobID            string
	originalFilename string
	originalSize     int64
	mimeType         string
	rawObjectKey     string
	outputPrefix     string
	status           vo.JobStatus
	stage            vo.Stage
	progress         int
	perResolution    map[vo.Resolution]RenditionState
	attempts         int
	maxAttempts      int
	hlsMasterURL     string
	lastError        *JobError
	correlationID    string
	createdAt        time.Time
	updatedAt        time.Time
	queuedAt         *time.Time
	startedAt        *time.Time
	completedAt      *time.Time
	failedAt         *time.Time
}

// NewJob creates a queued job for the given stage. The output prefix is
// derived from the raw object key.
func NewJob(rawObjectKey, originalFilename, mimeType string, originalSize int64, stage vo.Stage, correlationID string, maxAttempts int) *Job {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	now := time.Now()
	queued := now
	return &Job{
		jobID:            uuid.New().String(),
		originalFilename: originalFilename,
		originalSize:     originalSize,
		mimeType:         mimeType,
		rawObjectKey:     rawObjectKey,
		outputPrefix:     DeriveOutputPrefix(rawObjectKey),
		status:           vo.JobStatusQueued,
		stage:            stage,
		progress:         0,
		perResolution:    make(map[vo.Resolution]RenditionState),
		attempts:         0,
		maxAttempts:      maxAttempts,
		correlationID:    correlationID,
		createdAt:        now,
		updatedAt:        now,
		queuedAt:         &queued,
	}
}

// DeriveOutputPrefix strips the conventional raw-videos/ segment and the
// file extension from a raw object key. "raw-videos/abc-demo.mp4" becomes
// "abc-demo"; the HLS tree lands under that prefix.
func DeriveOutputPrefix(rawObjectKey string) string {
	key := strings.TrimPrefix(rawObjectKey, "/")
	key = strings.TrimPrefix(key, "raw-videos/")
	ext := path.Ext(key)
	if ext != "" {
		key = strings.TrimSuffix(key, ext)
	}
	return key
}

// RehydrateJob rebuilds an entity from persisted state. Used by the
// persistence layer only; no validation is applied.
func RehydrateJob(
	jobID, originalFilename, mimeType, rawObjectKey, outputPrefix string,
	originalSize int64,
	status vo.JobStatus, stage vo.Stage,
	progress, attempts, maxAttempts int,
	perResolution map[vo.Resolution]RenditionState,
	hlsMasterURL, correlationID string,
	lastError *JobError,
	createdAt, updatedAt time.Time,
	queuedAt, startedAt, completedAt, failedAt *time.Time,
) *Job {
	if perResolution == nil {
		perResolution = make(map[vo.Resolution]RenditionState)
	}
	return &Job{
		jobID:            jobID,
		originalFilename: originalFilename,
		originalSize:     originalSize,
		mimeType:         mimeType,
		rawObjectKey:     rawObjectKey,
		outputPrefix:     outputPrefix,
		status:           status,
		stage:            stage,
		progress:         progress,
		perResolution:    perResolution,
		attempts:         attempts,
		maxAttempts:      maxAttempts,
		hlsMasterURL:     hlsMasterURL,
		lastError:        lastError,
		correlationID:    correlationID,
		createdAt:        createdAt,
		updatedAt:        updatedAt,
		queuedAt:         queuedAt,
		startedAt:        startedAt,
		completedAt:      completedAt,
		failedAt:         failedAt,
	}
}

func (j *Job) JobID() string { return j.jobID }
func (j *Job) OriginalFilename() string { return j.originalFilename }
func (j *Job) OriginalSize() int64 { return j.originalSize }
func (j *Job) MimeType() string { return j.mimeType }
func (j *Job) RawObjectKey() string { return j.rawObjectKey }
func (j *Job) OutputPrefix() string { return j.outputPrefix }
func (j *Job) Status() vo.JobStatus { return j.status }
func (j *Job) Stage() vo.Stage { return j.stage }
func (j *Job) Progress() int { return j.progress }
func (j *Job) Attempts() int { return j.attempts }
func (j *Job) MaxAttempts() int { return j.maxAttempts }
func (j *Job) HLSMasterURL() string { return j.hlsMasterURL }
func (j *Job) LastError() *JobError { return j.lastError }
func (j *Job) CorrelationID() string { return j.correlationID }
func (j *Job) CreatedAt() time.Time { return j.createdAt }
func (j *Job) UpdatedAt() time.Time { return j.updatedAt }
func (j *Job) QueuedAt() *time.Time { return j.queuedAt }
func (j *Job) StartedAt() *time.Time { return j.startedAt }
func (j *Job) CompletedAt() *time.Time { return j.completedAt }
func (j *Job) FailedAt() *time.Time { return j.failedAt }

// PerResolution returns a copy of the per-rung states.
func (j *Job) PerResolution() map[vo.Resolution]RenditionState {
	out := make(map[vo.Resolution]RenditionState, len(j.perResolution))
	for k, v := range j.perResolution {
		out[k] = v
	}
	return out
}

// IsTerminal reports whether the job reached a final status.
func (j *Job) IsTerminal() bool {
	return j.status.IsTerminal()
}

// StartProcessing moves the job into processing.
func (j *Job) StartProcessing() error {
	if !j.status.CanTransitionTo(vo.JobStatusProcessing) {
		return fmt.Errorf("cannot start processing from status %s", j.status)
	}
	now := time.Now()
	j.status = vo.JobStatusProcessing
	j.startedAt = &now
	j.updatedAt = now
	return nil
}

// SetProgress raises the stage-local progress. Progress is monotonic:
// lower values are ignored rather than rejected, since queue events are
// delivered at least once.
func (j *Job) SetProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress <= j.progress {
		return
	}
	j.progress = progress
	j.updatedAt = time.Now()
}

// SetRenditionState records one rung's state.
func (j *Job) SetRenditionState(tag vo.Resolution, state RenditionState) {
	j.perResolution[tag] = state
	j.updatedAt = time.Now()
}

// RaiseAttempts lifts the retry counter to the queue's claim count.
// It never lowers the counter.
func (j *Job) RaiseAttempts(n int) {
	if n > j.attempts {
		j.attempts = n
		j.updatedAt = time.Now()
	}
}

// Complete finalizes the job with the playable master URL.
func (j *Job) Complete(hlsMasterURL string) error {
	if !j.status.CanTransitionTo(vo.JobStatusCompleted) {
		return fmt.Errorf("cannot complete from status %s", j.status)
	}
	now := time.Now()
	j.status = vo.JobStatusCompleted
	j.progress = 100
	j.hlsMasterURL = hlsMasterURL
	j.completedAt = &now
	j.updatedAt = now
	return nil
}

// Fail records the failure and moves the job to failed.
func (j *Job) Fail(message, detail string) error {
	if !j.status.CanTransitionTo(vo.JobStatusFailed) {
		return fmt.Errorf("cannot fail from status %s", j.status)
	}
	now := time.Now()
	j.status = vo.JobStatusFailed
	j.lastError = &JobError{Message: message, Detail: detail, OccurredAt: now}
	j.failedAt = &now
	j.updatedAt = now
	return nil
}

// Requeue moves a failed or stalled job back to queued and resets the
// stage-local progress window.
func (j *Job) Requeue() error {
	if !j.status.CanTransitionTo(vo.JobStatusQueued) {
		return fmt.Errorf("cannot requeue from status %s", j.status)
	}
	now := time.Now()
	j.status = vo.JobStatusQueued
	j.progress = 0
	j.queuedAt = &now
	j.updatedAt = now
	return nil
}
