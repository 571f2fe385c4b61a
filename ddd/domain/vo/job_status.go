package vo

// JobStatus is the user-visible state of a transcode job.
type JobStatus string

const (
	// JobStatusPending 尚未入队
	JobStatusPending JobStatus = "pending"
	// JobStatusQueued 已入队等待执行
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing 执行中
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted 已完成
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed 失败
	JobStatusFailed JobStatus = "failed"
)

// String returns the status string.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is one of the known values.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final. Terminal statuses only
// leave through administrative deletion or an explicit retry.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo checks the job state machine.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		return target == JobStatusQueued
	case JobStatusQueued:
		return target == JobStatusProcessing || target == JobStatusFailed
	case JobStatusProcessing:
		// queued is the stall-recovery path back into the lane.
		return target == JobStatusCompleted || target == JobStatusFailed || target == JobStatusQueued
	case JobStatusFailed:
		// retry re-queues a failed job.
		return target == JobStatusQueued
	case JobStatusCompleted:
		return false
	default:
		return false
	}
}

// Stage names the queue lane a job runs in.
type Stage string

const (
	// StageFast produces the first playable rendition with minimal latency.
	StageFast Stage = "fast"
	// StageBackground fills in the HD renditions.
	StageBackground Stage = "background"
)

// String returns the stage string.
func (s Stage) String() string {
	return string(s)
}

// IsValid reports whether the stage is known.
func (s Stage) IsValid() bool {
	return s == StageFast || s == StageBackground
}

// QueueName returns the queue a stage binds to. Stages and queues are
// deliberately one-to-one.
func (s Stage) QueueName() string {
	return string(s)
}
