package dto

import (
	"time"

	"transcode-pipeline/ddd/domain/entity"
	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/ddd/infrastructure/queue"
	"transcode-pipeline/ddd/infrastructure/worker"
)

// JobErrorDTO is the wire form of a job's last error.
type JobErrorDTO struct {
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RenditionDTO is the wire form of one ladder rung's state.
type RenditionDTO struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// JobDTO is the wire form of a transcode job.
type JobDTO struct {
	JobID            string                  `json:"job_id"`
	OriginalFilename string                  `json:"original_filename"`
	OriginalSize     int64                   `json:"original_size"`
	MimeType         string                  `json:"mime_type"`
	RawObjectKey     string                  `json:"raw_object_key"`
	OutputPrefix     string                  `json:"output_prefix"`
	Status           string                  `json:"status"`
	Stage            string                  `json:"stage"`
	Progress         int                     `json:"progress"`
	Renditions       map[string]RenditionDTO `json:"renditions,omitempty"`
	Attempts         int                     `json:"attempts"`
	MaxAttempts      int                     `json:"max_attempts"`
	HLSMasterURL     string                  `json:"hls_master_url,omitempty"`
	StatusURL        string                  `json:"status_url,omitempty"`
	Error            *JobErrorDTO            `json:"error,omitempty"`
	CorrelationID    string                  `json:"correlation_id,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	UpdatedAt        time.Time               `json:"updated_at"`
	QueuedAt         *time.Time              `json:"queued_at,omitempty"`
	StartedAt        *time.Time              `json:"started_at,omitempty"`
	CompletedAt      *time.Time              `json:"completed_at,omitempty"`
	FailedAt         *time.Time              `json:"failed_at,omitempty"`
}

func NewJobDTO(e *entity.Job) *JobDTO {
	if e == nil {
		return nil
	}
	d := &JobDTO{
		JobID:            e.JobID(),
		OriginalFilename: e.OriginalFilename(),
		OriginalSize:     e.OriginalSize(),
		MimeType:         e.MimeType(),
		RawObjectKey:     e.RawObjectKey(),
		OutputPrefix:     e.OutputPrefix(),
		Status:           string(e.Status()),
		Stage:            string(e.Stage()),
		Progress:         e.Progress(),
		Attempts:         e.Attempts(),
		MaxAttempts:      e.MaxAttempts(),
		HLSMasterURL:     e.HLSMasterURL(),
		CorrelationID:    e.CorrelationID(),
		CreatedAt:        e.CreatedAt(),
		UpdatedAt:        e.UpdatedAt(),
		QueuedAt:         e.QueuedAt(),
		StartedAt:        e.StartedAt(),
		CompletedAt:      e.CompletedAt(),
		FailedAt:         e.FailedAt(),
	}
	if perRes := e.PerResolution(); len(perRes) > 0 {
		d.Renditions = make(map[string]RenditionDTO, len(perRes))
		for tag, state := range perRes {
			d.Renditions[tag.String()] = RenditionDTO{
				Status:   string(state.Status),
				Progress: state.Progress,
			}
		}
	}
	if je := e.LastError(); je != nil {
		d.Error = &JobErrorDTO{
			Message:    je.Message,
			Detail:     je.Detail,
			OccurredAt: je.OccurredAt,
		}
	}
	return d
}

// JobListDTO pages jobs with the total match count.
type JobListDTO struct {
	Jobs   []*JobDTO `json:"jobs"`
	Total  int64     `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// QueueStatsDTO is the operator view over both lanes.
type QueueStatsDTO struct {
	Queues  map[string]queue.Counts `json:"queues"`
	Jobs    map[vo.JobStatus]int64  `json:"jobs"`
	Workers map[string]worker.Stats `json:"workers,omitempty"`
}
