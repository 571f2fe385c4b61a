package convertor

import (
	"encoding/json"

	"transcode-pipeline/ddd/domain/entity"
	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/ddd/infrastructure/database/po"
)

type TranscodeJobConvertor struct{}

func NewTranscodeJobConvertor() *TranscodeJobConvertor { return &TranscodeJobConvertor{} }

func (c *TranscodeJobConvertor) ToEntity(poJob *po.TranscodeJob) *entity.Job {
	if poJob == nil {
		return nil
	}
	var renditions map[vo.Resolution]entity.RenditionState
	if poJob.RenditionsJSON != nil {
		_ = json.Unmarshal([]byte(*poJob.RenditionsJSON), &renditions)
	}
	var lastError *entity.JobError
	if poJob.ErrorMessage != nil {
		lastError = &entity.JobError{Message: *poJob.ErrorMessage}
		if poJob.ErrorDetail != nil {
			lastError.Detail = *poJob.ErrorDetail
		}
		if poJob.ErrorAt != nil {
			lastError.OccurredAt = *poJob.ErrorAt
		}
	}
	masterURL := ""
	if poJob.HLSMasterURL != nil {
		masterURL = *poJob.HLSMasterURL
	}
	return entity.RehydrateJob(
		poJob.JobID, poJob.OriginalFilename, poJob.MimeType, poJob.RawObjectKey, poJob.OutputPrefix,
		poJob.OriginalSize,
		vo.JobStatus(poJob.Status), vo.Stage(poJob.Stage),
		poJob.Progress, poJob.Attempts, poJob.MaxAttempts,
		renditions,
		masterURL, poJob.CorrelationID,
		lastError,
		poJob.CreatedAt, poJob.UpdatedAt,
		poJob.QueuedAt, poJob.StartedAt, poJob.CompletedAt, poJob.FailedAt,
	)
}

func (c *TranscodeJobConvertor) ToPO(e *entity.Job) *po.TranscodeJob {
	if e == nil {
		return nil
	}
	p := &po.TranscodeJob{
		BaseModel:        po.BaseModel{CreatedAt: e.CreatedAt(), UpdatedAt: e.UpdatedAt()},
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
		CorrelationID:    e.CorrelationID(),
		QueuedAt:         e.QueuedAt(),
		StartedAt:        e.StartedAt(),
		CompletedAt:      e.CompletedAt(),
		FailedAt:         e.FailedAt(),
	}
	if perRes := e.PerResolution(); len(perRes) > 0 {
		if raw, err := json.Marshal(perRes); err == nil {
			s := string(raw)
			p.RenditionsJSON = &s
		}
	}
	if url := e.HLSMasterURL(); url != "" {
		p.HLSMasterURL = &url
	}
	if je := e.LastError(); je != nil {
		p.ErrorMessage = &je.Message
		if je.Detail != "" {
			p.ErrorDetail = &je.Detail
		}
		occurred := je.OccurredAt
		p.ErrorAt = &occurred
	}
	return p
}
