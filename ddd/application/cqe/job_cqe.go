package cqe

import (
	"mime"
	"path"

	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/pkg/errno"
)

// CreateJobReq admits a stored raw object into the pipeline. The upload
// itself happens out of band; the request only references the object key.
type CreateJobReq struct {
	RawObjectKey     string `json:"raw_object_key" binding:"required"`
	OriginalFilename string `json:"original_filename"`
	MimeType         string `json:"mime_type"`
	Size             int64  `json:"size"`
	CorrelationID    string `json:"correlation_id"`
}

// Validate normalizes the request. maxBytes caps the declared source
// size; the stored object's actual size is checked again at admission.
func (req *CreateJobReq) Validate(maxBytes int64) error {
	if req.RawObjectKey == "" {
		return errno.ErrRawKeyRequired
	}
	if req.Size < 0 {
		return errno.ErrValidation
	}
	if maxBytes > 0 && req.Size > maxBytes {
		return errno.ErrSourceTooLarge
	}
	if req.OriginalFilename == "" {
		req.OriginalFilename = path.Base(req.RawObjectKey)
	}
	if req.MimeType == "" {
		if byExt := mime.TypeByExtension(path.Ext(req.RawObjectKey)); byExt != "" {
			req.MimeType = byExt
		} else {
			req.MimeType = "application/octet-stream"
		}
	}
	return nil
}

// ListJobsReq pages through jobs, optionally narrowed by status.
type ListJobsReq struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

func (req *ListJobsReq) Validate() error {
	if req.Status != "" && !vo.JobStatus(req.Status).IsValid() {
		return errno.ErrValidation
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 20
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	return nil
}
