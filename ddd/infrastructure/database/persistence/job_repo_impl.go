package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"transcode-pipeline/ddd/domain/entity"
	"transcode-pipeline/ddd/domain/repo"
	"transcode-pipeline/ddd/domain/vo"
	"transcode-pipeline/ddd/infrastructure/database/convertor"
	"transcode-pipeline/ddd/infrastructure/database/dao"
	"transcode-pipeline/pkg/errno"
)

type jobRepositoryImpl struct {
	dao *dao.TranscodeJobDAO
	cvt *convertor.TranscodeJobConvertor
}

func NewJobRepository() repo.JobRepository {
	return &jobRepositoryImpl{
		dao: dao.NewTranscodeJobDAO(),
		cvt: convertor.NewTranscodeJobConvertor(),
	}
}

func NewJobRepositoryWithDAO(d *dao.TranscodeJobDAO) repo.JobRepository {
	return &jobRepositoryImpl{dao: d, cvt: convertor.NewTranscodeJobConvertor()}
}

func (r *jobRepositoryImpl) Create(ctx context.Context, job *entity.Job) error {
	if err := r.dao.Create(ctx, r.cvt.ToPO(job)); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errno.NewBizError(errno.ErrJobExists, err)
		}
		return errno.NewBizError(errno.ErrDatabase, err)
	}
	return nil
}

func (r *jobRepositoryImpl) Get(ctx context.Context, jobID string) (*entity.Job, error) {
	jobPo, err := r.dao.FindByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errno.NewBizError(errno.ErrDatabase, err)
	}
	return r.cvt.ToEntity(jobPo), nil
}

func (r *jobRepositoryImpl) Update(ctx context.Context, jobID string, patch repo.JobPatch, expected *vo.JobStatus) (*entity.Job, error) {
	updates := buildUpdates(patch)

	expectedStatus := ""
	if expected != nil {
		expectedStatus = string(*expected)
	}

	if len(updates) > 0 {
		rows, err := r.dao.UpdateWhere(ctx, jobID, updates, expectedStatus)
		if err != nil {
			return nil, errno.NewBizError(errno.ErrDatabase, err)
		}
		if rows == 0 {
			current, err := r.Get(ctx, jobID)
			if err != nil {
				return nil, err
			}
			if current == nil {
				return nil, errno.NewBizError(errno.ErrJobNotFound, nil)
			}
			if expected != nil && current.Status() != *expected {
				return nil, errno.NewBizError(errno.ErrPrecondition, nil)
			}
			// Same-value update matched the row but changed nothing.
		}
	}

	updated, err := r.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, errno.NewBizError(errno.ErrJobNotFound, nil)
	}
	return updated, nil
}

func buildUpdates(patch repo.JobPatch) map[string]interface{} {
	updates := map[string]interface{}{}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.Progress != nil {
		updates["progress"] = *patch.Progress
	}
	if patch.HLSMasterURL != nil {
		updates["hls_master_url"] = *patch.HLSMasterURL
	}
	if patch.Error != nil {
		updates["error_message"] = patch.Error.Message
		updates["error_detail"] = patch.Error.Detail
		updates["error_at"] = patch.Error.OccurredAt
	}
	if patch.ClearError {
		updates["error_message"] = nil
		updates["error_detail"] = nil
		updates["error_at"] = nil
	}
	if patch.Attempts != nil {
		updates["attempts"] = gorm.Expr("GREATEST(attempts, ?)", *patch.Attempts)
	}
	if patch.ClearRenditions {
		updates["renditions_json"] = nil
	} else if len(patch.Renditions) > 0 {
		if raw, err := json.Marshal(patch.Renditions); err == nil {
			updates["renditions_json"] = string(raw)
		}
	}
	if patch.QueuedAt != nil {
		updates["queued_at"] = *patch.QueuedAt
	}
	if patch.StartedAt != nil {
		updates["started_at"] = *patch.StartedAt
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = *patch.CompletedAt
	}
	if patch.FailedAt != nil {
		updates["failed_at"] = *patch.FailedAt
	}
	return updates
}

func (r *jobRepositoryImpl) List(ctx context.Context, filter repo.JobFilter) ([]*entity.Job, int64, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	status := ""
	if filter.Status != nil {
		status = string(*filter.Status)
	}
	pos, total, err := r.dao.List(ctx, status, limit, filter.Offset)
	if err != nil {
		return nil, 0, errno.NewBizError(errno.ErrDatabase, err)
	}
	jobs := make([]*entity.Job, 0, len(pos))
	for _, p := range pos {
		jobs = append(jobs, r.cvt.ToEntity(p))
	}
	return jobs, total, nil
}

func (r *jobRepositoryImpl) CountByStatus(ctx context.Context) (map[vo.JobStatus]int64, error) {
	raw, err := r.dao.CountByStatus(ctx)
	if err != nil {
		return nil, errno.NewBizError(errno.ErrDatabase, err)
	}
	out := make(map[vo.JobStatus]int64, len(raw))
	for status, count := range raw {
		out[vo.JobStatus(status)] = count
	}
	return out, nil
}

func (r *jobRepositoryImpl) Delete(ctx context.Context, jobID string) error {
	rows, err := r.dao.DeleteByJobID(ctx, jobID, string(vo.JobStatusProcessing))
	if err != nil {
		return errno.NewBizError(errno.ErrDatabase, err)
	}
	if rows == 0 {
		current, err := r.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if current == nil {
			return errno.NewBizError(errno.ErrJobNotFound, nil)
		}
		return errno.NewBizError(errno.ErrJobProcessing, nil)
	}
	return nil
}
