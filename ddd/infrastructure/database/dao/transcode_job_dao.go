package dao

import (
	"context"

	"gorm.io/gorm"

	"transcode-pipeline/ddd/infrastructure/database/po"
	"transcode-pipeline/internal/resource"
)

type TranscodeJobDAO struct{ db *gorm.DB }

func NewTranscodeJobDAO() *TranscodeJobDAO {
	return &TranscodeJobDAO{db: resource.DefaultMysqlResource().MainDB()}
}

// NewTranscodeJobDAOWithDB is for wiring a non-default DB handle.
func NewTranscodeJobDAOWithDB(db *gorm.DB) *TranscodeJobDAO {
	return &TranscodeJobDAO{db: db}
}

func (d *TranscodeJobDAO) Create(ctx context.Context, job *po.TranscodeJob) error {
	return d.db.WithContext(ctx).Model(&po.TranscodeJob{}).Create(job).Error
}

func (d *TranscodeJobDAO) FindByJobID(ctx context.Context, jobID string) (*po.TranscodeJob, error) {
	var job po.TranscodeJob
	if err := d.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateWhere applies the column updates to one job. When expectedStatus
// is non-empty it becomes part of the WHERE clause, so a stale writer
// matches zero rows. Returns the number of rows touched.
func (d *TranscodeJobDAO) UpdateWhere(ctx context.Context, jobID string, updates map[string]interface{}, expectedStatus string) (int64, error) {
	q := d.db.WithContext(ctx).Model(&po.TranscodeJob{}).Where("job_id = ?", jobID)
	if expectedStatus != "" {
		q = q.Where("status = ?", expectedStatus)
	}
	res := q.Updates(updates)
	return res.RowsAffected, res.Error
}

func (d *TranscodeJobDAO) List(ctx context.Context, status string, limit, offset int) ([]*po.TranscodeJob, int64, error) {
	q := d.db.WithContext(ctx).Model(&po.TranscodeJob{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var jobs []*po.TranscodeJob
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error; err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (d *TranscodeJobDAO) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := d.db.WithContext(ctx).Model(&po.TranscodeJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (d *TranscodeJobDAO) QueryByStatus(ctx context.Context, status string, limit int) ([]*po.TranscodeJob, error) {
	var jobs []*po.TranscodeJob
	q := d.db.WithContext(ctx).Where("status = ?", status).Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// DeleteByJobID removes a job unless it is in excludedStatus. Returns the
// rows removed.
func (d *TranscodeJobDAO) DeleteByJobID(ctx context.Context, jobID, excludedStatus string) (int64, error) {
	q := d.db.WithContext(ctx).Where("job_id = ?", jobID)
	if excludedStatus != "" {
		q = q.Where("status <> ?", excludedStatus)
	}
	res := q.Delete(&po.TranscodeJob{})
	return res.RowsAffected, res.Error
}
