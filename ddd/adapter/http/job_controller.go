package http

import (
	"github.com/gin-gonic/gin"

	"transcode-pipeline/ddd/application/app"
	"transcode-pipeline/ddd/application/cqe"
	"transcode-pipeline/pkg/errno"
	"transcode-pipeline/pkg/restapi"
)

// JobController exposes job admission and management.
type JobController struct {
	uploadApp app.UploadApp
}

func NewJobController(uploadApp app.UploadApp) *JobController {
	return &JobController{uploadApp: uploadApp}
}

// CreateJob admits a stored raw object and schedules the fast pass.
// POST /api/upload/v1/upload
func (c *JobController) CreateJob(ctx *gin.Context) {
	var req cqe.CreateJobReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		restapi.Failed(ctx, errno.NewBizError(errno.ErrValidation, err))
		return
	}
	job, err := c.uploadApp.CreateJob(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Accepted(ctx, job)
}

// GetJob returns one job.
// GET /api/upload/v1/jobs/:job_id/status
func (c *JobController) GetJob(ctx *gin.Context) {
	job, err := c.uploadApp.GetJob(ctx.Request.Context(), ctx.Param("job_id"))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, job)
}

// ListJobs pages jobs newest-first.
// GET /api/upload/v1/jobs
func (c *JobController) ListJobs(ctx *gin.Context) {
	var req cqe.ListJobsReq
	if err := ctx.ShouldBindQuery(&req); err != nil {
		restapi.Failed(ctx, errno.NewBizError(errno.ErrValidation, err))
		return
	}
	list, err := c.uploadApp.ListJobs(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, list)
}

// RetryJob requeues a failed job.
// POST /api/upload/v1/jobs/:job_id/retry
func (c *JobController) RetryJob(ctx *gin.Context) {
	job, err := c.uploadApp.RetryJob(ctx.Request.Context(), ctx.Param("job_id"))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, job)
}

// DeleteJob removes a job and its queue entry.
// DELETE /api/upload/v1/jobs/:job_id
func (c *JobController) DeleteJob(ctx *gin.Context) {
	if err := c.uploadApp.DeleteJob(ctx.Request.Context(), ctx.Param("job_id")); err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, gin.H{"deleted": true})
}

// QueueStats reports lane, job and worker counters.
// GET /api/upload/v1/queue/stats
func (c *JobController) QueueStats(ctx *gin.Context) {
	stats, err := c.uploadApp.QueueStats(ctx.Request.Context())
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, stats)
}
