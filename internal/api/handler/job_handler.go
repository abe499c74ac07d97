package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/meridiankb/pipeline-be/internal/api/dto"
	"github.com/meridiankb/pipeline-be/internal/identity"
)

// CallerContextKey is the gin context key under which the identity middleware
// stores the authenticated caller.
const CallerContextKey = "caller"

// Caller returns the authenticated caller stored by the identity middleware.
func Caller(c *gin.Context) identity.Context {
	return c.MustGet(CallerContextKey).(identity.Context)
}

// SubmitJob handles POST /api/v1/jobs
// Admits a new job against the caller's quota and enqueues it for processing
func (h *JobHandler) SubmitJob(c *gin.Context) {
	caller := Caller(c)

	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.scheduler.Submit(c.Request.Context(), caller, req.JobType, req.Flow, req.Input)
	if err != nil {
		h.logger.Error("Failed to submit job",
			slog.String("tenant_id", caller.TenantID),
			slog.String("job_type", req.JobType),
			slog.String("error", err.Error()),
		)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.FromJob(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves a job within the caller's tenant
func (h *JobHandler) GetJob(c *gin.Context) {
	caller := Caller(c)

	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.scheduler.Get(c.Request.Context(), caller, jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry
// Re-admits a failed or dead-lettered job and enqueues it again
func (h *JobHandler) RetryJob(c *gin.Context) {
	caller := Caller(c)

	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.scheduler.Retry(c.Request.Context(), caller, jobID)
	if err != nil {
		h.logger.Error("Failed to retry job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a job that has not started processing yet
func (h *JobHandler) CancelJob(c *gin.Context) {
	caller := Caller(c)

	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.scheduler.Cancel(c.Request.Context(), caller, jobID)
	if err != nil {
		h.logger.Error("Failed to cancel job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// Status handles GET /api/v1/status
// Reports the tenant profile, job counts, queue depth, and the caller's
// quota usage for today
func (h *JobHandler) Status(c *gin.Context) {
	caller := Caller(c)

	userID := c.Query("user_id")
	if userID == "" {
		userID = caller.UserID
	}

	report, err := h.scheduler.Status(c.Request.Context(), caller, userID)
	if err != nil {
		h.logger.Error("Failed to build status report",
			slog.String("tenant_id", caller.TenantID),
			slog.String("error", err.Error()),
		)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
