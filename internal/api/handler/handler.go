package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meridiankb/pipeline-be/internal/dlqadmin"
	"github.com/meridiankb/pipeline-be/internal/identity"
	"github.com/meridiankb/pipeline-be/internal/jobstore"
	"github.com/meridiankb/pipeline-be/internal/quota"
	"github.com/meridiankb/pipeline-be/internal/scheduler"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Scheduler *scheduler.Manager
	DLQ       *dlqadmin.Admin
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	scheduler *scheduler.Manager
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		scheduler: deps.Scheduler,
	}
}

// AdminHandler handles administrative HTTP requests
type AdminHandler struct {
	logger *slog.Logger
	dlq    *dlqadmin.Admin
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(deps *Dependencies) *AdminHandler {
	return &AdminHandler{
		logger: deps.Logger,
		dlq:    deps.DLQ,
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "daily quota exceeded"})
	case errors.Is(err, identity.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, jobstore.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, scheduler.ErrInvalidState), errors.Is(err, scheduler.ErrRetryUnsupported):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrQueueDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue is disabled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
