package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/meridiankb/pipeline-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "pipeline-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	adminHandler := handler.NewAdminHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(IdentityMiddleware())
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a new job
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/retry - Retry a failed or dead-lettered job
			jobs.POST("/:job_id/retry", jobHandler.RetryJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a pending job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		// GET /api/v1/status - Tenant status report
		v1.GET("/status", jobHandler.Status)

		admin := v1.Group("/admin")
		{
			// GET /api/v1/admin/dlq - Peek dead-letter entries
			admin.GET("/dlq", adminHandler.PeekDLQ)

			// POST /api/v1/admin/dlq/pop - Remove and return dead-letter entries
			admin.POST("/dlq/pop", adminHandler.PopDLQ)
		}
	}

	return r
}
