package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hlsforge/build-service/internal/api/handler"
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
		if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}

		if !deps.RabbitClient.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "message broker unreachable",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "build-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	accountHandler := handler.NewAccountHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a new build job
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/logs - Tail job logs from an offset
			jobs.GET("/:job_id/logs", jobHandler.TailLogs)

			// GET /api/v1/jobs/:job_id/artifact - Download the build artifact
			jobs.GET("/:job_id/artifact", jobHandler.DownloadArtifact)
		}

		accounts := v1.Group("/accounts")
		{
			// GET /api/v1/accounts/:user_id - Get billing account
			accounts.GET("/:user_id", accountHandler.GetAccount)

			// POST /api/v1/accounts/:user_id/captures - Credit a payment capture
			accounts.POST("/:user_id/captures", accountHandler.Capture)

			// GET /api/v1/accounts/:user_id/transactions - List captures
			accounts.GET("/:user_id/transactions", accountHandler.ListTransactions)
		}
	}

	return r
}
