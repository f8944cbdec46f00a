package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgemedia/genjobs/internal/api/handler"
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
			"service": "genjobs-api-service",
		})
	})

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a generation job
			jobs.POST("", jobHandler.SubmitJob)

			// GET /api/v1/jobs/:job_id - Poll job status
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		account := v1.Group("/account")
		{
			// GET /api/v1/account - Current credit balance
			account.GET("", jobHandler.GetBalance)

			// GET /api/v1/account/ledger - Ledger entries, newest first
			account.GET("/ledger", jobHandler.ListLedger)
		}
	}

	return r
}
