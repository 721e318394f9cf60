package apihandlers

import (
	"github.com/gin-gonic/gin"

	"pipejob/internal/app"
	"pipejob/internal/metrics"
)

// NewRouter builds the HTTP API for a.
func NewRouter(a *app.App) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	h := NewAPIHandler(a)
	v1 := router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.GET("", h.ListJobsHandler)
			jobs.POST("", h.SubmitJobHandler)
			jobs.GET("/:id", h.GetJobHandler)
			jobs.POST("/:id/retry", h.RetryJobHandler)
			jobs.POST("/:id/cancel", h.CancelJobHandler)
		}
		v1.GET("/pipelines", h.ListPipelinesHandler)
	}

	router.GET("/health", h.HealthHandler)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	return router
}
