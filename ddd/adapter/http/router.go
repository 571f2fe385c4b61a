package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"transcode-pipeline/ddd/application/app"
	"transcode-pipeline/ddd/infrastructure/storage"
	"transcode-pipeline/pkg/manager"
	"transcode-pipeline/pkg/middleware"
)

func init() {
	manager.RegisterRouteRegistrar(RegisterRoutes)
}

// SetupMiddleware installs the shared middleware chain.
func SetupMiddleware(engine *gin.Engine) {
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestContextMiddleware())
	engine.Use(corsMiddleware())
}

// RegisterRoutes mounts the job API and the HLS proxy.
func RegisterRoutes(engine *gin.Engine, deps *manager.Dependencies) {
	uploadApp := resolveUploadApp(deps)
	jobs := NewJobController(uploadApp)
	hls := NewHLSController(storage.NewObjectStore(deps.Config), deps.Config)

	engine.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api/upload")
	{
		v1 := api.Group("/v1")
		{
			v1.POST("/upload", jobs.CreateJob)
			v1.GET("/jobs", jobs.ListJobs)
			v1.GET("/jobs/:job_id/status", jobs.GetJob)
			v1.POST("/jobs/:job_id/retry", jobs.RetryJob)
			v1.DELETE("/jobs/:job_id", jobs.DeleteJob)
			v1.GET("/queue/stats", jobs.QueueStats)
		}
		api.GET("/hls/*object", hls.Serve)
	}
}

func resolveUploadApp(deps *manager.Dependencies) app.UploadApp {
	if deps != nil {
		if v, ok := deps.UploadApp.(app.UploadApp); ok && v != nil {
			return v
		}
	}
	return app.DefaultUploadApp()
}

func corsMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		ctx.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		ctx.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range, X-Request-ID")
		ctx.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		if ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}
		ctx.Next()
	}
}
