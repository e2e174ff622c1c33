package router

import (
	"net/http"

	"lingo-sync/internal/handler"
	"lingo-sync/internal/middleware"
	"lingo-sync/internal/types"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the HTTP router with the full middleware chain.
func NewRouter(serverHandler *handler.Server, configManager types.ConfigManager) *gin.Engine {
	if configManager.IsDebugMode() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.Logger(configManager.GetLogConfig()))
	router.Use(middleware.CORS(configManager.GetCORSConfig()))
	router.Use(middleware.RateLimiter(configManager.GetPerformanceConfig()))
	router.Use(middleware.SecurityHeaders())

	registerSystemRoutes(router, serverHandler)
	registerAPIRoutes(router, serverHandler, configManager)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	})

	return router
}

// registerSystemRoutes registers system-level routes
func registerSystemRoutes(router *gin.Engine, serverHandler *handler.Server) {
	router.GET("/health", serverHandler.Health)
}

// registerAPIRoutes registers the authenticated API routes
func registerAPIRoutes(router *gin.Engine, serverHandler *handler.Server, configManager types.ConfigManager) {
	api := router.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	api.Use(middleware.Auth(configManager.GetAuthConfig()))

	api.GET("/status", serverHandler.Status)
	api.POST("/run", serverHandler.Run)

	jobs := api.Group("/jobs")
	{
		jobs.POST("/reset", serverHandler.Reset)
		jobs.POST("/resync", serverHandler.Resync)
		jobs.POST("/cleanup", serverHandler.RunCleanup)
		jobs.GET("/estimate-cost", serverHandler.EstimateCost)
	}

	api.POST("/lock/force-release", serverHandler.ForceUnlock)
	api.POST("/cache/invalidate", serverHandler.InvalidateCache)

	settings := api.Group("/settings")
	{
		settings.GET("", serverHandler.GetSettings)
		settings.PUT("", serverHandler.UpdateSettings)
	}
}
