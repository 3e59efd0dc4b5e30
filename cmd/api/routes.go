package main

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/middleware"
)

type routerConfig struct {
	JWTSecret        string
	AdminRole        string
	StreamPathPrefix string
	MediaPathPrefix  string
	KeyLimiter       middleware.Limiter
}

func setupRouter(api *API, cfg routerConfig) *gin.Engine {
	if cfg.StreamPathPrefix == "" {
		cfg.StreamPathPrefix = "/api/v1/videos"
	}
	if cfg.MediaPathPrefix == "" {
		cfg.MediaPathPrefix = "/media"
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(api.logger))

	// Health check and metrics
	router.GET("/health", api.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Signed links carry their own authorization
	router.GET(cfg.MediaPathPrefix+"/*path", api.serveMedia)

	auth := middleware.JWTAuth(cfg.JWTSecret)

	v1 := router.Group("/api/v1", auth)
	{
		keyHandlers := []gin.HandlerFunc{api.getKey}
		if cfg.KeyLimiter != nil {
			keyHandlers = append([]gin.HandlerFunc{middleware.RateLimit(cfg.KeyLimiter)}, keyHandlers...)
		}
		v1.GET("/get-key", keyHandlers...)

		// Owner only; ownership is checked against the token's user
		v1.DELETE("/admin/videos/:id", api.deleteVideo)
	}

	videos := router.Group(cfg.StreamPathPrefix, auth)
	{
		videos.GET("/:id/manifest-url", api.getManifestURL)
		videos.GET("/:id/stream/*subpath", api.stream)
	}

	admin := router.Group("/api/v1/admin", auth, middleware.AdminOnly(cfg.AdminRole))
	{
		admin.POST("/videos", api.createVideo)
		admin.GET("/videos/:id/tasks", api.listVideoTasks)
		admin.POST("/permissions", api.grantPermission)
		admin.POST("/processing-tasks", api.enqueueTask)
		admin.GET("/processing-tasks/:id", api.getTask)
		admin.GET("/queue-stats", api.queueStats)
	}

	return router
}
