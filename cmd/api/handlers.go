package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/access"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/middleware"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Gateway is the access boundary used by the handlers
type Gateway interface {
	CreateVideo(ctx context.Context, params access.CreateVideoParams) (*models.Video, error)
	GrantPermission(ctx context.Context, userID, videoID string, duration time.Duration) (*models.UserPermission, error)
	GetKeyForViewer(ctx context.Context, userID, videoID string) ([]byte, error)
	GetSignedManifestURL(ctx context.Context, userID, videoID string) (string, error)
	OpenStream(ctx context.Context, userID, videoID, subpath string) (*access.Media, error)
	ServeSignedMedia(ctx context.Context, requestPath, sig, expires string) (*access.Media, error)
	DeleteVideo(ctx context.Context, videoID, ownerID string) error
}

// TaskQueue accepts and reports processing tasks
type TaskQueue interface {
	Enqueue(ctx context.Context, req models.TaskRequest) (*models.ProcessingTask, error)
	Get(ctx context.Context, id string) (*models.ProcessingTask, error)
	ListForVideo(ctx context.Context, videoID string) ([]*models.ProcessingTask, error)
}

// HealthChecker reports database reachability
type HealthChecker interface {
	Health(ctx context.Context) error
}

// QueueMonitor exposes the latest queue sample
type QueueMonitor interface {
	Snapshot() monitoring.Snapshot
}

type API struct {
	gateway Gateway
	tasks   TaskQueue
	db      HealthChecker
	monitor QueueMonitor
	logger  *logging.Logger
}

// respondError maps domain errors onto HTTP status codes
func (api *API) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, models.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, models.ErrInvalidParameter):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		api.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.db.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// Get key endpoint, called by players through the key URI in each variant playlist
func (api *API) getKey(c *gin.Context) {
	videoID := c.Query("id")
	if videoID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	userID, _ := middleware.GetUserID(c)
	key, err := api.gateway.GetKeyForViewer(c.Request.Context(), userID, videoID)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/octet-stream", key)
}

// Manifest URL endpoint
func (api *API) getManifestURL(c *gin.Context) {
	videoID := c.Param("id")
	userID, _ := middleware.GetUserID(c)

	url, err := api.gateway.GetSignedManifestURL(c.Request.Context(), userID, videoID)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"video_id": videoID, "url": url})
}

// Stream endpoint proxying manifests and segments from storage
func (api *API) stream(c *gin.Context) {
	videoID := c.Param("id")
	userID, _ := middleware.GetUserID(c)

	media, err := api.gateway.OpenStream(c.Request.Context(), userID, videoID, c.Param("subpath"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	defer media.Body.Close()

	c.DataFromReader(http.StatusOK, -1, media.ContentType, media.Body, nil)
}

// Signed media endpoint for locally stored output
func (api *API) serveMedia(c *gin.Context) {
	media, err := api.gateway.ServeSignedMedia(c.Request.Context(), c.Request.URL.Path, c.Query("sig"), c.Query("expires"))
	if err != nil {
		api.respondError(c, err)
		return
	}
	defer media.Body.Close()

	c.DataFromReader(http.StatusOK, -1, media.ContentType, media.Body, nil)
}

// Create video endpoint
func (api *API) createVideo(c *gin.Context) {
	var req struct {
		Title           string  `json:"title" binding:"required"`
		OwnerID         string  `json:"owner_id"`
		LessonID        *string `json:"lesson_id"`
		Order           int     `json:"order"`
		StoragePath     string  `json:"storage_path"`
		StorageProvider string  `json:"storage_provider"`
		Status          string  `json:"status"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.OwnerID == "" {
		req.OwnerID, _ = middleware.GetUserID(c)
	}

	video, err := api.gateway.CreateVideo(c.Request.Context(), access.CreateVideoParams{
		Title:           req.Title,
		OwnerID:         req.OwnerID,
		LessonID:        req.LessonID,
		Order:           req.Order,
		StoragePath:     req.StoragePath,
		StorageProvider: models.StorageProvider(req.StorageProvider),
		Status:          req.Status,
	})
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, video)
}

// Delete video endpoint; only the owner may delete
func (api *API) deleteVideo(c *gin.Context) {
	videoID := c.Param("id")
	userID, _ := middleware.GetUserID(c)

	if err := api.gateway.DeleteVideo(c.Request.Context(), videoID, userID); err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Video deleted successfully", "video_id": videoID})
}

// Grant permission endpoint
func (api *API) grantPermission(c *gin.Context) {
	var req struct {
		UserID          string `json:"user_id" binding:"required"`
		VideoID         string `json:"video_id" binding:"required"`
		DurationSeconds int64  `json:"duration_seconds"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DurationSeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "duration_seconds must not be negative"})
		return
	}

	perm, err := api.gateway.GrantPermission(c.Request.Context(), req.UserID, req.VideoID,
		time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, perm)
}

// Create processing task endpoint
func (api *API) enqueueTask(c *gin.Context) {
	var req struct {
		VideoID         string   `json:"video_id" binding:"required"`
		UserID          string   `json:"user_id"`
		CodecPreference string   `json:"codec_preference"`
		Resolutions     []string `json:"resolutions"`
		CRF             *int     `json:"crf"`
		Compress        bool     `json:"compress"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.UserID == "" {
		req.UserID, _ = middleware.GetUserID(c)
	}
	if req.CodecPreference == "" {
		req.CodecPreference = string(models.CodecH264)
	}

	task, err := api.tasks.Enqueue(c.Request.Context(), models.TaskRequest{
		VideoID:         req.VideoID,
		UserID:          req.UserID,
		CodecPreference: req.CodecPreference,
		Resolutions:     req.Resolutions,
		CRF:             req.CRF,
		Compress:        req.Compress,
	})
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

// Get processing task endpoint
func (api *API) getTask(c *gin.Context) {
	task, err := api.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

// Video tasks endpoint for status polling
func (api *API) listVideoTasks(c *gin.Context) {
	tasks, err := api.tasks.ListForVideo(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"video_id": c.Param("id"), "tasks": tasks})
}

// Queue stats endpoint
func (api *API) queueStats(c *gin.Context) {
	if api.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue monitoring disabled"})
		return
	}
	c.JSON(http.StatusOK, api.monitor.Snapshot())
}
