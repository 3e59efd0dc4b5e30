package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/access"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/middleware"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/monitoring"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

const testSecret = "test-secret"

// MockGateway is a mock implementation of Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateVideo(ctx context.Context, params access.CreateVideoParams) (*models.Video, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Video), args.Error(1)
}

func (m *MockGateway) GrantPermission(ctx context.Context, userID, videoID string, duration time.Duration) (*models.UserPermission, error) {
	args := m.Called(ctx, userID, videoID, duration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UserPermission), args.Error(1)
}

func (m *MockGateway) GetKeyForViewer(ctx context.Context, userID, videoID string) ([]byte, error) {
	args := m.Called(ctx, userID, videoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockGateway) GetSignedManifestURL(ctx context.Context, userID, videoID string) (string, error) {
	args := m.Called(ctx, userID, videoID)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) OpenStream(ctx context.Context, userID, videoID, subpath string) (*access.Media, error) {
	args := m.Called(ctx, userID, videoID, subpath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*access.Media), args.Error(1)
}

func (m *MockGateway) ServeSignedMedia(ctx context.Context, requestPath, sig, expires string) (*access.Media, error) {
	args := m.Called(ctx, requestPath, sig, expires)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*access.Media), args.Error(1)
}

func (m *MockGateway) DeleteVideo(ctx context.Context, videoID, ownerID string) error {
	args := m.Called(ctx, videoID, ownerID)
	return args.Error(0)
}

// MockTaskQueue is a mock implementation of TaskQueue
type MockTaskQueue struct {
	mock.Mock
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, req models.TaskRequest) (*models.ProcessingTask, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProcessingTask), args.Error(1)
}

func (m *MockTaskQueue) Get(ctx context.Context, id string) (*models.ProcessingTask, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProcessingTask), args.Error(1)
}

func (m *MockTaskQueue) ListForVideo(ctx context.Context, videoID string) ([]*models.ProcessingTask, error) {
	args := m.Called(ctx, videoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ProcessingTask), args.Error(1)
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func setupTestRouter(t *testing.T) (*gin.Engine, *MockGateway, *MockTaskQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw := new(MockGateway)
	tasks := new(MockTaskQueue)
	api := &API{
		gateway: gw,
		tasks:   tasks,
		db:      healthFunc(func(ctx context.Context) error { return nil }),
		logger:  logging.Nop(),
	}

	router := setupRouter(api, routerConfig{
		JWTSecret:  testSecret,
		AdminRole:  "admin",
		KeyLimiter: middleware.NewRateLimiter(100, 100),
	})
	return router, gw, tasks
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := middleware.GenerateToken(testSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func do(router *gin.Engine, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetKeyHandler(t *testing.T) {
	router, gw, _ := setupTestRouter(t)
	key := []byte("0123456789abcdef")

	gw.On("GetKeyForViewer", mock.Anything, "viewer", "v1").Return(key, nil)
	gw.On("GetKeyForViewer", mock.Anything, "stranger", "v1").
		Return(nil, fmt.Errorf("video v1: %w", models.ErrAccessDenied))
	gw.On("GetKeyForViewer", mock.Anything, "viewer", "missing").
		Return(nil, fmt.Errorf("video missing %w", models.ErrNotFound))

	w := do(router, "GET", "/api/v1/get-key?id=v1", bearer(t, "viewer", ""), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, key, w.Body.Bytes())
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = do(router, "GET", "/api/v1/get-key?id=v1", bearer(t, "stranger", ""), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(router, "GET", "/api/v1/get-key?id=missing", bearer(t, "viewer", ""), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, "GET", "/api/v1/get-key", bearer(t, "viewer", ""), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, "GET", "/api/v1/get-key?id=v1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	gw.AssertExpectations(t)
}

func TestGetKeyRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gw := new(MockGateway)
	api := &API{gateway: gw, logger: logging.Nop()}
	router := setupRouter(api, routerConfig{JWTSecret: testSecret, KeyLimiter: middleware.NewRateLimiter(1, 1)})

	gw.On("GetKeyForViewer", mock.Anything, "viewer", "v1").Return([]byte("0123456789abcdef"), nil).Once()

	auth := bearer(t, "viewer", "")
	assert.Equal(t, http.StatusOK, do(router, "GET", "/api/v1/get-key?id=v1", auth, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(router, "GET", "/api/v1/get-key?id=v1", auth, nil).Code)
}

func TestStreamHandler(t *testing.T) {
	router, gw, _ := setupTestRouter(t)

	gw.On("OpenStream", mock.Anything, "viewer", "v1", "/720p/segment_000.ts").Return(&access.Media{
		Body:        io.NopCloser(strings.NewReader("segment")),
		ContentType: "video/mp2t",
	}, nil)
	gw.On("OpenStream", mock.Anything, "stranger", "v1", "/master.m3u8").
		Return(nil, models.ErrAccessDenied)

	w := do(router, "GET", "/api/v1/videos/v1/stream/720p/segment_000.ts", bearer(t, "viewer", ""), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "segment", w.Body.String())
	assert.Equal(t, "video/mp2t", w.Header().Get("Content-Type"))

	w = do(router, "GET", "/api/v1/videos/v1/stream/master.m3u8", bearer(t, "stranger", ""), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	gw.AssertExpectations(t)
}

func TestManifestURLHandler(t *testing.T) {
	router, gw, _ := setupTestRouter(t)

	gw.On("GetSignedManifestURL", mock.Anything, "owner", "v1").
		Return("/media/owners/owner/videos/v1/master.m3u8?sig=abc&expires=1", nil)

	w := do(router, "GET", "/api/v1/videos/v1/manifest-url", bearer(t, "owner", ""), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "/media/owners/owner/videos/v1/master.m3u8?sig=abc&expires=1", response["url"])
}

func TestServeMediaHandler(t *testing.T) {
	router, gw, _ := setupTestRouter(t)

	gw.On("ServeSignedMedia", mock.Anything, "/media/owners/o/videos/v1/master.m3u8", "abc", "123").Return(&access.Media{
		Body:        io.NopCloser(strings.NewReader("#EXTM3U\n")),
		ContentType: "application/vnd.apple.mpegurl",
	}, nil)
	gw.On("ServeSignedMedia", mock.Anything, "/media/owners/o/videos/v1/master.m3u8", "bad", "123").
		Return(nil, fmt.Errorf("%w: signed link invalid", models.ErrAccessDenied))

	// no bearer token needed
	w := do(router, "GET", "/media/owners/o/videos/v1/master.m3u8?sig=abc&expires=123", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "#EXTM3U\n", w.Body.String())

	w = do(router, "GET", "/media/owners/o/videos/v1/master.m3u8?sig=bad&expires=123", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := do(router, "POST", "/api/v1/admin/permissions", bearer(t, "u1", "viewer"),
		map[string]interface{}{"user_id": "u2", "video_id": "v1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGrantPermissionHandler(t *testing.T) {
	router, gw, _ := setupTestRouter(t)
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	gw.On("GrantPermission", mock.Anything, "u2", "v1", 10*time.Second).
		Return(&models.UserPermission{UserID: "u2", VideoID: "v1", ExpiresAt: expires}, nil)

	w := do(router, "POST", "/api/v1/admin/permissions", bearer(t, "admin-user", "admin"),
		map[string]interface{}{"user_id": "u2", "video_id": "v1", "duration_seconds": 10})
	assert.Equal(t, http.StatusOK, w.Code)

	var perm models.UserPermission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &perm))
	assert.True(t, expires.Equal(perm.ExpiresAt))

	w = do(router, "POST", "/api/v1/admin/permissions", bearer(t, "admin-user", "admin"),
		map[string]interface{}{"user_id": "u2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, "POST", "/api/v1/admin/permissions", bearer(t, "admin-user", "admin"),
		map[string]interface{}{"user_id": "u2", "video_id": "v1", "duration_seconds": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	gw.AssertExpectations(t)
}

func TestEnqueueTaskHandler(t *testing.T) {
	router, _, tasks := setupTestRouter(t)

	tasks.On("Enqueue", mock.Anything, models.TaskRequest{
		VideoID:         "v1",
		UserID:          "admin-user",
		CodecPreference: "h264",
		Resolutions:     []string{"720p"},
	}).Return(&models.ProcessingTask{ID: "t1", VideoID: "v1", Status: models.TaskStatusPending}, nil)

	tasks.On("Enqueue", mock.Anything, mock.MatchedBy(func(r models.TaskRequest) bool {
		return r.CodecPreference == "vp9"
	})).Return(nil, fmt.Errorf("%w: unsupported codec \"vp9\"", models.ErrInvalidParameter))

	w := do(router, "POST", "/api/v1/admin/processing-tasks", bearer(t, "admin-user", "admin"),
		map[string]interface{}{"video_id": "v1", "resolutions": []string{"720p"}})
	assert.Equal(t, http.StatusCreated, w.Code)

	var task models.ProcessingTask
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, models.TaskStatusPending, task.Status)

	w = do(router, "POST", "/api/v1/admin/processing-tasks", bearer(t, "admin-user", "admin"),
		map[string]interface{}{"video_id": "v1", "codec_preference": "vp9"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	tasks.AssertExpectations(t)
}

func TestGetTaskHandler(t *testing.T) {
	router, _, tasks := setupTestRouter(t)
	msg := "recording is too short or incomplete"

	tasks.On("Get", mock.Anything, "t1").
		Return(&models.ProcessingTask{ID: "t1", Status: models.TaskStatusFailed, ErrorMessage: &msg}, nil)
	tasks.On("Get", mock.Anything, "nope").Return(nil, fmt.Errorf("task nope %w", models.ErrNotFound))

	w := do(router, "GET", "/api/v1/admin/processing-tasks/t1", bearer(t, "a", "admin"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), msg)

	w = do(router, "GET", "/api/v1/admin/processing-tasks/nope", bearer(t, "a", "admin"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListVideoTasksHandler(t *testing.T) {
	router, _, tasks := setupTestRouter(t)

	tasks.On("ListForVideo", mock.Anything, "v1").Return([]*models.ProcessingTask{
		{ID: "t2", VideoID: "v1", Status: models.TaskStatusProcessing},
		{ID: "t1", VideoID: "v1", Status: models.TaskStatusCompleted},
	}, nil)
	tasks.On("ListForVideo", mock.Anything, "v2").Return([]*models.ProcessingTask{}, nil)

	w := do(router, "GET", "/api/v1/admin/videos/v1/tasks", bearer(t, "a", "admin"), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		VideoID string                   `json:"video_id"`
		Tasks   []*models.ProcessingTask `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "v1", response.VideoID)
	require.Len(t, response.Tasks, 2)
	assert.Equal(t, "t2", response.Tasks[0].ID)
	assert.Equal(t, models.TaskStatusCompleted, response.Tasks[1].Status)

	w = do(router, "GET", "/api/v1/admin/videos/v2/tasks", bearer(t, "a", "admin"), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"video_id":"v2","tasks":[]}`, w.Body.String())

	w = do(router, "GET", "/api/v1/admin/videos/v1/tasks", bearer(t, "a", "viewer"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	tasks.AssertExpectations(t)
}

func TestNotFoundHidesStorageDetail(t *testing.T) {
	router, gw, tasks := setupTestRouter(t)

	gw.On("GetKeyForViewer", mock.Anything, "owner", "v1").
		Return(nil, fmt.Errorf("%w: keys/v1/enc.key", models.ErrNotFound))
	gw.On("OpenStream", mock.Anything, "owner", "v1", "/720p/segment_003.ts").
		Return(nil, fmt.Errorf("%w: owners/owner/videos/v1/720p/segment_003.ts", models.ErrNotFound))
	tasks.On("Get", mock.Anything, "t9").Return(nil, fmt.Errorf("task t9 %w", models.ErrNotFound))

	for _, target := range []struct{ path, role string }{
		{"/api/v1/get-key?id=v1", ""},
		{"/api/v1/videos/v1/stream/720p/segment_003.ts", ""},
		{"/api/v1/admin/processing-tasks/t9", "admin"},
	} {
		w := do(router, "GET", target.path, bearer(t, "owner", target.role), nil)
		assert.Equal(t, http.StatusNotFound, w.Code, target.path)
		assert.JSONEq(t, `{"error":"not found"}`, w.Body.String(), target.path)
		assert.NotContains(t, w.Body.String(), "keys/")
		assert.NotContains(t, w.Body.String(), "owners/")
	}
}

func TestCreateVideoHandler(t *testing.T) {
	router, gw, _ := setupTestRouter(t)

	gw.On("CreateVideo", mock.Anything, access.CreateVideoParams{
		Title:           "Intro",
		OwnerID:         "admin-user",
		StorageProvider: models.StorageProviderObject,
	}).Return(&models.Video{ID: "v1", Title: "Intro", OwnerID: "admin-user", SigningSecret: "s3cret"}, nil)

	w := do(router, "POST", "/api/v1/admin/videos", bearer(t, "admin-user", "admin"),
		map[string]interface{}{"title": "Intro", "storage_provider": "object"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "s3cret")

	gw.AssertExpectations(t)
}

func TestDeleteVideoHandler(t *testing.T) {
	router, gw, _ := setupTestRouter(t)

	gw.On("DeleteVideo", mock.Anything, "v1", "owner").Return(nil)
	gw.On("DeleteVideo", mock.Anything, "v1", "other").Return(models.ErrAccessDenied)
	gw.On("DeleteVideo", mock.Anything, "v2", "owner").
		Return(fmt.Errorf("failed to delete remote output: %w", errors.New("bucket unreachable")))

	// any authenticated user may call; ownership decides
	w := do(router, "DELETE", "/api/v1/admin/videos/v1", bearer(t, "owner", ""), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, "DELETE", "/api/v1/admin/videos/v1", bearer(t, "other", "admin"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(router, "DELETE", "/api/v1/admin/videos/v2", bearer(t, "owner", ""), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "bucket")

	gw.AssertExpectations(t)
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := &API{
		db:     healthFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
		logger: logging.Nop(),
	}
	router := setupRouter(api, routerConfig{JWTSecret: testSecret})

	w := do(router, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(router, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

type staticMonitor monitoring.Snapshot

func (m staticMonitor) Snapshot() monitoring.Snapshot { return monitoring.Snapshot(m) }

func TestQueueStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := &API{
		db:     healthFunc(func(ctx context.Context) error { return nil }),
		logger: logging.Nop(),
	}
	router := setupRouter(api, routerConfig{JWTSecret: testSecret, AdminRole: "admin"})

	w := do(router, "GET", "/api/v1/admin/queue-stats", bearer(t, "root", "admin"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	api.monitor = staticMonitor{Pending: 3, Processing: 1, Health: monitoring.HealthCritical, Alerts: []string{"stuck"}}

	w = do(router, "GET", "/api/v1/admin/queue-stats", bearer(t, "viewer", "viewer"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(router, "GET", "/api/v1/admin/queue-stats", bearer(t, "root", "admin"), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap monitoring.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, int64(3), snap.Pending)
	assert.Equal(t, monitoring.HealthCritical, snap.Health)
	assert.Equal(t, []string{"stuck"}, snap.Alerts)
}
