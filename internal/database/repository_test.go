package database

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// setupRepository connects to TEST_DATABASE_URL and resets the pipeline tables
func setupRepository(t *testing.T) *Repository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping integration test - TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	_, err = db.Pool.Exec(ctx, `TRUNCATE user_permissions, video_processing_tasks, videos`)
	require.NoError(t, err)

	return NewRepository(db)
}

func createVideo(t *testing.T, repo *Repository) *models.Video {
	t.Helper()
	v := &models.Video{
		Title:           "Intro",
		OwnerID:         "owner-1",
		StorageProvider: models.StorageProviderLocal,
		SigningSecret:   "secret",
		Status:          models.VideoStatusPendingCreation,
	}
	require.NoError(t, repo.CreateVideo(context.Background(), v))
	return v
}

func createTask(t *testing.T, repo *Repository, videoID string) *models.ProcessingTask {
	t.Helper()
	task, err := models.NewProcessingTask(models.TaskRequest{
		VideoID: videoID, UserID: "owner-1", CodecPreference: "h264", Resolutions: []string{"720p"},
	})
	require.NoError(t, err)
	require.NoError(t, repo.CreateTask(context.Background(), task))
	return task
}

func TestRepository_VideoCRUD(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	v := createVideo(t, repo)
	got, err := repo.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Nil(t, got.SizeBytes)
	assert.Nil(t, got.RemoteKey)


	require.NoError(t, repo.DeleteVideo(ctx, v.ID))
	_, err = repo.GetVideo(ctx, v.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.True(t, errors.Is(repo.DeleteVideo(ctx, v.ID), models.ErrNotFound))
}

func TestRepository_ClaimInCreationOrder(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	v := createVideo(t, repo)

	first := createTask(t, repo, v.ID)
	second := createTask(t, repo, v.ID)

	claimed, err := repo.ClaimNextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, models.TaskStatusProcessing, claimed.Status)
	assert.Equal(t, []string{"720p"}, claimed.Resolutions)

	claimed, err = repo.ClaimNextTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed.ID)

	claimed, err = repo.ClaimNextTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestRepository_ConcurrentClaimsAreDisjoint(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	v := createVideo(t, repo)

	const tasks, workers = 5, 12
	for i := 0; i < tasks; i++ {
		createTask(t, repo, v.ID)
	}

	var (
		mu  sync.Mutex
		ids []string
		wg  sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := repo.ClaimNextTask(ctx)
			assert.NoError(t, err)
			if task != nil {
				mu.Lock()
				ids = append(ids, task.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "task %s claimed twice", id)
		seen[id] = true
	}
	assert.Len(t, ids, tasks)
}

func TestRepository_TerminalTransitionsApplyOnce(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	v := createVideo(t, repo)
	task := createTask(t, repo, v.ID)

	// not yet claimed
	assert.True(t, errors.Is(repo.FailTask(ctx, task.ID, "boom"), models.ErrTaskNotClaimed))

	_, err := repo.ClaimNextTask(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.FailTask(ctx, task.ID, "encoder exited with status 1"))
	assert.True(t, errors.Is(repo.CompleteTask(ctx, task.ID), models.ErrTaskNotClaimed))

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "encoder exited with status 1", *got.ErrorMessage)

	assert.True(t, errors.Is(repo.CompleteTask(ctx, uuid.New().String()), models.ErrNotFound))
}

func TestRepository_FinalizeKeepsExistingDuration(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	existing := 12.5
	v := &models.Video{
		OwnerID: "owner-1", StorageProvider: models.StorageProviderLocal,
		SigningSecret: "s", Status: models.VideoStatusPendingCreation, DurationSeconds: &existing,
	}
	require.NoError(t, repo.CreateVideo(ctx, v))
	task := createTask(t, repo, v.ID)
	_, err := repo.ClaimNextTask(ctx)
	require.NoError(t, err)

	probed := 99.0
	require.NoError(t, repo.FinalizeTask(ctx, task.ID, v.ID, 4096, &probed))

	got, err := repo.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusActive, got.Status)
	require.NotNil(t, got.SizeBytes)
	assert.Equal(t, int64(4096), *got.SizeBytes)
	assert.Equal(t, 12.5, *got.DurationSeconds)

	gotTask, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, gotTask.Status)
}

func TestRepository_PermissionUpsertReplacesExpiry(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	first := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	second := first.Add(48 * time.Hour)

	require.NoError(t, repo.UpsertPermission(ctx, &models.UserPermission{UserID: "u1", VideoID: "v1", ExpiresAt: first}))
	require.NoError(t, repo.UpsertPermission(ctx, &models.UserPermission{UserID: "u1", VideoID: "v1", ExpiresAt: second}))

	perm, err := repo.GetPermission(ctx, "u1", "v1")
	require.NoError(t, err)
	assert.True(t, perm.ExpiresAt.Equal(second))

	require.NoError(t, repo.DeletePermissionsForVideo(ctx, "v1"))
	_, err = repo.GetPermission(ctx, "u1", "v1")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRepository_ListTasksByVideo(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	v := createVideo(t, repo)
	other := createVideo(t, repo)

	first := createTask(t, repo, v.ID)
	createTask(t, repo, other.ID)
	second := createTask(t, repo, v.ID)

	tasks, err := repo.ListTasksByVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, second.ID, tasks[0].ID)
	assert.Equal(t, first.ID, tasks[1].ID)

	tasks, err = repo.ListTasksByVideo(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRepository_TasksCascadeWithVideo(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	v := createVideo(t, repo)
	task := createTask(t, repo, v.ID)

	require.NoError(t, repo.DeleteVideo(ctx, v.ID))
	_, err := repo.GetTask(ctx, task.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRepository_TaskStats(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	v := createVideo(t, repo)

	stats, err := repo.TaskStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
	assert.Nil(t, stats.OldestPendingAt)

	first := createTask(t, repo, v.ID)
	createTask(t, repo, v.ID)
	createTask(t, repo, v.ID)

	claimed, err := repo.ClaimNextTask(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)
	require.NoError(t, repo.FailTask(ctx, claimed.ID, "boom"))
	_, err = repo.ClaimNextTask(ctx)
	require.NoError(t, err)

	stats, err = repo.TaskStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(1), stats.Failed)
	assert.NotNil(t, stats.OldestPendingAt)
	assert.NotNil(t, stats.OldestProcessingAt)
}

func TestRepository_CreateTaskForMissingVideo(t *testing.T) {
	repo := setupRepository(t)

	task, err := models.NewProcessingTask(models.TaskRequest{
		VideoID: uuid.New().String(), UserID: "u", CodecPreference: "h264",
	})
	require.NoError(t, err)

	err = repo.CreateTask(context.Background(), task)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
