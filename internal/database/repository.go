package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

const videoColumns = `id, title, owner_id, lesson_id, "order", storage_path, storage_provider,
	r2_key, signing_secret, size_bytes, duration_seconds, status, created_at`

func scanVideo(row pgx.Row) (*models.Video, error) {
	var video models.Video
	err := row.Scan(
		&video.ID, &video.Title, &video.OwnerID, &video.LessonID, &video.Order,
		&video.StoragePath, &video.StorageProvider, &video.RemoteKey, &video.SigningSecret,
		&video.SizeBytes, &video.DurationSeconds, &video.Status, &video.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// Videos

// CreateVideo creates a new video record
func (r *Repository) CreateVideo(ctx context.Context, video *models.Video) error {
	if video.ID == "" {
		video.ID = uuid.New().String()
	}

	query := `
		INSERT INTO videos (id, title, owner_id, lesson_id, "order", storage_path, storage_provider,
		                    r2_key, signing_secret, size_bytes, duration_seconds, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		video.ID, video.Title, video.OwnerID, video.LessonID, video.Order,
		video.StoragePath, video.StorageProvider, video.RemoteKey, video.SigningSecret,
		video.SizeBytes, video.DurationSeconds, video.Status,
	).Scan(&video.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// GetVideo retrieves a video by ID
func (r *Repository) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	video, err := scanVideo(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("video %s %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return video, nil
}

// DeleteVideo removes the video row; its tasks cascade
func (r *Repository) DeleteVideo(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("video %s %w", id, models.ErrNotFound)
	}
	return nil
}

// Tasks

const taskColumns = `id, video_id, user_id, codec_preference, resolutions, crf, compress,
	status, error_message, created_at, updated_at`

func scanTask(row pgx.Row) (*models.ProcessingTask, error) {
	var task models.ProcessingTask
	err := row.Scan(
		&task.ID, &task.VideoID, &task.UserID, &task.CodecPreference, &task.Resolutions,
		&task.CRF, &task.Compress, &task.Status, &task.ErrorMessage,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

const foreignKeyViolation = "23503"

// CreateTask inserts a pending task
func (r *Repository) CreateTask(ctx context.Context, task *models.ProcessingTask) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Resolutions == nil {
		task.Resolutions = []string{}
	}

	query := `
		INSERT INTO video_processing_tasks (id, video_id, user_id, codec_preference, resolutions, crf, compress, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		task.ID, task.VideoID, task.UserID, task.CodecPreference, task.Resolutions,
		task.CRF, task.Compress, models.TaskStatusPending,
	).Scan(&task.CreatedAt, &task.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("video %s %w", task.VideoID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	task.Status = models.TaskStatusPending

	return nil
}

// GetTask retrieves a task by ID
func (r *Repository) GetTask(ctx context.Context, id string) (*models.ProcessingTask, error) {
	query := `SELECT ` + taskColumns + ` FROM video_processing_tasks WHERE id = $1`

	task, err := scanTask(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// ListTasksByVideo returns every task for a video, newest first
func (r *Repository) ListTasksByVideo(ctx context.Context, videoID string) ([]*models.ProcessingTask, error) {
	query := `SELECT ` + taskColumns + `
		FROM video_processing_tasks
		WHERE video_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.ProcessingTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// ClaimNextTask flips the oldest pending task to processing and returns it.
// Rows locked by another claimant are skipped, so concurrent callers never
// block on each other or receive the same task. Returns nil when none is pending.
func (r *Repository) ClaimNextTask(ctx context.Context) (*models.ProcessingTask, error) {
	query := `
		UPDATE video_processing_tasks
		SET status = 'processing', updated_at = clock_timestamp()
		WHERE id = (
			SELECT id FROM video_processing_tasks
			WHERE status = 'pending'
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + taskColumns

	task, err := scanTask(r.db.Pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	return task, nil
}

// FinalizeTask completes a processing task and publishes the video's
// metadata in one transaction. Duration is written only when unset.
func (r *Repository) FinalizeTask(ctx context.Context, taskID, videoID string, sizeBytes int64, durationSeconds *float64) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if err := r.finishTask(ctx, tx, taskID, models.TaskStatusCompleted, nil); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE videos
			SET size_bytes = $2,
			    duration_seconds = COALESCE(duration_seconds, $3),
			    status = $4
			WHERE id = $1`,
			videoID, sizeBytes, durationSeconds, models.VideoStatusActive,
		)
		if err != nil {
			return fmt.Errorf("failed to update video metadata: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("video %s %w", videoID, models.ErrNotFound)
		}
		return nil
	})
}

// CompleteTask marks a processing task completed
func (r *Repository) CompleteTask(ctx context.Context, taskID string) error {
	return r.finishTask(ctx, r.db.Pool, taskID, models.TaskStatusCompleted, nil)
}

// FailTask marks a processing task failed with a message
func (r *Repository) FailTask(ctx context.Context, taskID, message string) error {
	return r.finishTask(ctx, r.db.Pool, taskID, models.TaskStatusFailed, &message)
}

// TaskStats counts tasks per status. OldestProcessingAt is the claim time
// of the longest running task.
func (r *Repository) TaskStats(ctx context.Context) (*models.TaskStats, error) {
	var stats models.TaskStats

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			MIN(created_at) FILTER (WHERE status = 'pending'),
			MIN(updated_at) FILTER (WHERE status = 'processing')
		FROM video_processing_tasks`,
	).Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed,
		&stats.OldestPendingAt, &stats.OldestProcessingAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get task stats: %w", err)
	}

	return &stats, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// finishTask applies a terminal transition only to a task in processing,
// so a second call never rewrites an already terminal row.
func (r *Repository) finishTask(ctx context.Context, q querier, taskID string, status models.TaskStatus, message *string) error {
	tag, err := q.Exec(ctx, `
		UPDATE video_processing_tasks
		SET status = $2, error_message = $3, updated_at = clock_timestamp()
		WHERE id = $1 AND status = 'processing'`,
		taskID, status, message,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM video_processing_tasks WHERE id = $1)`, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up task: %w", err)
	}
	if !exists {
		return fmt.Errorf("task %s %w", taskID, models.ErrNotFound)
	}
	return fmt.Errorf("task %s: %w", taskID, models.ErrTaskNotClaimed)
}

// Permissions

// UpsertPermission creates or replaces the expiry of a grant
func (r *Repository) UpsertPermission(ctx context.Context, perm *models.UserPermission) error {
	query := `
		INSERT INTO user_permissions (user_id, video_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, video_id) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`

	if _, err := r.db.Pool.Exec(ctx, query, perm.UserID, perm.VideoID, perm.ExpiresAt); err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}
	return nil
}

// GetPermission returns the grant for a user and video
func (r *Repository) GetPermission(ctx context.Context, userID, videoID string) (*models.UserPermission, error) {
	var perm models.UserPermission

	err := r.db.Pool.QueryRow(ctx, `
		SELECT user_id, video_id, expires_at
		FROM user_permissions
		WHERE user_id = $1 AND video_id = $2`,
		userID, videoID,
	).Scan(&perm.UserID, &perm.VideoID, &perm.ExpiresAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("permission %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}

	return &perm, nil
}

// DeletePermissionsForVideo removes every grant on a video
func (r *Repository) DeletePermissionsForVideo(ctx context.Context, videoID string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM user_permissions WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("failed to delete permissions: %w", err)
	}
	return nil
}
