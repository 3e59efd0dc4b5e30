package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Store persists tasks. ClaimNextTask must be safe under concurrent callers
// across processes and return nil when nothing is pending.
type Store interface {
	CreateTask(ctx context.Context, task *models.ProcessingTask) error
	GetTask(ctx context.Context, id string) (*models.ProcessingTask, error)
	ListTasksByVideo(ctx context.Context, videoID string) ([]*models.ProcessingTask, error)
	ClaimNextTask(ctx context.Context) (*models.ProcessingTask, error)
	CompleteTask(ctx context.Context, id string) error
	FailTask(ctx context.Context, id, message string) error
}

// Notifier wakes idle workers after an enqueue
type Notifier interface {
	Notify(ctx context.Context) error
}

// TaskQueue is the durable FIFO of transcode work
type TaskQueue struct {
	store    Store
	notifier Notifier
	logger   *logging.Logger
}

// NewTaskQueue creates a task queue. notifier may be nil.
func NewTaskQueue(store Store, notifier Notifier, logger *logging.Logger) *TaskQueue {
	if logger == nil {
		logger = logging.Nop()
	}
	return &TaskQueue{store: store, notifier: notifier, logger: logger}
}

// Enqueue validates req and inserts a pending task. Invalid requests never reach the store.
func (q *TaskQueue) Enqueue(ctx context.Context, req models.TaskRequest) (*models.ProcessingTask, error) {
	task, err := models.NewProcessingTask(req)
	if err != nil {
		return nil, err
	}

	if err := q.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.RecordTaskEnqueued(string(task.CodecPreference))
	q.logger.LogTaskEvent(task.ID, "enqueued", string(task.Status), map[string]interface{}{
		"video_id": task.VideoID,
		"codec":    task.CodecPreference,
	})

	if q.notifier != nil {
		// workers still find the task on their next poll
		if err := q.notifier.Notify(ctx); err != nil {
			q.logger.WithTaskID(task.ID).WithError(err).Warn("Failed to notify workers")
		}
	}

	return task, nil
}

// Get returns a task by id
func (q *TaskQueue) Get(ctx context.Context, id string) (*models.ProcessingTask, error) {
	return q.store.GetTask(ctx, id)
}

// ListForVideo returns a video's tasks, newest first
func (q *TaskQueue) ListForVideo(ctx context.Context, videoID string) ([]*models.ProcessingTask, error) {
	if videoID == "" {
		return nil, fmt.Errorf("%w: video_id is required", models.ErrInvalidParameter)
	}
	tasks, err := q.store.ListTasksByVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []*models.ProcessingTask{}
	}
	return tasks, nil
}

// ClaimNext atomically takes the oldest pending task, or returns nil
func (q *TaskQueue) ClaimNext(ctx context.Context) (*models.ProcessingTask, error) {
	task, err := q.store.ClaimNextTask(ctx)
	if err != nil {
		return nil, err
	}
	if task != nil {
		metrics.RecordTaskClaimed()
	}
	return task, nil
}

// Complete marks a claimed task completed
func (q *TaskQueue) Complete(ctx context.Context, id string) error {
	return q.store.CompleteTask(ctx, id)
}

// Fail marks a claimed task failed. Failing an already terminal task is
// reported as models.ErrTaskNotClaimed and changes nothing.
func (q *TaskQueue) Fail(ctx context.Context, id, message string) error {
	if message == "" {
		message = "processing failed"
	}
	err := q.store.FailTask(ctx, id, message)
	if err != nil && !errors.Is(err, models.ErrTaskNotClaimed) {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return err
}
