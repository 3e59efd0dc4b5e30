package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Processor runs one claimed task to completion. It is responsible for the
// completed transition; any returned error fails the task.
type Processor interface {
	Process(ctx context.Context, task *models.ProcessingTask) error
}

// Failer records a terminal failure
type Failer interface {
	Fail(ctx context.Context, id, message string) error
}

// Observer is told about every terminal transition the worker sees through
type Observer interface {
	TaskFinished(ctx context.Context, task *models.ProcessingTask)
}

// Worker is a single-threaded poll-claim-process loop
type Worker struct {
	id        string
	scheduler Scheduler
	failer    Failer
	processor Processor
	observer  Observer
	logger    *logging.Logger
}

// NewWorker creates a worker
func NewWorker(id string, scheduler Scheduler, failer Failer, processor Processor, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Worker{
		id:        id,
		scheduler: scheduler,
		failer:    failer,
		processor: processor,
		logger:    logger.WithWorkerID(id),
	}
}

// WithObserver registers o for terminal transitions
func (w *Worker) WithObserver(o Observer) *Worker {
	w.observer = o
	return w
}

// Run loops until ctx is cancelled. Cancellation is observed only between
// tasks; an in-flight task always runs to its terminal state.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info("Worker stopping")
			return nil
		}

		claimed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.WithError(err).Error("Failed to claim task")
		}
		if claimed && err == nil {
			continue
		}

		if err := w.scheduler.Backoff(ctx); err != nil {
			w.logger.Info("Worker stopping")
			return nil
		}
	}
}

// RunOnce claims and processes at most one task. It reports whether a task was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.scheduler.Claim(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	w.handle(context.WithoutCancel(ctx), task)
	return true, nil
}

func (w *Worker) handle(ctx context.Context, task *models.ProcessingTask) {
	logger := w.logger.WithTaskID(task.ID).WithVideoID(task.VideoID)
	logger.Info("Processing task")

	start := time.Now()
	metrics.TasksInProgress.Inc()
	defer metrics.TasksInProgress.Dec()

	if err := w.process(ctx, task); err != nil {
		logger.WithError(err).Error("Task failed")
		if w.failTask(ctx, task, err, logger) {
			msg := err.Error()
			w.notify(ctx, task, models.TaskStatusFailed, &msg)
		}
		metrics.RecordTaskFinished(string(models.TaskStatusFailed), string(task.CodecPreference), time.Since(start).Seconds())
		return
	}

	metrics.RecordTaskFinished(string(models.TaskStatusCompleted), string(task.CodecPreference), time.Since(start).Seconds())
	logger.Info("Task completed")
	w.notify(ctx, task, models.TaskStatusCompleted, nil)
}

func (w *Worker) notify(ctx context.Context, task *models.ProcessingTask, status models.TaskStatus, message *string) {
	if w.observer == nil {
		return
	}
	finished := *task
	finished.Status = status
	finished.ErrorMessage = message
	finished.UpdatedAt = time.Now().UTC()
	w.observer.TaskFinished(ctx, &finished)
}

// process converts a panic into an error so one bad task cannot stop the loop
func (w *Worker) process(ctx context.Context, task *models.ProcessingTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithTaskID(task.ID).WithField("stack", string(debug.Stack())).Error("Recovered from panic")
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return w.processor.Process(ctx, task)
}

// failTask marks a task as failed and reports whether the transition applied
func (w *Worker) failTask(ctx context.Context, task *models.ProcessingTask, cause error, logger *logging.Logger) bool {
	err := w.failer.Fail(ctx, task.ID, cause.Error())
	switch {
	case err == nil:
		return true
	case errors.Is(err, models.ErrTaskNotClaimed):
		logger.Warn("Task already terminal, failure not recorded")
	default:
		logger.ErrorWithErr("Failed to mark task failed", err)
	}
	return false
}
