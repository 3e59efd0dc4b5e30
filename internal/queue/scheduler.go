package queue

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Scheduler decides when a worker looks for work
type Scheduler interface {
	// Claim returns the next task or nil when none is pending
	Claim(ctx context.Context) (*models.ProcessingTask, error)
	// Backoff waits before the next Claim. It returns ctx.Err() on shutdown.
	Backoff(ctx context.Context) error
}

// Claimer is the part of TaskQueue a scheduler needs
type Claimer interface {
	ClaimNext(ctx context.Context) (*models.ProcessingTask, error)
}

// PollingScheduler sleeps a fixed interval between empty claims.
// A signal on wake ends the sleep early.
type PollingScheduler struct {
	claimer  Claimer
	interval time.Duration
	wake     <-chan struct{}
}

// NewPollingScheduler creates a scheduler; wake may be nil for pure polling
func NewPollingScheduler(claimer Claimer, interval time.Duration, wake <-chan struct{}) *PollingScheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollingScheduler{claimer: claimer, interval: interval, wake: wake}
}

// Claim delegates to the queue
func (s *PollingScheduler) Claim(ctx context.Context) (*models.ProcessingTask, error) {
	return s.claimer.ClaimNext(ctx)
}

// Backoff waits for the interval, a wake-up, or shutdown
func (s *PollingScheduler) Backoff(ctx context.Context) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-s.wake:
		return nil
	}
}
