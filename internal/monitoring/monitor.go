package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/hlsvault/internal/config"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/logging"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/metrics"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

// Health levels
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
	HealthUnknown  = "unknown"
)

// StatsSource reports task table counts
type StatsSource interface {
	TaskStats(ctx context.Context) (*models.TaskStats, error)
}

// Thresholds decide when the queue is reported unhealthy
type Thresholds struct {
	MaxPending      int64
	StuckAfter      time.Duration
	MaxFailureRatio float64
}

// ThresholdsFromConfig maps configuration onto thresholds
func ThresholdsFromConfig(cfg config.MonitoringConfig) Thresholds {
	return Thresholds{
		MaxPending:      cfg.MaxPending,
		StuckAfter:      cfg.StuckAfter,
		MaxFailureRatio: cfg.MaxFailureRatio,
	}
}

// Snapshot is the latest view of the task queue
type Snapshot struct {
	Pending                  int64     `json:"pending"`
	Processing               int64     `json:"processing"`
	Completed                int64     `json:"completed"`
	Failed                   int64     `json:"failed"`
	OldestPendingSeconds     float64   `json:"oldest_pending_seconds"`
	LongestProcessingSeconds float64   `json:"longest_processing_seconds"`
	Health                   string    `json:"health"`
	Alerts                   []string  `json:"alerts"`
	LastUpdated              time.Time `json:"last_updated"`
}

// Monitor periodically samples the task table. Encodes have no timeout, so a
// task held in processing past StuckAfter is only reported, never touched.
type Monitor struct {
	source     StatsSource
	interval   time.Duration
	thresholds Thresholds
	logger     *logging.Logger
	now        func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewMonitor creates a monitor
func NewMonitor(source StatsSource, interval time.Duration, thresholds Thresholds, logger *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{
		source:     source,
		interval:   interval,
		thresholds: thresholds,
		logger:     logger,
		now:        time.Now,
		snapshot:   Snapshot{Health: HealthUnknown},
	}
}

// Start samples immediately and then every interval until ctx is done
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
				m.logger.WithError(err).Warn("Failed to refresh queue stats")
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Refresh takes one sample
func (m *Monitor) Refresh(ctx context.Context) error {
	stats, err := m.source.TaskStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get task stats: %w", err)
	}

	now := m.now()
	snap := Snapshot{
		Pending:     stats.Pending,
		Processing:  stats.Processing,
		Completed:   stats.Completed,
		Failed:      stats.Failed,
		LastUpdated: now,
	}
	if stats.OldestPendingAt != nil {
		snap.OldestPendingSeconds = now.Sub(*stats.OldestPendingAt).Seconds()
	}
	if stats.OldestProcessingAt != nil {
		snap.LongestProcessingSeconds = now.Sub(*stats.OldestProcessingAt).Seconds()
	}
	snap.Health, snap.Alerts = m.evaluate(snap)

	metrics.RecordQueueStats(snap.Pending, snap.Processing, snap.Completed, snap.Failed,
		snap.OldestPendingSeconds, snap.LongestProcessingSeconds)

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	return nil
}

func (m *Monitor) evaluate(s Snapshot) (string, []string) {
	health := HealthHealthy
	alerts := []string{}

	if m.thresholds.StuckAfter > 0 && s.LongestProcessingSeconds > m.thresholds.StuckAfter.Seconds() {
		health = HealthCritical
		alerts = append(alerts, fmt.Sprintf("Task processing for %s, encoder may be hung",
			time.Duration(s.LongestProcessingSeconds*float64(time.Second)).Round(time.Second)))
	}

	if m.thresholds.MaxPending > 0 && s.Pending > m.thresholds.MaxPending {
		if health == HealthHealthy {
			health = HealthWarning
		}
		alerts = append(alerts, fmt.Sprintf("High queue depth: %d tasks pending", s.Pending))
	}

	finished := s.Completed + s.Failed
	if m.thresholds.MaxFailureRatio > 0 && finished > 0 {
		ratio := float64(s.Failed) / float64(finished)
		if ratio > m.thresholds.MaxFailureRatio {
			if health == HealthHealthy {
				health = HealthWarning
			}
			alerts = append(alerts, fmt.Sprintf("High failure rate: %.1f%%", ratio*100))
		}
	}

	return health, alerts
}

// Snapshot returns a copy of the latest sample
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	snap.Alerts = append([]string(nil), m.snapshot.Alerts...)
	return snap
}
