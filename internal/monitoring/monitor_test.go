package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/hlsvault/pkg/models"
)

type stubSource struct {
	stats *models.TaskStats
	err   error
}

func (s *stubSource) TaskStats(ctx context.Context) (*models.TaskStats, error) {
	return s.stats, s.err
}

func newTestMonitor(src StatsSource, now time.Time) *Monitor {
	m := NewMonitor(src, time.Minute, Thresholds{
		MaxPending:      10,
		StuckAfter:      time.Hour,
		MaxFailureRatio: 0.1,
	}, nil)
	m.now = func() time.Time { return now }
	return m
}

func TestMonitorHealthy(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	pendingAt := now.Add(-30 * time.Second)
	processingAt := now.Add(-5 * time.Minute)

	m := newTestMonitor(&stubSource{stats: &models.TaskStats{
		Pending: 2, Processing: 1, Completed: 20, Failed: 1,
		OldestPendingAt: &pendingAt, OldestProcessingAt: &processingAt,
	}}, now)

	assert.Equal(t, HealthUnknown, m.Snapshot().Health)
	require.NoError(t, m.Refresh(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, HealthHealthy, snap.Health)
	assert.Empty(t, snap.Alerts)
	assert.Equal(t, 30.0, snap.OldestPendingSeconds)
	assert.Equal(t, 300.0, snap.LongestProcessingSeconds)
	assert.Equal(t, now, snap.LastUpdated)
}

func TestMonitorFlagsStuckTask(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	processingAt := now.Add(-3 * time.Hour)

	m := newTestMonitor(&stubSource{stats: &models.TaskStats{
		Pending: 50, Processing: 1, Completed: 5, Failed: 5,
		OldestProcessingAt: &processingAt,
	}}, now)
	require.NoError(t, m.Refresh(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, HealthCritical, snap.Health)
	require.Len(t, snap.Alerts, 3)
	assert.Contains(t, snap.Alerts[0], "3h0m0s")
	assert.Contains(t, snap.Alerts[1], "50 tasks pending")
	assert.Contains(t, snap.Alerts[2], "50.0%")
}

func TestMonitorKeepsLastSampleOnError(t *testing.T) {
	now := time.Now()
	src := &stubSource{stats: &models.TaskStats{Pending: 1}}
	m := newTestMonitor(src, now)
	require.NoError(t, m.Refresh(context.Background()))

	src.err = errors.New("connection refused")
	assert.Error(t, m.Refresh(context.Background()))
	assert.Equal(t, int64(1), m.Snapshot().Pending)
}
