package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/mission-service/internal/auditlog"
	"github.com/leadforge/mission-service/internal/storage"
)

type fakeTasks struct {
	retention time.Duration
	deleted   int64
	err       error
}

func (f *fakeTasks) CleanupTerminal(_ context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return f.deleted, f.err
}

func TestCleanerRun(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	tasks := &fakeTasks{deleted: 4}

	logs := auditlog.NewMemoryAppender(zerolog.Nop())
	require.NoError(t, logs.Append(ctx, auditlog.Entry{Message: "old", CreatedAt: now.AddDate(0, 0, -120)}))
	require.NoError(t, logs.Append(ctx, auditlog.Entry{Message: "recent", CreatedAt: now.AddDate(0, 0, -1)}))

	reports, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	oldKey := storage.BuildReportKey("org_1", "msn_1", now.AddDate(0, 0, -45), "rpt_old")
	newKey := storage.BuildReportKey("org_1", "msn_1", now.AddDate(0, 0, -2), "rpt_new")
	require.NoError(t, reports.Put(ctx, oldKey, []byte("old"), &storage.Metadata{CreatedAt: now.AddDate(0, 0, -45)}))
	require.NoError(t, reports.Put(ctx, newKey, []byte("new"), &storage.Metadata{CreatedAt: now.AddDate(0, 0, -2)}))

	c := NewCleaner(tasks, logs, reports, CleanupConfig{TaskRetentionDays: 7}, zerolog.Nop())
	c.now = func() time.Time { return now }

	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.TasksDeleted)
	assert.Equal(t, 7*24*time.Hour, tasks.retention)
	assert.Equal(t, int64(1), res.LogsDeleted)
	assert.Equal(t, 1, res.ReportsDeleted)

	entries := logs.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "recent", entries[0].Message)

	exists, err := reports.Exists(ctx, oldKey)
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = reports.Exists(ctx, newKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCleanerContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	logs := auditlog.NewMemoryAppender(zerolog.Nop())
	require.NoError(t, logs.Append(ctx, auditlog.Entry{Message: "old", CreatedAt: now.AddDate(0, 0, -365)}))

	c := NewCleaner(&fakeTasks{err: errors.New("connection reset")}, logs, nil, CleanupConfig{}, zerolog.Nop())
	c.now = func() time.Time { return now }

	res, err := c.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup tasks")
	assert.Equal(t, int64(1), res.LogsDeleted)
	assert.Zero(t, res.ReportsDeleted)
}

func TestDefaultCleanupConfig(t *testing.T) {
	c := NewCleaner(nil, nil, nil, CleanupConfig{}, zerolog.Nop())
	assert.Equal(t, DefaultCleanupConfig(), c.config)
}
