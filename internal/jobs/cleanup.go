// Package jobs holds the retention cleanup run by the sweeper and the CLI.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadforge/mission-service/internal/storage"
)

const reportPrefix = "reports/"

// TaskCleaner deletes finished tasks older than a retention window.
type TaskCleaner interface {
	CleanupTerminal(ctx context.Context, retention time.Duration) (int64, error)
}

// LogCleaner deletes mission log entries created before a cutoff.
type LogCleaner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupConfig configures retention policies for cleanup jobs
type CleanupConfig struct {
	TaskRetentionDays   int
	LogRetentionDays    int
	ReportRetentionDays int
}

// DefaultCleanupConfig returns the default retention windows.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		TaskRetentionDays:   30,
		LogRetentionDays:    90,
		ReportRetentionDays: 30,
	}
}

type CleanupResult struct {
	TasksDeleted   int64 `json:"tasksDeleted"`
	LogsDeleted    int64 `json:"logsDeleted"`
	ReportsDeleted int   `json:"reportsDeleted"`
}

// Cleaner runs the retention policies. Any collaborator may be nil, in which
// case its step is skipped.
type Cleaner struct {
	tasks   TaskCleaner
	logs    LogCleaner
	reports storage.Storage
	config  CleanupConfig
	logger  zerolog.Logger
	now     func() time.Time
}

func NewCleaner(tasks TaskCleaner, logs LogCleaner, reports storage.Storage, cfg CleanupConfig, logger zerolog.Logger) *Cleaner {
	def := DefaultCleanupConfig()
	if cfg.TaskRetentionDays <= 0 {
		cfg.TaskRetentionDays = def.TaskRetentionDays
	}
	if cfg.LogRetentionDays <= 0 {
		cfg.LogRetentionDays = def.LogRetentionDays
	}
	if cfg.ReportRetentionDays <= 0 {
		cfg.ReportRetentionDays = def.ReportRetentionDays
	}
	return &Cleaner{
		tasks:   tasks,
		logs:    logs,
		reports: reports,
		config:  cfg,
		logger:  logger.With().Str("component", "cleanup").Logger(),
		now:     time.Now,
	}
}

// Run executes every step. A failing step does not stop the others; the
// errors are joined.
func (c *Cleaner) Run(ctx context.Context) (*CleanupResult, error) {
	res := &CleanupResult{}
	var errs []error

	if c.tasks != nil {
		n, err := c.tasks.CleanupTerminal(ctx, days(c.config.TaskRetentionDays))
		if err != nil {
			errs = append(errs, fmt.Errorf("cleanup tasks: %w", err))
		}
		res.TasksDeleted = n
	}

	if c.logs != nil {
		cutoff := c.now().UTC().Add(-days(c.config.LogRetentionDays))
		n, err := c.logs.DeleteBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("cleanup logs: %w", err))
		}
		res.LogsDeleted = n
	}

	if c.reports != nil {
		n, err := c.cleanupReports(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		res.ReportsDeleted = n
	}

	c.logger.Info().
		Int64("tasks_deleted", res.TasksDeleted).
		Int64("logs_deleted", res.LogsDeleted).
		Int("reports_deleted", res.ReportsDeleted).
		Msg("Retention cleanup finished")
	return res, errors.Join(errs...)
}

// cleanupReports removes report workbooks older than the report retention.
// The age comes from the stored metadata, falling back to the file time.
func (c *Cleaner) cleanupReports(ctx context.Context) (int, error) {
	keys, err := c.reports.List(ctx, reportPrefix)
	if err != nil {
		return 0, fmt.Errorf("list reports: %w", err)
	}
	cutoff := c.now().UTC().Add(-days(c.config.ReportRetentionDays))

	deleted := 0
	for _, key := range keys {
		if !strings.HasSuffix(key, ".xlsx") {
			continue
		}
		info, err := c.reports.GetInfo(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("stat report %s: %w", key, err)
		}
		created := info.ModifiedAt
		if info.Metadata != nil && !info.Metadata.CreatedAt.IsZero() {
			created = info.Metadata.CreatedAt
		}
		if !created.Before(cutoff) {
			continue
		}
		if err := c.reports.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return deleted, fmt.Errorf("delete report %s: %w", key, err)
		}
		deleted++
	}
	return deleted, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
