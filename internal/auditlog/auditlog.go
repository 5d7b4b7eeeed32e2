// Package auditlog is the append-only mission log. Every task creation,
// cancellation and rescue writes an entry here.
package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Level of a log entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one mission log line.
type Entry struct {
	MissionID      string         `json:"missionId,omitempty"`
	OrganizationID string         `json:"organizationId"`
	Level          Level          `json:"level"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Appender appends entries to the mission log.
type Appender interface {
	Append(ctx context.Context, e Entry) error
}

// PostgresAppender writes entries to mission_logs and mirrors them to the
// service logger.
type PostgresAppender struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresAppender(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresAppender {
	return &PostgresAppender{
		pool:   pool,
		logger: logger.With().Str("component", "auditlog").Logger(),
	}
}

func (a *PostgresAppender) Append(ctx context.Context, e Entry) error {
	mirror(a.logger, e)

	var details []byte
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal log details: %w", err)
		}
		details = b
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO mission_logs (mission_id, organization_id, level, message, details)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5)
	`, e.MissionID, e.OrganizationID, string(e.Level), e.Message, details)
	if err != nil {
		return fmt.Errorf("append mission log: %w", err)
	}
	return nil
}

// List returns the most recent entries for a mission, newest first.
func (a *PostgresAppender) List(ctx context.Context, missionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.pool.Query(ctx, `
		SELECT COALESCE(mission_id, ''), organization_id, level, message, details, created_at
		FROM mission_logs
		WHERE mission_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, missionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list mission logs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var level string
		var details []byte
		if err := rows.Scan(&e.MissionID, &e.OrganizationID, &level, &e.Message, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mission log: %w", err)
		}
		e.Level = Level(level)
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteBefore removes entries created before cutoff.
func (a *PostgresAppender) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := a.pool.Exec(ctx, `DELETE FROM mission_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup mission logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MemoryAppender keeps entries in memory. Used by tests and the CLI dry runs.
type MemoryAppender struct {
	mu      sync.Mutex
	entries []Entry
	logger  zerolog.Logger
}

func NewMemoryAppender(logger zerolog.Logger) *MemoryAppender {
	return &MemoryAppender{logger: logger}
}

func (a *MemoryAppender) Append(_ context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	mirror(a.logger, e)
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

// Entries returns a copy of everything appended so far.
func (a *MemoryAppender) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *MemoryAppender) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.entries[:0]
	var n int64
	for _, e := range a.entries {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	a.entries = kept
	return n, nil
}

func mirror(logger zerolog.Logger, e Entry) {
	var ev *zerolog.Event
	switch e.Level {
	case LevelWarn:
		ev = logger.Warn()
	case LevelError:
		ev = logger.Error()
	default:
		ev = logger.Info()
	}
	ev.Str("mission_id", e.MissionID).
		Str("organization_id", e.OrganizationID).
		Interface("details", e.Details).
		Msg(e.Message)
}
