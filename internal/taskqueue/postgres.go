package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const taskColumns = `
	id, mission_id, organization_id, type, status, payload, result,
	error_message, retry_count, idempotency_key, scheduled_for,
	processing_started_at, heartbeat_at, progress_current, progress_total,
	progress_label, worker_id, worker_source, created_at, updated_at`

// PostgresRepository stores tasks in the mission_tasks table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var typ, status string
	err := row.Scan(
		&t.ID, &t.MissionID, &t.OrganizationID, &typ, &status, &t.Payload, &t.Result,
		&t.ErrorMessage, &t.RetryCount, &t.IdempotencyKey, &t.ScheduledFor,
		&t.ProcessingStartedAt, &t.HeartbeatAt, &t.ProgressCurrent, &t.ProgressTotal,
		&t.ProgressLabel, &t.WorkerID, &t.WorkerSource, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Type = TaskType(typ)
	t.Status = TaskStatus(status)
	return &t, nil
}

func collectTasks(rows pgx.Rows) ([]*Task, error) {
	defer rows.Close()
	tasks := make([]*Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *PostgresRepository) Insert(ctx context.Context, t *Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mission_tasks (
			id, mission_id, organization_id, type, status, payload,
			retry_count, idempotency_key, scheduled_for, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $9)
	`, t.ID, t.MissionID, t.OrganizationID, string(t.Type), string(t.Status), t.Payload,
		t.IdempotencyKey, t.ScheduledFor, t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM mission_tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) GetByIdempotencyKey(ctx context.Context, organizationID, key string) (*Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM mission_tasks
		WHERE organization_id = $1 AND idempotency_key = $2
	`, organizationID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task by idempotency key: %w", err)
	}
	return t, nil
}

// ClaimPending selects and transitions in one statement; SKIP LOCKED keeps
// concurrent workers from blocking on, or double-claiming, the same rows.
func (r *PostgresRepository) ClaimPending(ctx context.Context, in ClaimInput, now time.Time) ([]*Task, error) {
	types := make([]string, 0, len(in.Types))
	for _, t := range in.Types {
		types = append(types, string(t))
	}

	rows, err := r.pool.Query(ctx, `
		WITH next AS (
			SELECT id FROM mission_tasks
			WHERE status = 'pending'
			  AND (scheduled_for IS NULL OR scheduled_for <= $1)
			  AND (cardinality($5::text[]) = 0 OR type = ANY($5::text[]))
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE mission_tasks t
		SET status = 'processing',
		    processing_started_at = $1,
		    heartbeat_at = $1,
		    worker_id = $3,
		    worker_source = $4,
		    updated_at = $1
		FROM next
		WHERE t.id = next.id
		RETURNING `+prefixColumns("t")+`
	`, now, in.Limit, in.WorkerID, in.WorkerSource, types)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	sortOldestFirst(tasks)
	return tasks, nil
}

func (r *PostgresRepository) Finish(ctx context.Context, id string, status TaskStatus, result json.RawMessage, errMsg *string, now time.Time) (*Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `
		UPDATE mission_tasks
		SET status = $2, result = $3, error_message = $4, updated_at = $5
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING `+taskColumns,
		id, string(status), result, errMsg, now))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrTerminal
	}
	if err != nil {
		return nil, fmt.Errorf("finish task: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) Cancel(ctx context.Context, id, msg string, now time.Time) (*Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `
		UPDATE mission_tasks
		SET status = 'failed',
		    error_message = $2,
		    scheduled_for = NULL,
		    processing_started_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND status <> 'completed'
		RETURNING `+taskColumns,
		id, msg, now))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrTaskCompleted
	}
	if err != nil {
		return nil, fmt.Errorf("cancel task: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) Heartbeat(ctx context.Context, id string, p *Progress, now time.Time) error {
	var tag pgconn.CommandTag
	var err error
	if p != nil {
		tag, err = r.pool.Exec(ctx, `
			UPDATE mission_tasks
			SET heartbeat_at = $2, updated_at = $2,
			    progress_current = $3, progress_total = $4, progress_label = NULLIF($5, '')
			WHERE id = $1 AND status = 'processing'
		`, id, now, p.Current, p.Total, p.Label)
	} else {
		tag, err = r.pool.Exec(ctx, `
			UPDATE mission_tasks SET heartbeat_at = $2, updated_at = $2
			WHERE id = $1 AND status = 'processing'
		`, id, now)
	}
	if err != nil {
		return fmt.Errorf("heartbeat task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return getErr
		}
		return ErrTerminal
	}
	return nil
}

func buildFilter(f ListFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.OrganizationID != "" {
		add("organization_id = $%d", f.OrganizationID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.MissionID != "" {
		add("mission_id = $%d", f.MissionID)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]*Task, error) {
	where, args := buildFilter(f)
	args = append(args, f.Limit)
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM mission_tasks`+where+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// CountByStatus ignores the status filter so the counts always cover every state.
func (r *PostgresRepository) CountByStatus(ctx context.Context, f ListFilter) (map[TaskStatus]int, error) {
	f.Status = ""
	where, args := buildFilter(f)
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM mission_tasks`+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count tasks: %w", err)
		}
		counts[TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *PostgresRepository) RescueStuck(ctx context.Context, cutoff time.Time, limit int, now time.Time) ([]*Task, error) {
	rows, err := r.pool.Query(ctx, `
		WITH stuck AS (
			SELECT id FROM mission_tasks
			WHERE status = 'processing' AND updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE mission_tasks t
		SET status = 'pending',
		    scheduled_for = $3,
		    processing_started_at = NULL,
		    heartbeat_at = NULL,
		    worker_id = NULL,
		    worker_source = NULL,
		    error_message = $4,
		    retry_count = t.retry_count + 1,
		    updated_at = $3
		FROM stuck
		WHERE t.id = stuck.id
		RETURNING `+prefixColumns("t")+`
	`, cutoff, limit, now, RescueMessage)
	if err != nil {
		return nil, fmt.Errorf("rescue stuck tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("rescue stuck tasks: %w", err)
	}
	sortOldestFirst(tasks)
	return tasks, nil
}

func (r *PostgresRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM mission_tasks
		WHERE status IN ('completed', 'failed') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func prefixColumns(alias string) string {
	cols := strings.Split(taskColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func sortOldestFirst(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
