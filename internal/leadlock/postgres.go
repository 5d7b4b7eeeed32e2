package leadlock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores locks in lead_locks. One TryLock call is one
// statement, so the batch is atomic. Rows are written in key order so that
// overlapping batches cannot deadlock.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func sortedColumns(locks []Lock) (keys, refs []string) {
	sorted := append([]Lock(nil), locks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	keys = make([]string, len(sorted))
	refs = make([]string, len(sorted))
	for i, l := range sorted {
		keys[i] = l.Key
		refs[i] = l.LeadRef
	}
	return keys, refs
}

func (r *PostgresRepository) TryLock(ctx context.Context, locks []Lock) (map[string]bool, error) {
	acquired := make(map[string]bool, len(locks))
	if len(locks) == 0 {
		return acquired, nil
	}
	keys, refs := sortedColumns(locks)

	rows, err := r.pool.Query(ctx, `
		INSERT INTO lead_locks (lock_key, lead_ref, status, updated_at)
		SELECT k, ref, 'queued', NOW()
		FROM unnest($1::text[], $2::text[]) AS t(k, ref)
		ORDER BY k
		ON CONFLICT (lock_key) DO UPDATE
		SET status = 'queued', lead_ref = EXCLUDED.lead_ref, updated_at = NOW()
		WHERE lead_locks.status = 'error'
		RETURNING lock_key
	`, keys, refs)
	if err != nil {
		return nil, fmt.Errorf("acquire lead locks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan lead lock: %w", err)
		}
		acquired[k] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("acquire lead locks: %w", err)
	}
	return acquired, nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, locks []Lock, status Status) error {
	if len(locks) == 0 {
		return nil
	}
	keys, refs := sortedColumns(locks)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO lead_locks (lock_key, lead_ref, status, updated_at)
		SELECT k, ref, $3, NOW()
		FROM unnest($1::text[], $2::text[]) AS t(k, ref)
		ORDER BY k
		ON CONFLICT (lock_key) DO UPDATE
		SET status = EXCLUDED.status, updated_at = NOW()
	`, keys, refs, string(status))
	if err != nil {
		return fmt.Errorf("set lead lock status: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Clear(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM lead_locks WHERE lock_key = ANY($1::text[])`, keys); err != nil {
		return fmt.Errorf("clear lead locks: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, key string) (*Lock, error) {
	var l Lock
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT lock_key, lead_ref, status, updated_at FROM lead_locks WHERE lock_key = $1
	`, key).Scan(&l.Key, &l.LeadRef, &status, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead lock: %w", err)
	}
	l.Status = Status(status)
	return &l, nil
}
