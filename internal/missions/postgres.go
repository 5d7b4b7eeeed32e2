package missions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const missionColumns = `id, organization_id, name, status, params, created_at, updated_at`

func scanMission(row pgx.Row) (*Mission, error) {
	var m Mission
	var status string
	var params []byte
	if err := row.Scan(&m.ID, &m.OrganizationID, &m.Name, &status, &params, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Status = Status(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &m.Params); err != nil {
			return nil, fmt.Errorf("decode params of mission %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func (r *PostgresRepository) Create(ctx context.Context, m *Mission) error {
	params, err := json.Marshal(m.Params)
	if err != nil {
		return fmt.Errorf("encode mission params: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO missions (id, organization_id, name, status, params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.OrganizationID, m.Name, string(m.Status), params, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert mission: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Mission, error) {
	m, err := scanMission(r.pool.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mission: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) Active(ctx context.Context, organizationID string) (*Mission, error) {
	m, err := scanMission(r.pool.QueryRow(ctx, `
		SELECT `+missionColumns+` FROM missions
		WHERE organization_id = $1 AND status = 'active'
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`, organizationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active mission: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) UpdateParams(ctx context.Context, id string, p Params) error {
	params, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode mission params: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE missions SET params = $2, updated_at = NOW() WHERE id = $1`, id, params)
	if err != nil {
		return fmt.Errorf("update mission params: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, id string, s Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE missions SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(s))
	if err != nil {
		return fmt.Errorf("update mission status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type MemoryRepository struct {
	mu       sync.Mutex
	missions map[string]Mission
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{missions: make(map[string]Mission)}
}

func (r *MemoryRepository) Create(_ context.Context, m *Mission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missions[m.ID] = *m
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Mission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.missions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (r *MemoryRepository) Active(_ context.Context, organizationID string) (*Mission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active []Mission
	for _, m := range r.missions {
		if m.OrganizationID == organizationID && m.Status == StatusActive {
			active = append(active, m)
		}
	}
	if len(active) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].UpdatedAt.Equal(active[j].UpdatedAt) {
			return active[i].ID > active[j].ID
		}
		return active[i].UpdatedAt.After(active[j].UpdatedAt)
	})
	return &active[0], nil
}

func (r *MemoryRepository) UpdateParams(_ context.Context, id string, p Params) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.missions[id]
	if !ok {
		return ErrNotFound
	}
	m.Params = p
	r.missions[id] = m
	return nil
}

func (r *MemoryRepository) SetStatus(_ context.Context, id string, s Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.missions[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = s
	r.missions[id] = m
	return nil
}
