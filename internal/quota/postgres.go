package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, organizationID, dayKey string, res Resource) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count FROM quota_ledger
		WHERE organization_id = $1 AND day = $2::date AND resource = $3
	`, organizationID, dayKey, string(res)).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get quota counter: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Increment(ctx context.Context, organizationID, dayKey string, res Resource, amount int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		INSERT INTO quota_ledger (organization_id, day, resource, count, updated_at)
		VALUES ($1, $2::date, $3, $4, NOW())
		ON CONFLICT (organization_id, day, resource)
		DO UPDATE SET count = quota_ledger.count + EXCLUDED.count, updated_at = NOW()
		RETURNING count
	`, organizationID, dayKey, string(res), amount).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment quota counter: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountContacts(ctx context.Context, organizationID string, from, to time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM contact_ledger
		WHERE organization_id = $1 AND created_at >= $2 AND created_at < $3
	`, organizationID, from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count contacts: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) RecordContact(ctx context.Context, rec ContactRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO contact_ledger (organization_id, mission_id, campaign_id, lead_id, step_idx, channel, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7)
	`, rec.OrganizationID, rec.MissionID, rec.CampaignID, rec.LeadID, rec.StepIdx, rec.Channel, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert contact ledger row: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MissionContacts(ctx context.Context, organizationID, missionID string) (*ContactStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT step_idx, COUNT(*), MAX(created_at)
		FROM contact_ledger
		WHERE organization_id = $1 AND mission_id = $2
		GROUP BY step_idx
	`, organizationID, missionID)
	if err != nil {
		return nil, fmt.Errorf("query mission contacts: %w", err)
	}
	defer rows.Close()

	stats := &ContactStats{ByStep: map[int]int{}}
	for rows.Next() {
		var step, sent int
		var last time.Time
		if err := rows.Scan(&step, &sent, &last); err != nil {
			return nil, fmt.Errorf("scan mission contacts: %w", err)
		}
		stats.ByStep[step] = sent
		stats.Sent += sent
		if stats.LastAt == nil || last.After(*stats.LastAt) {
			stats.LastAt = &last
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read mission contacts: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT lead_id) FROM contact_ledger
		WHERE organization_id = $1 AND mission_id = $2
	`, organizationID, missionID).Scan(&stats.Leads)
	if err != nil {
		return nil, fmt.Errorf("count mission leads: %w", err)
	}
	return stats, nil
}

// MemoryRepository keeps counters in a map.
type MemoryRepository struct {
	mu       sync.Mutex
	counters map[string]int
	contacts []ContactRecord
	// FailWith makes every call return this error.
	FailWith error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{counters: make(map[string]int)}
}

func counterKey(org, day string, res Resource) string {
	return org + "|" + day + "|" + string(res)
}

func (r *MemoryRepository) Get(_ context.Context, organizationID, dayKey string, res Resource) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return 0, r.FailWith
	}
	return r.counters[counterKey(organizationID, dayKey, res)], nil
}

func (r *MemoryRepository) Increment(_ context.Context, organizationID, dayKey string, res Resource, amount int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return 0, r.FailWith
	}
	k := counterKey(organizationID, dayKey, res)
	r.counters[k] += amount
	return r.counters[k], nil
}

// Set forces a counter value.
func (r *MemoryRepository) Set(organizationID, dayKey string, res Resource, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[counterKey(organizationID, dayKey, res)] = n
}

func (r *MemoryRepository) CountContacts(_ context.Context, organizationID string, from, to time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return 0, r.FailWith
	}
	n := 0
	for _, c := range r.contacts {
		if c.OrganizationID == organizationID && !c.CreatedAt.Before(from) && c.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) RecordContact(_ context.Context, rec ContactRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return r.FailWith
	}
	r.contacts = append(r.contacts, rec)
	return nil
}

// Contacts returns the recorded contact rows.
func (r *MemoryRepository) Contacts() []ContactRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ContactRecord(nil), r.contacts...)
}

func (r *MemoryRepository) MissionContacts(_ context.Context, organizationID, missionID string) (*ContactStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWith != nil {
		return nil, r.FailWith
	}
	stats := &ContactStats{ByStep: map[int]int{}}
	leads := map[string]bool{}
	for _, c := range r.contacts {
		if c.OrganizationID != organizationID || c.MissionID != missionID {
			continue
		}
		stats.Sent++
		stats.ByStep[c.StepIdx]++
		leads[c.LeadID] = true
		if stats.LastAt == nil || c.CreatedAt.After(*stats.LastAt) {
			at := c.CreatedAt
			stats.LastAt = &at
		}
	}
	stats.Leads = len(leads)
	return stats, nil
}
