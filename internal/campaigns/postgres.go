package campaigns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

const campaignColumns = `id, organization_id, COALESCE(mission_id, ''), name, status, steps, excluded_leads, created_at, updated_at`

func scanCampaign(row pgx.Row) (*Campaign, error) {
	var c Campaign
	var status string
	var steps []byte
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.MissionID, &c.Name, &status, &steps, &c.ExcludedLeads, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &c.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of campaign %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

func (r *PostgresRepository) Create(ctx context.Context, c *Campaign) error {
	steps, err := json.Marshal(c.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	excluded := c.ExcludedLeads
	if excluded == nil {
		excluded = []string{}
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO campaigns (id, organization_id, mission_id, name, status, steps, excluded_leads, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
	`, c.ID, c.OrganizationID, c.MissionID, c.Name, string(c.Status), steps, excluded, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Campaign, error) {
	c, err := scanCampaign(r.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if err := r.loadSentRecords(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepository) loadSentRecords(ctx context.Context, c *Campaign) error {
	rows, err := r.pool.Query(ctx, `
		SELECT lead_id, last_step_idx, last_sent_at
		FROM campaign_leads
		WHERE campaign_id = $1 AND last_step_idx IS NOT NULL AND last_sent_at IS NOT NULL
	`, c.ID)
	if err != nil {
		return fmt.Errorf("load sent records: %w", err)
	}
	defer rows.Close()

	c.SentRecords = make(map[string]SentRecord)
	for rows.Next() {
		var leadID string
		var rec SentRecord
		if err := rows.Scan(&leadID, &rec.LastStepIdx, &rec.LastSentAt); err != nil {
			return fmt.Errorf("scan sent record: %w", err)
		}
		c.SentRecords[leadID] = rec
	}
	return rows.Err()
}

func (r *PostgresRepository) ListActive(ctx context.Context, organizationID string) ([]*Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		WHERE organization_id = $1 AND status = 'active'
		ORDER BY created_at, id
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	var out []*Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}

	for _, c := range out {
		if err := r.loadSentRecords(ctx, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *PostgresRepository) UpsertLeads(ctx context.Context, campaignID string, leads []Lead) error {
	if len(leads) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range leads {
		batch.Queue(`
			INSERT INTO campaign_leads (campaign_id, lead_id, lead_ref, email, opted_out, updated_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, NOW())
			ON CONFLICT (campaign_id, lead_id) DO UPDATE
			SET lead_ref = EXCLUDED.lead_ref,
			    email = COALESCE(EXCLUDED.email, campaign_leads.email),
			    opted_out = campaign_leads.opted_out OR EXCLUDED.opted_out,
			    updated_at = NOW()
		`, campaignID, l.LeadID, l.LeadRef, l.Email, l.OptedOut)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert campaign leads: %w", err)
	}
	return nil
}

const leadColumns = `campaign_id, lead_id, lead_ref, COALESCE(email, ''), last_contacted_at, last_followup_at,
	replied_at, reply_continue, COALESCE(reply_intent, ''), opted_out`

func scanLead(row pgx.Row) (*Lead, error) {
	var l Lead
	var repliedAt *time.Time
	var cont bool
	var intent string
	if err := row.Scan(&l.CampaignID, &l.LeadID, &l.LeadRef, &l.Email, &l.LastContactedAt, &l.LastFollowupAt,
		&repliedAt, &cont, &intent, &l.OptedOut); err != nil {
		return nil, err
	}
	if repliedAt != nil {
		l.Reply = &Reply{RepliedAt: *repliedAt, ContinueSequence: cont, Intent: intent}
	}
	return &l, nil
}

func (r *PostgresRepository) ContactedLeads(ctx context.Context, campaignID string) ([]Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+` FROM campaign_leads
		WHERE campaign_id = $1 AND (last_step_idx IS NOT NULL OR last_contacted_at IS NOT NULL)
		ORDER BY lead_id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list contacted leads: %w", err)
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign lead: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetLead(ctx context.Context, campaignID, leadID string) (*Lead, error) {
	l, err := scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+` FROM campaign_leads WHERE campaign_id = $1 AND lead_id = $2
	`, campaignID, leadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign lead: %w", err)
	}
	return l, nil
}

func (r *PostgresRepository) RecordSent(ctx context.Context, campaignID, leadID string, stepIdx int, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaign_leads
		SET last_step_idx = $3,
		    last_sent_at = $4,
		    last_contacted_at = CASE WHEN $3 = 0 THEN $4 ELSE last_contacted_at END,
		    last_followup_at = CASE WHEN $3 > 0 THEN $4 ELSE last_followup_at END,
		    updated_at = NOW()
		WHERE campaign_id = $1 AND lead_id = $2
	`, campaignID, leadID, stepIdx, at)
	if err != nil {
		return fmt.Errorf("record sent step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) RecordReply(ctx context.Context, campaignID, leadID string, reply Reply) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaign_leads
		SET replied_at = $3, reply_continue = $4, reply_intent = NULLIF($5, ''), updated_at = NOW()
		WHERE campaign_id = $1 AND lead_id = $2
	`, campaignID, leadID, reply.RepliedAt, reply.ContinueSequence, reply.Intent)
	if err != nil {
		return fmt.Errorf("record reply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
