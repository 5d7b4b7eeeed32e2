package followup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/leadforge/mission-service/internal/campaigns"
	"github.com/leadforge/mission-service/internal/metrics"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

// TaskCreator is the part of the task queue the scheduler needs.
type TaskCreator interface {
	Create(ctx context.Context, in taskqueue.CreateInput) (*taskqueue.Task, bool, error)
}

// QuotaReader reports how much of a daily quota is left.
type QuotaReader interface {
	Remaining(ctx context.Context, organizationID string, res quota.Resource) (int, error)
}

// Payload is the CONTACT_CAMPAIGN task payload.
type Payload struct {
	CampaignID string `json:"campaignId"`
	LeadID     string `json:"leadId"`
	LeadRef    string `json:"leadRef"`
	StepIdx    int    `json:"stepIdx"`
}

// IdempotencyKey identifies one step for one lead, so repeated runs never
// queue the same send twice.
func IdempotencyKey(campaignID, leadID string, stepIdx int) string {
	return fmt.Sprintf("followup:%s:%s:%d", campaignID, leadID, stepIdx)
}

type RunResult struct {
	Campaigns int           `json:"campaigns"`
	Eligible  int           `json:"eligible"`
	Enqueued  int           `json:"enqueued"`
	Existing  int           `json:"existing"`
	Capped    int           `json:"capped"`
	Rows      []EligibleRow `json:"rows,omitempty"`
}

type Scheduler struct {
	campaigns   campaigns.Repository
	tasks       TaskCreator
	quota       QuotaReader
	orgID       string
	concurrency int
	logger      zerolog.Logger
	now         func() time.Time
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithConcurrency bounds how many campaigns are evaluated at once.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewScheduler(repo campaigns.Repository, tasks TaskCreator, q QuotaReader, organizationID string, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		campaigns:   repo,
		tasks:       tasks,
		quota:       q,
		orgID:       organizationID,
		concurrency: 4,
		logger:      logger.With().Str("component", "followup").Logger(),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Preview computes the eligible rows for every active campaign without
// queueing anything.
func (s *Scheduler) Preview(ctx context.Context) ([]EligibleRow, int, error) {
	active, err := s.campaigns.ListActive(ctx, s.orgID)
	if err != nil {
		return nil, 0, fmt.Errorf("list active campaigns: %w", err)
	}
	now := s.now()

	var mu sync.Mutex
	byCampaign := make(map[string][]EligibleRow, len(active))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, c := range active {
		g.Go(func() error {
			leads, err := s.campaigns.ContactedLeads(gctx, c.ID)
			if err != nil {
				return fmt.Errorf("load leads of campaign %s: %w", c.ID, err)
			}
			rows := ComputeEligible(c, leads, now)
			mu.Lock()
			byCampaign[c.ID] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	// Campaign order first, then lead order inside each campaign.
	var rows []EligibleRow
	for _, c := range active {
		rows = append(rows, byCampaign[c.ID]...)
	}
	return rows, len(active), nil
}

// Run queues a CONTACT_CAMPAIGN task per eligible row, up to the contact
// quota left for today. Rows past the cap wait for the next run.
func (s *Scheduler) Run(ctx context.Context) (*RunResult, error) {
	rows, n, err := s.Preview(ctx)
	if err != nil {
		return nil, err
	}
	res := &RunResult{Campaigns: n, Eligible: len(rows)}
	if len(rows) == 0 {
		return res, nil
	}

	remaining, err := s.quota.Remaining(ctx, s.orgID, quota.Contact)
	if err != nil {
		return nil, fmt.Errorf("read contact quota: %w", err)
	}
	if remaining < 0 {
		remaining = 0
	}
	if remaining < len(rows) {
		res.Capped = len(rows) - remaining
		rows = rows[:remaining]
	}

	for _, row := range rows {
		missionID := row.MissionID
		if missionID == "" {
			missionID = row.CampaignID
		}
		task, created, err := s.tasks.Create(ctx, taskqueue.CreateInput{
			MissionID:      missionID,
			OrganizationID: row.OrganizationID,
			Type:           taskqueue.TypeContactCampaign,
			Payload: Payload{
				CampaignID: row.CampaignID,
				LeadID:     row.LeadID,
				LeadRef:    row.LeadRef,
				StepIdx:    row.NextStepIdx,
			},
			IdempotencyKey: IdempotencyKey(row.CampaignID, row.LeadID, row.NextStepIdx),
		})
		if err != nil {
			return res, fmt.Errorf("queue follow-up for lead %s: %w", row.LeadID, err)
		}
		if created {
			res.Enqueued++
		} else {
			res.Existing++
		}
		s.logger.Debug().
			Str("task_id", task.ID).
			Str("campaign_id", row.CampaignID).
			Str("lead_id", row.LeadID).
			Int("step", row.NextStepIdx).
			Bool("created", created).
			Msg("Follow-up queued")
	}
	res.Rows = rows
	metrics.NewRecorder().RecordFollowups(res.Enqueued, res.Existing, res.Capped)

	s.logger.Info().
		Int("campaigns", res.Campaigns).
		Int("eligible", res.Eligible).
		Int("enqueued", res.Enqueued).
		Int("existing", res.Existing).
		Int("capped", res.Capped).
		Msg("Follow-up run finished")
	return res, nil
}

// SortRows orders rows by campaign, then step, then lead. Used by the CLI
// preview output.
func SortRows(rows []EligibleRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CampaignID != rows[j].CampaignID {
			return rows[i].CampaignID < rows[j].CampaignID
		}
		if rows[i].NextStepIdx != rows[j].NextStepIdx {
			return rows[i].NextStepIdx < rows[j].NextStepIdx
		}
		return rows[i].LeadID < rows[j].LeadID
	})
}
