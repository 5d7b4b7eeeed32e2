package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/campaigns"
	"github.com/leadforge/mission-service/internal/missions"
	"github.com/leadforge/mission-service/internal/pkg/ids"
	"github.com/leadforge/mission-service/internal/providers"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

type GenerateCampaignResult struct {
	CampaignID string `json:"campaignId"`
	Steps      int    `json:"steps"`
	Reused     bool   `json:"reused,omitempty"`
	NextTaskID string `json:"nextTaskId,omitempty"`
}

// GenerateCampaign writes a campaign from the mission brief, attaches it to
// the mission and starts the search. The search run is charged here, since
// the trigger that queued this task did not charge one.
func (s *Stages) GenerateCampaign(ctx context.Context, task *taskqueue.Task) (any, error) {
	var p missions.GenerateCampaignPayload
	if err := decodePayload(task, &p); err != nil {
		return nil, err
	}
	missionID := p.MissionID
	if missionID == "" {
		missionID = task.MissionID
	}
	m, err := s.deps.Missions.Get(ctx, missionID)
	if errors.Is(err, missions.ErrNotFound) || (err == nil && m.OrganizationID != task.OrganizationID) {
		return nil, apperr.NotFound(apperr.CodeMissionNotFound, fmt.Sprintf("mission %s not found", missionID))
	}
	if err != nil {
		return nil, apperr.Store("get mission", err)
	}

	res := &GenerateCampaignResult{CampaignID: m.Params.CampaignID, Reused: m.Params.CampaignID != ""}
	if !res.Reused {
		if s.deps.Providers.Generator == nil {
			return nil, fmt.Errorf("generate campaign: %w", providers.ErrNotConfigured)
		}
		brief := p.Brief
		if brief == "" {
			brief = m.Params.CampaignBrief
		}
		gen, err := s.deps.Providers.Generator.GenerateCampaign(ctx, providers.CampaignRequest{Brief: brief, StepCount: p.StepCount})
		if err != nil {
			return nil, fmt.Errorf("generate campaign: %w", err)
		}

		now := s.now().UTC()
		c := &campaigns.Campaign{
			ID:             ids.NewAt(ids.Campaign, now),
			OrganizationID: m.OrganizationID,
			MissionID:      m.ID,
			Name:           gen.Name,
			Status:         campaigns.StatusActive,
			Steps:          gen.Steps,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.deps.Campaigns.Create(ctx, c); err != nil {
			return nil, apperr.Store("create campaign", err)
		}
		m.Params.CampaignID = c.ID
		if err := s.deps.Missions.UpdateParams(ctx, m.ID, m.Params); err != nil {
			return nil, apperr.Store("attach campaign to mission", err)
		}
		res.CampaignID = c.ID
		res.Steps = len(c.Steps)

		s.logger.Info().
			Str("task_id", task.ID).
			Str("mission_id", m.ID).
			Str("campaign_id", c.ID).
			Int("steps", len(c.Steps)).
			Msg("Campaign generated")
	}

	if m.Params.Query == "" {
		return res, nil
	}
	if err := s.admit(ctx, task.OrganizationID, quota.SearchRuns, 1); err != nil {
		return nil, err
	}
	next, err := s.enqueue(ctx, task, taskqueue.TypeSearch, missions.SearchPayload{
		MissionID:   m.ID,
		Query:       m.Params.Query,
		SearchLimit: m.Params.SearchLimit,
		CampaignID:  m.Params.CampaignID,
		AutoContact: m.Params.AutoContact,
	})
	if err != nil {
		return nil, err
	}
	res.NextTaskID = next.ID
	return res, nil
}
