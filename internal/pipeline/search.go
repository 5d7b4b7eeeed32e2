package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/missions"
	"github.com/leadforge/mission-service/internal/providers"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

const (
	defaultSearchLimit = 25
	maxSearchLimit     = 100
)

type SearchResult struct {
	Found      int    `json:"found"`
	Limit      int    `json:"limit"`
	NextTaskID string `json:"nextTaskId,omitempty"`
}

// Search finds leads for the mission query, as many as the leads_searched
// quota still allows, and queues them for enrichment.
func (s *Stages) Search(ctx context.Context, task *taskqueue.Task) (any, error) {
	var p missions.SearchPayload
	if err := decodePayload(task, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, apperr.Validation("search query is empty")
	}
	if s.deps.Providers.Searcher == nil {
		return nil, fmt.Errorf("search: %w", providers.ErrNotConfigured)
	}

	limit := p.SearchLimit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	remaining, err := s.deps.Quota.Remaining(ctx, task.OrganizationID, quota.LeadsSearched)
	if err != nil {
		return nil, err
	}
	if remaining == 0 {
		return nil, quotaExceeded(quota.Decision{Resource: quota.LeadsSearched, Limit: limit}, 1)
	}
	limit = min(limit, remaining)

	found, err := s.deps.Providers.Searcher.Search(ctx, providers.SearchRequest{Query: p.Query, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	leads := make([]providers.Lead, 0, len(found))
	seen := make(map[string]bool, len(found))
	for _, l := range found {
		if l.Ref == "" {
			l.Ref = l.ID
		}
		if l.Ref == "" || seen[l.Ref] {
			continue
		}
		seen[l.Ref] = true
		leads = append(leads, l)
		if len(leads) == limit {
			break
		}
	}

	res := &SearchResult{Found: len(leads), Limit: limit}
	if len(leads) == 0 {
		return res, nil
	}
	if err := s.admit(ctx, task.OrganizationID, quota.LeadsSearched, len(leads)); err != nil {
		return nil, err
	}

	next, err := s.enqueue(ctx, task, taskqueue.TypeEnrich, LeadBatchPayload{
		MissionID:   p.MissionID,
		CampaignID:  p.CampaignID,
		AutoContact: p.AutoContact,
		Leads:       leads,
	})
	if err != nil {
		return nil, err
	}
	res.NextTaskID = next.ID

	s.logger.Info().
		Str("task_id", task.ID).
		Str("mission_id", p.MissionID).
		Int("found", len(leads)).
		Msg("Search finished")
	return res, nil
}
