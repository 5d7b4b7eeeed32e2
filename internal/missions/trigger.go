package missions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

// Tasks is the part of the task queue the trigger uses.
type Tasks interface {
	Create(ctx context.Context, in taskqueue.CreateInput) (*taskqueue.Task, bool, error)
	FindByIdempotencyKey(ctx context.Context, organizationID, key string) (*taskqueue.Task, error)
}

// QuotaGate admits units of a resource against its configured limit.
type QuotaGate interface {
	CheckConfigured(ctx context.Context, organizationID string, res quota.Resource, amount int) quota.Decision
}

type TriggerInput struct {
	OrganizationID string
	MissionID      string
	IdempotencyKey string
}

type TriggerResult struct {
	MissionID      string          `json:"missionId"`
	Task           *taskqueue.Task `json:"task"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Created        bool            `json:"created"`
}

// SearchPayload starts the search stage.
type SearchPayload struct {
	MissionID   string `json:"missionId"`
	Query       string `json:"query"`
	SearchLimit int    `json:"searchLimit,omitempty"`
	CampaignID  string `json:"campaignId,omitempty"`
	AutoContact bool   `json:"autoContact,omitempty"`
}

// GenerateCampaignPayload asks for a campaign to be written from a brief.
type GenerateCampaignPayload struct {
	MissionID string `json:"missionId"`
	Brief     string `json:"brief"`
	StepCount int    `json:"stepCount,omitempty"`
}

type TriggerService struct {
	repo   Repository
	tasks  Tasks
	quota  QuotaGate
	logger zerolog.Logger
}

func NewTriggerService(repo Repository, tasks Tasks, q QuotaGate, logger zerolog.Logger) *TriggerService {
	return &TriggerService{
		repo:   repo,
		tasks:  tasks,
		quota:  q,
		logger: logger.With().Str("component", "missions").Logger(),
	}
}

// InitialTaskType picks the first stage for a mission.
func InitialTaskType(p Params) taskqueue.TaskType {
	if p.NeedsCampaign() {
		return taskqueue.TypeGenerateCampaign
	}
	return taskqueue.TypeSearch
}

// Trigger starts a mission run. Repeating a call with the same idempotency
// key returns the task created by the first call. A search run consumes one
// unit of the search_runs quota; a replayed key consumes nothing.
func (s *TriggerService) Trigger(ctx context.Context, in TriggerInput) (*TriggerResult, error) {
	m, err := s.repo.Get(ctx, in.MissionID)
	if errors.Is(err, ErrNotFound) || (err == nil && m.OrganizationID != in.OrganizationID) {
		return nil, apperr.NotFound(apperr.CodeMissionNotFound, fmt.Sprintf("mission %s not found", in.MissionID))
	}
	if err != nil {
		return nil, apperr.Store("get mission", err)
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = fmt.Sprintf("trigger:%s:%s", m.ID, uuid.NewString())
	}

	existing, err := s.tasks.FindByIdempotencyKey(ctx, m.OrganizationID, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &TriggerResult{MissionID: m.ID, Task: existing, IdempotencyKey: key}, nil
	}

	typ := InitialTaskType(m.Params)
	var payload any
	switch typ {
	case taskqueue.TypeGenerateCampaign:
		payload = GenerateCampaignPayload{MissionID: m.ID, Brief: m.Params.CampaignBrief, StepCount: m.Params.StepCount}
	default:
		d := s.quota.CheckConfigured(ctx, m.OrganizationID, quota.SearchRuns, 1)
		if d.Err != nil {
			return nil, d.Err
		}
		if !d.Allowed {
			return nil, apperr.New(apperr.KindQuota, apperr.CodeQuotaExceeded, "daily search run quota exhausted").
				WithDetails(map[string]any{
					"resource": d.Resource,
					"count":    d.Count,
					"limit":    d.Limit,
					"resetAt":  d.ResetAt,
				})
		}
		payload = SearchPayload{
			MissionID:   m.ID,
			Query:       m.Params.Query,
			SearchLimit: m.Params.SearchLimit,
			CampaignID:  m.Params.CampaignID,
			AutoContact: m.Params.AutoContact,
		}
	}

	task, created, err := s.tasks.Create(ctx, taskqueue.CreateInput{
		MissionID:      m.ID,
		OrganizationID: m.OrganizationID,
		Type:           typ,
		Payload:        payload,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("mission_id", m.ID).
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Bool("created", created).
		Msg("Mission triggered")

	return &TriggerResult{MissionID: m.ID, Task: task, IdempotencyKey: key, Created: created}, nil
}
