// Package pipeline holds the per-type task handlers the processor runs:
// search, enrichment, investigation, first contact, campaign follow-ups,
// campaign generation and mission reports.
//
// Handlers never retry. A returned error fails the task; per-lead failures
// inside a batch are recorded in the result and do not fail the task.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/campaigns"
	"github.com/leadforge/mission-service/internal/leadlock"
	"github.com/leadforge/mission-service/internal/missions"
	"github.com/leadforge/mission-service/internal/providers"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/storage"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

// Handler executes one claimed task and returns its result.
type Handler func(ctx context.Context, task *taskqueue.Task) (any, error)

// Tasks is the part of the queue the handlers use.
type Tasks interface {
	Create(ctx context.Context, in taskqueue.CreateInput) (*taskqueue.Task, bool, error)
	Heartbeat(ctx context.Context, id string, progress *taskqueue.Progress) error
	List(ctx context.Context, f taskqueue.ListFilter) (*taskqueue.ListResult, error)
}

type Quota interface {
	CheckConfigured(ctx context.Context, organizationID string, res quota.Resource, amount int) quota.Decision
	Remaining(ctx context.Context, organizationID string, res quota.Resource) (int, error)
	RecordContact(ctx context.Context, rec quota.ContactRecord) error
	MissionContacts(ctx context.Context, organizationID, missionID string) (*quota.ContactStats, error)
}

type Locks interface {
	FilterAndLock(ctx context.Context, leadRefs []string) (leadlock.Result, error)
	MarkDone(ctx context.Context, leadRefs []string) error
	MarkError(ctx context.Context, leadRefs []string) error
}

// Deps are the stores and collaborators the handlers need.
type Deps struct {
	Tasks     Tasks
	Quota     Quota
	Locks     Locks
	Missions  missions.Repository
	Campaigns campaigns.Repository
	Providers providers.Set
	Storage   storage.Storage
}

type Stages struct {
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Stages)

func WithClock(now func() time.Time) Option {
	return func(s *Stages) { s.now = now }
}

func New(deps Deps, logger zerolog.Logger, opts ...Option) *Stages {
	s := &Stages{
		deps:   deps,
		logger: logger.With().Str("component", "pipeline").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handlers maps every task type to its handler.
func (s *Stages) Handlers() map[taskqueue.TaskType]Handler {
	return map[taskqueue.TaskType]Handler{
		taskqueue.TypeSearch:           s.Search,
		taskqueue.TypeEnrich:           s.Enrich,
		taskqueue.TypeInvestigate:      s.Investigate,
		taskqueue.TypeContact:          s.Contact,
		taskqueue.TypeContactCampaign:  s.ContactCampaign,
		taskqueue.TypeGenerateCampaign: s.GenerateCampaign,
		taskqueue.TypeGenerateReport:   s.GenerateReport,
	}
}

// LeadBatchPayload carries leads between the ENRICH, INVESTIGATE and CONTACT
// stages.
type LeadBatchPayload struct {
	MissionID   string           `json:"missionId"`
	CampaignID  string           `json:"campaignId,omitempty"`
	AutoContact bool             `json:"autoContact,omitempty"`
	Leads       []providers.Lead `json:"leads"`
}

// ReportPayload asks for a mission report.
type ReportPayload struct {
	MissionID string `json:"missionId"`
}

// Item statuses in a BatchResult.
const (
	ItemDone     = "done"
	ItemError    = "error"
	ItemSkipped  = "skipped"
	ItemDeferred = "deferred"
)

type ItemResult struct {
	LeadRef  string              `json:"leadRef"`
	Status   string              `json:"status"`
	Error    string              `json:"error,omitempty"`
	Research *providers.Research `json:"research,omitempty"`
}

// BatchResult is the task result of every lead batch stage.
type BatchResult struct {
	Processed  int          `json:"processed"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	Deferred   int          `json:"deferred,omitempty"`
	Items      []ItemResult `json:"items"`
	NextTaskID string       `json:"nextTaskId,omitempty"`
}

func (r *BatchResult) add(item ItemResult) {
	switch item.Status {
	case ItemDone:
		r.Processed++
	case ItemError:
		r.Failed++
	case ItemSkipped:
		r.Skipped++
	case ItemDeferred:
		r.Deferred++
	}
	r.Items = append(r.Items, item)
}

func decodePayload(task *taskqueue.Task, v any) error {
	if len(task.Payload) == 0 {
		return apperr.Validation(fmt.Sprintf("%s task %s has no payload", task.Type, task.ID))
	}
	if err := json.Unmarshal(task.Payload, v); err != nil {
		return apperr.Validation(fmt.Sprintf("%s task %s has an invalid payload: %v", task.Type, task.ID, err))
	}
	return nil
}

// enqueue creates the follow-on task of task. The key is derived from the
// parent id so a rescued parent that runs again does not queue twice.
func (s *Stages) enqueue(ctx context.Context, parent *taskqueue.Task, typ taskqueue.TaskType, payload any) (*taskqueue.Task, error) {
	next, created, err := s.deps.Tasks.Create(ctx, taskqueue.CreateInput{
		MissionID:      parent.MissionID,
		OrganizationID: parent.OrganizationID,
		Type:           typ,
		Payload:        payload,
		IdempotencyKey: fmt.Sprintf("%s:%s", strings.ToLower(string(typ)), parent.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("queue %s: %w", typ, err)
	}
	s.logger.Debug().
		Str("parent_task_id", parent.ID).
		Str("task_id", next.ID).
		Str("type", string(typ)).
		Bool("created", created).
		Msg("Queued next stage")
	return next, nil
}

// progress reports per-item progress. Failures only cost the progress
// fields, so they are logged and ignored.
func (s *Stages) progress(ctx context.Context, task *taskqueue.Task, current, total int, label string) {
	if err := s.deps.Tasks.Heartbeat(ctx, task.ID, &taskqueue.Progress{Current: current, Total: total, Label: label}); err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Progress update failed")
	}
}

// admit consumes amount units of res or returns the denial as an error.
func (s *Stages) admit(ctx context.Context, orgID string, res quota.Resource, amount int) error {
	d := s.deps.Quota.CheckConfigured(ctx, orgID, res, amount)
	if d.Err != nil {
		return d.Err
	}
	if !d.Allowed {
		return quotaExceeded(d, amount)
	}
	return nil
}

func quotaExceeded(d quota.Decision, amount int) error {
	return apperr.New(apperr.KindQuota, apperr.CodeQuotaExceeded, fmt.Sprintf("daily %s quota exhausted", d.Resource)).
		WithDetails(map[string]any{
			"resource":  d.Resource,
			"count":     d.Count,
			"limit":     d.Limit,
			"requested": amount,
			"resetAt":   d.ResetAt,
		})
}

func leadID(l providers.Lead) string {
	if l.ID != "" {
		return l.ID
	}
	return l.Ref
}

func lockRef(stage, ref string) string {
	return stage + ":" + ref
}
