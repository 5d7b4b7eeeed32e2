package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/auditlog"
	"github.com/leadforge/mission-service/internal/pkg/ids"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	defaultRescueMinutes = 15
	maxRescueMinutes     = 240
	defaultRescueLimit   = 100
	maxRescueLimit       = 500
)

// Queue is the task state machine. It owns every status transition and emits
// the audit entries that go with them.
type Queue struct {
	repo   Repository
	audit  auditlog.Appender
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(repo Repository, audit auditlog.Appender, logger zerolog.Logger, opts ...Option) *Queue {
	q := &Queue{
		repo:   repo,
		audit:  audit,
		logger: logger.With().Str("component", "taskqueue").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Create inserts a pending task. When the idempotency key is already used in
// the organization, the existing task is returned with created=false.
func (q *Queue) Create(ctx context.Context, in CreateInput) (*Task, bool, error) {
	if in.OrganizationID == "" || in.MissionID == "" {
		return nil, false, apperr.Validation("organizationId and missionId are required")
	}
	if !in.Type.Valid() {
		return nil, false, apperr.Validation(fmt.Sprintf("unknown task type %q", in.Type))
	}

	var payload json.RawMessage
	if in.Payload != nil {
		b, err := json.Marshal(in.Payload)
		if err != nil {
			return nil, false, apperr.Validation("payload is not serializable: " + err.Error())
		}
		payload = b
	}

	now := q.now().UTC()
	task := &Task{
		ID:             ids.NewAt(ids.Task, now),
		MissionID:      in.MissionID,
		OrganizationID: in.OrganizationID,
		Type:           in.Type,
		Status:         StatusPending,
		Payload:        payload,
		ScheduledFor:   in.ScheduledFor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		task.IdempotencyKey = &key
	}

	err := q.repo.Insert(ctx, task)
	if errors.Is(err, ErrDuplicateKey) {
		existing, getErr := q.repo.GetByIdempotencyKey(ctx, in.OrganizationID, in.IdempotencyKey)
		if getErr != nil {
			return nil, false, apperr.Store("fetch task after idempotency conflict", getErr)
		}
		q.logger.Debug().
			Str("task_id", existing.ID).
			Str("idempotency_key", in.IdempotencyKey).
			Msg("Idempotent create resolved to existing task")
		return existing, false, nil
	}
	if err != nil {
		return nil, false, apperr.Store("create task", err)
	}

	q.appendLog(ctx, auditlog.Entry{
		MissionID:      task.MissionID,
		OrganizationID: task.OrganizationID,
		Level:          auditlog.LevelInfo,
		Message:        fmt.Sprintf("Task %s created", task.Type),
		Details: map[string]any{
			"taskId":         task.ID,
			"type":           task.Type,
			"idempotencyKey": in.IdempotencyKey,
		},
	})
	return task, true, nil
}

// FindByIdempotencyKey returns the task created under key, or nil.
func (q *Queue) FindByIdempotencyKey(ctx context.Context, organizationID, key string) (*Task, error) {
	t, err := q.repo.GetByIdempotencyKey(ctx, organizationID, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Store("find task by idempotency key", err)
	}
	return t, nil
}

// ClaimNextPending claims up to in.Limit due tasks for one worker.
func (q *Queue) ClaimNextPending(ctx context.Context, in ClaimInput) ([]*Task, error) {
	if in.Limit <= 0 {
		in.Limit = 1
	}
	tasks, err := q.repo.ClaimPending(ctx, in, q.now().UTC())
	if err != nil {
		return nil, apperr.Store("claim tasks", err)
	}
	return tasks, nil
}

// Complete marks a task completed. A task that already finished, including
// one cancelled while running, is left untouched and a conflict is returned.
func (q *Queue) Complete(ctx context.Context, id string, result any) (*Task, error) {
	var raw json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, apperr.Validation("result is not serializable: " + err.Error())
		}
		raw = b
	}
	t, err := q.repo.Finish(ctx, id, StatusCompleted, raw, nil, q.now().UTC())
	return t, q.translate(err, id, "complete task")
}

// Fail marks a task failed with msg. Same terminal guard as Complete.
func (q *Queue) Fail(ctx context.Context, id, msg string) (*Task, error) {
	t, err := q.repo.Finish(ctx, id, StatusFailed, nil, &msg, q.now().UTC())
	return t, q.translate(err, id, "fail task")
}

// Cancel stops a task from the outside. The running worker, if any, is not
// signalled.
func (q *Queue) Cancel(ctx context.Context, id string) (*Task, error) {
	t, err := q.repo.Cancel(ctx, id, CancelMessage, q.now().UTC())
	if errors.Is(err, ErrTaskCompleted) {
		return nil, apperr.Conflict(apperr.CodeTaskCompleted, "task already completed")
	}
	if err := q.translate(err, id, "cancel task"); err != nil {
		return nil, err
	}

	q.appendLog(ctx, auditlog.Entry{
		MissionID:      t.MissionID,
		OrganizationID: t.OrganizationID,
		Level:          auditlog.LevelWarn,
		Message:        fmt.Sprintf("Task %s cancelled by operator", t.Type),
		Details:        map[string]any{"taskId": t.ID},
	})
	return t, nil
}

// Heartbeat refreshes heartbeatAt and optionally the progress fields.
func (q *Queue) Heartbeat(ctx context.Context, id string, progress *Progress) error {
	return q.translate(q.repo.Heartbeat(ctx, id, progress, q.now().UTC()), id, "heartbeat")
}

func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	t, err := q.repo.Get(ctx, id)
	return t, q.translate(err, id, "get task")
}

// List returns filtered tasks, newest first, plus counts per status.
func (q *Queue) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown task type %q", f.Type))
	}
	f.Limit = clamp(f.Limit, 1, maxListLimit, defaultListLimit)

	items, err := q.repo.List(ctx, f)
	if err != nil {
		return nil, apperr.Store("list tasks", err)
	}
	counts, err := q.repo.CountByStatus(ctx, f)
	if err != nil {
		return nil, apperr.Store("count tasks", err)
	}
	for _, s := range []TaskStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}
	if !f.IncludePayload {
		for _, t := range items {
			t.Payload = nil
			t.Result = nil
		}
	}
	return &ListResult{Items: items, Counts: counts}, nil
}

// RescueStuck returns tasks stuck in processing to pending. Staleness is
// measured on updatedAt. Inputs outside their ranges are clamped.
func (q *Queue) RescueStuck(ctx context.Context, in RescueInput) (*RescueResult, error) {
	minutes := clamp(in.OlderThanMinutes, 1, maxRescueMinutes, defaultRescueMinutes)
	limit := clamp(in.Limit, 1, maxRescueLimit, defaultRescueLimit)

	now := q.now().UTC()
	cutoff := now.Add(-time.Duration(minutes) * time.Minute)

	tasks, err := q.repo.RescueStuck(ctx, cutoff, limit, now)
	if err != nil {
		return nil, apperr.Store("rescue stuck tasks", err)
	}

	type group struct {
		orgID   string
		taskIDs []string
	}
	byMission := make(map[string]*group)
	var order []string
	for _, t := range tasks {
		g, ok := byMission[t.MissionID]
		if !ok {
			g = &group{orgID: t.OrganizationID}
			byMission[t.MissionID] = g
			order = append(order, t.MissionID)
		}
		g.taskIDs = append(g.taskIDs, t.ID)
	}
	for _, missionID := range order {
		g := byMission[missionID]
		q.appendLog(ctx, auditlog.Entry{
			MissionID:      missionID,
			OrganizationID: g.orgID,
			Level:          auditlog.LevelWarn,
			Message:        fmt.Sprintf("Rescued %d stuck task(s)", len(g.taskIDs)),
			Details: map[string]any{
				"taskIds":          g.taskIDs,
				"olderThanMinutes": minutes,
			},
		})
	}

	return &RescueResult{RescuedCount: len(tasks), Cutoff: cutoff, Tasks: tasks}, nil
}

// CleanupTerminal deletes finished tasks older than retention.
func (q *Queue) CleanupTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := q.repo.DeleteTerminalBefore(ctx, q.now().UTC().Add(-retention))
	if err != nil {
		return 0, apperr.Store("cleanup tasks", err)
	}
	return n, nil
}

func (q *Queue) translate(err error, id, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(apperr.CodeTaskNotFound, "task not found").
			WithDetails(map[string]any{"taskId": id})
	case errors.Is(err, ErrTerminal):
		return apperr.Conflict(apperr.CodeTaskTerminal, "task already finished").
			WithDetails(map[string]any{"taskId": id})
	default:
		return apperr.Store(op, err)
	}
}

// appendLog never fails the caller; a lost audit line is logged instead.
func (q *Queue) appendLog(ctx context.Context, e auditlog.Entry) {
	if q.audit == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = q.now().UTC()
	}
	if err := q.audit.Append(ctx, e); err != nil {
		q.logger.Error().Err(err).Str("mission_id", e.MissionID).Msg("Failed to append mission log")
	}
}

func clamp(v, lo, hi, def int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
