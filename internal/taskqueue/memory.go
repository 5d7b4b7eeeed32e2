package taskqueue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is a process-local Repository used by tests and the CLI's
// offline commands. A single mutex stands in for the store's transactions.
type MemoryRepository struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[string]*Task)}
}

func (r *MemoryRepository) Insert(_ context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.IdempotencyKey != nil {
		for _, existing := range r.tasks {
			if existing.OrganizationID == t.OrganizationID &&
				existing.IdempotencyKey != nil && *existing.IdempotencyKey == *t.IdempotencyKey {
				return ErrDuplicateKey
			}
		}
	}
	c := t.Clone()
	c.UpdatedAt = c.CreatedAt
	r.tasks[t.ID] = c
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (r *MemoryRepository) GetByIdempotencyKey(_ context.Context, organizationID, key string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.OrganizationID == organizationID && t.IdempotencyKey != nil && *t.IdempotencyKey == key {
			return t.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) ClaimPending(_ context.Context, in ClaimInput, now time.Time) ([]*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*Task
	for _, t := range r.tasks {
		if t.Status != StatusPending {
			continue
		}
		if t.ScheduledFor != nil && t.ScheduledFor.After(now) {
			continue
		}
		if len(in.Types) > 0 && !containsType(in.Types, t.Type) {
			continue
		}
		due = append(due, t)
	}
	sortOldestFirst(due)
	if in.Limit > 0 && len(due) > in.Limit {
		due = due[:in.Limit]
	}

	claimed := make([]*Task, 0, len(due))
	for _, t := range due {
		ts := now
		t.Status = StatusProcessing
		t.ProcessingStartedAt = &ts
		t.HeartbeatAt = &ts
		t.WorkerID = strPtr(in.WorkerID)
		t.WorkerSource = strPtr(in.WorkerSource)
		t.UpdatedAt = now
		claimed = append(claimed, t.Clone())
	}
	return claimed, nil
}

func (r *MemoryRepository) Finish(_ context.Context, id string, status TaskStatus, result json.RawMessage, errMsg *string, now time.Time) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status.Terminal() {
		return nil, ErrTerminal
	}
	t.Status = status
	t.Result = result
	t.ErrorMessage = errMsg
	t.UpdatedAt = now
	return t.Clone(), nil
}

func (r *MemoryRepository) Cancel(_ context.Context, id, msg string, now time.Time) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status == StatusCompleted {
		return nil, ErrTaskCompleted
	}
	t.Status = StatusFailed
	t.ErrorMessage = strPtr(msg)
	t.ScheduledFor = nil
	t.ProcessingStartedAt = nil
	t.UpdatedAt = now
	return t.Clone(), nil
}

func (r *MemoryRepository) Heartbeat(_ context.Context, id string, p *Progress, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != StatusProcessing {
		return ErrTerminal
	}
	ts := now
	t.HeartbeatAt = &ts
	t.UpdatedAt = now
	if p != nil {
		cur, total := p.Current, p.Total
		t.ProgressCurrent = &cur
		t.ProgressTotal = &total
		t.ProgressLabel = strPtr(p.Label)
	}
	return nil
}

func (r *MemoryRepository) matching(f ListFilter, ignoreStatus bool) []*Task {
	var out []*Task
	for _, t := range r.tasks {
		if f.OrganizationID != "" && t.OrganizationID != f.OrganizationID {
			continue
		}
		if !ignoreStatus && f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.MissionID != "" && t.MissionID != f.MissionID {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (r *MemoryRepository) List(_ context.Context, f ListFilter) ([]*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := r.matching(f, false)
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	if f.Limit > 0 && len(tasks) > f.Limit {
		tasks = tasks[:f.Limit]
	}
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (r *MemoryRepository) CountByStatus(_ context.Context, f ListFilter) (map[TaskStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[TaskStatus]int)
	for _, t := range r.matching(f, true) {
		counts[t.Status]++
	}
	return counts, nil
}

func (r *MemoryRepository) RescueStuck(_ context.Context, cutoff time.Time, limit int, now time.Time) ([]*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stuck []*Task
	for _, t := range r.tasks {
		if t.Status == StatusProcessing && t.UpdatedAt.Before(cutoff) {
			stuck = append(stuck, t)
		}
	}
	sort.SliceStable(stuck, func(i, j int) bool {
		return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt)
	})
	if limit > 0 && len(stuck) > limit {
		stuck = stuck[:limit]
	}

	out := make([]*Task, 0, len(stuck))
	for _, t := range stuck {
		ts := now
		t.Status = StatusPending
		t.ScheduledFor = &ts
		t.ProcessingStartedAt = nil
		t.HeartbeatAt = nil
		t.WorkerID = nil
		t.WorkerSource = nil
		t.ErrorMessage = strPtr(RescueMessage)
		t.RetryCount++
		t.UpdatedAt = now
		out = append(out, t.Clone())
	}
	return out, nil
}

func (r *MemoryRepository) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tasks {
		if t.Status.Terminal() && t.UpdatedAt.Before(cutoff) {
			delete(r.tasks, id)
			n++
		}
	}
	return n, nil
}

// SetUpdatedAt backdates a task. Tests use it to simulate stalled workers.
func (r *MemoryRepository) SetUpdatedAt(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.UpdatedAt = at
	}
}

func containsType(types []TaskType, t TaskType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
