package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/auditlog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T) (*Queue, *MemoryRepository, *auditlog.MemoryAppender, *fakeClock) {
	t.Helper()
	repo := NewMemoryRepository()
	audit := auditlog.NewMemoryAppender(zerolog.Nop())
	clock := &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	return New(repo, audit, zerolog.Nop(), WithClock(clock.Now)), repo, audit, clock
}

func createTask(t *testing.T, q *Queue, key string) *Task {
	t.Helper()
	task, _, err := q.Create(context.Background(), CreateInput{
		MissionID:      "msn_1",
		OrganizationID: "org_1",
		Type:           TypeSearch,
		Payload:        map[string]any{"query": "saas founders"},
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return task
}

func TestCreateIsIdempotent(t *testing.T) {
	q, _, audit, _ := newTestQueue(t)
	ctx := context.Background()

	first, created, err := q.Create(ctx, CreateInput{
		MissionID: "msn_1", OrganizationID: "org_1", Type: TypeSearch, IdempotencyKey: "trigger-1",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusPending, first.Status)

	second, created, err := q.Create(ctx, CreateInput{
		MissionID: "msn_1", OrganizationID: "org_1", Type: TypeSearch, IdempotencyKey: "trigger-1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// Same key in a different organization is a different task.
	other, created, err := q.Create(ctx, CreateInput{
		MissionID: "msn_9", OrganizationID: "org_2", Type: TypeSearch, IdempotencyKey: "trigger-1",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)

	assert.Len(t, audit.Entries(), 2, "only real creations are logged")
}

func TestCreateConcurrentSameKey(t *testing.T) {
	q, _, _, _ := newTestQueue(t)
	ctx := context.Background()

	const workers = 20
	idsCh := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, _, err := q.Create(ctx, CreateInput{
				MissionID: "msn_1", OrganizationID: "org_1", Type: TypeEnrich, IdempotencyKey: "same",
			})
			if assert.NoError(t, err) {
				idsCh <- task.ID
			}
		}()
	}
	wg.Wait()
	close(idsCh)

	seen := map[string]bool{}
	for id := range idsCh {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestCreateValidation(t *testing.T) {
	q, _, _, _ := newTestQueue(t)

	_, _, err := q.Create(context.Background(), CreateInput{MissionID: "m", OrganizationID: "o", Type: "BOGUS"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, _, err = q.Create(context.Background(), CreateInput{Type: TypeSearch})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestClaimOldestFirstAndOnce(t *testing.T) {
	q, _, _, clock := newTestQueue(t)
	ctx := context.Background()

	a := createTask(t, q, "a")
	clock.Advance(time.Second)
	b := createTask(t, q, "b")
	clock.Advance(time.Second)
	createTask(t, q, "c")

	claimed, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w1", WorkerSource: "cron", Limit: 2})
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, a.ID, claimed[0].ID)
	assert.Equal(t, b.ID, claimed[1].ID)
	for _, task := range claimed {
		assert.Equal(t, StatusProcessing, task.Status)
		require.NotNil(t, task.ProcessingStartedAt)
		require.NotNil(t, task.HeartbeatAt)
		assert.Equal(t, "w1", *task.WorkerID)
	}

	again, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w2", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestClaimSkipsFutureScheduled(t *testing.T) {
	q, _, _, clock := newTestQueue(t)
	ctx := context.Background()

	later := clock.Now().Add(time.Hour)
	_, _, err := q.Create(ctx, CreateInput{MissionID: "m", OrganizationID: "o", Type: TypeContact, ScheduledFor: &later})
	require.NoError(t, err)

	claimed, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, claimed)

	clock.Advance(2 * time.Hour)
	claimed, err = q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w", Limit: 5})
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestCompleteAndFailAreTerminal(t *testing.T) {
	q, _, _, _ := newTestQueue(t)
	ctx := context.Background()

	task := createTask(t, q, "k")
	_, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w", Limit: 1})
	require.NoError(t, err)

	done, err := q.Complete(ctx, task.ID, map[string]int{"found": 12})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.JSONEq(t, `{"found":12}`, string(done.Result))

	_, err = q.Fail(ctx, task.ID, "late failure")
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeTaskTerminal, ae.Code)

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status, "terminal task must not be resurrected")
}

func TestLateCompletionAfterCancelIsRejected(t *testing.T) {
	q, _, _, _ := newTestQueue(t)
	ctx := context.Background()

	task := createTask(t, q, "k")
	_, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w", Limit: 1})
	require.NoError(t, err)

	_, err = q.Cancel(ctx, task.ID)
	require.NoError(t, err)

	_, err = q.Complete(ctx, task.ID, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, CancelMessage, *got.ErrorMessage)
}

func TestCancel(t *testing.T) {
	q, _, audit, _ := newTestQueue(t)
	ctx := context.Background()

	t.Run("missing task is not found", func(t *testing.T) {
		_, err := q.Cancel(ctx, "tsk_missing")
		assert.Equal(t, 404, apperr.StatusOf(err))
	})

	t.Run("completed task conflicts", func(t *testing.T) {
		task := createTask(t, q, "completed")
		_, err := q.Complete(ctx, task.ID, nil)
		require.NoError(t, err)

		_, err = q.Cancel(ctx, task.ID)
		assert.Equal(t, 409, apperr.StatusOf(err))
	})

	t.Run("processing task becomes failed", func(t *testing.T) {
		task := createTask(t, q, "running")
		_, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w", Limit: 10})
		require.NoError(t, err)

		before := len(audit.Entries())
		cancelled, err := q.Cancel(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, cancelled.Status)
		assert.Equal(t, CancelMessage, *cancelled.ErrorMessage)
		assert.Nil(t, cancelled.ProcessingStartedAt)
		assert.Nil(t, cancelled.ScheduledFor)

		entries := audit.Entries()
		require.Len(t, entries, before+1)
		assert.Equal(t, auditlog.LevelWarn, entries[len(entries)-1].Level)
	})
}

func TestHeartbeatUpdatesProgress(t *testing.T) {
	q, _, _, clock := newTestQueue(t)
	ctx := context.Background()

	task := createTask(t, q, "hb")
	_, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w", Limit: 1})
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	require.NoError(t, q.Heartbeat(ctx, task.ID, &Progress{Current: 3, Total: 10, Label: "enriching"}))

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), *got.HeartbeatAt)
	assert.Equal(t, clock.Now(), got.UpdatedAt)
	assert.Equal(t, 3, *got.ProgressCurrent)
	assert.Equal(t, "enriching", *got.ProgressLabel)

	_, err = q.Complete(ctx, task.ID, nil)
	require.NoError(t, err)
	assert.True(t, apperr.IsKind(q.Heartbeat(ctx, task.ID, nil), apperr.KindConflict))
}

func TestRescueStuck(t *testing.T) {
	q, repo, audit, clock := newTestQueue(t)
	ctx := context.Background()

	stale := createTask(t, q, "stale")
	fresh := createTask(t, q, "fresh")
	_, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w", Limit: 2})
	require.NoError(t, err)

	now := clock.Now()
	repo.SetUpdatedAt(stale.ID, now.Add(-20*time.Minute))
	repo.SetUpdatedAt(fresh.ID, now.Add(-5*time.Minute))

	res, err := q.RescueStuck(ctx, RescueInput{OlderThanMinutes: 15})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RescuedCount)
	assert.Equal(t, now.Add(-15*time.Minute), res.Cutoff)

	got, err := q.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, now, *got.ScheduledFor)
	assert.Nil(t, got.ProcessingStartedAt)
	assert.Nil(t, got.WorkerID)
	assert.Nil(t, got.WorkerSource)
	assert.Nil(t, got.HeartbeatAt)
	assert.Equal(t, RescueMessage, *got.ErrorMessage)
	assert.Equal(t, 1, got.RetryCount)

	untouched, err := q.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, untouched.Status)

	last := audit.Entries()[len(audit.Entries())-1]
	assert.Equal(t, auditlog.LevelWarn, last.Level)
	assert.Equal(t, []string{stale.ID}, last.Details["taskIds"])
}

func TestRescueIgnoresFreshHeartbeatOnlyUpdatedAt(t *testing.T) {
	q, repo, _, clock := newTestQueue(t)
	ctx := context.Background()

	task := createTask(t, q, "hb-stale")
	_, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w", Limit: 1})
	require.NoError(t, err)

	// A heartbeat refreshes updatedAt, so the sweep leaves the task alone.
	clock.Advance(20 * time.Minute)
	require.NoError(t, q.Heartbeat(ctx, task.ID, nil))
	res, err := q.RescueStuck(ctx, RescueInput{OlderThanMinutes: 15})
	require.NoError(t, err)
	assert.Zero(t, res.RescuedCount)

	repo.SetUpdatedAt(task.ID, clock.Now().Add(-16*time.Minute))
	res, err = q.RescueStuck(ctx, RescueInput{OlderThanMinutes: 15})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RescuedCount)
}

func TestRescueClampsInputs(t *testing.T) {
	q, _, _, clock := newTestQueue(t)

	res, err := q.RescueStuck(context.Background(), RescueInput{OlderThanMinutes: 10000, Limit: -3})
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(-240*time.Minute), res.Cutoff)

	res, err = q.RescueStuck(context.Background(), RescueInput{})
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(-15*time.Minute), res.Cutoff)
}

func TestListCountsAndPayload(t *testing.T) {
	q, _, _, clock := newTestQueue(t)
	ctx := context.Background()

	for _, key := range []string{"1", "2", "3"} {
		createTask(t, q, key)
		clock.Advance(time.Second)
	}
	_, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w", Limit: 1})
	require.NoError(t, err)

	res, err := q.List(ctx, ListFilter{Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, 2, res.Counts[StatusPending])
	assert.Equal(t, 1, res.Counts[StatusProcessing])
	assert.Equal(t, 0, res.Counts[StatusFailed])
	for _, item := range res.Items {
		assert.Nil(t, item.Payload)
	}
	assert.True(t, res.Items[0].CreatedAt.After(res.Items[1].CreatedAt))

	res, err = q.List(ctx, ListFilter{IncludePayload: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.NotNil(t, res.Items[0].Payload)

	_, err = q.List(ctx, ListFilter{Status: "cancelled"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestCleanupTerminal(t *testing.T) {
	q, _, _, clock := newTestQueue(t)
	ctx := context.Background()

	old := createTask(t, q, "old")
	_, err := q.Fail(ctx, old.ID, "boom")
	require.NoError(t, err)
	createTask(t, q, "pending")

	clock.Advance(48 * time.Hour)
	n, err := q.CleanupTerminal(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = q.Get(ctx, old.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
