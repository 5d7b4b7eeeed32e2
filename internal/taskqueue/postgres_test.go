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
	"github.com/leadforge/mission-service/internal/database/dbtest"
)

func TestPostgresRepositoryLifecycle(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := context.Background()
	q := New(NewPostgresRepository(pool), auditlog.NewPostgresAppender(pool, zerolog.Nop()), zerolog.Nop())

	first, created, err := q.Create(ctx, CreateInput{
		MissionID: "msn_pg", OrganizationID: "org_pg", Type: TypeSearch,
		Payload: map[string]string{"query": "fintech"}, IdempotencyKey: "pg-1",
	})
	require.NoError(t, err)
	assert.True(t, created)

	dup, created, err := q.Create(ctx, CreateInput{
		MissionID: "msn_pg", OrganizationID: "org_pg", Type: TypeSearch, IdempotencyKey: "pg-1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, dup.ID)

	claimed, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w1", WorkerSource: "test", Limit: 5})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, StatusProcessing, claimed[0].Status)
	assert.JSONEq(t, `{"query":"fintech"}`, string(claimed[0].Payload))

	require.NoError(t, q.Heartbeat(ctx, first.ID, &Progress{Current: 1, Total: 2, Label: "searching"}))

	done, err := q.Complete(ctx, first.ID, map[string]int{"leads": 2})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = q.Cancel(ctx, first.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	_, err = q.Cancel(ctx, "tsk_nope")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	list, err := q.List(ctx, ListFilter{OrganizationID: "org_pg", MissionID: "msn_pg"})
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Counts[StatusCompleted])
}

func TestPostgresConcurrentClaimsNeverOverlap(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := context.Background()
	q := New(NewPostgresRepository(pool), nil, zerolog.Nop())

	for i := 0; i < 30; i++ {
		_, _, err := q.Create(ctx, CreateInput{MissionID: "m", OrganizationID: "o", Type: TypeEnrich})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := map[string]string{}
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				tasks, err := q.ClaimNextPending(ctx, ClaimInput{WorkerID: worker, Limit: 3})
				if !assert.NoError(t, err) || len(tasks) == 0 {
					return
				}
				mu.Lock()
				for _, task := range tasks {
					if prev, dup := seen[task.ID]; dup {
						t.Errorf("task %s claimed by %s and %s", task.ID, prev, worker)
					}
					seen[task.ID] = worker
				}
				mu.Unlock()
			}
		}(string(rune('a' + w)))
	}
	wg.Wait()
	assert.Len(t, seen, 30)
}

func TestPostgresRescueStuck(t *testing.T) {
	pool := dbtest.NewPool(t)
	ctx := context.Background()
	q := New(NewPostgresRepository(pool), auditlog.NewPostgresAppender(pool, zerolog.Nop()), zerolog.Nop())

	stale, _, err := q.Create(ctx, CreateInput{MissionID: "m", OrganizationID: "o", Type: TypeInvestigate})
	require.NoError(t, err)
	fresh, _, err := q.Create(ctx, CreateInput{MissionID: "m", OrganizationID: "o", Type: TypeInvestigate})
	require.NoError(t, err)
	_, err = q.ClaimNextPending(ctx, ClaimInput{WorkerID: "w", Limit: 2})
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `UPDATE mission_tasks SET updated_at = NOW() - INTERVAL '20 minutes' WHERE id = $1`, stale.ID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `UPDATE mission_tasks SET updated_at = NOW() - INTERVAL '5 minutes' WHERE id = $1`, fresh.ID)
	require.NoError(t, err)

	res, err := q.RescueStuck(ctx, RescueInput{OlderThanMinutes: 15})
	require.NoError(t, err)
	require.Equal(t, 1, res.RescuedCount)
	assert.Equal(t, stale.ID, res.Tasks[0].ID)
	assert.Equal(t, StatusPending, res.Tasks[0].Status)
	assert.Equal(t, 1, res.Tasks[0].RetryCount)
	assert.Nil(t, res.Tasks[0].ProcessingStartedAt)
	assert.Nil(t, res.Tasks[0].WorkerID)
	assert.Nil(t, res.Tasks[0].WorkerSource)
	require.NotNil(t, res.Tasks[0].ScheduledFor)
	assert.WithinDuration(t, time.Now(), *res.Tasks[0].ScheduledFor, time.Minute)

	got, err := q.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
}
