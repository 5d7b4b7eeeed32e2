package workers

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/mission-service/internal/pipeline"
	"github.com/leadforge/mission-service/internal/taskqueue"
)

func newQueue(t *testing.T) *taskqueue.Queue {
	t.Helper()
	return taskqueue.New(taskqueue.NewMemoryRepository(), nil, zerolog.Nop())
}

func enqueue(t *testing.T, q *taskqueue.Queue, typ taskqueue.TaskType, key string) *taskqueue.Task {
	t.Helper()
	task, _, err := q.Create(context.Background(), taskqueue.CreateInput{
		MissionID:      "msn_1",
		OrganizationID: "org_1",
		Type:           typ,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return task
}

func TestTickCompletesAndFails(t *testing.T) {
	q := newQueue(t)
	ok := enqueue(t, q, taskqueue.TypeSearch, "a")
	bad := enqueue(t, q, taskqueue.TypeEnrich, "b")

	handlers := map[taskqueue.TaskType]pipeline.Handler{
		taskqueue.TypeSearch: func(ctx context.Context, task *taskqueue.Task) (any, error) {
			return map[string]int{"found": 3}, nil
		},
		taskqueue.TypeEnrich: func(ctx context.Context, task *taskqueue.Task) (any, error) {
			return nil, errors.New("enrichment provider unavailable")
		},
	}
	p := New(q, handlers, Config{WorkerID: "wrk_test"}, zerolog.Nop())

	res, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Claimed)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Failed)

	got, err := q.Get(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, got.Status)
	var result map[string]int
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, 3, result["found"])

	got, err = q.Get(context.Background(), bad.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "enrichment provider unavailable", *got.ErrorMessage)
}

func TestTickUnknownTypeFails(t *testing.T) {
	q := newQueue(t)
	task := enqueue(t, q, taskqueue.TypeGenerateReport, "r")

	// Types is set explicitly so the task is claimed without a handler.
	p := New(q, map[taskqueue.TaskType]pipeline.Handler{}, Config{
		WorkerID: "wrk_test",
		Types:    []taskqueue.TaskType{taskqueue.TypeGenerateReport},
	}, zerolog.Nop())

	res, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got, err := q.Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "no handler registered for type GENERATE_REPORT", *got.ErrorMessage)
}

func TestTickTimeout(t *testing.T) {
	q := newQueue(t)
	task := enqueue(t, q, taskqueue.TypeSearch, "slow")

	handlers := map[taskqueue.TaskType]pipeline.Handler{
		taskqueue.TypeSearch: func(ctx context.Context, task *taskqueue.Task) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	p := New(q, handlers, Config{WorkerID: "wrk_test", TaskTimeout: 20 * time.Millisecond}, zerolog.Nop())

	res, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got, err := q.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusFailed, got.Status)
	assert.Contains(t, *got.ErrorMessage, "task timed out after 20ms")
}

func TestTickRecoversPanic(t *testing.T) {
	q := newQueue(t)
	task := enqueue(t, q, taskqueue.TypeSearch, "panic")

	handlers := map[taskqueue.TaskType]pipeline.Handler{
		taskqueue.TypeSearch: func(ctx context.Context, task *taskqueue.Task) (any, error) {
			panic("boom")
		},
	}
	p := New(q, handlers, Config{WorkerID: "wrk_test"}, zerolog.Nop())

	res, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got, err := q.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "handler panic: boom", *got.ErrorMessage)
}

func TestTickRespectsConcurrency(t *testing.T) {
	q := newQueue(t)
	for _, key := range []string{"1", "2", "3", "4", "5"} {
		enqueue(t, q, taskqueue.TypeSearch, key)
	}

	var running, peak atomic.Int32
	handlers := map[taskqueue.TaskType]pipeline.Handler{
		taskqueue.TypeSearch: func(ctx context.Context, task *taskqueue.Task) (any, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				cur := peak.Load()
				if n <= cur || peak.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return nil, nil
		},
	}
	p := New(q, handlers, Config{WorkerID: "wrk_test", BatchSize: 5, Concurrency: 2}, zerolog.Nop())

	res, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Completed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestLateCompletionAfterCancel(t *testing.T) {
	q := newQueue(t)
	task := enqueue(t, q, taskqueue.TypeSearch, "cancelled")

	handlers := map[taskqueue.TaskType]pipeline.Handler{
		taskqueue.TypeSearch: func(ctx context.Context, task *taskqueue.Task) (any, error) {
			_, err := q.Cancel(ctx, task.ID)
			require.NoError(t, err)
			return map[string]bool{"done": true}, nil
		},
	}
	p := New(q, handlers, Config{WorkerID: "wrk_test"}, zerolog.Nop())

	res, err := p.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, taskqueue.StatusFailed, res.Tasks[0].Status)
	assert.Equal(t, taskqueue.CancelMessage, res.Tasks[0].Error)

	got, err := q.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusFailed, got.Status)
	assert.Nil(t, got.Result)
}

func TestHeartbeatWhileRunning(t *testing.T) {
	q := newQueue(t)
	task := enqueue(t, q, taskqueue.TypeSearch, "hb")

	handlers := map[taskqueue.TaskType]pipeline.Handler{
		taskqueue.TypeSearch: func(ctx context.Context, task *taskqueue.Task) (any, error) {
			time.Sleep(60 * time.Millisecond)
			return nil, nil
		},
	}
	p := New(q, handlers, Config{WorkerID: "wrk_test", HeartbeatInterval: 10 * time.Millisecond}, zerolog.Nop())

	_, err := p.Tick(context.Background())
	require.NoError(t, err)

	got, err := q.Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.HeartbeatAt)
	require.NotNil(t, got.ProcessingStartedAt)
	assert.True(t, got.HeartbeatAt.After(*got.ProcessingStartedAt))
}

func TestTickEmptyQueue(t *testing.T) {
	p := New(newQueue(t), map[taskqueue.TaskType]pipeline.Handler{}, Config{WorkerID: "wrk_test"}, zerolog.Nop())
	res, err := p.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
	assert.Empty(t, res.Tasks)
}

func TestStartStop(t *testing.T) {
	q := newQueue(t)
	task := enqueue(t, q, taskqueue.TypeSearch, "loop")

	handlers := map[taskqueue.TaskType]pipeline.Handler{
		taskqueue.TypeSearch: func(ctx context.Context, task *taskqueue.Task) (any, error) {
			return nil, nil
		},
	}
	p := New(q, handlers, Config{WorkerID: "wrk_test", PollInterval: 5 * time.Millisecond}, zerolog.Nop())
	p.Start(context.Background())

	require.Eventually(t, func() bool {
		got, err := q.Get(context.Background(), task.ID)
		return err == nil && got.Status == taskqueue.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
}
