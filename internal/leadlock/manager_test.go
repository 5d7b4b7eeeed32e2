package leadlock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/mission-service/internal/database/dbtest"
)

// backends returns every repository that runs without an external server.
func backends(t *testing.T) map[string]Repository {
	t.Helper()
	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"dynamo": NewDynamoRepository(newFakeDynamo(), "lead_locks"),
		"nats":   NewNATSRepository(newFakeKV()),
	}
}

func TestKeyIsURLSafeAndNormalized(t *testing.T) {
	composed := "lead:caf\u00e9"
	decomposed := "lead:cafe\u0301"

	assert.Equal(t, Key(composed), Key(decomposed))
	assert.NotContains(t, Key("https://example.com/in/a?b=c"), "/")
	assert.NotContains(t, Key("lead:1"), "=")
	assert.Equal(t, "bGVhZDox", Key("lead:1"))
	assert.NotEqual(t, Key("Lead:1"), Key("lead:1"), "case is significant")
}

func TestLockSuppression(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(repo, zerolog.Nop())
			ctx := context.Background()

			res, err := m.FilterAndLock(ctx, []string{"lead:1", "lead:2"})
			require.NoError(t, err)
			assert.Equal(t, []string{"lead:1", "lead:2"}, res.Allowed)
			assert.Empty(t, res.Skipped)

			res, err = m.FilterAndLock(ctx, []string{"lead:2", "lead:3"})
			require.NoError(t, err)
			assert.Equal(t, []string{"lead:3"}, res.Allowed)
			assert.Equal(t, []string{"lead:2"}, res.Skipped)
		})
	}
}

func TestDoneIsPermanentErrorIsRetryable(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(repo, zerolog.Nop())
			ctx := context.Background()

			_, err := m.FilterAndLock(ctx, []string{"lead:1", "lead:2"})
			require.NoError(t, err)

			require.NoError(t, m.MarkDone(ctx, []string{"lead:1"}))
			require.NoError(t, m.MarkError(ctx, []string{"lead:2"}))

			res, err := m.FilterAndLock(ctx, []string{"lead:1"})
			require.NoError(t, err)
			assert.Empty(t, res.Allowed)
			assert.Equal(t, []string{"lead:1"}, res.Skipped)

			res, err = m.FilterAndLock(ctx, []string{"lead:2"})
			require.NoError(t, err)
			assert.Equal(t, []string{"lead:2"}, res.Allowed)

			st, err := m.Status(ctx, "lead:2")
			require.NoError(t, err)
			assert.Equal(t, StatusQueued, st.Status)
		})
	}
}

func TestClearReleases(t *testing.T) {
	for name, repo := range backends(t) {
		t.Run(name, func(t *testing.T) {
			m := NewManager(repo, zerolog.Nop())
			ctx := context.Background()

			_, err := m.FilterAndLock(ctx, []string{"lead:9"})
			require.NoError(t, err)
			require.NoError(t, m.MarkDone(ctx, []string{"lead:9"}))
			require.NoError(t, m.Clear(ctx, []string{"lead:9"}))

			st, err := m.Status(ctx, "lead:9")
			require.NoError(t, err)
			assert.Nil(t, st)

			res, err := m.FilterAndLock(ctx, []string{"lead:9"})
			require.NoError(t, err)
			assert.Equal(t, []string{"lead:9"}, res.Allowed)
		})
	}
}

func TestDuplicatesWithinOneCall(t *testing.T) {
	m := NewManager(NewMemoryRepository(), zerolog.Nop())

	res, err := m.FilterAndLock(context.Background(), []string{"lead:a", "lead:b", "lead:a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lead:a", "lead:b"}, res.Allowed)
	assert.Equal(t, []string{"lead:a"}, res.Skipped)
}

func TestEmptyInput(t *testing.T) {
	m := NewManager(NewMemoryRepository(), zerolog.Nop())
	res, err := m.FilterAndLock(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Allowed)
	assert.Empty(t, res.Skipped)
}

func TestConcurrentOverlapFirstWins(t *testing.T) {
	m := NewManager(NewMemoryRepository(), zerolog.Nop())
	ctx := context.Background()

	refs := []string{"lead:1", "lead:2", "lead:3", "lead:4"}
	const callers = 16

	var mu sync.Mutex
	wins := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.FilterAndLock(ctx, refs)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			for _, r := range res.Allowed {
				wins[r]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, r := range refs {
		assert.Equal(t, 1, wins[r], "exactly one caller must win %s", r)
	}
}

func TestPostgresRepository(t *testing.T) {
	pool := dbtest.NewPool(t)
	m := NewManager(NewPostgresRepository(pool), zerolog.Nop())
	ctx := context.Background()

	res, err := m.FilterAndLock(ctx, []string{"lead:1", "lead:2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lead:1", "lead:2"}, res.Allowed)

	res, err = m.FilterAndLock(ctx, []string{"lead:2", "lead:3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lead:3"}, res.Allowed)
	assert.Equal(t, []string{"lead:2"}, res.Skipped)

	require.NoError(t, m.MarkDone(ctx, []string{"lead:1"}))
	require.NoError(t, m.MarkError(ctx, []string{"lead:2"}))

	res, err = m.FilterAndLock(ctx, []string{"lead:1", "lead:2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"lead:2"}, res.Allowed)
	assert.Equal(t, []string{"lead:1"}, res.Skipped)

	// Overlapping concurrent batches: each key is won exactly once.
	refs := []string{"lead:x", "lead:y", "lead:z"}
	var mu sync.Mutex
	wins := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(reverse bool) {
			defer wg.Done()
			batch := append([]string(nil), refs...)
			if reverse {
				batch[0], batch[2] = batch[2], batch[0]
			}
			r, err := m.FilterAndLock(ctx, batch)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			for _, ref := range r.Allowed {
				wins[ref]++
			}
			mu.Unlock()
		}(i%2 == 0)
	}
	wg.Wait()
	for _, ref := range refs {
		assert.Equal(t, 1, wins[ref])
	}
}

// ctxSetter fails writes on a done context, like a network store does.
type ctxSetter struct {
	mu    sync.Mutex
	set   []Lock
	fails bool
}

func (s *ctxSetter) SetStatus(ctx context.Context, locks []Lock, status Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.fails {
		return errors.New("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range locks {
		l.Status = status
		s.set = append(s.set, l)
	}
	return nil
}

func TestRollbackOutlivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	setter := &ctxSetter{}
	cause := errors.New("chunk failed")
	err := rollback(ctx, setter, []Lock{{Key: "k1"}, {Key: "k2"}}, cause)
	assert.Same(t, cause, err)
	require.Len(t, setter.set, 2)
	assert.Equal(t, StatusError, setter.set[0].Status)
}

func TestRollbackReportsReleaseFailure(t *testing.T) {
	cause := errors.New("chunk failed")
	err := rollback(context.Background(), &ctxSetter{fails: true}, []Lock{{Key: "k1"}}, cause)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "release 1 acquired lead locks: store unavailable")

	assert.Same(t, cause, rollback(context.Background(), &ctxSetter{fails: true}, nil, cause))
}
