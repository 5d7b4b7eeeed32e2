// Package leadlock keeps two workers from processing the same lead at the
// same time. A lock in state queued or done suppresses admission; a lock in
// state error does not, so failed leads are picked up again on the next run.
package leadlock

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
)

type Status string

const (
	StatusQueued Status = "queued"
	StatusDone   Status = "done"
	StatusError  Status = "error"
)

// Suppresses reports whether a lock in this state blocks new admission.
func (s Status) Suppresses() bool {
	return s == StatusQueued || s == StatusDone
}

// Lock is one lead lock document.
type Lock struct {
	Key       string    `json:"key" dynamodbav:"lockKey"`
	LeadRef   string    `json:"leadRef" dynamodbav:"leadRef"`
	Status    Status    `json:"status" dynamodbav:"status"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// ErrNotFound is returned by Repository.Get for an unknown key.
var ErrNotFound = errors.New("lead lock not found")

// Repository is the lock store. TryLock must be atomic for the batch it is
// given where the backend allows it: for any key, of two overlapping
// concurrent calls exactly one acquires.
type Repository interface {
	// TryLock sets every lock whose key is absent or in error to queued and
	// returns the keys it acquired.
	TryLock(ctx context.Context, locks []Lock) (map[string]bool, error)
	// SetStatus writes status for each lock, creating missing documents.
	SetStatus(ctx context.Context, locks []Lock, status Status) error
	Clear(ctx context.Context, keys []string) error
	Get(ctx context.Context, key string) (*Lock, error)
}

// Key derives the store key for a lead reference: the NFC form, base64url
// encoded without padding.
func Key(leadRef string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(norm.NFC.String(leadRef)))
}

// rollbackTimeout bounds the release of keys taken by a batch that failed
// part way.
const rollbackTimeout = 10 * time.Second

// statusSetter is the write half of Repository.
type statusSetter interface {
	SetStatus(ctx context.Context, locks []Lock, status Status) error
}

// rollback releases the keys a failed batch already took to error, so they
// stay retryable. It runs detached from ctx, which is often what failed.
// The returned error is cause, joined with the release error if any.
func rollback(ctx context.Context, repo statusSetter, taken []Lock, cause error) error {
	if len(taken) == 0 {
		return cause
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := repo.SetStatus(rctx, taken, StatusError); err != nil {
		return errors.Join(cause, fmt.Errorf("release %d acquired lead locks: %w", len(taken), err))
	}
	return cause
}

// Result partitions the input of FilterAndLock. Both slices keep input order.
type Result struct {
	Allowed []string `json:"allowed"`
	Skipped []string `json:"skipped"`
}

type Manager struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewManager(repo Repository, logger zerolog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		logger: logger.With().Str("component", "leadlock").Logger(),
		now:    time.Now,
	}
}

// FilterAndLock acquires the lock for each lead that nobody holds and reports
// the rest as skipped. A reference repeated in the same call is skipped after
// its first occurrence.
func (m *Manager) FilterAndLock(ctx context.Context, leadRefs []string) (Result, error) {
	res := Result{Allowed: []string{}, Skipped: []string{}}
	if len(leadRefs) == 0 {
		return res, nil
	}

	now := m.now().UTC()
	seen := make(map[string]bool, len(leadRefs))
	keys := make([]string, len(leadRefs))
	locks := make([]Lock, 0, len(leadRefs))
	for i, ref := range leadRefs {
		k := Key(ref)
		keys[i] = k
		if seen[k] {
			continue
		}
		seen[k] = true
		locks = append(locks, Lock{Key: k, LeadRef: ref, Status: StatusQueued, UpdatedAt: now})
	}

	acquired, err := m.repo.TryLock(ctx, locks)
	if err != nil {
		m.logger.Error().Err(err).Int("leads", len(locks)).Msg("Lead lock batch failed")
		return Result{}, fmt.Errorf("lock leads: %w", err)
	}

	granted := make(map[string]bool, len(acquired))
	for i, ref := range leadRefs {
		k := keys[i]
		if acquired[k] && !granted[k] {
			granted[k] = true
			res.Allowed = append(res.Allowed, ref)
			continue
		}
		res.Skipped = append(res.Skipped, ref)
	}

	m.logger.Debug().
		Int("allowed", len(res.Allowed)).
		Int("skipped", len(res.Skipped)).
		Msg("Filtered leads")
	return res, nil
}

// MarkDone records that the leads were processed. They stay suppressed
// until cleared.
func (m *Manager) MarkDone(ctx context.Context, leadRefs []string) error {
	return m.setStatus(ctx, leadRefs, StatusDone)
}

// MarkError records a failed attempt. The leads become eligible again.
func (m *Manager) MarkError(ctx context.Context, leadRefs []string) error {
	return m.setStatus(ctx, leadRefs, StatusError)
}

// Clear deletes the locks so the leads can be processed from scratch.
func (m *Manager) Clear(ctx context.Context, leadRefs []string) error {
	if len(leadRefs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(leadRefs))
	for _, ref := range leadRefs {
		keys = append(keys, Key(ref))
	}
	if err := m.repo.Clear(ctx, dedupe(keys)); err != nil {
		return fmt.Errorf("clear lead locks: %w", err)
	}
	return nil
}

// Status returns the current lock state of a lead, or nil if there is none.
func (m *Manager) Status(ctx context.Context, leadRef string) (*Lock, error) {
	l, err := m.repo.Get(ctx, Key(leadRef))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return l, err
}

func (m *Manager) setStatus(ctx context.Context, leadRefs []string, status Status) error {
	if len(leadRefs) == 0 {
		return nil
	}
	now := m.now().UTC()
	seen := make(map[string]bool, len(leadRefs))
	locks := make([]Lock, 0, len(leadRefs))
	for _, ref := range leadRefs {
		k := Key(ref)
		if seen[k] {
			continue
		}
		seen[k] = true
		locks = append(locks, Lock{Key: k, LeadRef: ref, Status: status, UpdatedAt: now})
	}
	if err := m.repo.SetStatus(ctx, locks, status); err != nil {
		return fmt.Errorf("mark leads %s: %w", status, err)
	}
	return nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
