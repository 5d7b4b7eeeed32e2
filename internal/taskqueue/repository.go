package taskqueue

import (
	"context"
	"encoding/json"
	"time"
)

// Repository is the persistence contract for tasks. Implementations must make
// Insert fail with ErrDuplicateKey when (organization, idempotency key) is
// already taken, and must make ClaimPending hand each task to one caller only.
type Repository interface {
	Insert(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	GetByIdempotencyKey(ctx context.Context, organizationID, key string) (*Task, error)

	// ClaimPending moves up to in.Limit due pending tasks, oldest first, to
	// processing and returns them.
	ClaimPending(ctx context.Context, in ClaimInput, now time.Time) ([]*Task, error)

	// Finish writes a terminal status on a non-terminal task. Returns
	// ErrTerminal when the task has already finished.
	Finish(ctx context.Context, id string, status TaskStatus, result json.RawMessage, errMsg *string, now time.Time) (*Task, error)

	// Cancel marks any task that is not completed as failed with msg.
	// Returns ErrTaskCompleted for completed tasks.
	Cancel(ctx context.Context, id, msg string, now time.Time) (*Task, error)

	Heartbeat(ctx context.Context, id string, progress *Progress, now time.Time) error

	List(ctx context.Context, filter ListFilter) ([]*Task, error)
	CountByStatus(ctx context.Context, filter ListFilter) (map[TaskStatus]int, error)

	// RescueStuck returns processing tasks last updated before cutoff to
	// pending, oldest first, up to limit.
	RescueStuck(ctx context.Context, cutoff time.Time, limit int, now time.Time) ([]*Task, error)

	// DeleteTerminalBefore removes finished tasks last updated before cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
