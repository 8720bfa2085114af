// Package taskstore defines the persistence port for batch tasks.
package taskstore

import (
	"context"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
)

// ClaimResult is the outcome of a claim attempt.
type ClaimResult int

const (
	Claimed ClaimResult = iota
	Busy
	Missing
)

func (r ClaimResult) String() string {
	switch r {
	case Claimed:
		return "claimed"
	case Busy:
		return "busy"
	default:
		return "missing"
	}
}

// CancelResult is the outcome of a cancellation request.
type CancelResult int

const (
	CancelOK CancelResult = iota
	CancelAlreadyTerminal
	CancelMissing
)

// Store persists tasks. Every method is atomic and guarded by the task state:
// updates that would move a task backwards or touch a terminal task fail with
// domain.ErrConflict. Connectivity failures wrap domain.ErrUnavailable; for
// writes only when the statement is known not to have been applied.
//
// The writes a worker repeats after a lost acknowledgement are idempotent:
// Claim, BumpProgress, Heartbeat and the terminal transitions.
type Store interface {
	// Create validates the request bounds and inserts a pending task.
	Create(ctx context.Context, req *task.CreateRequest) (*task.Task, error)
	// Claim moves a pending task to processing on behalf of workerID. A task
	// already processing under the same workerID is reported as Claimed.
	Claim(ctx context.Context, id int64, workerID string) (ClaimResult, *task.Task, error)
	// SetTotal records the record count. Allowed only while processing.
	SetTotal(ctx context.Context, id int64, total int64) error
	// BumpProgress records the outcome of batch: it adds to the processed and
	// failed counters and refreshes the heartbeat. The processed counter never
	// exceeds the total. Batches are recorded in increasing order and a batch
	// at or below the last recorded one is accepted without change.
	BumpProgress(ctx context.Context, id int64, batch int, processed, failed int64) error
	// Heartbeat refreshes the heartbeat of a processing task and returns its
	// cancellation flag.
	Heartbeat(ctx context.Context, id int64) (cancelRequested bool, err error)
	// Complete, Fail and MarkCancelled end a processing task. They succeed
	// without change when the task is already in the target state.
	Complete(ctx context.Context, id int64, artifactRef string) error
	Fail(ctx context.Context, id int64, message string) error
	MarkCancelled(ctx context.Context, id int64) error
	// RequestCancel sets the cancellation flag of a non-terminal task.
	RequestCancel(ctx context.Context, id int64) (CancelResult, error)
	Get(ctx context.Context, id int64) (*task.Task, error)
	List(ctx context.Context, filter task.ListFilter) ([]task.Task, error)
	// ListPending returns up to limit pending task ids, oldest first.
	ListPending(ctx context.Context, limit int) ([]int64, error)
	// FailStale fails processing tasks whose heartbeat is older than olderThan
	// and returns their ids.
	FailStale(ctx context.Context, olderThan time.Time, message string) ([]int64, error)
	// PruneTerminal deletes terminal tasks completed before the cutoff and
	// returns them so their artifacts can be removed.
	PruneTerminal(ctx context.Context, before time.Time) ([]task.Task, error)
}
