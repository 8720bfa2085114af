package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/port/broadcast"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/taskstore"
)

// Recovery fails tasks left in processing by a worker that stopped sending
// heartbeats. Artifacts are not resumable, so such tasks must be re-enqueued.
type Recovery struct {
	store      taskstore.Store
	hub        broadcast.Broadcaster
	staleAfter time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// NewRecovery creates a Recovery that treats heartbeats older than
// staleAfter as lost.
func NewRecovery(store taskstore.Store, hub broadcast.Broadcaster, staleAfter time.Duration, log *slog.Logger) *Recovery {
	return &Recovery{store: store, hub: hub, staleAfter: staleAfter, log: log, now: time.Now}
}

// Sweep fails every stale processing task and returns their ids.
func (r *Recovery) Sweep(ctx context.Context) ([]int64, error) {
	cutoff := r.now().Add(-r.staleAfter)
	ids, err := r.store.FailStale(ctx, cutoff, msgWorkerLost)
	if err != nil {
		return nil, fmt.Errorf("fail stale tasks: %w", err)
	}
	for _, id := range ids {
		r.log.Warn("stale task failed", "task_id", id, "heartbeat_before", cutoff)
		if r.hub == nil {
			continue
		}
		t, err := r.store.Get(ctx, id)
		if err != nil {
			continue
		}
		r.hub.BroadcastEvent(ctx, broadcast.EventTaskState, t.Status(r.now()))
	}
	if len(ids) > 0 {
		r.log.Info("stale sweep finished", "failed", len(ids))
	}
	return ids, nil
}
