package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/port/artifact"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/cache"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/taskstore"
)

// Retention deletes terminal tasks older than a maximum age together with
// their artifacts and cached snapshots.
type Retention struct {
	store     taskstore.Store
	artifacts artifact.Store
	cache     cache.Cache
	maxAge    time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// NewRetention creates a Retention policy. cache may be nil.
func NewRetention(store taskstore.Store, artifacts artifact.Store, c cache.Cache, maxAge time.Duration, log *slog.Logger) *Retention {
	return &Retention{store: store, artifacts: artifacts, cache: c, maxAge: maxAge, log: log, now: time.Now}
}

// Prune removes expired tasks and returns how many were deleted. Artifact
// removal failures are logged and do not stop the prune.
func (r *Retention) Prune(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.maxAge)
	pruned, err := r.store.PruneTerminal(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune terminal tasks: %w", err)
	}
	for i := range pruned {
		t := &pruned[i]
		if t.ArtifactRef != "" {
			if err := r.artifacts.Remove(ctx, t.ArtifactRef); err != nil {
				r.log.Warn("remove artifact", "task_id", t.ID, "artifact_ref", t.ArtifactRef, "error", err)
			}
		}
		if r.cache != nil {
			_ = r.cache.Delete(ctx, snapshotKey(t.ID))
		}
	}
	r.log.Info("retention prune finished", "deleted", len(pruned), "cutoff", cutoff)
	return len(pruned), nil
}
