package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/tasktype"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/artifact"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/cache"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/messagequeue"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/taskstore"
)

// Listing bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// TaskService is the control surface: it validates and enqueues tasks,
// reports status, and requests cancellation. It never executes tasks.
type TaskService struct {
	store     taskstore.Store
	queue     messagequeue.Queue
	artifacts artifact.Store
	cache     cache.Cache
	cacheTTL  time.Duration
	now       func() time.Time
}

// NewTaskService creates a TaskService. queue may be nil, in which case
// workers discover new tasks by polling.
func NewTaskService(store taskstore.Store, queue messagequeue.Queue, artifacts artifact.Store) *TaskService {
	return &TaskService{store: store, queue: queue, artifacts: artifacts, now: time.Now}
}

// SetCache enables caching of terminal task snapshots.
func (s *TaskService) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	s.cacheTTL = ttl
}

// Enqueue validates req, persists a pending task and announces it to the
// workers. A failed announcement is logged; the task is still returned and
// is picked up by the workers' pending-task poll.
func (s *TaskService) Enqueue(ctx context.Context, req *task.CreateRequest) (*task.Task, error) {
	w, err := req.Validate()
	if err != nil {
		return nil, err
	}
	if _, err := tasktype.Resolve(req.Type, req.Filters, w); err != nil {
		return nil, err
	}

	t, err := s.store.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.publish(ctx, messagequeue.SubjectTaskCreated, messagequeue.TaskCreatedPayload{
		TaskID: t.ID,
		Type:   string(t.Type),
	})
	slog.InfoContext(ctx, "task enqueued", "task_id", t.ID, "type", t.Type, "batch_size", t.BatchSize)
	return t, nil
}

// Status returns the derived progress view of task id.
func (s *TaskService) Status(ctx context.Context, id int64) (*task.StatusView, error) {
	t, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	v := t.Status(s.now())
	return &v, nil
}

// Detail returns the full snapshot of task id.
func (s *TaskService) Detail(ctx context.Context, id int64) (*task.Task, error) {
	return s.snapshot(ctx, id)
}

// Cancel requests cancellation of task id. It returns domain.ErrNotFound for
// unknown tasks and domain.ErrAlreadyTerminal for finished ones; the
// cancellation takes effect at the runtime's next batch boundary.
func (s *TaskService) Cancel(ctx context.Context, id int64) error {
	res, err := s.store.RequestCancel(ctx, id)
	if err != nil {
		return fmt.Errorf("cancel task %d: %w", id, err)
	}
	switch res {
	case taskstore.CancelMissing:
		return fmt.Errorf("task %d: %w", id, domain.ErrNotFound)
	case taskstore.CancelAlreadyTerminal:
		return fmt.Errorf("task %d: %w", id, domain.ErrAlreadyTerminal)
	}

	s.publish(ctx, messagequeue.SubjectTaskCancel, messagequeue.TaskCancelPayload{TaskID: id})
	slog.InfoContext(ctx, "task cancellation requested", "task_id", id)
	return nil
}

// List returns tasks newest first.
func (s *TaskService) List(ctx context.Context, filter task.ListFilter) ([]task.Task, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, fmt.Errorf("invalid state %q: %w", filter.State, domain.ErrValidation)
	}
	if filter.Type != "" {
		if _, err := task.ParseType(string(filter.Type)); err != nil {
			return nil, err
		}
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultListLimit
	case filter.Limit > MaxListLimit:
		filter.Limit = MaxListLimit
	}
	return s.store.List(ctx, filter)
}

// Artifact opens the result file of a completed task.
func (s *TaskService) Artifact(ctx context.Context, id int64) (io.ReadCloser, *task.Task, error) {
	t, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if t.State != task.StateCompleted {
		return nil, nil, fmt.Errorf("task %d is %s, not completed: %w", id, t.State, domain.ErrConflict)
	}
	rc, err := s.artifacts.Open(ctx, t.ArtifactRef)
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}
	return rc, t, nil
}

// snapshot reads task id, serving terminal tasks from the cache. Terminal
// tasks never change, so a cached copy is always current.
func (s *TaskService) snapshot(ctx context.Context, id int64) (*task.Task, error) {
	key := snapshotKey(id)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var t task.Task
			if err := json.Unmarshal(data, &t); err == nil {
				return &t, nil
			}
		}
	}

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && t.State.Terminal() {
		if data, err := json.Marshal(t); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
				slog.WarnContext(ctx, "cache task snapshot", "task_id", id, "error", err)
			}
		}
	}
	return t, nil
}

func (s *TaskService) publish(ctx context.Context, subject string, payload any) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.ErrorContext(ctx, "publish to queue", "subject", subject, "error", err)
	}
}

func snapshotKey(id int64) string {
	return "task." + strconv.FormatInt(id, 10)
}
