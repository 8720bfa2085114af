package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/taskstore"
)

const taskColumns = `id, type, state, COALESCE(created_by, ''), batch_size, filters, date_from, date_to,
	total_records, processed_records, failed_records, COALESCE(artifact_ref, ''), COALESCE(error_message, ''),
	cancel_requested, COALESCE(claimed_by, ''), heartbeat_at, created_at, started_at, completed_at`

const defaultListLimit = 100

// TaskStore implements taskstore.Store using PostgreSQL. Every state change
// is a single UPDATE guarded by the expected current state.
type TaskStore struct {
	pool *pgxpool.Pool
}

var _ taskstore.Store = (*TaskStore)(nil)

// NewTaskStore creates a new TaskStore backed by the given connection pool.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

func (s *TaskStore) Create(ctx context.Context, req *task.CreateRequest) (*task.Task, error) {
	w, err := req.Validate()
	if err != nil {
		return nil, err
	}
	filters := req.Filters
	if filters == nil {
		filters = task.Filters{}
	}
	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("marshal filters: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO worker_tasks (type, state, created_by, batch_size, filters, date_from, date_to)
		 VALUES ($1, 'pending', $2, $3, $4, $5, $6)
		 RETURNING `+taskColumns,
		string(req.Type), nullIfEmpty(req.CreatedBy), req.BatchSize, filtersJSON, nullTime(w.From), nullTime(w.To))

	t, err := scanTask(row)
	if err != nil {
		return nil, wrapWriteErr(err, "create task")
	}
	return &t, nil
}

func (s *TaskStore) Claim(ctx context.Context, id int64, workerID string) (taskstore.ClaimResult, *task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE worker_tasks
		 SET state = 'processing', started_at = now(), heartbeat_at = now(), claimed_by = $2
		 WHERE id = $1 AND state = 'pending'
		 RETURNING `+taskColumns, id, workerID)

	t, err := scanTask(row)
	if err == nil {
		return taskstore.Claimed, &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return taskstore.Missing, nil, wrapWriteErr(err, "claim task %d", id)
	}

	cur, err := s.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return taskstore.Missing, nil, nil
	case err != nil:
		return taskstore.Missing, nil, err
	case cur.State == task.StateProcessing && cur.ClaimedBy == workerID:
		// Our own claim whose acknowledgement was lost.
		return taskstore.Claimed, cur, nil
	}
	return taskstore.Busy, nil, nil
}

func (s *TaskStore) SetTotal(ctx context.Context, id, total int64) error {
	return s.guardedExec(ctx, "set total of task %d", id,
		`UPDATE worker_tasks SET total_records = $2, heartbeat_at = now()
		 WHERE id = $1 AND state = 'processing' AND processed_records = 0`, id, total)
}

func (s *TaskStore) BumpProgress(ctx context.Context, id int64, batch int, processed, failed int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE worker_tasks
		 SET processed_records = processed_records + $3,
		     failed_records = failed_records + $4,
		     next_batch = $2 + 1,
		     heartbeat_at = now()
		 WHERE id = $1 AND state = 'processing' AND next_batch <= $2
		   AND processed_records + $3 <= total_records`,
		id, batch, processed, failed)
	if err != nil {
		return wrapWriteErr(err, "bump progress of task %d", id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var (
		state string
		next  int
	)
	err = s.pool.QueryRow(ctx, `SELECT state, next_batch FROM worker_tasks WHERE id = $1`, id).Scan(&state, &next)
	if err != nil {
		return wrapErr(err, "bump progress of task %d", id)
	}
	if task.State(state) == task.StateProcessing && next > batch {
		return nil
	}
	return fmt.Errorf("bump progress of task %d: %w", id, domain.ErrConflict)
}

func (s *TaskStore) Heartbeat(ctx context.Context, id int64) (bool, error) {
	var cancelRequested bool
	err := s.pool.QueryRow(ctx,
		`UPDATE worker_tasks SET heartbeat_at = now()
		 WHERE id = $1 AND state = 'processing'
		 RETURNING cancel_requested`, id).Scan(&cancelRequested)
	if err == nil {
		return cancelRequested, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, wrapErr(err, "heartbeat task %d", id)
	}
	exists, err := s.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("heartbeat task %d: %w", id, domain.ErrNotFound)
	}
	return false, fmt.Errorf("heartbeat task %d: %w", id, domain.ErrConflict)
}

func (s *TaskStore) Complete(ctx context.Context, id int64, artifactRef string) error {
	return s.finish(ctx, task.StateCompleted, "complete task %d", id,
		`UPDATE worker_tasks SET state = 'completed', artifact_ref = $2, completed_at = now()
		 WHERE id = $1 AND state = 'processing'`, id, artifactRef)
}

func (s *TaskStore) Fail(ctx context.Context, id int64, message string) error {
	return s.finish(ctx, task.StateFailed, "fail task %d", id,
		`UPDATE worker_tasks SET state = 'failed', error_message = $2, completed_at = now()
		 WHERE id = $1 AND state = 'processing'`, id, message)
}

func (s *TaskStore) MarkCancelled(ctx context.Context, id int64) error {
	return s.finish(ctx, task.StateCancelled, "cancel task %d", id,
		`UPDATE worker_tasks SET state = 'cancelled', cancel_requested = true, completed_at = now()
		 WHERE id = $1 AND state = 'processing'`, id)
}

func (s *TaskStore) RequestCancel(ctx context.Context, id int64) (taskstore.CancelResult, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE worker_tasks SET cancel_requested = true
		 WHERE id = $1 AND state IN ('pending', 'processing')`, id)
	if err != nil {
		return taskstore.CancelMissing, wrapErr(err, "request cancel of task %d", id)
	}
	if tag.RowsAffected() == 1 {
		return taskstore.CancelOK, nil
	}
	exists, err := s.exists(ctx, id)
	if err != nil {
		return taskstore.CancelMissing, err
	}
	if exists {
		return taskstore.CancelAlreadyTerminal, nil
	}
	return taskstore.CancelMissing, nil
}

func (s *TaskStore) Get(ctx context.Context, id int64) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM worker_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, wrapErr(err, "get task %d", id)
	}
	return &t, nil
}

func (s *TaskStore) List(ctx context.Context, filter task.ListFilter) ([]task.Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM worker_tasks
		 WHERE ($1 = '' OR state = $1) AND ($2 = '' OR type = $2)
		 ORDER BY id DESC LIMIT $3`,
		string(filter.State), string(filter.Type), limit)
	if err != nil {
		return nil, wrapErr(err, "list tasks")
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrapErr(err, "scan task")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err, "list tasks")
	}
	return orEmpty(tasks), nil
}

func (s *TaskStore) ListPending(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM worker_tasks WHERE state = 'pending' ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, wrapErr(err, "list pending tasks")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapErr(err, "list pending tasks")
	}
	return ids, nil
}

func (s *TaskStore) FailStale(ctx context.Context, olderThan time.Time, message string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE worker_tasks SET state = 'failed', error_message = $2, completed_at = now()
		 WHERE state = 'processing' AND heartbeat_at < $1
		 RETURNING id`, olderThan, message)
	if err != nil {
		return nil, wrapErr(err, "fail stale tasks")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapErr(err, "fail stale tasks")
	}
	return ids, nil
}

func (s *TaskStore) PruneTerminal(ctx context.Context, before time.Time) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM worker_tasks
		 WHERE state IN ('completed', 'failed', 'cancelled') AND completed_at < $1
		 RETURNING `+taskColumns, before)
	if err != nil {
		return nil, wrapErr(err, "prune tasks")
	}
	defer rows.Close()

	var pruned []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrapErr(err, "scan pruned task")
		}
		pruned = append(pruned, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err, "prune tasks")
	}
	return pruned, nil
}

// Ping reports whether the database is reachable.
func (s *TaskStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return wrapErr(err, "ping")
	}
	return nil
}

func (s *TaskStore) exists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM worker_tasks WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, wrapErr(err, "check task %d", id)
	}
	return ok, nil
}

// guardedExec runs a state-guarded UPDATE. When no row matches it reports
// domain.ErrNotFound for a missing task and domain.ErrConflict otherwise.
func (s *TaskStore) guardedExec(ctx context.Context, format string, id int64, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return wrapWriteErr(err, format, id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	exists, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf(format+": %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf(format+": %w", id, domain.ErrConflict)
}

// finish runs a terminal transition. A task already in target is left as it
// is and reported as success.
func (s *TaskStore) finish(ctx context.Context, target task.State, format string, id int64, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return wrapWriteErr(err, format, id)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var state string
	if err := s.pool.QueryRow(ctx, `SELECT state FROM worker_tasks WHERE id = $1`, id).Scan(&state); err != nil {
		return wrapErr(err, format, id)
	}
	if task.State(state) == target {
		return nil
	}
	return fmt.Errorf(format+": %w", id, domain.ErrConflict)
}

func scanTask(row scannable) (task.Task, error) {
	var (
		t           task.Task
		typ, state  string
		filtersJSON []byte
	)
	err := row.Scan(&t.ID, &typ, &state, &t.CreatedBy, &t.BatchSize, &filtersJSON, &t.DateFrom, &t.DateTo,
		&t.TotalRecords, &t.ProcessedRecords, &t.FailedRecords, &t.ArtifactRef, &t.ErrorMessage,
		&t.CancelRequested, &t.ClaimedBy, &t.HeartbeatAt, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		return t, err
	}
	t.Type = task.Type(typ)
	t.State = task.State(state)
	if len(filtersJSON) > 0 {
		if err := json.Unmarshal(filtersJSON, &t.Filters); err != nil {
			return t, fmt.Errorf("unmarshal filters: %w", err)
		}
	}
	return t, nil
}
