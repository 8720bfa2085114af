package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	cfotel "github.com/Dm1try555/banister-backend-sub000/internal/adapter/otel"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/tasktype"
	"github.com/Dm1try555/banister-backend-sub000/internal/logger"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/artifact"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/broadcast"
	sourceport "github.com/Dm1try555/banister-backend-sub000/internal/port/source"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/taskstore"
	"github.com/Dm1try555/banister-backend-sub000/internal/resilience"
)

// Messages recorded on tasks the runtime could not finish itself.
const (
	msgWorkerLost    = "worker lost; re-enqueue required"
	msgWorkerStopped = "worker stopped; re-enqueue required"
)

// RuntimeConfig tunes a Runtime.
type RuntimeConfig struct {
	WorkerID               string
	MaxConsecutiveFailures int           // failed batches in a row before the run aborts
	RetryInterval          time.Duration // initial backoff for store calls that fail with ErrUnavailable
	RetryMaxTries          uint
}

func (c *RuntimeConfig) withDefaults() {
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 200 * time.Millisecond
	}
	if c.RetryMaxTries == 0 {
		c.RetryMaxTries = 5
	}
}

// Runtime executes tasks end to end: claim, count, stream batches through
// the variant's processor into an artifact, and commit a terminal state.
// Execute is safe to call concurrently for different tasks; batches of one
// task run sequentially.
type Runtime struct {
	store     taskstore.Store
	reader    sourceport.Reader
	artifacts artifact.Store
	hub       broadcast.Broadcaster
	log       *slog.Logger
	cfg       RuntimeConfig
	breaker   *resilience.Breaker
	metrics   *cfotel.Metrics
	now       func() time.Time

	cancels sync.Map // map[int64]struct{}, cancellations announced over the queue
}

// NewRuntime creates a Runtime. The logger, store, source reader and
// artifact store are the only state a run touches.
func NewRuntime(
	store taskstore.Store,
	reader sourceport.Reader,
	artifacts artifact.Store,
	hub broadcast.Broadcaster,
	log *slog.Logger,
	cfg RuntimeConfig,
) *Runtime {
	cfg.withDefaults()
	return &Runtime{
		store:     store,
		reader:    reader,
		artifacts: artifacts,
		hub:       hub,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetBreaker routes source reads through b.
func (r *Runtime) SetBreaker(b *resilience.Breaker) { r.breaker = b }

// SetMetrics enables metric recording.
func (r *Runtime) SetMetrics(m *cfotel.Metrics) { r.metrics = m }

// WorkerID returns the id recorded on claimed tasks.
func (r *Runtime) WorkerID() string { return r.cfg.WorkerID }

// NoteCancel records a cancellation seen on the queue so the next batch
// boundary observes it without waiting for the store.
func (r *Runtime) NoteCancel(id int64) { r.cancels.Store(id, struct{}{}) }

// Execute runs task id to a terminal state. It returns domain.ErrBusy when
// another worker holds the task and domain.ErrNotFound when it does not
// exist. Failures of the run itself are recorded on the task and are not
// returned; an error is returned only when the terminal state could not be
// committed.
func (r *Runtime) Execute(ctx context.Context, id int64) error {
	defer r.cancels.Delete(id)

	var (
		res     taskstore.ClaimResult
		claimed *task.Task
	)
	err := r.retry(ctx, func() error {
		var err error
		res, claimed, err = r.store.Claim(ctx, id, r.cfg.WorkerID)
		return err
	})
	if err != nil {
		return fmt.Errorf("claim task %d: %w", id, err)
	}
	switch res {
	case taskstore.Busy:
		return fmt.Errorf("claim task %d: %w", id, domain.ErrBusy)
	case taskstore.Missing:
		return fmt.Errorf("claim task %d: %w", id, domain.ErrNotFound)
	}

	t := claimed
	ctx = logger.WithTaskID(ctx, t.ID)
	ctx, span := cfotel.StartTaskSpan(ctx, t.ID, string(t.Type))
	defer span.End()

	started := r.now()
	attrs := metric.WithAttributes(attribute.String("task.type", string(t.Type)))
	if r.metrics != nil {
		r.metrics.TasksStarted.Add(ctx, 1, attrs)
	}

	log := r.log.With("type", t.Type, "worker_id", r.cfg.WorkerID)
	log.InfoContext(ctx, "task claimed", "batch_size", t.BatchSize)
	r.broadcast(ctx, broadcast.EventTaskState, t)

	err = r.run(ctx, t, log)

	span.SetAttributes(
		attribute.String("task.state", string(t.State)),
		attribute.Int64("task.total", t.TotalRecords),
		attribute.Int64("task.processed", t.ProcessedRecords),
	)
	if t.State == task.StateFailed {
		span.SetStatus(codes.Error, t.ErrorMessage)
	}
	if r.metrics != nil {
		r.metrics.TaskDuration.Record(ctx, r.now().Sub(started).Seconds(), attrs)
		switch t.State {
		case task.StateCompleted:
			r.metrics.TasksCompleted.Add(ctx, 1, attrs)
		case task.StateFailed:
			r.metrics.TasksFailed.Add(ctx, 1, attrs)
		case task.StateCancelled:
			r.metrics.TasksCancelled.Add(ctx, 1, attrs)
		}
	}
	return err
}

// run drives a claimed task. Every path ends in a terminal commit.
func (r *Runtime) run(ctx context.Context, t *task.Task, log *slog.Logger) error {
	if cancelled, err := r.cancelRequested(ctx, t); err != nil {
		return r.fail(ctx, t, nil, log, err)
	} else if cancelled {
		return r.cancel(ctx, t, nil, log)
	}

	plan, err := tasktype.Resolve(t.Type, t.Filters, t.Window())
	if err != nil {
		return r.fail(ctx, t, nil, log, err)
	}

	pages := NewPaginator(r.reader, plan.Query, t.BatchSize, r.breaker)
	total, err := pages.Total(ctx)
	if err != nil {
		return r.fail(ctx, t, nil, log, err)
	}
	if err := r.retry(ctx, func() error { return r.store.SetTotal(ctx, t.ID, total) }); err != nil {
		return r.fail(ctx, t, nil, log, fmt.Errorf("set total: %w", err))
	}
	t.TotalRecords = total
	log.InfoContext(ctx, "task total counted", "total", total)

	w, err := r.artifacts.Create(ctx, t, plan.Columns)
	if err != nil {
		return r.fail(ctx, t, nil, log, fmt.Errorf("open artifact: %w", err))
	}

	proc := plan.Processor()
	size := int64(t.BatchSize)
	batches := int((total + size - 1) / size)
	consecutive := 0

	for i := 0; i < batches; i++ {
		if ctx.Err() != nil {
			return r.fail(ctx, t, w, log, errors.New(msgWorkerStopped))
		}
		cancelled, err := r.cancelRequested(ctx, t)
		if err != nil {
			return r.fail(ctx, t, w, log, err)
		}
		if cancelled {
			return r.cancel(ctx, t, w, log)
		}

		res, err := r.runBatch(ctx, t, pages, proc, w, i, total-int64(i)*size, log)
		if err != nil {
			consecutive++
			log.ErrorContext(ctx, "batch failed", "batch", i, "consecutive", consecutive, "error", err)
			if r.metrics != nil {
				r.metrics.BatchesFailed.Add(ctx, 1)
			}
			if consecutive >= r.cfg.MaxConsecutiveFailures {
				return r.fail(ctx, t, w, log,
					fmt.Errorf("aborted after %d consecutive failed batches: %w", consecutive, err))
			}
			continue
		}
		consecutive = 0

		if res.fetched == 0 {
			log.InfoContext(ctx, "source exhausted before total", "batch", i)
			break
		}
		if err := r.retry(ctx, func() error {
			return r.store.BumpProgress(ctx, t.ID, i, res.appended, res.failed)
		}); err != nil {
			return r.fail(ctx, t, w, log, fmt.Errorf("bump progress: %w", err))
		}
		t.ProcessedRecords += res.appended
		t.FailedRecords += res.failed
		r.broadcast(ctx, broadcast.EventTaskProgress, t)
	}

	if s, ok := proc.(tasktype.Summarizer); ok {
		log.InfoContext(ctx, "analysis summary", "histogram", s.Summary())
	}
	return r.complete(ctx, t, w, log)
}

type batchResult struct {
	fetched  int
	appended int64
	failed   int64
}

// runBatch fetches, processes and appends one batch. limit caps the records
// taken so rows inserted upstream after counting stay out of the run. A
// panic in a processor fails the batch, not the worker.
func (r *Runtime) runBatch(
	ctx context.Context,
	t *task.Task,
	pages *Paginator,
	proc tasktype.Processor,
	w artifact.Writer,
	index int,
	limit int64,
	log *slog.Logger,
) (res batchResult, err error) {
	ctx, span := cfotel.StartBatchSpan(ctx, t.ID, index)
	start := r.now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in batch %d: %v", index, p)
		}
		endBatchSpan(span, err)
		if r.metrics != nil {
			r.metrics.BatchDuration.Record(ctx, r.now().Sub(start).Seconds())
		}
	}()

	recs, err := pages.Batch(ctx, index)
	if err != nil {
		return res, err
	}
	if int64(len(recs)) > limit {
		recs = recs[:limit]
	}
	res.fetched = len(recs)

	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		row, perr := proc.Process(rec)
		if perr != nil {
			res.failed++
			log.WarnContext(ctx, "record rejected", "record_id", rec.Key(), "source", rec.Source(), "error", perr)
			continue
		}
		rows = append(rows, row)
	}
	if err := w.Append(rows); err != nil {
		return batchResult{}, fmt.Errorf("append batch %d: %w", index, err)
	}
	res.appended = int64(len(rows))

	if r.metrics != nil {
		r.metrics.RecordsWritten.Add(ctx, res.appended)
		r.metrics.RecordsFailed.Add(ctx, res.failed)
	}
	return res, nil
}

func endBatchSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// cancelRequested reports whether a cancellation was announced locally or
// flagged on the stored task. Reading the flag refreshes the heartbeat, so a
// task is only swept as stale when a single batch outlasts the stale age.
func (r *Runtime) cancelRequested(ctx context.Context, t *task.Task) (bool, error) {
	if t.CancelRequested {
		return true, nil
	}
	if _, ok := r.cancels.Load(t.ID); ok {
		return true, nil
	}
	var flagged bool
	err := r.retry(ctx, func() error {
		var err error
		flagged, err = r.store.Heartbeat(ctx, t.ID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	t.CancelRequested = flagged
	return flagged, nil
}

func (r *Runtime) complete(ctx context.Context, t *task.Task, w artifact.Writer, log *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)

	ref, err := w.Finalize()
	if err != nil {
		return r.fail(ctx, t, w, log, fmt.Errorf("finalize artifact: %w", err))
	}
	if err := r.retry(ctx, func() error { return r.store.Complete(ctx, t.ID, ref) }); err != nil {
		if rmErr := r.artifacts.Remove(ctx, ref); rmErr != nil {
			log.WarnContext(ctx, "remove orphaned artifact", "artifact_ref", ref, "error", rmErr)
		}
		return r.fail(ctx, t, nil, log, fmt.Errorf("commit completion: %w", err))
	}

	t.State = task.StateCompleted
	t.ArtifactRef = ref
	log.InfoContext(ctx, "task completed",
		"total", t.TotalRecords,
		"processed", t.ProcessedRecords,
		"failed_records", t.FailedRecords,
		"artifact_ref", ref,
	)
	r.broadcast(ctx, broadcast.EventTaskState, t)
	return nil
}

func (r *Runtime) cancel(ctx context.Context, t *task.Task, w artifact.Writer, log *slog.Logger) error {
	ctx = context.WithoutCancel(ctx)
	r.discard(ctx, w, log)

	if err := r.retry(ctx, func() error { return r.store.MarkCancelled(ctx, t.ID) }); err != nil {
		log.ErrorContext(ctx, "commit cancellation", "error", err)
		return fmt.Errorf("cancel task %d: %w", t.ID, err)
	}
	t.State = task.StateCancelled
	log.InfoContext(ctx, "task cancelled", "processed", t.ProcessedRecords, "total", t.TotalRecords)
	r.broadcast(ctx, broadcast.EventTaskState, t)
	return nil
}

func (r *Runtime) fail(ctx context.Context, t *task.Task, w artifact.Writer, log *slog.Logger, cause error) error {
	ctx = context.WithoutCancel(ctx)
	r.discard(ctx, w, log)

	msg := cause.Error()
	if err := r.retry(ctx, func() error { return r.store.Fail(ctx, t.ID, msg) }); err != nil {
		log.ErrorContext(ctx, "commit failure", "cause", msg, "error", err)
		return fmt.Errorf("fail task %d: %w", t.ID, err)
	}
	t.State = task.StateFailed
	t.ErrorMessage = msg
	log.ErrorContext(ctx, "task failed", "error", msg, "processed", t.ProcessedRecords, "total", t.TotalRecords)
	r.broadcast(ctx, broadcast.EventTaskState, t)
	return nil
}

func (r *Runtime) discard(ctx context.Context, w artifact.Writer, log *slog.Logger) {
	if w == nil {
		return
	}
	if err := w.Discard(); err != nil {
		log.WarnContext(ctx, "discard partial artifact", "error", err)
	}
}

func (r *Runtime) broadcast(ctx context.Context, event string, t *task.Task) {
	if r.hub == nil {
		return
	}
	r.hub.BroadcastEvent(ctx, event, t.Status(r.now()))
}

// retry runs fn with exponential backoff while it fails with
// domain.ErrUnavailable. Other errors are returned at once. fn must be safe
// to repeat after a write whose acknowledgement was lost.
func (r *Runtime) retry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !errors.Is(err, domain.ErrUnavailable) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.cfg.RetryMaxTries))
	return err
}
