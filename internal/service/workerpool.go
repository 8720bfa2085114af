package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/messagequeue"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/taskstore"
)

// createdGroup is the shared consumer group for task-created messages, so
// each message reaches one worker process.
const createdGroup = "banister-workers"

// PoolConfig tunes a WorkerPool.
type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration // 0 disables the pending-task poll
}

// WorkerPool runs at most Concurrency task runtimes at once. Tasks arrive
// from the queue and, as a fallback for lost messages, from polling the
// store for pending tasks.
type WorkerPool struct {
	runtime *Runtime
	store   taskstore.Store
	queue   messagequeue.Queue
	sem     *semaphore.Weighted
	cfg     PoolConfig
	log     *slog.Logger

	wg       sync.WaitGroup
	inflight sync.Map // map[int64]struct{}
}

// NewWorkerPool creates a pool. A nil queue leaves polling as the only
// source of work.
func NewWorkerPool(rt *Runtime, store taskstore.Store, queue messagequeue.Queue, cfg PoolConfig, log *slog.Logger) *WorkerPool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &WorkerPool{
		runtime: rt,
		store:   store,
		queue:   queue,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		cfg:     cfg,
		log:     log,
	}
}

// Run subscribes to the task subjects and polls for pending tasks until ctx
// is done, then waits for in-flight runs. Runs observe the cancelled context
// at their next batch boundary.
func (p *WorkerPool) Run(ctx context.Context) error {
	if p.queue != nil {
		stopCreated, err := p.queue.QueueSubscribe(ctx, messagequeue.SubjectTaskCreated, createdGroup, p.onCreated)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", messagequeue.SubjectTaskCreated, err)
		}
		defer stopCreated()

		stopCancel, err := p.queue.Subscribe(ctx, messagequeue.SubjectTaskCancel, p.onCancel)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", messagequeue.SubjectTaskCancel, err)
		}
		defer stopCancel()
	}

	p.log.Info("worker pool started",
		"worker_id", p.runtime.WorkerID(),
		"concurrency", p.cfg.Concurrency,
		"poll_interval", p.cfg.PollInterval,
	)

	var tick <-chan time.Time
	if p.cfg.PollInterval > 0 {
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
		p.Poll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			p.log.Info("worker pool stopping; waiting for in-flight tasks")
			p.Wait()
			return nil
		case <-tick:
			p.Poll(ctx)
		}
	}
}

// Dispatch starts task id once a slot is free. It blocks while the pool is
// full and returns ctx.Err() if ctx ends first. Tasks already running in
// this process are ignored.
func (p *WorkerPool) Dispatch(ctx context.Context, id int64) error {
	if _, loaded := p.inflight.LoadOrStore(id, struct{}{}); loaded {
		return nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.inflight.Delete(id)
		return err
	}
	p.start(ctx, id)
	return nil
}

// Poll claims pending tasks while slots are free. It never blocks on a full
// pool; remaining tasks are picked up by a later poll.
func (p *WorkerPool) Poll(ctx context.Context) {
	ids, err := p.store.ListPending(ctx, p.cfg.Concurrency)
	if err != nil {
		p.log.Warn("poll pending tasks", "error", err)
		return
	}
	for _, id := range ids {
		if _, loaded := p.inflight.LoadOrStore(id, struct{}{}); loaded {
			continue
		}
		if !p.sem.TryAcquire(1) {
			p.inflight.Delete(id)
			return
		}
		p.start(ctx, id)
	}
}

// Wait blocks until all dispatched runs have returned.
func (p *WorkerPool) Wait() { p.wg.Wait() }

// start runs id on a held slot.
func (p *WorkerPool) start(ctx context.Context, id int64) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.inflight.Delete(id)

		err := p.runtime.Execute(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrNotFound):
			p.log.Debug("task not claimed", "task_id", id, "reason", err)
		default:
			p.log.Error("task run", "task_id", id, "error", err)
		}
	}()
}

func (p *WorkerPool) onCreated(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		p.log.Warn("drop malformed message", "subject", subject, "error", err)
		return nil
	}
	var msg messagequeue.TaskCreatedPayload
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}
	return p.Dispatch(ctx, msg.TaskID)
}

func (p *WorkerPool) onCancel(_ context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		p.log.Warn("drop malformed message", "subject", subject, "error", err)
		return nil
	}
	var msg messagequeue.TaskCancelPayload
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil
	}
	if _, running := p.inflight.Load(msg.TaskID); running {
		p.runtime.NoteCancel(msg.TaskID)
	}
	return nil
}
