package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Dm1try555/banister-backend-sub000/internal/adapter/csvfile"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/query"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/source"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/messagequeue"
	sourceport "github.com/Dm1try555/banister-backend-sub000/internal/port/source"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/taskstore"
)

// --- fakeStore: in-memory taskstore.Store with the same guards as postgres ---

type fakeStore struct {
	mu     sync.Mutex
	tasks  map[int64]*task.Task
	nextID int64
	now    func() time.Time

	faults    map[string]int // op -> remaining ErrUnavailable results
	lostAcks  map[string]int // op -> remaining applied writes reported as ErrUnavailable
	nextBatch map[int64]int
	history   map[int64][]int64
	onBump    func(id, processed int64)
	getCalls  int
	beats     int
}

var _ taskstore.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:     make(map[int64]*task.Task),
		now:       time.Now,
		faults:    make(map[string]int),
		lostAcks:  make(map[string]int),
		nextBatch: make(map[int64]int),
		history:   make(map[int64][]int64),
	}
}

// failNext makes the next n calls of op fail with domain.ErrUnavailable.
func (s *fakeStore) failNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = n
}

// fault must be called with s.mu held.
func (s *fakeStore) fault(op string) error {
	if s.faults[op] > 0 {
		s.faults[op]--
		return fmt.Errorf("%s: connection refused: %w", op, domain.ErrUnavailable)
	}
	return nil
}

// loseAckNext makes the next n calls of op apply their write and then fail
// with domain.ErrUnavailable, as when the connection drops before the reply.
func (s *fakeStore) loseAckNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lostAcks[op] = n
}

// lostAck must be called with s.mu held, after the write was applied.
func (s *fakeStore) lostAck(op string) error {
	if s.lostAcks[op] > 0 {
		s.lostAcks[op]--
		return fmt.Errorf("%s: connection reset by peer: %w", op, domain.ErrUnavailable)
	}
	return nil
}

func (s *fakeStore) heartbeats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beats
}

func (s *fakeStore) snapshot(id int64) *task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	c := *t
	return &c
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *fakeStore) progressHistory(id int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history[id])
}

func (s *fakeStore) Create(_ context.Context, req *task.CreateRequest) (*task.Task, error) {
	w, err := req.Validate()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("create"); err != nil {
		return nil, err
	}
	s.nextID++
	t := &task.Task{
		ID:        s.nextID,
		Type:      req.Type,
		State:     task.StatePending,
		CreatedBy: req.CreatedBy,
		BatchSize: req.BatchSize,
		Filters:   maps.Clone(req.Filters),
		DateFrom:  w.From,
		DateTo:    w.To,
		CreatedAt: s.now(),
	}
	s.tasks[t.ID] = t
	c := *t
	return &c, nil
}

func (s *fakeStore) Claim(_ context.Context, id int64, workerID string) (taskstore.ClaimResult, *task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("claim"); err != nil {
		return taskstore.Missing, nil, err
	}
	t, ok := s.tasks[id]
	if !ok {
		return taskstore.Missing, nil, nil
	}
	if t.State == task.StateProcessing && t.ClaimedBy == workerID {
		c := *t
		return taskstore.Claimed, &c, nil
	}
	if t.State != task.StatePending {
		return taskstore.Busy, nil, nil
	}
	now := s.now()
	t.State = task.StateProcessing
	t.StartedAt = &now
	t.HeartbeatAt = &now
	t.ClaimedBy = workerID
	if err := s.lostAck("claim"); err != nil {
		return taskstore.Missing, nil, err
	}
	c := *t
	return taskstore.Claimed, &c, nil
}

func (s *fakeStore) processing(id int64) (*task.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if t.State != task.StateProcessing {
		return nil, domain.ErrConflict
	}
	return t, nil
}

func (s *fakeStore) SetTotal(_ context.Context, id int64, total int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("set_total"); err != nil {
		return err
	}
	t, err := s.processing(id)
	if err != nil {
		return err
	}
	if t.ProcessedRecords != 0 || total < 0 {
		return domain.ErrConflict
	}
	t.TotalRecords = total
	return nil
}

func (s *fakeStore) BumpProgress(_ context.Context, id int64, batch int, processed, failed int64) error {
	s.mu.Lock()
	if err := s.fault("bump"); err != nil {
		s.mu.Unlock()
		return err
	}
	t, err := s.processing(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if batch < s.nextBatch[id] {
		s.mu.Unlock()
		return nil
	}
	if processed < 0 || failed < 0 || t.ProcessedRecords+processed > t.TotalRecords {
		s.mu.Unlock()
		return domain.ErrConflict
	}
	t.ProcessedRecords += processed
	t.FailedRecords += failed
	now := s.now()
	t.HeartbeatAt = &now
	s.nextBatch[id] = batch + 1
	s.history[id] = append(s.history[id], t.ProcessedRecords)
	total := t.ProcessedRecords
	hook := s.onBump
	ackErr := s.lostAck("bump")
	s.mu.Unlock()

	if hook != nil {
		hook(id, total)
	}
	return ackErr
}

func (s *fakeStore) Heartbeat(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("heartbeat"); err != nil {
		return false, err
	}
	t, err := s.processing(id)
	if err != nil {
		return false, err
	}
	now := s.now()
	t.HeartbeatAt = &now
	s.beats++
	return t.CancelRequested, nil
}

func (s *fakeStore) finish(id int64, state task.State, ref, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(string(state)); err != nil {
		return err
	}
	if t, ok := s.tasks[id]; ok && t.State == state {
		return nil
	}
	t, err := s.processing(id)
	if err != nil {
		return err
	}
	now := s.now()
	t.State = state
	t.ArtifactRef = ref
	t.ErrorMessage = msg
	t.CompletedAt = &now
	return s.lostAck(string(state))
}

func (s *fakeStore) Complete(_ context.Context, id int64, ref string) error {
	return s.finish(id, task.StateCompleted, ref, "")
}

func (s *fakeStore) Fail(_ context.Context, id int64, msg string) error {
	return s.finish(id, task.StateFailed, "", msg)
}

func (s *fakeStore) MarkCancelled(_ context.Context, id int64) error {
	return s.finish(id, task.StateCancelled, "", "")
}

func (s *fakeStore) RequestCancel(_ context.Context, id int64) (taskstore.CancelResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return taskstore.CancelMissing, nil
	}
	if t.State.Terminal() {
		return taskstore.CancelAlreadyTerminal, nil
	}
	t.CancelRequested = true
	return taskstore.CancelOK, nil
}

func (s *fakeStore) Get(_ context.Context, id int64) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if err := s.fault("get"); err != nil {
		return nil, err
	}
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, domain.ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (s *fakeStore) List(_ context.Context, f task.ListFilter) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if f.State != "" && t.State != f.State {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *fakeStore) ListPending(_ context.Context, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, t := range s.tasks {
		if t.State == task.StatePending {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *fakeStore) FailStale(_ context.Context, olderThan time.Time, msg string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	now := s.now()
	for id, t := range s.tasks {
		if t.State != task.StateProcessing || t.HeartbeatAt == nil || !t.HeartbeatAt.Before(olderThan) {
			continue
		}
		t.State = task.StateFailed
		t.ErrorMessage = msg
		t.CompletedAt = &now
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *fakeStore) PruneTerminal(_ context.Context, before time.Time) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for id, t := range s.tasks {
		if t.State.Terminal() && t.CompletedAt != nil && t.CompletedAt.Before(before) {
			out = append(out, *t)
			delete(s.tasks, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- fakeReader: id-ordered source records ---

type fakeReader struct {
	mu       sync.Mutex
	records  []source.Record
	pages    []sourceport.Page
	fetchErr func(call int) error
	countErr error
	fetches  int
}

func newFakeReader(recs []source.Record) *fakeReader {
	sorted := slices.Clone(recs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })
	return &fakeReader{records: sorted}
}

func (r *fakeReader) Count(_ context.Context, _ query.Query) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countErr != nil {
		return 0, r.countErr
	}
	return int64(len(r.records)), nil
}

func (r *fakeReader) Fetch(_ context.Context, _ query.Query, p sourceport.Page) ([]source.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := r.fetches
	r.fetches++
	r.pages = append(r.pages, p)
	if r.fetchErr != nil {
		if err := r.fetchErr(call); err != nil {
			return nil, err
		}
	}

	start := int(p.Offset)
	if p.AfterID > 0 {
		start = sort.Search(len(r.records), func(i int) bool { return r.records[i].Key() > p.AfterID })
	}
	if start >= len(r.records) {
		return nil, nil
	}
	end := min(start+p.Limit, len(r.records))
	return slices.Clone(r.records[start:end]), nil
}

func (r *fakeReader) fetchPages() []sourceport.Page {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pages)
}

// --- fakeHub ---

type hubEvent struct {
	eventType string
	view      task.StatusView
}

type fakeHub struct {
	mu     sync.Mutex
	events []hubEvent
}

func (h *fakeHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, _ := payload.(task.StatusView)
	h.events = append(h.events, hubEvent{eventType: eventType, view: v})
}

func (h *fakeHub) all() []hubEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.events)
}

// --- fakeQueue ---

type published struct {
	subject string
	data    []byte
}

type fakeQueue struct {
	mu         sync.Mutex
	published  []published
	publishErr error
	handlers   map[string]messagequeue.Handler
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, published{subject, data})
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *fakeQueue) QueueSubscribe(ctx context.Context, subject, _ string, h messagequeue.Handler) (func(), error) {
	return q.Subscribe(ctx, subject, h)
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.published))
	for i, p := range q.published {
		out[i] = p.subject
	}
	return out
}

func (q *fakeQueue) handler(subject string) messagequeue.Handler {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.handlers[subject]
}

// --- fakeCache ---

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// --- fixtures ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	store     *fakeStore
	reader    *fakeReader
	artifacts *csvfile.Store
	hub       *fakeHub
	runtime   *Runtime
}

func newHarness(t *testing.T, recs []source.Record) *harness {
	t.Helper()
	h := &harness{
		store:     newFakeStore(),
		reader:    newFakeReader(recs),
		artifacts: csvfile.New(t.TempDir()),
		hub:       &fakeHub{},
	}
	h.runtime = NewRuntime(h.store, h.reader, h.artifacts, h.hub, discardLogger(), RuntimeConfig{
		WorkerID:      "worker-test",
		RetryInterval: time.Millisecond,
	})
	return h
}

func (h *harness) enqueue(t *testing.T, req *task.CreateRequest) *task.Task {
	t.Helper()
	created, err := h.store.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return created
}

func ptr[T any](v T) *T { return &v }

func bookings(n int, status string, start time.Time) []source.Record {
	recs := make([]source.Record, n)
	for i := range n {
		recs[i] = &source.Booking{
			ID:            int64(i + 1),
			CustomerID:    ptr(int64(100 + i)),
			CustomerEmail: fmt.Sprintf("customer%d@example.com", i+1),
			ProviderID:    ptr(int64(7)),
			ProviderEmail: "provider@example.com",
			ServiceTitle:  "Deep clean",
			Status:        status,
			Location:      "Kyiv",
			Frequency:     "once",
			TotalPrice:    ptr("120.00"),
			CreatedAt:     start.Add(time.Duration(i) * time.Minute),
		}
	}
	return recs
}

func users(n int, invalid map[int]bool) []source.Record {
	recs := make([]source.Record, n)
	joined := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	for i := range n {
		email := fmt.Sprintf("user%d@example.com", i+1)
		if invalid[i+1] {
			email = "not-an-email"
		}
		recs[i] = &source.User{
			ID:         int64(i + 1),
			Email:      email,
			FirstName:  "First",
			LastName:   "Last",
			Role:       "customer",
			IsActive:   true,
			DateJoined: joined,
		}
	}
	return recs
}

// panicRecord blows up when rendered.
type panicRecord struct{ id int64 }

func (p panicRecord) Key() int64          { return p.id }
func (p panicRecord) Source() source.Name { return source.Bookings }
func (p panicRecord) Values() []string    { panic("corrupt row") }
