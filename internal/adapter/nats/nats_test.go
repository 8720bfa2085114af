package nats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Dm1try555/banister-backend-sub000/internal/logger"
	"github.com/Dm1try555/banister-backend-sub000/internal/port/messagequeue"
)

const (
	testStream  = "BANISTER_WORKERS_TEST"
	waitTimeout = 10 * time.Second
)

var errHandler = errors.New("handler failed")

// testConnect connects to NATS_URL or skips.
func testConnect(t *testing.T) *Queue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := Connect(context.Background(), url, testStream)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// testSubject is captured by the stream and carries no schema, so any JSON
// passes validation.
func testSubject(t *testing.T) string {
	t.Helper()
	return "workers.test." + t.Name()
}

// watch delivers every message published on subject from now on, bypassing
// validation.
func watch(t *testing.T, q *Queue, subject string) <-chan jetstream.Msg {
	t.Helper()
	ctx := context.Background()

	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("create consumer for %s: %v", subject, err)
	}

	out := make(chan jetstream.Msg, 16)
	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		_ = msg.Ack()
		select {
		case out <- msg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("consume %s: %v", subject, err)
	}
	t.Cleanup(cons.Stop)
	return out
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for message")
	}
	var zero T
	return zero
}

func TestQueue_TaskCreatedRoundTrip(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	got := make(chan messagequeue.TaskCreatedPayload, 1)
	stop, err := q.Subscribe(ctx, messagequeue.SubjectTaskCreated, func(_ context.Context, _ string, data []byte) error {
		var p messagequeue.TaskCreatedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		select {
		case got <- p:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	data, _ := json.Marshal(messagequeue.TaskCreatedPayload{TaskID: 42, Type: "bookings_export"})
	if err := q.Publish(ctx, messagequeue.SubjectTaskCreated, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	p := receive(t, got)
	if p.TaskID != 42 || p.Type != "bookings_export" {
		t.Errorf("payload = %+v", p)
	}
}

func TestQueue_RequestIDReachesHandler(t *testing.T) {
	q := testConnect(t)
	subject := testSubject(t)

	ids := make(chan string, 1)
	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, _ []byte) error {
		select {
		case ids <- logger.RequestID(ctx):
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := logger.WithRequestID(context.Background(), "req-7f3a")
	if err := q.Publish(ctx, subject, []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if id := receive(t, ids); id != "req-7f3a" {
		t.Errorf("request id = %q, want req-7f3a", id)
	}
}

func TestQueue_InvalidPayloadGoesToDLQ(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	subject := messagequeue.SubjectTaskCancel
	dlq := watch(t, q, subject+dlqSuffix)

	called := atomic.Bool{}
	stop, err := q.Subscribe(ctx, subject, func(context.Context, string, []byte) error {
		called.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := q.Publish(ctx, subject, []byte(`{"task_id":0}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg := receive(t, dlq)
	if string(msg.Data()) != `{"task_id":0}` {
		t.Errorf("dlq data = %q", msg.Data())
	}
	if msg.Headers().Get(headerError) == "" {
		t.Error("dlq message has no error header")
	}
	if called.Load() {
		t.Error("handler ran for an invalid payload")
	}
}

func TestQueue_FailedMessageIsRedelivered(t *testing.T) {
	q := testConnect(t)
	subject := testSubject(t)

	var calls atomic.Int32
	done := make(chan struct{})
	stop, err := q.Subscribe(context.Background(), subject, func(context.Context, string, []byte) error {
		switch calls.Add(1) {
		case 1:
			return errHandler
		case 2:
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	if err := q.Publish(context.Background(), subject, []byte(`{"attempt":true}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	receive(t, done)
	if n := calls.Load(); n != 2 {
		t.Errorf("handler calls = %d, want 2", n)
	}
}

func TestQueue_RetryExhaustionGoesToDLQ(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	subject := testSubject(t)
	dlq := watch(t, q, subject+dlqSuffix)

	stop, err := q.Subscribe(ctx, subject, func(context.Context, string, []byte) error {
		return errHandler
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	msg := nats.NewMsg(subject)
	msg.Data = []byte(`{"exhausted":true}`)
	msg.Header.Set(headerRetryCount, "3")
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		t.Fatalf("PublishMsg: %v", err)
	}

	got := receive(t, dlq)
	if string(got.Data()) != `{"exhausted":true}` {
		t.Errorf("dlq data = %q", got.Data())
	}
	if got.Headers().Get(headerError) != errHandler.Error() {
		t.Errorf("error header = %q", got.Headers().Get(headerError))
	}
}

func TestQueue_QueueSubscribeDeliversOnce(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()
	subject := testSubject(t)
	group := "test-" + uuid.NewString()

	var calls atomic.Int32
	handler := func(context.Context, string, []byte) error {
		calls.Add(1)
		return nil
	}
	for range 2 {
		stop, err := q.QueueSubscribe(ctx, subject, group, handler)
		if err != nil {
			t.Fatalf("QueueSubscribe: %v", err)
		}
		defer stop()
	}

	if err := q.Publish(ctx, subject, []byte(`{"task_id":9}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(waitTimeout)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("deliveries = %d, want 1", n)
	}
}

func TestQueue_KeyValue(t *testing.T) {
	q := testConnect(t)
	ctx := context.Background()

	kv, err := q.KeyValue(ctx, "BANISTER_TEST_KV", time.Minute)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}

	if _, err := kv.Put(ctx, "task.1", []byte(`{"id":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entry, err := kv.Get(ctx, "task.1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(entry.Value()) != `{"id":1}` {
		t.Errorf("value = %q", entry.Value())
	}

	if err := kv.Delete(ctx, "task.1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get(ctx, "task.1"); !errors.Is(err, jetstream.ErrKeyNotFound) && !errors.Is(err, jetstream.ErrKeyDeleted) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestQueue_IsConnected(t *testing.T) {
	if q := testConnect(t); !q.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
}

func TestRetryCount(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 0},
		{"2", 2},
		{"-1", 0},
		{"x", 0},
	}
	for _, tt := range tests {
		h := nats.Header{}
		if tt.value != "" {
			h.Set(headerRetryCount, tt.value)
		}
		if got := retryCount(h); got != tt.want {
			t.Errorf("retryCount(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestCopyHeaders(t *testing.T) {
	src := nats.Header{}
	src.Set(headerRequestID, "req-1")
	src.Add("X-Trace", "a")
	src.Add("X-Trace", "b")

	dst := nats.Header{}
	copyHeaders(dst, src)

	if dst.Get(headerRequestID) != "req-1" {
		t.Errorf("request id = %q", dst.Get(headerRequestID))
	}
	if got := dst.Values("X-Trace"); len(got) != 2 {
		t.Errorf("X-Trace = %v, want 2 values", got)
	}
}

func TestDurableName(t *testing.T) {
	got := durableName("banister-workers", messagequeue.SubjectTaskCreated)
	if want := "banister-workers_workers_tasks_created"; got != want {
		t.Errorf("durableName = %q, want %q", got, want)
	}
}
