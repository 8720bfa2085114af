// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject. Every
	// subscriber receives every message published after it subscribed.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// QueueSubscribe registers a handler in a consumer group. Each message is
	// delivered to one member of the group and redelivered if the handler
	// returns an error.
	QueueSubscribe(ctx context.Context, subject, group string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects used by the batch workers.
const (
	SubjectTaskCreated = "workers.tasks.created" // a pending task is ready to be claimed
	SubjectTaskCancel  = "workers.tasks.cancel"  // cancellation was requested for a task
)
