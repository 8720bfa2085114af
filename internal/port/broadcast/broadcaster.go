// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Event types emitted by the worker runtime.
const (
	EventTaskProgress = "task.progress" // payload: task.StatusView
	EventTaskState    = "task.state"    // payload: task.StatusView, on every state change
)
