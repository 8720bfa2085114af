package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
)

// BroadcastEvent marshals a typed event and broadcasts it. Task status
// payloads only reach clients watching all tasks or that task.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, eventTaskID(payload), Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}

func eventTaskID(payload any) int64 {
	switch v := payload.(type) {
	case task.StatusView:
		return v.ID
	case *task.StatusView:
		if v != nil {
			return v.ID
		}
	}
	return 0
}
