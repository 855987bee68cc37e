package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// BroadcastEvent marshals a typed event and sends it to the forest's watchers.
func (h *Hub) BroadcastEvent(ctx context.Context, forestID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:     eventType,
		ForestID: forestID,
		Payload:  json.RawMessage(data),
	})
}
