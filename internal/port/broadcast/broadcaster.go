// Package broadcast defines the port for pushing tree events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to clients watching a forest.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to every client subscribed to
	// forestID, and to clients subscribed to all forests.
	BroadcastEvent(ctx context.Context, forestID, eventType string, payload any)
}
