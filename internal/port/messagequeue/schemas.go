package messagequeue

import "github.com/Strob0t/arbor/internal/domain/event"

// TreeEventPayload is the schema for tree.<forest>.<type> messages.
type TreeEventPayload = event.TreeEvent
