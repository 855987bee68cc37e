// Package event defines the structural change events a forest emits after a
// committed write.
package event

import "time"

// Type identifies the kind of tree event.
type Type string

const (
	TypeNodeCreated   Type = "node.created"
	TypeNodeMoved     Type = "node.moved"
	TypeNodeDeleted   Type = "node.deleted"
	TypeForestCreated Type = "forest.created"
	TypeForestRebuilt Type = "forest.rebuilt"
)

// TreeEvent is published after the transaction that caused it committed.
// Revision is the forest revision the change produced, so consumers can
// drop events older than the snapshot they hold.
type TreeEvent struct {
	Type        Type      `json:"type"`
	ForestID    string    `json:"forest_id"`
	NodeID      string    `json:"node_id,omitempty"`
	ParentID    string    `json:"parent_id,omitempty"`
	Position    string    `json:"position,omitempty"`
	TargetID    string    `json:"target_id,omitempty"`
	Revision    int64     `json:"revision"`
	RowsShifted int64     `json:"rows_shifted,omitempty"`
	Instance    string    `json:"instance"`
	RequestID   string    `json:"request_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Subject returns the message queue subject for e: tree.<forest>.<type>.
func (e TreeEvent) Subject() string {
	return SubjectPrefix + "." + e.ForestID + "." + string(e.Type)
}

// SubjectPrefix is the root of every tree event subject.
const SubjectPrefix = "tree"
