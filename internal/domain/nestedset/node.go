// Package nestedset contains the nested-set interval model: nodes, forests,
// the subtree relocation formula, and the invariant checks over a forest.
package nestedset

import "time"

// Forest is a disjoint tree scope. Every node's RootID names a forest.
// Revision increases with every committed structural change.
type Forest struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Node is one interval in a forest. ParentID is empty for forest roots and
// is a cache of the smallest enclosing interval.
type Node struct {
	ID        string    `json:"id"`
	RootID    string    `json:"root_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Lft       int64     `json:"lft"`
	Rgt       int64     `json:"rgt"`
	Ref       string    `json:"ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsRoot reports whether n has no parent.
func (n *Node) IsRoot() bool { return n.ParentID == "" }

// Size returns the number of nodes in n's subtree, n included.
func (n *Node) Size() int64 { return (n.Rgt - n.Lft + 1) / 2 }

// Width returns the number of bound values the subtree occupies.
func (n *Node) Width() int64 { return n.Rgt - n.Lft + 1 }

// Covers reports whether other lies inside n's subtree, n itself included.
func (n *Node) Covers(other *Node) bool {
	return n.RootID == other.RootID && n.Lft <= other.Lft && other.Rgt <= n.Rgt
}

// IsDescendantOf reports whether a lies strictly inside b.
func IsDescendantOf(a, b *Node) bool {
	return a.RootID == b.RootID && b.Lft < a.Lft && a.Rgt < b.Rgt
}

// CreateNodeRequest is the input for inserting a new leaf.
// An empty ParentID creates a new root at the right end of the forest.
type CreateNodeRequest struct {
	ForestID string `json:"forest_id"`
	ParentID string `json:"parent_id,omitempty"`
	Ref      string `json:"ref,omitempty"`
}

// CreateForestRequest is the input for creating a forest.
type CreateForestRequest struct {
	Name string `json:"name"`
}
