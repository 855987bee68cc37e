// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/domain/sharing"
)

// NodeReader is the read side of the interval store. Reads never take the
// forest lock and may run concurrently with writers.
type NodeReader interface {
	GetNode(ctx context.Context, id string) (*nestedset.Node, error)
	GetForest(ctx context.Context, id string) (*nestedset.Forest, error)
	ListForests(ctx context.Context) ([]nestedset.Forest, error)

	Descendants(ctx context.Context, n *nestedset.Node) ([]nestedset.Node, error)
	Ancestors(ctx context.Context, n *nestedset.Node) ([]nestedset.Node, error)
	Children(ctx context.Context, n *nestedset.Node) ([]nestedset.Node, error)
	// RightSibling returns domain.ErrNotFound when n is the last sibling.
	RightSibling(ctx context.Context, n *nestedset.Node) (*nestedset.Node, error)
	Roots(ctx context.Context, forestID string) ([]nestedset.Node, error)

	// Snapshot reads the forest row and all its nodes, ordered by lft, from
	// one consistent view.
	Snapshot(ctx context.Context, forestID string) (*nestedset.Forest, []nestedset.Node, error)
}

// ForestTx is the write boundary of the interval store. It is only valid
// inside ForestLocker.WithForestLock and only touches rows of the locked
// forest.
type ForestTx interface {
	// Revision is the revision the transaction will commit: the locked
	// revision, plus one once anything was written.
	Revision() int64

	GetNode(ctx context.Context, id string) (*nestedset.Node, error)
	MaxRgt(ctx context.Context) (int64, error)
	ListNodes(ctx context.Context) ([]nestedset.Node, error)

	// ApplyMove runs the move formula as one bulk update and returns the
	// number of rows it rewrote.
	ApplyMove(ctx context.Context, m nestedset.Move) (int64, error)
	ApplyGap(ctx context.Context, g nestedset.Gap) (int64, error)
	InsertNode(ctx context.Context, n *nestedset.Node) error
	// DeleteRange removes every node whose lft falls in [lft, rgt].
	DeleteRange(ctx context.Context, lft, rgt int64) (int64, error)
	// SetBounds overwrites lft, rgt and parent_id of one node. Used by rebuild.
	SetBounds(ctx context.Context, n *nestedset.Node) error
}

// ForestLocker serialises structural writes per forest. fn runs in a
// transaction holding the forest's lock; the transaction commits when fn
// returns nil and rolls back otherwise. The forest revision is bumped once
// if fn wrote anything.
type ForestLocker interface {
	WithForestLock(ctx context.Context, forestID string, fn func(tx ForestTx) error) error
}

// TargetStore persists share targets and answers the containment queries
// over them.
type TargetStore interface {
	CreateTarget(ctx context.Context, t *sharing.Target) error
	GetTarget(ctx context.Context, id string) (*sharing.Target, error)
	// SharedTargets lists targets visible from viewer, whose top-level root is top.
	SharedTargets(ctx context.Context, viewer, top *nestedset.Node, f sharing.Filter) ([]sharing.Target, error)
	// DroppableTargets lists, for every project inside scope, the non-closed
	// targets of kind its stories may be dropped on.
	DroppableTargets(ctx context.Context, scope *nestedset.Node, kind sharing.Kind) ([]sharing.Droppable, error)
}

// Store is the port interface for database operations.
type Store interface {
	NodeReader
	ForestLocker
	TargetStore

	CreateForest(ctx context.Context, f *nestedset.Forest) error
	// Backend names the SQL dialect, e.g. "postgres" or "sqlite".
	Backend() string
	Close()
}
