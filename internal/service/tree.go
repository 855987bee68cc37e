// Package service implements business logic on top of ports.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/arbor/internal/adapter/otel"
	"github.com/Strob0t/arbor/internal/domain"
	"github.com/Strob0t/arbor/internal/domain/event"
	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/port/database"
)

// MoveResult is the outcome of a committed move request.
type MoveResult struct {
	Node        *nestedset.Node `json:"node"`
	Applied     bool            `json:"applied"`
	RowsShifted int64           `json:"rows_shifted"`
	Revision    int64           `json:"revision"`
}

// MovePreview is the forest as it would look after a move, computed from a
// snapshot without writing.
type MovePreview struct {
	Move     *nestedset.Move  `json:"move,omitempty"`
	Applied  bool             `json:"applied"`
	Revision int64            `json:"revision"`
	Nodes    []nestedset.Node `json:"nodes"`
}

// DeleteResult reports a subtree deletion.
type DeleteResult struct {
	Removed  int64 `json:"removed"`
	Revision int64 `json:"revision"`
}

// RebuildResult reports a renumbering from parent links.
type RebuildResult struct {
	Changed  int   `json:"changed"`
	Revision int64 `json:"revision"`
}

// TreeService owns every structural write to a forest: leaf insertion,
// subtree deletion, moves and maintenance. Each runs inside one
// ForestLocker transaction; reads go straight to the store.
type TreeService struct {
	store     database.Store
	events    *EventPublisher
	metrics   *otel.Metrics
	snapshots *SnapshotCache
}

// NewTreeService creates a TreeService. events may be nil.
func NewTreeService(store database.Store, events *EventPublisher) *TreeService {
	return &TreeService{store: store, events: events}
}

// SetMetrics sets the engine's metric instruments.
func (s *TreeService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// SetSnapshotCache enables cached forest snapshots.
func (s *TreeService) SetSnapshotCache(c *SnapshotCache) {
	s.snapshots = c
}

func (s *TreeService) publish(ctx context.Context, ev event.TreeEvent) {
	if s.events != nil {
		s.events.Publish(ctx, ev)
	}
}

// --- Forests ---

// CreateForest creates an empty forest.
func (s *TreeService) CreateForest(ctx context.Context, req nestedset.CreateForestRequest) (*nestedset.Forest, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", domain.ErrValidation)
	}
	f := &nestedset.Forest{ID: uuid.NewString(), Name: name}
	if err := s.store.CreateForest(ctx, f); err != nil {
		return nil, err
	}
	slog.Info("forest created", "forest_id", f.ID, "name", f.Name)
	s.publish(ctx, event.TreeEvent{Type: event.TypeForestCreated, ForestID: f.ID, Revision: f.Revision})
	return f, nil
}

// ListForests returns all forests.
func (s *TreeService) ListForests(ctx context.Context) ([]nestedset.Forest, error) {
	return s.store.ListForests(ctx)
}

// GetForest returns a forest by ID.
func (s *TreeService) GetForest(ctx context.Context, id string) (*nestedset.Forest, error) {
	return s.store.GetForest(ctx, id)
}

// ForestNodes returns the forest and all its nodes in lft order from one
// consistent read, served from the snapshot cache when one is set.
func (s *TreeService) ForestNodes(ctx context.Context, forestID string) (*Snapshot, error) {
	if s.snapshots != nil {
		return s.snapshots.Get(ctx, forestID)
	}
	f, nodes, err := s.store.Snapshot(ctx, forestID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Forest: *f, Nodes: nodes}, nil
}

// ForestTree returns the forest's nodes nested by containment.
func (s *TreeService) ForestTree(ctx context.Context, forestID string) ([]*nestedset.TreeNode, error) {
	snap, err := s.ForestNodes(ctx, forestID)
	if err != nil {
		return nil, err
	}
	return nestedset.BuildTree(snap.Nodes), nil
}

// --- Nodes ---

// CreateNode inserts a leaf as the last child of req.ParentID, or as the
// rightmost root of the forest when no parent is given.
func (s *TreeService) CreateNode(ctx context.Context, req nestedset.CreateNodeRequest) (*nestedset.Node, error) {
	if req.ForestID == "" {
		return nil, fmt.Errorf("forest_id is required: %w", domain.ErrValidation)
	}

	ctx, span := otel.StartForestSpan(ctx, "create_node", req.ForestID)
	n := &nestedset.Node{ID: uuid.NewString(), Ref: req.Ref}
	var revision int64
	err := s.store.WithForestLock(ctx, req.ForestID, func(tx database.ForestTx) error {
		var parent *nestedset.Node
		if req.ParentID != "" {
			p, err := tx.GetNode(ctx, req.ParentID)
			if err != nil {
				return err
			}
			if p.RootID != req.ForestID {
				return fmt.Errorf("parent %s belongs to forest %s: %w", p.ID, p.RootID, domain.ErrValidation)
			}
			parent = p
		}
		maxRgt, err := tx.MaxRgt(ctx)
		if err != nil {
			return err
		}

		ins := nestedset.PlanInsert(req.ForestID, parent, maxRgt)
		if ins.Gap != nil {
			if _, err := tx.ApplyGap(ctx, *ins.Gap); err != nil {
				return err
			}
		}
		n.Lft, n.Rgt, n.ParentID = ins.Lft, ins.Rgt, ins.ParentID
		if err := tx.InsertNode(ctx, n); err != nil {
			return err
		}
		revision = tx.Revision()
		return nil
	})
	otel.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.NodesCreated.Add(ctx, 1)
	}
	s.publish(ctx, event.TreeEvent{
		Type: event.TypeNodeCreated, ForestID: n.RootID, NodeID: n.ID, ParentID: n.ParentID, Revision: revision,
	})
	return n, nil
}

// GetNode returns a node by ID.
func (s *TreeService) GetNode(ctx context.Context, id string) (*nestedset.Node, error) {
	return s.store.GetNode(ctx, id)
}

// DeleteSubtree removes a node with its whole subtree and closes the gap it
// leaves, keeping the forest's bounds tight.
func (s *TreeService) DeleteSubtree(ctx context.Context, id string) (*DeleteResult, error) {
	n, err := s.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.StartForestSpan(ctx, "delete_subtree", n.RootID)
	res := &DeleteResult{}
	err = s.store.WithForestLock(ctx, n.RootID, func(tx database.ForestTx) error {
		cur, err := tx.GetNode(ctx, id)
		if err != nil {
			return err
		}
		removed, err := tx.DeleteRange(ctx, cur.Lft, cur.Rgt)
		if err != nil {
			return err
		}
		if removed != cur.Size() {
			return fmt.Errorf("delete %s: removed %d rows, subtree holds %d: %w",
				id, removed, cur.Size(), domain.ErrConflict)
		}
		if _, err := tx.ApplyGap(ctx, nestedset.PlanDelete(cur)); err != nil {
			return err
		}
		res.Removed = removed
		res.Revision = tx.Revision()
		return nil
	})
	otel.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.NodesDeleted.Add(ctx, res.Removed)
	}
	s.publish(ctx, event.TreeEvent{
		Type: event.TypeNodeDeleted, ForestID: n.RootID, NodeID: n.ID, ParentID: n.ParentID, Revision: res.Revision,
	})
	return res, nil
}

// --- Moves ---

// MoveToChildOf makes the node the last child of target.
func (s *TreeService) MoveToChildOf(ctx context.Context, nodeID, targetID string) (*MoveResult, error) {
	return s.MoveTo(ctx, nodeID, targetID, nestedset.PositionChild)
}

// MoveToLeftOf makes the node the left sibling of target.
func (s *TreeService) MoveToLeftOf(ctx context.Context, nodeID, targetID string) (*MoveResult, error) {
	return s.MoveTo(ctx, nodeID, targetID, nestedset.PositionLeft)
}

// MoveToRightOf makes the node the right sibling of target.
func (s *TreeService) MoveToRightOf(ctx context.Context, nodeID, targetID string) (*MoveResult, error) {
	return s.MoveTo(ctx, nodeID, targetID, nestedset.PositionRight)
}

// MoveToRoot makes the node the rightmost root of its forest.
func (s *TreeService) MoveToRoot(ctx context.Context, nodeID string) (*MoveResult, error) {
	return s.MoveTo(ctx, nodeID, "", nestedset.PositionRoot)
}

// MoveTo relocates the node's subtree to pos relative to targetID. The
// formula is planned from bounds re-read under the forest lock and applied as
// one bulk update, so concurrent moves in the same forest serialise and each
// sees the other's result. A move to the node's current position writes
// nothing and keeps the revision.
func (s *TreeService) MoveTo(ctx context.Context, nodeID, targetID string, pos nestedset.Position) (res *MoveResult, err error) {
	start := time.Now()
	outcome := "rejected"
	defer func() {
		if s.metrics != nil {
			var rows int64
			if res != nil {
				rows = res.RowsShifted
			}
			s.metrics.RecordMove(ctx, s.store.Backend(), outcome, rows, time.Since(start).Seconds())
		}
	}()

	if err := pos.Validate(); err != nil {
		return nil, err
	}
	if pos.NeedsTarget() && targetID == "" {
		return nil, fmt.Errorf("position %s requires a target: %w", pos, domain.ErrValidation)
	}

	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if pos.NeedsTarget() {
		target, err := s.store.GetNode(ctx, targetID)
		if err != nil {
			return nil, err
		}
		// The lock below covers node's forest only, so a foreign target is
		// rejected here. Containment is checked on bounds re-read under it.
		if target.RootID != node.RootID {
			return nil, fmt.Errorf("target %s is in forest %s, node %s in forest %s: %w",
				target.ID, target.RootID, node.ID, node.RootID, nestedset.ErrImpossibleMove)
		}
	}

	ctx, span := otel.StartMoveSpan(ctx, nodeID, targetID, string(pos))
	res = &MoveResult{}
	var move nestedset.Move
	err = s.store.WithForestLock(ctx, node.RootID, func(tx database.ForestTx) error {
		cur, err := tx.GetNode(ctx, nodeID)
		if err != nil {
			return err
		}
		var target *nestedset.Node
		if pos.NeedsTarget() {
			if target, err = tx.GetNode(ctx, targetID); err != nil {
				return err
			}
		}
		var maxRgt int64
		if pos == nestedset.PositionRoot {
			if maxRgt, err = tx.MaxRgt(ctx); err != nil {
				return err
			}
		}

		m, ok, err := nestedset.PlanMove(cur, target, pos, maxRgt)
		if err != nil {
			return err
		}
		if !ok {
			res.Node = cur
			res.Revision = tx.Revision()
			return nil
		}
		rows, err := tx.ApplyMove(ctx, m)
		if err != nil {
			return err
		}
		moved, err := tx.GetNode(ctx, nodeID)
		if err != nil {
			return err
		}
		move = m
		res.Node = moved
		res.Applied = true
		res.RowsShifted = rows
		res.Revision = tx.Revision()
		return nil
	})
	otel.EndSpan(span, err)
	if err != nil {
		if errors.Is(err, nestedset.ErrImpossibleMove) {
			slog.Debug("move rejected", "node_id", nodeID, "target_id", targetID, "position", pos, "error", err)
		}
		return nil, err
	}

	if !res.Applied {
		outcome = "noop"
		return res, nil
	}
	outcome = "applied"
	slog.Info("node moved",
		"node_id", nodeID, "target_id", targetID, "position", pos,
		"forest_id", node.RootID, "rows", res.RowsShifted, "revision", res.Revision,
		"a", move.A, "b", move.B, "c", move.C, "d", move.D)
	s.publish(ctx, event.TreeEvent{
		Type:        event.TypeNodeMoved,
		ForestID:    node.RootID,
		NodeID:      nodeID,
		ParentID:    res.Node.ParentID,
		Position:    string(pos),
		TargetID:    targetID,
		Revision:    res.Revision,
		RowsShifted: res.RowsShifted,
	})
	return res, nil
}

// PreviewMove plans the move against a consistent snapshot and applies it in
// memory. Nothing is written; the result is what MoveTo would commit if the
// forest did not change in between.
func (s *TreeService) PreviewMove(ctx context.Context, nodeID, targetID string, pos nestedset.Position) (*MovePreview, error) {
	if err := pos.Validate(); err != nil {
		return nil, err
	}
	if pos.NeedsTarget() && targetID == "" {
		return nil, fmt.Errorf("position %s requires a target: %w", pos, domain.ErrValidation)
	}
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	var target *nestedset.Node
	if pos.NeedsTarget() {
		if target, err = s.store.GetNode(ctx, targetID); err != nil {
			return nil, err
		}
		if target.RootID != node.RootID {
			return nil, nestedset.CheckMove(node, target, pos)
		}
	}

	f, nodes, err := s.store.Snapshot(ctx, node.RootID)
	if err != nil {
		return nil, err
	}
	node = findNode(nodes, nodeID)
	if node == nil {
		return nil, fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}
	if target != nil {
		if target = findNode(nodes, targetID); target == nil {
			return nil, fmt.Errorf("node %s: %w", targetID, domain.ErrNotFound)
		}
	}
	var maxRgt int64
	for i := range nodes {
		maxRgt = max(maxRgt, nodes[i].Rgt)
	}

	m, ok, err := nestedset.PlanMove(node, target, pos, maxRgt)
	if err != nil {
		return nil, err
	}
	out := &MovePreview{Applied: ok, Revision: f.Revision, Nodes: nodes}
	if ok {
		out.Move = &m
		out.Nodes = nestedset.Apply(nodes, m)
	}
	return out, nil
}

func findNode(nodes []nestedset.Node, id string) *nestedset.Node {
	for i := range nodes {
		if nodes[i].ID == id {
			n := nodes[i]
			return &n
		}
	}
	return nil
}

// --- Queries ---

// Roots returns the forest's top-level nodes in lft order.
func (s *TreeService) Roots(ctx context.Context, forestID string) ([]nestedset.Node, error) {
	if _, err := s.store.GetForest(ctx, forestID); err != nil {
		return nil, err
	}
	return s.store.Roots(ctx, forestID)
}

// Children returns the node's direct children in sibling order.
func (s *TreeService) Children(ctx context.Context, id string) ([]nestedset.Node, error) {
	n, err := s.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.Children(ctx, n)
}

// Descendants returns the node's whole subtree, itself excluded, in lft order.
func (s *TreeService) Descendants(ctx context.Context, id string) ([]nestedset.Node, error) {
	n, err := s.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.Descendants(ctx, n)
}

// Ancestors returns the node's ancestors, outermost first.
func (s *TreeService) Ancestors(ctx context.Context, id string) ([]nestedset.Node, error) {
	n, err := s.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.Ancestors(ctx, n)
}

// RightSibling returns the next sibling, or domain.ErrNotFound.
func (s *TreeService) RightSibling(ctx context.Context, id string) (*nestedset.Node, error) {
	n, err := s.store.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.RightSibling(ctx, n)
}

// IsDescendantOf reports whether node a lies strictly inside node b.
func (s *TreeService) IsDescendantOf(ctx context.Context, a, b string) (bool, error) {
	na, err := s.store.GetNode(ctx, a)
	if err != nil {
		return false, err
	}
	nb, err := s.store.GetNode(ctx, b)
	if err != nil {
		return false, err
	}
	return nestedset.IsDescendantOf(na, nb), nil
}

// --- Maintenance ---

// Verify checks the forest's invariants under the forest lock, so the
// report never mixes pre- and post-move rows.
func (s *TreeService) Verify(ctx context.Context, forestID string) (*nestedset.Report, error) {
	var report nestedset.Report
	err := s.store.WithForestLock(ctx, forestID, func(tx database.ForestTx) error {
		nodes, err := tx.ListNodes(ctx)
		if err != nil {
			return err
		}
		report = nestedset.Verify(forestID, nodes)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !report.Valid {
		slog.Warn("forest invariants violated", "forest_id", forestID, "violations", len(report.Violations))
	}
	return &report, nil
}

// Rebuild renumbers the forest from its parent links and writes back only
// the nodes whose bounds or parent changed. An intact, tight forest is left
// untouched.
func (s *TreeService) Rebuild(ctx context.Context, forestID string) (*RebuildResult, error) {
	ctx, span := otel.StartForestSpan(ctx, "rebuild", forestID)
	res := &RebuildResult{}
	err := s.store.WithForestLock(ctx, forestID, func(tx database.ForestTx) error {
		nodes, err := tx.ListNodes(ctx)
		if err != nil {
			return err
		}
		before := make(map[string]nestedset.Node, len(nodes))
		for _, n := range nodes {
			before[n.ID] = n
		}
		for _, n := range nestedset.Rebuild(nodes) {
			old := before[n.ID]
			if old.Lft == n.Lft && old.Rgt == n.Rgt && old.ParentID == n.ParentID {
				continue
			}
			if err := tx.SetBounds(ctx, &n); err != nil {
				return err
			}
			res.Changed++
		}
		res.Revision = tx.Revision()
		return nil
	})
	otel.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	slog.Info("forest rebuilt", "forest_id", forestID, "changed", res.Changed, "revision", res.Revision)
	if res.Changed > 0 {
		s.publish(ctx, event.TreeEvent{Type: event.TypeForestRebuilt, ForestID: forestID, Revision: res.Revision})
	}
	return res, nil
}
