package nestedset

import (
	"fmt"
	"slices"

	"github.com/Strob0t/arbor/internal/domain"
)

// Move is a fully resolved subtree relocation. [A,B] and [C,D] are the two
// adjacent intervals that swap places: one is the subtree's current span, the
// other the stretch of numbering between it and the target bound. Which one is
// which depends on the direction of the move; the formula does not care.
type Move struct {
	NodeID      string   `json:"node_id"`
	RootID      string   `json:"root_id"`
	Position    Position `json:"position"`
	NewParentID string   `json:"new_parent_id,omitempty"`
	A           int64    `json:"a"`
	B           int64    `json:"b"`
	C           int64    `json:"c"`
	D           int64    `json:"d"`
}

// Shift maps a single lft or rgt value to its post-move value.
func (m Move) Shift(v int64) int64 {
	switch {
	case v >= m.A && v <= m.B:
		return v + m.D - m.B
	case v >= m.C && v <= m.D:
		return v + m.A - m.C
	default:
		return v
	}
}

// Touches reports whether the node's row is inside the update range [A,D].
func (m Move) Touches(n *Node) bool {
	return (n.Lft >= m.A && n.Lft <= m.D) || (n.Rgt >= m.A && n.Rgt <= m.D)
}

// PlanMove resolves moving node to position relative to target.
//
// target may be nil only for PositionRoot. maxRgt is the largest rgt in the
// forest and is only consulted for PositionRoot. The returned bool is false
// when the node already sits at the requested position; the Move is then zero
// and nothing must be written.
func PlanMove(node, target *Node, pos Position, maxRgt int64) (Move, bool, error) {
	if err := pos.Validate(); err != nil {
		return Move{}, false, err
	}
	if err := CheckMove(node, target, pos); err != nil {
		return Move{}, false, err
	}

	tb := targetBound(target, pos, maxRgt)

	var bound, otherBound int64
	if tb > node.Rgt {
		bound = tb - 1
		otherBound = node.Rgt + 1
	} else {
		bound = tb
		otherBound = node.Lft - 1
	}

	if bound == node.Rgt || bound == node.Lft {
		return Move{}, false, nil
	}

	v := []int64{node.Lft, node.Rgt, bound, otherBound}
	slices.Sort(v)

	return Move{
		NodeID:      node.ID,
		RootID:      node.RootID,
		Position:    pos,
		NewParentID: newParentID(target, pos),
		A:           v[0],
		B:           v[1],
		C:           v[2],
		D:           v[3],
	}, true, nil
}

// CheckMove validates a move without computing it. The target must be in
// the node's forest and outside the node's subtree.
func CheckMove(node, target *Node, pos Position) error {
	if !pos.NeedsTarget() {
		return nil
	}
	if target == nil {
		return fmt.Errorf("position %s requires a target: %w", pos, domain.ErrValidation)
	}
	if target.RootID != node.RootID {
		return fmt.Errorf("target %s is in forest %s, node %s is in forest %s: %w",
			target.ID, target.RootID, node.ID, node.RootID, ErrImpossibleMove)
	}
	if node.Covers(target) {
		return fmt.Errorf("target node cannot be inside moved tree: %w", ErrImpossibleMove)
	}
	return nil
}

func targetBound(target *Node, pos Position, maxRgt int64) int64 {
	switch pos {
	case PositionChild:
		return target.Rgt
	case PositionLeft:
		return target.Lft
	case PositionRight:
		return target.Rgt + 1
	default:
		return maxRgt + 1
	}
}

func newParentID(target *Node, pos Position) string {
	switch pos {
	case PositionChild:
		return target.ID
	case PositionRoot:
		return ""
	default:
		return target.ParentID
	}
}
