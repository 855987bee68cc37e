package nestedset

import (
	"errors"
	"fmt"

	"github.com/Strob0t/arbor/internal/domain"
)

// ErrImpossibleMove is returned when a move would place a node inside its own
// subtree, onto itself, or into a different forest. The tree is left untouched.
var ErrImpossibleMove = errors.New("impossible move")

// Position says where a moved subtree lands relative to its target.
type Position string

const (
	PositionChild Position = "child" // last child of target
	PositionLeft  Position = "left"  // left sibling of target
	PositionRight Position = "right" // right sibling of target
	PositionRoot  Position = "root"  // new root at the right end of the forest
)

// ParsePosition validates s as a Position.
func ParsePosition(s string) (Position, error) {
	p := Position(s)
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// Validate returns a validation error for unknown positions.
func (p Position) Validate() error {
	switch p {
	case PositionChild, PositionLeft, PositionRight, PositionRoot:
		return nil
	default:
		return fmt.Errorf("position should be child, left, right or root (%q received): %w", string(p), domain.ErrValidation)
	}
}

// NeedsTarget reports whether the position is relative to a target node.
func (p Position) NeedsTarget() bool { return p != PositionRoot }

func (p Position) String() string { return string(p) }
