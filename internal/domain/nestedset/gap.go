package nestedset

// Gap shifts every bound >= From by Delta. A positive Delta opens room for
// new nodes, a negative one closes the hole a deleted subtree leaves.
type Gap struct {
	RootID string `json:"root_id"`
	From   int64  `json:"from"`
	Delta  int64  `json:"delta"`
}

// Shift maps a single lft or rgt value through the gap.
func (g Gap) Shift(v int64) int64 {
	if v >= g.From {
		return v + g.Delta
	}
	return v
}

// Insertion describes where a new leaf goes and the gap that must be opened
// before it is written. Gap is nil when the leaf is appended as a root.
type Insertion struct {
	Lft      int64
	Rgt      int64
	ParentID string
	Gap      *Gap
}

// PlanInsert places a new leaf as the last child of parent, or as the
// rightmost root of the forest when parent is nil.
func PlanInsert(rootID string, parent *Node, maxRgt int64) Insertion {
	if parent == nil {
		return Insertion{Lft: maxRgt + 1, Rgt: maxRgt + 2}
	}
	return Insertion{
		Lft:      parent.Rgt,
		Rgt:      parent.Rgt + 1,
		ParentID: parent.ID,
		Gap:      &Gap{RootID: rootID, From: parent.Rgt, Delta: 2},
	}
}

// PlanDelete returns the gap closure for removing node and its subtree.
func PlanDelete(node *Node) Gap {
	return Gap{RootID: node.RootID, From: node.Rgt + 1, Delta: -node.Width()}
}
