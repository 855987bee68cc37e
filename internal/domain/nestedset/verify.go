package nestedset

import (
	"fmt"
	"sort"
)

// ViolationKind classifies an invariant violation found by Verify.
type ViolationKind string

const (
	ViolationBounds    ViolationKind = "bounds"    // lft >= rgt
	ViolationDuplicate ViolationKind = "duplicate" // a bound value used twice
	ViolationOverlap   ViolationKind = "overlap"   // partial interval overlap
	ViolationParent    ViolationKind = "parent"    // parent_id disagrees with containment
	ViolationSize      ViolationKind = "size"      // (rgt-lft+1)/2 != subtree node count
	ViolationForest    ViolationKind = "forest"    // node carries a foreign root_id
	ViolationGapped    ViolationKind = "gapped"    // bounds are not exactly 1..2N
)

// Violation is one broken invariant.
type Violation struct {
	Kind   ViolationKind `json:"kind"`
	NodeID string        `json:"node_id,omitempty"`
	Detail string        `json:"detail"`
}

func (v Violation) String() string {
	if v.NodeID == "" {
		return fmt.Sprintf("%s: %s", v.Kind, v.Detail)
	}
	return fmt.Sprintf("%s (node %s): %s", v.Kind, v.NodeID, v.Detail)
}

// Report is the outcome of verifying a forest.
type Report struct {
	ForestID   string      `json:"forest_id"`
	Nodes      int         `json:"nodes"`
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Verify checks every at-rest invariant of the forest rootID. A forest that is
// only gapped is still valid; gaps are reported but harmless to moves.
func Verify(rootID string, nodes []Node) Report {
	r := Report{ForestID: rootID, Nodes: len(nodes)}

	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	SortByLft(sorted)

	seen := make(map[int64]string, 2*len(sorted))
	var minBound, maxBound int64
	if len(sorted) > 0 {
		minBound, maxBound = sorted[0].Lft, sorted[0].Lft
	}
	for i := range sorted {
		n := &sorted[i]
		if n.RootID != rootID {
			r.add(ViolationForest, n.ID, "root_id %s, expected %s", n.RootID, rootID)
		}
		if n.Lft >= n.Rgt {
			r.add(ViolationBounds, n.ID, "lft %d >= rgt %d", n.Lft, n.Rgt)
		}
		for _, b := range []int64{n.Lft, n.Rgt} {
			if other, dup := seen[b]; dup {
				r.add(ViolationDuplicate, n.ID, "bound %d also used by %s", b, other)
			}
			seen[b] = n.ID
			minBound = min(minBound, b)
			maxBound = max(maxBound, b)
		}
	}

	// Walk in document order keeping the chain of open intervals; the top of
	// the chain is the innermost interval still open, i.e. the parent.
	var stack []*Node
	for i := range sorted {
		n := &sorted[i]
		for len(stack) > 0 && stack[len(stack)-1].Rgt < n.Lft {
			stack = stack[:len(stack)-1]
		}
		wantParent := ""
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			if n.Rgt > top.Rgt {
				r.add(ViolationOverlap, n.ID, "[%d,%d] partially overlaps %s [%d,%d]", n.Lft, n.Rgt, top.ID, top.Lft, top.Rgt)
			}
			wantParent = top.ID
		}
		if n.ParentID != wantParent {
			r.add(ViolationParent, n.ID, "parent_id %q, containment says %q", n.ParentID, wantParent)
		}
		stack = append(stack, n)

		// Nodes inside n are exactly those whose lft falls in (n.Lft, n.Rgt).
		end := sort.Search(len(sorted), func(j int) bool { return sorted[j].Lft > n.Rgt })
		if got := int64(end - i); n.Lft < n.Rgt && got != n.Size() {
			r.add(ViolationSize, n.ID, "interval holds %d nodes, width implies %d", got, n.Size())
		}
	}

	if len(sorted) > 0 && (minBound != 1 || maxBound != int64(2*len(sorted))) {
		r.Violations = append(r.Violations, Violation{
			Kind:   ViolationGapped,
			Detail: fmt.Sprintf("bounds span %d..%d for %d nodes", minBound, maxBound, len(sorted)),
		})
	}

	r.Valid = true
	for _, v := range r.Violations {
		if v.Kind != ViolationGapped {
			r.Valid = false
			break
		}
	}
	return r
}

func (r *Report) add(kind ViolationKind, nodeID, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{Kind: kind, NodeID: nodeID, Detail: fmt.Sprintf(format, args...)})
}
