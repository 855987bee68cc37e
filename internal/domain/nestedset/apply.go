package nestedset

import (
	"cmp"
	"slices"
)

// Apply returns a copy of nodes with m applied, sorted by Lft. It mirrors the
// single bulk UPDATE the stores issue and is used for dry runs.
func Apply(nodes []Node, m Move) []Node {
	out := make([]Node, len(nodes))
	copy(out, nodes)
	for i := range out {
		n := &out[i]
		if n.RootID != m.RootID || !m.Touches(n) {
			continue
		}
		n.Lft = m.Shift(n.Lft)
		n.Rgt = m.Shift(n.Rgt)
		if n.ID == m.NodeID {
			n.ParentID = m.NewParentID
		}
	}
	SortByLft(out)
	return out
}

// ApplyGap returns a copy of nodes with g applied.
func ApplyGap(nodes []Node, g Gap) []Node {
	out := make([]Node, len(nodes))
	copy(out, nodes)
	for i := range out {
		if out[i].RootID != g.RootID {
			continue
		}
		out[i].Lft = g.Shift(out[i].Lft)
		out[i].Rgt = g.Shift(out[i].Rgt)
	}
	return out
}

// SortByLft orders nodes by ascending Lft, which is document order.
func SortByLft(nodes []Node) {
	slices.SortFunc(nodes, func(a, b Node) int { return cmp.Compare(a.Lft, b.Lft) })
}

// Rebuild renumbers a forest from its ParentID links. Siblings keep their
// current Lft order (ties broken by CreatedAt, then ID). Nodes whose parent is
// missing, or that are caught in a parent cycle, become roots.
func Rebuild(nodes []Node) []Node {
	byID := make(map[string]int, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = i
	}

	children := make(map[string][]int, len(nodes))
	var roots []int
	for i := range nodes {
		p := nodes[i].ParentID
		if _, ok := byID[p]; p == "" || !ok {
			roots = append(roots, i)
			continue
		}
		children[p] = append(children[p], i)
	}

	order := func(idx []int) {
		slices.SortFunc(idx, func(a, b int) int {
			na, nb := nodes[a], nodes[b]
			return cmp.Or(
				cmp.Compare(na.Lft, nb.Lft),
				na.CreatedAt.Compare(nb.CreatedAt),
				cmp.Compare(na.ID, nb.ID),
			)
		})
	}
	order(roots)
	for k := range children {
		order(children[k])
	}

	out := make([]Node, len(nodes))
	copy(out, nodes)
	visited := make([]bool, len(nodes))
	var counter int64

	type frame struct {
		idx  int
		next int
	}
	walk := func(root int) {
		stack := []frame{{idx: root}}
		visited[root] = true
		counter++
		out[root].Lft = counter
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			kids := children[nodes[top.idx].ID]
			if top.next < len(kids) {
				c := kids[top.next]
				top.next++
				if visited[c] {
					continue
				}
				visited[c] = true
				counter++
				out[c].Lft = counter
				out[c].ParentID = nodes[top.idx].ID
				stack = append(stack, frame{idx: c})
				continue
			}
			counter++
			out[top.idx].Rgt = counter
			stack = stack[:len(stack)-1]
		}
	}

	for _, r := range roots {
		out[r].ParentID = ""
		walk(r)
	}
	// Whatever is left hangs off a parent cycle.
	for i := range nodes {
		if !visited[i] {
			out[i].ParentID = ""
			walk(i)
		}
	}

	SortByLft(out)
	return out
}

// TreeNode is a node with its children materialised, for rendering.
type TreeNode struct {
	Node
	Children []*TreeNode `json:"children,omitempty"`
}

// BuildTree nests a forest's nodes by interval containment in one pass.
func BuildTree(nodes []Node) []*TreeNode {
	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	SortByLft(sorted)

	var roots []*TreeNode
	var stack []*TreeNode
	for i := range sorted {
		tn := &TreeNode{Node: sorted[i]}
		for len(stack) > 0 && stack[len(stack)-1].Rgt < tn.Lft {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, tn)
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, tn)
		}
		stack = append(stack, tn)
	}
	return roots
}
