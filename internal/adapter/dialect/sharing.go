package dialect

import (
	"strings"

	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/domain/sharing"
)

const targetColumns = `t.id, t.owner_node_id, t.kind, t.name, t.status, t.sharing, t.start_date, t.end_date, t.created_at`

// TargetColumns is the column list SharedTargets selects, in scan order.
func TargetColumns() string { return targetColumns }

// SharedTargets builds the listing of targets visible from viewer, whose
// top-level root is top.
func (d Dialect) SharedTargets(viewer, top *nestedset.Node, f sharing.Filter) *Query {
	q := d.NewQuery()
	q.Write("SELECT " + targetColumns + `
		FROM share_targets t
		JOIN nodes o ON o.id = t.owner_node_id
		WHERE t.kind = ` + q.Arg(string(f.Kind)))

	statuses := f.Statuses()
	marks := make([]string, len(statuses))
	for i, s := range statuses {
		marks[i] = q.Arg(string(s))
	}
	q.Write(" AND t.status IN (" + strings.Join(marks, ", ") + ")")

	q.Write(`
		  AND (o.id = ` + q.Arg(viewer.ID) + `
		    OR t.sharing = 'system'
		    OR (o.root_id = ` + q.Arg(viewer.RootID) + ` AND (
		         (t.sharing = 'tree' AND o.lft >= ` + q.Arg(top.Lft) + ` AND o.rgt <= ` + q.Arg(top.Rgt) + `)
		      OR (t.sharing IN ('hierarchy', 'descendants') AND o.lft < ` + q.Arg(viewer.Lft) + ` AND o.rgt > ` + q.Arg(viewer.Rgt) + `)
		      OR (t.sharing = 'hierarchy' AND o.lft > ` + q.Arg(viewer.Lft) + ` AND o.rgt < ` + q.Arg(viewer.Rgt) + `))))`)

	dir := "ASC"
	if f.Order == sharing.OrderDesc {
		dir = "DESC"
	}
	q.Write("\n\t\tORDER BY t.end_date " + dir + ", t.start_date " + dir + ", t.name")
	return q
}

// Droppable builds the per-project list of non-closed targets of kind that
// stories of projects inside scope may be dropped on. Each row is a project
// id and the comma separated target ids.
func (d Dialect) Droppable(scope *nestedset.Node, kind sharing.Kind) *Query {
	q := d.NewQuery()
	q.Write(`SELECT pp.id, ` + d.AggregateList("t.id") + `
		FROM share_targets t
		JOIN nodes o ON o.id = t.owner_node_id
		JOIN nodes tr ON tr.root_id = o.root_id AND tr.parent_id IS NULL
		     AND tr.lft <= o.lft AND tr.rgt >= o.rgt
		JOIN nodes pp ON pp.id = o.id
		     OR t.sharing = 'system'
		     OR (pp.root_id = o.root_id AND (
		          (t.sharing = 'tree' AND pp.lft >= tr.lft AND pp.rgt <= tr.rgt)
		       OR (t.sharing IN ('hierarchy', 'descendants') AND pp.lft >= o.lft AND pp.rgt <= o.rgt)
		       OR (t.sharing = 'hierarchy' AND pp.lft < o.lft AND pp.rgt > o.rgt)))
		WHERE pp.root_id = ` + q.Arg(scope.RootID) + `
		  AND pp.lft >= ` + q.Arg(scope.Lft) + ` AND pp.rgt <= ` + q.Arg(scope.Rgt) + `
		  AND t.kind = ` + q.Arg(string(kind)) + `
		  AND t.status <> 'closed'
		GROUP BY pp.id
		ORDER BY MIN(pp.lft)`)
	return q
}

// SplitList undoes AggregateList.
func SplitList(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
