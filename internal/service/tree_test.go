package service_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/arbor/internal/adapter/ristretto"
	"github.com/Strob0t/arbor/internal/adapter/sqlite"
	"github.com/Strob0t/arbor/internal/config"
	"github.com/Strob0t/arbor/internal/domain"
	"github.com/Strob0t/arbor/internal/domain/event"
	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/port/database"
	"github.com/Strob0t/arbor/internal/service"
)

// recorder is a broadcast.Broadcaster that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []event.TreeEvent
}

func (r *recorder) BroadcastEvent(_ context.Context, _, _ string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := payload.(event.TreeEvent); ok {
		r.events = append(r.events, ev)
	}
}

func (r *recorder) last() event.TreeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return event.TreeEvent{}
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, config.SQLite{
		Path:        filepath.Join(t.TempDir(), "arbor.db"),
		BusyTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := sqlite.RunMigrations(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := sqlite.NewStore(db)
	t.Cleanup(store.Close)
	return store
}

func newTreeService(t *testing.T) (*service.TreeService, *sqlite.Store, *recorder) {
	t.Helper()
	store := openStore(t)
	rec := &recorder{}
	return service.NewTreeService(store, service.NewEventPublisher("test-instance", rec)), store, rec
}

// buildScenario creates R{A, B{D, E}} through the service, which numbers it
// R(1,10) A(2,3) B(4,9) D(5,6) E(7,8).
func buildScenario(t *testing.T, svc *service.TreeService) (string, map[string]string) {
	t.Helper()
	ctx := context.Background()
	f, err := svc.CreateForest(ctx, nestedset.CreateForestRequest{Name: "scenario"})
	if err != nil {
		t.Fatalf("create forest: %v", err)
	}
	ids := map[string]string{}
	for _, step := range []struct{ name, parent string }{
		{"R", ""}, {"A", "R"}, {"B", "R"}, {"D", "B"}, {"E", "B"},
	} {
		n, err := svc.CreateNode(ctx, nestedset.CreateNodeRequest{ForestID: f.ID, ParentID: ids[step.parent], Ref: step.name})
		if err != nil {
			t.Fatalf("create %s: %v", step.name, err)
		}
		ids[step.name] = n.ID
	}
	return f.ID, ids
}

type span struct {
	ref      string
	lft, rgt int64
}

func spans(t *testing.T, svc *service.TreeService, forestID string) []span {
	t.Helper()
	snap, err := svc.ForestNodes(context.Background(), forestID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	out := make([]span, len(snap.Nodes))
	for i, n := range snap.Nodes {
		out[i] = span{n.Ref, n.Lft, n.Rgt}
	}
	return out
}

func mustVerify(t *testing.T, svc *service.TreeService, forestID string) {
	t.Helper()
	rep, err := svc.Verify(context.Background(), forestID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !rep.Valid {
		t.Fatalf("forest invalid: %v", rep.Violations)
	}
	for _, v := range rep.Violations {
		if v.Kind == nestedset.ViolationGapped {
			t.Fatalf("forest not tight: %v", v)
		}
	}
}

func TestCreateNode_Numbering(t *testing.T) {
	svc, _, _ := newTreeService(t)
	forestID, _ := buildScenario(t, svc)

	want := []span{{"R", 1, 10}, {"A", 2, 3}, {"B", 4, 9}, {"D", 5, 6}, {"E", 7, 8}}
	if got := spans(t, svc, forestID); !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	mustVerify(t, svc, forestID)
}

func TestCreateNode_Errors(t *testing.T) {
	svc, _, _ := newTreeService(t)
	ctx := context.Background()
	forestID, ids := buildScenario(t, svc)
	other, err := svc.CreateForest(ctx, nestedset.CreateForestRequest{Name: "other"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  nestedset.CreateNodeRequest
		want error
	}{
		{"missing forest id", nestedset.CreateNodeRequest{}, domain.ErrValidation},
		{"unknown forest", nestedset.CreateNodeRequest{ForestID: "nope"}, domain.ErrNotFound},
		{"unknown parent", nestedset.CreateNodeRequest{ForestID: forestID, ParentID: "nope"}, domain.ErrNotFound},
		{"parent in other forest", nestedset.CreateNodeRequest{ForestID: other.ID, ParentID: ids["B"]}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateNode(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if _, err := svc.CreateForest(ctx, nestedset.CreateForestRequest{Name: "  "}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank forest name: expected validation error, got %v", err)
	}
}

func TestMoveTo_WorkedScenario(t *testing.T) {
	svc, _, rec := newTreeService(t)
	ctx := context.Background()
	forestID, ids := buildScenario(t, svc)
	before, _ := svc.GetForest(ctx, forestID)

	res, err := svc.MoveToChildOf(ctx, ids["A"], ids["B"])
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if !res.Applied || res.RowsShifted != 4 {
		t.Fatalf("expected applied move over 4 rows, got %+v", res)
	}
	if res.Node.Lft != 7 || res.Node.Rgt != 8 || res.Node.ParentID != ids["B"] {
		t.Errorf("moved node %+v", res.Node)
	}
	if res.Revision != before.Revision+1 {
		t.Errorf("revision %d, want %d", res.Revision, before.Revision+1)
	}

	want := []span{{"R", 1, 10}, {"B", 2, 9}, {"D", 3, 4}, {"E", 5, 6}, {"A", 7, 8}}
	if got := spans(t, svc, forestID); !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	mustVerify(t, svc, forestID)

	kids, err := svc.Children(ctx, ids["B"])
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, k := range kids {
		order = append(order, k.Ref)
	}
	if !slices.Equal(order, []string{"D", "E", "A"}) {
		t.Errorf("children of B: %v", order)
	}

	ev := rec.last()
	if ev.Type != event.TypeNodeMoved || ev.NodeID != ids["A"] || ev.Revision != res.Revision || ev.Instance != "test-instance" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestMoveTo_Positions(t *testing.T) {
	tests := []struct {
		name   string
		move   func(svc *service.TreeService, ids map[string]string) (*service.MoveResult, error)
		want   []span
		parent string
	}{
		{
			name: "child",
			move: func(svc *service.TreeService, ids map[string]string) (*service.MoveResult, error) {
				return svc.MoveToChildOf(context.Background(), ids["A"], ids["D"])
			},
			want:   []span{{"R", 1, 10}, {"B", 2, 9}, {"D", 3, 6}, {"A", 4, 5}, {"E", 7, 8}},
			parent: "D",
		},
		{
			name: "right",
			move: func(svc *service.TreeService, ids map[string]string) (*service.MoveResult, error) {
				return svc.MoveToRightOf(context.Background(), ids["D"], ids["E"])
			},
			want:   []span{{"R", 1, 10}, {"A", 2, 3}, {"B", 4, 9}, {"E", 5, 6}, {"D", 7, 8}},
			parent: "B",
		},
		{
			name: "root",
			move: func(svc *service.TreeService, ids map[string]string) (*service.MoveResult, error) {
				return svc.MoveToRoot(context.Background(), ids["B"])
			},
			want:   []span{{"R", 1, 4}, {"A", 2, 3}, {"B", 5, 10}, {"D", 6, 7}, {"E", 8, 9}},
			parent: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTreeService(t)
			forestID, ids := buildScenario(t, svc)

			res, err := tt.move(svc, ids)
			if err != nil {
				t.Fatalf("move: %v", err)
			}
			if res.Node.ParentID != ids[tt.parent] {
				t.Errorf("parent %q, want %q", res.Node.ParentID, ids[tt.parent])
			}
			if got := spans(t, svc, forestID); !slices.Equal(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			mustVerify(t, svc, forestID)
		})
	}
}

func TestMoveTo_NoOpKeepsRevision(t *testing.T) {
	svc, _, rec := newTreeService(t)
	ctx := context.Background()
	forestID, ids := buildScenario(t, svc)
	before, _ := svc.GetForest(ctx, forestID)
	events := rec.count()

	tests := []struct {
		name   string
		node   string
		target string
		pos    nestedset.Position
	}{
		{"left of right sibling", ids["A"], ids["B"], nestedset.PositionLeft},
		{"right of left sibling", ids["B"], ids["A"], nestedset.PositionRight},
		{"last child of parent", ids["E"], ids["B"], nestedset.PositionChild},
		{"rightmost root", ids["R"], "", nestedset.PositionRoot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.MoveTo(ctx, tt.node, tt.target, tt.pos)
			if err != nil {
				t.Fatalf("move: %v", err)
			}
			if res.Applied || res.RowsShifted != 0 {
				t.Fatalf("expected no-op, got %+v", res)
			}
			if res.Revision != before.Revision {
				t.Errorf("revision %d, want %d", res.Revision, before.Revision)
			}
		})
	}

	after, _ := svc.GetForest(ctx, forestID)
	if after.Revision != before.Revision {
		t.Errorf("no-op moves bumped the revision: %d -> %d", before.Revision, after.Revision)
	}
	if rec.count() != events {
		t.Errorf("no-op moves published %d events", rec.count()-events)
	}
}

func TestMoveTo_Rejections(t *testing.T) {
	svc, _, _ := newTreeService(t)
	ctx := context.Background()
	forestID, ids := buildScenario(t, svc)
	other, otherIDs := buildScenario(t, svc)
	otherRoot, err := svc.ForestNodes(ctx, other)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		node   string
		target string
		pos    nestedset.Position
		want   error
	}{
		{"into own subtree", ids["B"], ids["D"], nestedset.PositionChild, nestedset.ErrImpossibleMove},
		{"onto itself", ids["B"], ids["B"], nestedset.PositionLeft, nestedset.ErrImpossibleMove},
		{"root into own subtree", ids["R"], ids["E"], nestedset.PositionRight, nestedset.ErrImpossibleMove},
		{"other forest", ids["A"], otherRoot.Nodes[0].ID, nestedset.PositionChild, nestedset.ErrImpossibleMove},
		{"other forest, bounds inside node", ids["B"], otherIDs["D"], nestedset.PositionLeft, nestedset.ErrImpossibleMove},
		{"missing target", ids["A"], "", nestedset.PositionChild, domain.ErrValidation},
		{"bad position", ids["A"], ids["B"], nestedset.Position("above"), domain.ErrValidation},
		{"unknown node", "nope", ids["B"], nestedset.PositionChild, domain.ErrNotFound},
		{"unknown target", ids["A"], "nope", nestedset.PositionChild, domain.ErrNotFound},
	}
	want := spans(t, svc, forestID)
	before, _ := svc.GetForest(ctx, forestID)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.MoveTo(ctx, tt.node, tt.target, tt.pos)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := spans(t, svc, forestID); !slices.Equal(got, want) {
		t.Fatalf("rejected moves changed the forest: %v", got)
	}
	after, _ := svc.GetForest(ctx, forestID)
	if after.Revision != before.Revision {
		t.Errorf("rejected moves bumped the revision")
	}
}

func TestMoveTo_RoundTrip(t *testing.T) {
	svc, _, _ := newTreeService(t)
	ctx := context.Background()
	forestID, ids := buildScenario(t, svc)
	want := spans(t, svc, forestID)

	if _, err := svc.MoveToChildOf(ctx, ids["B"], ids["A"]); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.MoveToRightOf(ctx, ids["B"], ids["A"]); err != nil {
		t.Fatal(err)
	}
	if got := spans(t, svc, forestID); !slices.Equal(got, want) {
		t.Fatalf("round trip: got %v, want %v", got, want)
	}
}

func TestPreviewMove_MatchesCommit(t *testing.T) {
	svc, _, _ := newTreeService(t)
	ctx := context.Background()
	forestID, ids := buildScenario(t, svc)
	before, _ := svc.GetForest(ctx, forestID)

	preview, err := svc.PreviewMove(ctx, ids["B"], ids["A"], nestedset.PositionLeft)
	if err != nil {
		t.Fatal(err)
	}
	if !preview.Applied || preview.Move == nil {
		t.Fatalf("expected a planned move, got %+v", preview)
	}
	if m := preview.Move; m.A != 2 || m.B != 3 || m.C != 4 || m.D != 9 {
		t.Errorf("move bounds %+v", m)
	}
	if after, _ := svc.GetForest(ctx, forestID); after.Revision != before.Revision {
		t.Fatal("preview wrote to the store")
	}

	if _, err := svc.MoveToLeftOf(ctx, ids["B"], ids["A"]); err != nil {
		t.Fatal(err)
	}
	committed, err := svc.ForestNodes(ctx, forestID)
	if err != nil {
		t.Fatal(err)
	}
	for i := range committed.Nodes {
		c, p := committed.Nodes[i], preview.Nodes[i]
		if c.ID != p.ID || c.Lft != p.Lft || c.Rgt != p.Rgt || c.ParentID != p.ParentID {
			t.Fatalf("preview %+v differs from commit %+v", p, c)
		}
	}

	if _, err := svc.PreviewMove(ctx, ids["B"], ids["E"], nestedset.PositionChild); !errors.Is(err, nestedset.ErrImpossibleMove) {
		t.Fatalf("preview of a cycle: expected ErrImpossibleMove, got %v", err)
	}
}

func TestDeleteSubtree(t *testing.T) {
	svc, _, rec := newTreeService(t)
	ctx := context.Background()
	forestID, ids := buildScenario(t, svc)

	res, err := svc.DeleteSubtree(ctx, ids["B"])
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 3 {
		t.Errorf("removed %d, want 3", res.Removed)
	}
	want := []span{{"R", 1, 4}, {"A", 2, 3}}
	if got := spans(t, svc, forestID); !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	mustVerify(t, svc, forestID)
	if ev := rec.last(); ev.Type != event.TypeNodeDeleted || ev.NodeID != ids["B"] {
		t.Errorf("unexpected event %+v", ev)
	}
	if _, err := svc.GetNode(ctx, ids["D"]); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("descendant survived deletion: %v", err)
	}
}

func TestQueries(t *testing.T) {
	svc, _, _ := newTreeService(t)
	ctx := context.Background()
	_, ids := buildScenario(t, svc)

	refsOf := func(nodes []nestedset.Node, err error) []string {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		out := make([]string, len(nodes))
		for i, n := range nodes {
			out[i] = n.Ref
		}
		return out
	}

	if got := refsOf(svc.Children(ctx, ids["R"])); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("children of R: %v", got)
	}
	if got := refsOf(svc.Descendants(ctx, ids["B"])); !slices.Equal(got, []string{"D", "E"}) {
		t.Errorf("descendants of B: %v", got)
	}
	if got := refsOf(svc.Ancestors(ctx, ids["E"])); !slices.Equal(got, []string{"R", "B"}) {
		t.Errorf("ancestors of E: %v", got)
	}
	sib, err := svc.RightSibling(ctx, ids["D"])
	if err != nil || sib.Ref != "E" {
		t.Errorf("right sibling of D: %v %v", sib, err)
	}
	if _, err := svc.RightSibling(ctx, ids["E"]); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("right sibling of E: expected ErrNotFound, got %v", err)
	}
	if ok, err := svc.IsDescendantOf(ctx, ids["E"], ids["R"]); err != nil || !ok {
		t.Errorf("E descendant of R: %v %v", ok, err)
	}
	if ok, _ := svc.IsDescendantOf(ctx, ids["A"], ids["B"]); ok {
		t.Error("A is not a descendant of B")
	}
}

func TestRebuild(t *testing.T) {
	svc, store, rec := newTreeService(t)
	ctx := context.Background()
	forestID, ids := buildScenario(t, svc)

	res, err := svc.Rebuild(ctx, forestID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed != 0 {
		t.Fatalf("rebuild of an intact forest changed %d nodes", res.Changed)
	}

	// Scramble bounds but keep parent links, as a crashed external writer might.
	err = store.WithForestLock(ctx, forestID, func(tx database.ForestTx) error {
		return tx.SetBounds(ctx, &nestedset.Node{ID: ids["D"], ParentID: ids["B"], Lft: 40, Rgt: 41})
	})
	if err != nil {
		t.Fatal(err)
	}
	rep, _ := svc.Verify(ctx, forestID)
	if rep.Valid {
		t.Fatal("expected scrambled forest to be invalid")
	}

	res, err = svc.Rebuild(ctx, forestID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Changed == 0 {
		t.Fatal("expected rebuild to rewrite nodes")
	}
	mustVerify(t, svc, forestID)
	if ev := rec.last(); ev.Type != event.TypeForestRebuilt || ev.Revision != res.Revision {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestSnapshotCache_FollowsRevision(t *testing.T) {
	store := openStore(t)
	l1, err := ristretto.New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(l1.Close)

	svc := service.NewTreeService(store, nil)
	svc.SetSnapshotCache(service.NewSnapshotCache(store, l1, time.Minute))
	ctx := context.Background()
	forestID, ids := buildScenario(t, svc)

	first, err := svc.ForestNodes(ctx, forestID)
	if err != nil {
		t.Fatal(err)
	}
	again, err := svc.ForestNodes(ctx, forestID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Forest.Revision != first.Forest.Revision || len(again.Nodes) != 5 {
		t.Fatalf("cached snapshot differs: %+v", again.Forest)
	}

	if _, err := svc.MoveToLeftOf(ctx, ids["B"], ids["A"]); err != nil {
		t.Fatal(err)
	}
	moved, err := svc.ForestNodes(ctx, forestID)
	if err != nil {
		t.Fatal(err)
	}
	if moved.Forest.Revision != first.Forest.Revision+1 || moved.Nodes[1].Ref != "B" {
		t.Fatalf("snapshot after move is stale: rev %d, second node %s", moved.Forest.Revision, moved.Nodes[1].Ref)
	}
}

// TestConcurrentMoves hammers one forest from several goroutines. The lock
// serialises them; every committed state must satisfy the invariants.
func TestConcurrentMoves(t *testing.T) {
	svc, _, _ := newTreeService(t)
	ctx := context.Background()
	f, err := svc.CreateForest(ctx, nestedset.CreateForestRequest{Name: "busy"})
	if err != nil {
		t.Fatal(err)
	}

	var nodeIDs []string
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 24; i++ {
		parent := ""
		if len(nodeIDs) > 0 && rng.IntN(4) > 0 {
			parent = nodeIDs[rng.IntN(len(nodeIDs))]
		}
		n, err := svc.CreateNode(ctx, nestedset.CreateNodeRequest{ForestID: f.ID, ParentID: parent, Ref: fmt.Sprint(i)})
		if err != nil {
			t.Fatal(err)
		}
		nodeIDs = append(nodeIDs, n.ID)
	}

	positions := []nestedset.Position{nestedset.PositionChild, nestedset.PositionLeft, nestedset.PositionRight, nestedset.PositionRoot}
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < 6; w++ {
		seed := uint64(w)
		g.Go(func() error {
			r := rand.New(rand.NewPCG(seed, 99))
			for i := 0; i < 15; i++ {
				node := nodeIDs[r.IntN(len(nodeIDs))]
				target := nodeIDs[r.IntN(len(nodeIDs))]
				_, err := svc.MoveTo(gctx, node, target, positions[r.IntN(len(positions))])
				if err != nil && !errors.Is(err, nestedset.ErrImpossibleMove) {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent moves: %v", err)
	}

	mustVerify(t, svc, f.ID)
	snap, err := svc.ForestNodes(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Nodes) != len(nodeIDs) {
		t.Fatalf("lost nodes: %d of %d", len(snap.Nodes), len(nodeIDs))
	}
}
