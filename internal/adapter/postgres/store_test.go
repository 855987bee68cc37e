package postgres_test

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/arbor/internal/adapter/postgres"
	"github.com/Strob0t/arbor/internal/domain"
	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/port/database"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	// Run goose migrations first (uses embedded SQL files).
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

// seedScenario stores R(1,10){A(2,3), B(4,9){D(5,6), E(7,8)}} in a fresh forest.
func seedScenario(t *testing.T, store *postgres.Store) (string, map[string]string) {
	t.Helper()
	ctx := context.Background()

	f := &nestedset.Forest{ID: uuid.NewString(), Name: "scenario-" + uuid.NewString()[:8]}
	if err := store.CreateForest(ctx, f); err != nil {
		t.Fatalf("create forest: %v", err)
	}

	ids := map[string]string{}
	for _, name := range []string{"R", "A", "B", "D", "E"} {
		ids[name] = uuid.NewString()
	}
	rows := []struct {
		name, parent string
		lft, rgt     int64
	}{
		{"R", "", 1, 10},
		{"A", "R", 2, 3},
		{"B", "R", 4, 9},
		{"D", "B", 5, 6},
		{"E", "B", 7, 8},
	}
	err := store.WithForestLock(ctx, f.ID, func(tx database.ForestTx) error {
		for _, r := range rows {
			n := &nestedset.Node{ID: ids[r.name], ParentID: ids[r.parent], Lft: r.lft, Rgt: r.rgt, Ref: r.name}
			if err := tx.InsertNode(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return f.ID, ids
}

func TestStore_WorkedScenario(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	forestID, ids := seedScenario(t, store)

	err := store.WithForestLock(ctx, forestID, func(tx database.ForestTx) error {
		a, err := tx.GetNode(ctx, ids["A"])
		if err != nil {
			return err
		}
		b, err := tx.GetNode(ctx, ids["B"])
		if err != nil {
			return err
		}
		m, ok, err := nestedset.PlanMove(a, b, nestedset.PositionChild, 10)
		if err != nil || !ok {
			t.Fatalf("plan: ok=%v err=%v", ok, err)
		}
		_, err = tx.ApplyMove(ctx, m)
		return err
	})
	if err != nil {
		t.Fatalf("move: %v", err)
	}

	f, nodes, err := store.Snapshot(ctx, forestID)
	if err != nil {
		t.Fatal(err)
	}
	if f.Revision != 2 {
		t.Errorf("expected revision 2 (seed + move), got %d", f.Revision)
	}
	want := map[string][2]int64{"R": {1, 10}, "B": {2, 9}, "D": {3, 4}, "E": {5, 6}, "A": {7, 8}}
	for _, n := range nodes {
		if b := want[n.Ref]; n.Lft != b[0] || n.Rgt != b[1] {
			t.Errorf("%s: expected %v, got (%d,%d)", n.Ref, b, n.Lft, n.Rgt)
		}
	}
	if rep := nestedset.Verify(forestID, nodes); !rep.Valid {
		t.Errorf("invalid after move: %v", rep.Violations)
	}

	b, _ := store.GetNode(ctx, ids["B"])
	kids, err := store.Children(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, k := range kids {
		got = append(got, k.Ref)
	}
	if !slices.Equal(got, []string{"D", "E", "A"}) {
		t.Errorf("children of B: %v", got)
	}
}

func TestStore_RightSiblingOfRoot(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	forestID, ids := seedScenario(t, store)

	second := &nestedset.Node{ID: uuid.NewString(), Lft: 11, Rgt: 12, Ref: "R2"}
	if err := store.WithForestLock(ctx, forestID, func(tx database.ForestTx) error {
		return tx.InsertNode(ctx, second)
	}); err != nil {
		t.Fatal(err)
	}

	r, _ := store.GetNode(ctx, ids["R"])
	sib, err := store.RightSibling(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if sib.ID != second.ID {
		t.Errorf("expected R2, got %s", sib.Ref)
	}
	if _, err := store.RightSibling(ctx, sib); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_RollbackKeepsForest(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	forestID, _ := seedScenario(t, store)

	f0, before, _ := store.Snapshot(ctx, forestID)
	boom := errors.New("boom")
	err := store.WithForestLock(ctx, forestID, func(tx database.ForestTx) error {
		if _, err := tx.ApplyGap(ctx, nestedset.Gap{From: 1, Delta: 50}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	f1, after, _ := store.Snapshot(ctx, forestID)
	if f1.Revision != f0.Revision {
		t.Errorf("revision changed on rollback")
	}
	for i := range before {
		if before[i].Lft != after[i].Lft || before[i].Rgt != after[i].Rgt {
			t.Errorf("node %s changed on rollback", before[i].Ref)
		}
	}
}

func TestStore_LockUnknownForest(t *testing.T) {
	store := setupStore(t)
	err := store.WithForestLock(context.Background(), uuid.NewString(), func(database.ForestTx) error { return nil })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
