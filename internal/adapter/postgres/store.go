package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/arbor/internal/adapter/dialect"
	"github.com/Strob0t/arbor/internal/domain/nestedset"
)

const nodeColumns = `id, root_id, parent_id, lft, rgt, ref, created_at`

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	dialect dialect.Dialect
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, dialect: dialect.MustLookup("postgres")}
}

// Backend names the SQL dialect.
func (s *Store) Backend() string { return s.dialect.Name }

// Close closes the pool.
func (s *Store) Close() { s.pool.Close() }

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func scanNode(row scannable) (nestedset.Node, error) {
	var (
		n      nestedset.Node
		parent *string
	)
	if err := row.Scan(&n.ID, &n.RootID, &parent, &n.Lft, &n.Rgt, &n.Ref, &n.CreatedAt); err != nil {
		return n, err
	}
	if parent != nil {
		n.ParentID = *parent
	}
	return n, nil
}

func scanForest(row scannable) (nestedset.Forest, error) {
	var f nestedset.Forest
	err := row.Scan(&f.ID, &f.Name, &f.Revision, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

func queryNodes(ctx context.Context, q querier, op, sql string, args ...any) ([]nestedset.Node, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return collect(rows, op, scanNode)
}

func getNode(ctx context.Context, q querier, id string) (*nestedset.Node, error) {
	n, err := scanNode(q.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get node %s", id)
	}
	return &n, nil
}

func getForest(ctx context.Context, q querier, id string) (*nestedset.Forest, error) {
	f, err := scanForest(q.QueryRow(ctx,
		`SELECT id, name, revision, created_at, updated_at FROM forests WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get forest %s", id)
	}
	return &f, nil
}

// --- Forests ---

func (s *Store) CreateForest(ctx context.Context, f *nestedset.Forest) error {
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO forests (id, name, revision, created_at, updated_at) VALUES ($1, $2, 0, $3, $4)`,
		f.ID, f.Name, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create forest: %w", err)
	}
	return nil
}

func (s *Store) GetForest(ctx context.Context, id string) (*nestedset.Forest, error) {
	return getForest(ctx, s.pool, id)
}

func (s *Store) ListForests(ctx context.Context) ([]nestedset.Forest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, revision, created_at, updated_at FROM forests ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list forests: %w", err)
	}
	return collect(rows, "list forests", scanForest)
}

// --- Interval queries ---

func (s *Store) GetNode(ctx context.Context, id string) (*nestedset.Node, error) {
	return getNode(ctx, s.pool, id)
}

func (s *Store) Descendants(ctx context.Context, n *nestedset.Node) ([]nestedset.Node, error) {
	return queryNodes(ctx, s.pool, "descendants",
		`SELECT `+nodeColumns+` FROM nodes
		 WHERE root_id = $1 AND lft > $2 AND lft < $3 ORDER BY lft`,
		n.RootID, n.Lft, n.Rgt)
}

func (s *Store) Ancestors(ctx context.Context, n *nestedset.Node) ([]nestedset.Node, error) {
	return queryNodes(ctx, s.pool, "ancestors",
		`SELECT `+nodeColumns+` FROM nodes
		 WHERE root_id = $1 AND lft < $2 AND rgt > $3 ORDER BY lft`,
		n.RootID, n.Lft, n.Rgt)
}

func (s *Store) Children(ctx context.Context, n *nestedset.Node) ([]nestedset.Node, error) {
	return queryNodes(ctx, s.pool, "children",
		`SELECT `+nodeColumns+` FROM nodes WHERE parent_id = $1 ORDER BY lft`, n.ID)
}

func (s *Store) RightSibling(ctx context.Context, n *nestedset.Node) (*nestedset.Node, error) {
	sib, err := scanNode(s.pool.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes
		 WHERE root_id = $1 AND parent_id IS NOT DISTINCT FROM $2::uuid AND lft > $3
		 ORDER BY lft LIMIT 1`,
		n.RootID, nullIfEmpty(n.ParentID), n.Lft))
	if err != nil {
		return nil, notFoundWrap(err, "right sibling of %s", n.ID)
	}
	return &sib, nil
}

func (s *Store) Roots(ctx context.Context, forestID string) ([]nestedset.Node, error) {
	return queryNodes(ctx, s.pool, "roots",
		`SELECT `+nodeColumns+` FROM nodes WHERE root_id = $1 AND parent_id IS NULL ORDER BY lft`, forestID)
}

// Snapshot reads the forest row and its nodes in one repeatable-read,
// read-only transaction, so a concurrent move is seen entirely or not at all.
func (s *Store) Snapshot(ctx context.Context, forestID string) (*nestedset.Forest, []nestedset.Node, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	f, err := getForest(ctx, tx, forestID)
	if err != nil {
		return nil, nil, err
	}
	nodes, err := queryNodes(ctx, tx, "snapshot",
		`SELECT `+nodeColumns+` FROM nodes WHERE root_id = $1 ORDER BY lft`, forestID)
	if err != nil {
		return nil, nil, err
	}
	return f, nodes, nil
}
