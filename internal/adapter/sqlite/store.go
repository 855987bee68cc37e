package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/arbor/internal/adapter/dialect"
	"github.com/Strob0t/arbor/internal/domain"
	"github.com/Strob0t/arbor/internal/domain/nestedset"
)

const nodeColumns = `id, root_id, parent_id, lft, rgt, ref, created_at`

// Store implements database.Store on SQLite.
type Store struct {
	db      *sql.DB
	dialect dialect.Dialect
}

// NewStore creates a Store on an opened and migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, dialect: dialect.MustLookup("sqlite")}
}

// Backend names the SQL dialect.
func (s *Store) Backend() string { return s.dialect.Name }

// Close closes the database.
func (s *Store) Close() { _ = s.db.Close() }

// scannable abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// queryer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanNode(row scannable) (nestedset.Node, error) {
	var (
		n      nestedset.Node
		parent sql.NullString
	)
	if err := row.Scan(&n.ID, &n.RootID, &parent, &n.Lft, &n.Rgt, &n.Ref, &n.CreatedAt); err != nil {
		return n, err
	}
	n.ParentID = parent.String
	return n, nil
}

func queryNodes(ctx context.Context, q queryer, op, query string, args ...any) ([]nestedset.Node, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	nodes := []nestedset.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return nodes, nil
}

func getNode(ctx context.Context, q queryer, id string) (*nestedset.Node, error) {
	n, err := scanNode(q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get node %s", id)
	}
	return &n, nil
}

func getForest(ctx context.Context, q queryer, id string) (*nestedset.Forest, error) {
	var f nestedset.Forest
	err := q.QueryRowContext(ctx,
		`SELECT id, name, revision, created_at, updated_at FROM forests WHERE id = ?`, id).
		Scan(&f.ID, &f.Name, &f.Revision, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get forest %s", id)
	}
	return &f, nil
}

// notFoundWrap maps sql.ErrNoRows to domain.ErrNotFound.
func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// --- Forests ---

func (s *Store) CreateForest(ctx context.Context, f *nestedset.Forest) error {
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO forests (id, name, revision, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
		f.ID, f.Name, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create forest: %w", err)
	}
	return nil
}

func (s *Store) GetForest(ctx context.Context, id string) (*nestedset.Forest, error) {
	return getForest(ctx, s.db, id)
}

func (s *Store) ListForests(ctx context.Context) ([]nestedset.Forest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, revision, created_at, updated_at FROM forests ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list forests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	forests := []nestedset.Forest{}
	for rows.Next() {
		var f nestedset.Forest
		if err := rows.Scan(&f.ID, &f.Name, &f.Revision, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list forests: scan: %w", err)
		}
		forests = append(forests, f)
	}
	return forests, rows.Err()
}

// --- Interval queries ---

func (s *Store) GetNode(ctx context.Context, id string) (*nestedset.Node, error) {
	return getNode(ctx, s.db, id)
}

func (s *Store) Descendants(ctx context.Context, n *nestedset.Node) ([]nestedset.Node, error) {
	return queryNodes(ctx, s.db, "descendants",
		`SELECT `+nodeColumns+` FROM nodes
		 WHERE root_id = ? AND lft > ? AND lft < ? ORDER BY lft`,
		n.RootID, n.Lft, n.Rgt)
}

func (s *Store) Ancestors(ctx context.Context, n *nestedset.Node) ([]nestedset.Node, error) {
	return queryNodes(ctx, s.db, "ancestors",
		`SELECT `+nodeColumns+` FROM nodes
		 WHERE root_id = ? AND lft < ? AND rgt > ? ORDER BY lft`,
		n.RootID, n.Lft, n.Rgt)
}

func (s *Store) Children(ctx context.Context, n *nestedset.Node) ([]nestedset.Node, error) {
	return queryNodes(ctx, s.db, "children",
		`SELECT `+nodeColumns+` FROM nodes WHERE parent_id = ? ORDER BY lft`, n.ID)
}

func (s *Store) RightSibling(ctx context.Context, n *nestedset.Node) (*nestedset.Node, error) {
	sib, err := scanNode(s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes
		 WHERE root_id = ? AND parent_id IS ? AND lft > ?
		 ORDER BY lft LIMIT 1`,
		n.RootID, nullIfEmpty(n.ParentID), n.Lft))
	if err != nil {
		return nil, notFoundWrap(err, "right sibling of %s", n.ID)
	}
	return &sib, nil
}

func (s *Store) Roots(ctx context.Context, forestID string) ([]nestedset.Node, error) {
	return queryNodes(ctx, s.db, "roots",
		`SELECT `+nodeColumns+` FROM nodes WHERE root_id = ? AND parent_id IS NULL ORDER BY lft`, forestID)
}

// Snapshot reads inside one transaction; in WAL mode that pins a single
// committed state, so a concurrent move is seen entirely or not at all.
func (s *Store) Snapshot(ctx context.Context, forestID string) (*nestedset.Forest, []nestedset.Node, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	f, err := getForest(ctx, tx, forestID)
	if err != nil {
		return nil, nil, err
	}
	nodes, err := queryNodes(ctx, tx, "snapshot",
		`SELECT `+nodeColumns+` FROM nodes WHERE root_id = ? ORDER BY lft`, forestID)
	if err != nil {
		return nil, nil, err
	}
	return f, nodes, nil
}
