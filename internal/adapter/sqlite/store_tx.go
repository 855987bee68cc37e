package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/port/database"
)

var _ database.ForestTx = (*forestTx)(nil)

// forestTx runs on the dedicated connection holding the write lock.
type forestTx struct {
	conn     *sql.Conn
	forestID string
	revision int64
	dirty    bool
}

// WithForestLock runs fn inside a BEGIN IMMEDIATE transaction. The write
// lock is database-wide, so writers to different forests also queue here;
// the busy timeout bounds the wait. Only the Postgres store lets moves in
// different forests run side by side.
func (s *Store) WithForestLock(ctx context.Context, forestID string, fn func(tx database.ForestTx) error) error {
	// database/sql has no way to request IMMEDIATE mode, so the transaction
	// is driven by hand on one pooled connection.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	f, err := getForest(ctx, conn, forestID)
	if err != nil {
		return err
	}

	tx := &forestTx{conn: conn, forestID: forestID, revision: f.Revision}
	if err := fn(tx); err != nil {
		return err
	}

	if tx.dirty {
		if _, err := conn.ExecContext(ctx,
			`UPDATE forests SET revision = revision + 1, updated_at = ? WHERE id = ?`,
			time.Now().UTC(), forestID); err != nil {
			return fmt.Errorf("bump revision: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (t *forestTx) Revision() int64 {
	if t.dirty {
		return t.revision + 1
	}
	return t.revision
}

func (t *forestTx) GetNode(ctx context.Context, id string) (*nestedset.Node, error) {
	return getNode(ctx, t.conn, id)
}

func (t *forestTx) MaxRgt(ctx context.Context) (int64, error) {
	var m int64
	if err := t.conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(rgt), 0) FROM nodes WHERE root_id = ?`, t.forestID).Scan(&m); err != nil {
		return 0, fmt.Errorf("max rgt: %w", err)
	}
	return m, nil
}

func (t *forestTx) ListNodes(ctx context.Context) ([]nestedset.Node, error) {
	return queryNodes(ctx, t.conn, "list nodes",
		`SELECT `+nodeColumns+` FROM nodes WHERE root_id = ? ORDER BY lft`, t.forestID)
}

// ApplyMove rewrites every row in [A,D] with one statement. Both bounds of a
// row change together, so the lft < rgt check holds row by row.
func (t *forestTx) ApplyMove(ctx context.Context, m nestedset.Move) (int64, error) {
	res, err := t.conn.ExecContext(ctx, `
		UPDATE nodes SET
			lft = CASE
				WHEN lft BETWEEN ?1 AND ?2 THEN lft + ?5
				WHEN lft BETWEEN ?3 AND ?4 THEN lft + ?6
				ELSE lft END,
			rgt = CASE
				WHEN rgt BETWEEN ?1 AND ?2 THEN rgt + ?5
				WHEN rgt BETWEEN ?3 AND ?4 THEN rgt + ?6
				ELSE rgt END,
			parent_id = CASE WHEN id = ?7 THEN ?8 ELSE parent_id END
		WHERE root_id = ?9 AND (lft BETWEEN ?1 AND ?4 OR rgt BETWEEN ?1 AND ?4)`,
		m.A, m.B, m.C, m.D, m.D-m.B, m.A-m.C, m.NodeID, nullIfEmpty(m.NewParentID), t.forestID)
	if err != nil {
		return 0, fmt.Errorf("apply move: %w", err)
	}
	t.dirty = true
	return res.RowsAffected()
}

func (t *forestTx) ApplyGap(ctx context.Context, g nestedset.Gap) (int64, error) {
	res, err := t.conn.ExecContext(ctx, `
		UPDATE nodes SET
			lft = CASE WHEN lft >= ?2 THEN lft + ?3 ELSE lft END,
			rgt = CASE WHEN rgt >= ?2 THEN rgt + ?3 ELSE rgt END
		WHERE root_id = ?1 AND rgt >= ?2`,
		t.forestID, g.From, g.Delta)
	if err != nil {
		return 0, fmt.Errorf("apply gap: %w", err)
	}
	t.dirty = true
	return res.RowsAffected()
}

func (t *forestTx) InsertNode(ctx context.Context, n *nestedset.Node) error {
	n.RootID = t.forestID
	n.CreatedAt = time.Now().UTC()
	_, err := t.conn.ExecContext(ctx,
		`INSERT INTO nodes (`+nodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.RootID, nullIfEmpty(n.ParentID), n.Lft, n.Rgt, n.Ref, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	t.dirty = true
	return nil
}

func (t *forestTx) DeleteRange(ctx context.Context, lft, rgt int64) (int64, error) {
	res, err := t.conn.ExecContext(ctx,
		`DELETE FROM nodes WHERE root_id = ? AND lft BETWEEN ? AND ?`, t.forestID, lft, rgt)
	if err != nil {
		return 0, fmt.Errorf("delete range: %w", err)
	}
	t.dirty = true
	return res.RowsAffected()
}

func (t *forestTx) SetBounds(ctx context.Context, n *nestedset.Node) error {
	_, err := t.conn.ExecContext(ctx,
		`UPDATE nodes SET lft = ?, rgt = ?, parent_id = ? WHERE id = ? AND root_id = ?`,
		n.Lft, n.Rgt, nullIfEmpty(n.ParentID), n.ID, t.forestID)
	if err != nil {
		return fmt.Errorf("set bounds %s: %w", n.ID, err)
	}
	t.dirty = true
	return nil
}
