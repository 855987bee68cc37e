package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/port/database"
)

var _ database.ForestTx = (*forestTx)(nil)

type forestTx struct {
	tx       pgx.Tx
	forestID string
	revision int64
	dirty    bool
}

// WithForestLock runs fn in a transaction holding the forest row lock. The
// SELECT ... FOR UPDATE serialises writers of one forest; writers of other
// forests lock other rows and proceed in parallel.
func (s *Store) WithForestLock(ctx context.Context, forestID string, fn func(tx database.ForestTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var revision int64
	if err := tx.QueryRow(ctx,
		`SELECT revision FROM forests WHERE id = $1 FOR UPDATE`, forestID).Scan(&revision); err != nil {
		return notFoundWrap(err, "lock forest %s", forestID)
	}

	ftx := &forestTx{tx: tx, forestID: forestID, revision: revision}
	if err := fn(ftx); err != nil {
		return err
	}

	if ftx.dirty {
		if _, err := tx.Exec(ctx,
			`UPDATE forests SET revision = $2, updated_at = $3 WHERE id = $1`,
			forestID, revision+1, time.Now().UTC()); err != nil {
			return fmt.Errorf("bump revision: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (t *forestTx) Revision() int64 {
	if t.dirty {
		return t.revision + 1
	}
	return t.revision
}

func (t *forestTx) GetNode(ctx context.Context, id string) (*nestedset.Node, error) {
	return getNode(ctx, t.tx, id)
}

func (t *forestTx) MaxRgt(ctx context.Context) (int64, error) {
	var m int64
	if err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(rgt), 0) FROM nodes WHERE root_id = $1`, t.forestID).Scan(&m); err != nil {
		return 0, fmt.Errorf("max rgt: %w", err)
	}
	return m, nil
}

func (t *forestTx) ListNodes(ctx context.Context) ([]nestedset.Node, error) {
	return queryNodes(ctx, t.tx, "list nodes",
		`SELECT `+nodeColumns+` FROM nodes WHERE root_id = $1 ORDER BY lft`, t.forestID)
}

// ApplyMove rewrites every row in [A,D] with one statement. Both bounds of a
// row change together, so the lft < rgt check holds row by row.
func (t *forestTx) ApplyMove(ctx context.Context, m nestedset.Move) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE nodes SET
			lft = CASE
				WHEN lft BETWEEN $1 AND $2 THEN lft + $5
				WHEN lft BETWEEN $3 AND $4 THEN lft + $6
				ELSE lft END,
			rgt = CASE
				WHEN rgt BETWEEN $1 AND $2 THEN rgt + $5
				WHEN rgt BETWEEN $3 AND $4 THEN rgt + $6
				ELSE rgt END,
			parent_id = CASE WHEN id = $7 THEN $8::uuid ELSE parent_id END
		WHERE root_id = $9 AND (lft BETWEEN $1 AND $4 OR rgt BETWEEN $1 AND $4)`,
		m.A, m.B, m.C, m.D, m.D-m.B, m.A-m.C, m.NodeID, nullIfEmpty(m.NewParentID), t.forestID)
	if err != nil {
		return 0, fmt.Errorf("apply move: %w", err)
	}
	t.dirty = true
	return tag.RowsAffected(), nil
}

func (t *forestTx) ApplyGap(ctx context.Context, g nestedset.Gap) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE nodes SET
			lft = CASE WHEN lft >= $2 THEN lft + $3 ELSE lft END,
			rgt = CASE WHEN rgt >= $2 THEN rgt + $3 ELSE rgt END
		WHERE root_id = $1 AND rgt >= $2`,
		t.forestID, g.From, g.Delta)
	if err != nil {
		return 0, fmt.Errorf("apply gap: %w", err)
	}
	t.dirty = true
	return tag.RowsAffected(), nil
}

func (t *forestTx) InsertNode(ctx context.Context, n *nestedset.Node) error {
	n.RootID = t.forestID
	n.CreatedAt = time.Now().UTC()
	_, err := t.tx.Exec(ctx,
		`INSERT INTO nodes (`+nodeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.RootID, nullIfEmpty(n.ParentID), n.Lft, n.Rgt, n.Ref, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	t.dirty = true
	return nil
}

func (t *forestTx) DeleteRange(ctx context.Context, lft, rgt int64) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM nodes WHERE root_id = $1 AND lft BETWEEN $2 AND $3`, t.forestID, lft, rgt)
	if err != nil {
		return 0, fmt.Errorf("delete range: %w", err)
	}
	t.dirty = true
	return tag.RowsAffected(), nil
}

func (t *forestTx) SetBounds(ctx context.Context, n *nestedset.Node) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE nodes SET lft = $1, rgt = $2, parent_id = $3 WHERE id = $4 AND root_id = $5`,
		n.Lft, n.Rgt, nullIfEmpty(n.ParentID), n.ID, t.forestID)
	if err != nil {
		return fmt.Errorf("set bounds %s: %w", n.ID, err)
	}
	t.dirty = true
	return nil
}
