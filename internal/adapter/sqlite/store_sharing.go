package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Strob0t/arbor/internal/adapter/dialect"
	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/domain/sharing"
)

func scanTarget(row scannable) (sharing.Target, error) {
	var (
		t          sharing.Target
		start, end sql.NullTime
	)
	err := row.Scan(&t.ID, &t.OwnerNodeID, &t.Kind, &t.Name, &t.Status, &t.Sharing, &start, &end, &t.CreatedAt)
	if start.Valid {
		t.StartDate = &start.Time
	}
	if end.Valid {
		t.EndDate = &end.Time
	}
	return t, err
}

func (s *Store) CreateTarget(ctx context.Context, t *sharing.Target) error {
	t.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO share_targets (id, owner_node_id, kind, name, status, sharing, start_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerNodeID, t.Kind, t.Name, t.Status, t.Sharing, t.StartDate, t.EndDate, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	return nil
}

func (s *Store) GetTarget(ctx context.Context, id string) (*sharing.Target, error) {
	t, err := scanTarget(s.db.QueryRowContext(ctx,
		`SELECT `+dialect.TargetColumns()+` FROM share_targets t WHERE t.id = ?`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get target %s", id)
	}
	return &t, nil
}

func (s *Store) SharedTargets(ctx context.Context, viewer, top *nestedset.Node, f sharing.Filter) ([]sharing.Target, error) {
	q := s.dialect.SharedTargets(viewer, top, f)
	rows, err := s.db.QueryContext(ctx, q.SQL(), q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("shared targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	targets := []sharing.Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("shared targets: scan: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *Store) DroppableTargets(ctx context.Context, scope *nestedset.Node, kind sharing.Kind) ([]sharing.Droppable, error) {
	q := s.dialect.Droppable(scope, kind)
	rows, err := s.db.QueryContext(ctx, q.SQL(), q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("droppable targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []sharing.Droppable{}
	for rows.Next() {
		var (
			d    sharing.Droppable
			list string
		)
		if err := rows.Scan(&d.NodeID, &list); err != nil {
			return nil, fmt.Errorf("droppable targets: scan: %w", err)
		}
		d.TargetIDs = dialect.SplitList(list)
		out = append(out, d)
	}
	return out, rows.Err()
}
