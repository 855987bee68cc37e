package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Strob0t/arbor/internal/adapter/dialect"
	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/domain/sharing"
)

func scanTarget(row scannable) (sharing.Target, error) {
	var t sharing.Target
	err := row.Scan(&t.ID, &t.OwnerNodeID, &t.Kind, &t.Name, &t.Status, &t.Sharing, &t.StartDate, &t.EndDate, &t.CreatedAt)
	return t, err
}

func (s *Store) CreateTarget(ctx context.Context, t *sharing.Target) error {
	t.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO share_targets (id, owner_node_id, kind, name, status, sharing, start_date, end_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.OwnerNodeID, t.Kind, t.Name, t.Status, t.Sharing, t.StartDate, t.EndDate, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create target: %w", err)
	}
	return nil
}

func (s *Store) GetTarget(ctx context.Context, id string) (*sharing.Target, error) {
	t, err := scanTarget(s.pool.QueryRow(ctx,
		`SELECT `+dialect.TargetColumns()+` FROM share_targets t WHERE t.id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get target %s", id)
	}
	return &t, nil
}

func (s *Store) SharedTargets(ctx context.Context, viewer, top *nestedset.Node, f sharing.Filter) ([]sharing.Target, error) {
	q := s.dialect.SharedTargets(viewer, top, f)
	rows, err := s.pool.Query(ctx, q.SQL(), q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("shared targets: %w", err)
	}
	return collect(rows, "shared targets", scanTarget)
}

func (s *Store) DroppableTargets(ctx context.Context, scope *nestedset.Node, kind sharing.Kind) ([]sharing.Droppable, error) {
	q := s.dialect.Droppable(scope, kind)
	rows, err := s.pool.Query(ctx, q.SQL(), q.Args()...)
	if err != nil {
		return nil, fmt.Errorf("droppable targets: %w", err)
	}
	return collect(rows, "droppable targets", func(row scannable) (sharing.Droppable, error) {
		var (
			d    sharing.Droppable
			list string
		)
		if err := row.Scan(&d.NodeID, &list); err != nil {
			return d, err
		}
		d.TargetIDs = dialect.SplitList(list)
		return d, nil
	})
}
