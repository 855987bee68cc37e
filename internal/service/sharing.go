package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/arbor/internal/domain"
	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/domain/sharing"
	"github.com/Strob0t/arbor/internal/port/database"
)

// SharingService answers which releases and sprints a project sees and where
// its stories may be dropped. Enablement and default order are fixed at
// construction and passed down explicitly.
type SharingService struct {
	store        database.Store
	enabled      bool
	defaultOrder sharing.Order
}

// NewSharingService creates a SharingService. With enabled false every
// project only sees its own targets.
func NewSharingService(store database.Store, enabled bool, defaultOrder sharing.Order) *SharingService {
	return &SharingService{store: store, enabled: enabled, defaultOrder: defaultOrder}
}

// CreateTarget creates a release or sprint owned by req.OwnerNodeID.
func (s *SharingService) CreateTarget(ctx context.Context, req *sharing.CreateTargetRequest) (*sharing.Target, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetNode(ctx, req.OwnerNodeID); err != nil {
		return nil, err
	}
	t := &sharing.Target{
		ID:          uuid.NewString(),
		OwnerNodeID: req.OwnerNodeID,
		Kind:        req.Kind,
		Name:        req.Name,
		Status:      req.Status,
		Sharing:     req.Sharing,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateTarget(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTarget returns a target by ID.
func (s *SharingService) GetTarget(ctx context.Context, id string) (*sharing.Target, error) {
	return s.store.GetTarget(ctx, id)
}

// SharedTargets lists the targets visible from viewerID, ordered by end
// date then start date. An empty f.Order uses the configured default.
func (s *SharingService) SharedTargets(ctx context.Context, viewerID string, f sharing.Filter) ([]sharing.Target, error) {
	if f.Kind != sharing.KindRelease && f.Kind != sharing.KindSprint {
		return nil, fmt.Errorf("kind %q is not release or sprint: %w", f.Kind, domain.ErrValidation)
	}
	if f.Order == "" {
		f.Order = s.defaultOrder
	}
	viewer, err := s.store.GetNode(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	top, err := s.topLevel(ctx, viewer)
	if err != nil {
		return nil, err
	}

	targets, err := s.store.SharedTargets(ctx, viewer, top, f)
	if err != nil {
		return nil, err
	}
	if s.enabled {
		return targets, nil
	}
	own := targets[:0]
	for _, t := range targets {
		if t.OwnerNodeID == viewer.ID {
			own = append(own, t)
		}
	}
	return own, nil
}

// DroppableTargets returns, per project in scope, the open and locked
// targets its stories may be dropped on. The scope is the viewer's subtree
// when scopedSubproject is set, else the viewer's whole top-level tree.
func (s *SharingService) DroppableTargets(ctx context.Context, viewerID string, kind sharing.Kind, scopedSubproject bool) ([]sharing.Droppable, error) {
	if kind != sharing.KindRelease && kind != sharing.KindSprint {
		return nil, fmt.Errorf("kind %q is not release or sprint: %w", kind, domain.ErrValidation)
	}
	viewer, err := s.store.GetNode(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	if !s.enabled {
		own, err := s.SharedTargets(ctx, viewerID, sharing.Filter{Kind: kind})
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(own))
		for _, t := range own {
			ids = append(ids, t.ID)
		}
		return []sharing.Droppable{{NodeID: viewer.ID, TargetIDs: ids}}, nil
	}

	scope := viewer
	if !scopedSubproject {
		if scope, err = s.topLevel(ctx, viewer); err != nil {
			return nil, err
		}
	}
	return s.store.DroppableTargets(ctx, scope, kind)
}

// BacklogScope returns the projects whose stories make up the node's
// backlog: the node alone, or the node and its descendants when sharing is
// enabled and subprojects are included.
func (s *SharingService) BacklogScope(ctx context.Context, nodeID string, includeSubprojects bool) ([]nestedset.Node, error) {
	n, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !s.enabled || !includeSubprojects {
		return []nestedset.Node{*n}, nil
	}
	desc, err := s.store.Descendants(ctx, n)
	if err != nil {
		return nil, err
	}
	return append([]nestedset.Node{*n}, desc...), nil
}

// topLevel returns n's outermost ancestor, or n itself for a root.
func (s *SharingService) topLevel(ctx context.Context, n *nestedset.Node) (*nestedset.Node, error) {
	if n.IsRoot() {
		return n, nil
	}
	anc, err := s.store.Ancestors(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(anc) == 0 {
		return n, nil
	}
	return &anc[0], nil
}
