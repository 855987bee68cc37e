package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/arbor/internal/domain/nestedset"
	"github.com/Strob0t/arbor/internal/domain/sharing"
	"github.com/Strob0t/arbor/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Tree    *service.TreeService
	Sharing *service.SharingService
}

// --- Request bodies ---

type createForestRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type createNodeRequest struct {
	ParentID string `json:"parent_id" validate:"omitempty,max=64"`
	Ref      string `json:"ref" validate:"max=255"`
}

type moveRequest struct {
	TargetID string `json:"target_id" validate:"required_unless=Position root,max=64"`
	Position string `json:"position" validate:"required,oneof=child left right root"`
}

type createTargetRequest struct {
	OwnerNodeID string     `json:"owner_node_id" validate:"required,max=64"`
	Kind        string     `json:"kind" validate:"required,oneof=release sprint"`
	Name        string     `json:"name" validate:"required,max=255"`
	Status      string     `json:"status" validate:"omitempty,oneof=open locked closed"`
	Sharing     string     `json:"sharing" validate:"omitempty,oneof=none descendants hierarchy tree system"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

// --- Forests ---

// ListForests handles GET /api/v1/forests
func (h *Handlers) ListForests(w http.ResponseWriter, r *http.Request) {
	handleList(h.Tree.ListForests)(w, r)
}

// CreateForest handles POST /api/v1/forests
func (h *Handlers) CreateForest(w http.ResponseWriter, r *http.Request) {
	handleCreate(maxRequestBodySize, func(ctx context.Context, req *createForestRequest) (*nestedset.Forest, error) {
		return h.Tree.CreateForest(ctx, nestedset.CreateForestRequest{Name: req.Name})
	})(w, r)
}

// GetForest handles GET /api/v1/forests/{id}
func (h *Handlers) GetForest(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Tree.GetForest, "forest not found")(w, r)
}

// ForestNodes handles GET /api/v1/forests/{id}/nodes
// With ?format=tree the nodes come back nested by containment.
func (h *Handlers) ForestNodes(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	switch r.URL.Query().Get("format") {
	case "", "flat":
		snap, err := h.Tree.ForestNodes(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, "forest not found")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case "tree":
		tree, err := h.Tree.ForestTree(r.Context(), id)
		if err != nil {
			writeDomainError(w, err, "forest not found")
			return
		}
		if tree == nil {
			tree = []*nestedset.TreeNode{}
		}
		writeJSON(w, http.StatusOK, tree)
	default:
		writeError(w, http.StatusBadRequest, "format must be flat or tree")
	}
}

// CreateNode handles POST /api/v1/forests/{id}/nodes
func (h *Handlers) CreateNode(w http.ResponseWriter, r *http.Request) {
	forestID := urlParam(r, "id")
	handleCreate(maxRequestBodySize, func(ctx context.Context, req *createNodeRequest) (*nestedset.Node, error) {
		return h.Tree.CreateNode(ctx, nestedset.CreateNodeRequest{ForestID: forestID, ParentID: req.ParentID, Ref: req.Ref})
	})(w, r)
}

// VerifyForest handles GET /api/v1/forests/{id}/verify
func (h *Handlers) VerifyForest(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Tree.Verify, "forest not found")(w, r)
}

// ForestRoots handles GET /api/v1/forests/{id}/roots
func (h *Handlers) ForestRoots(w http.ResponseWriter, r *http.Request) {
	handleListByID(h.Tree.Roots, "forest not found")(w, r)
}

// RebuildForest handles POST /api/v1/forests/{id}/rebuild
func (h *Handlers) RebuildForest(w http.ResponseWriter, r *http.Request) {
	res, err := h.Tree.Rebuild(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "forest not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Nodes ---

// GetNode handles GET /api/v1/nodes/{id}
func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Tree.GetNode, "node not found")(w, r)
}

// DeleteNode handles DELETE /api/v1/nodes/{id}
// The whole subtree goes with the node.
func (h *Handlers) DeleteNode(w http.ResponseWriter, r *http.Request) {
	res, err := h.Tree.DeleteSubtree(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Children handles GET /api/v1/nodes/{id}/children
func (h *Handlers) Children(w http.ResponseWriter, r *http.Request) {
	handleListByID(h.Tree.Children, "node not found")(w, r)
}

// Descendants handles GET /api/v1/nodes/{id}/descendants
func (h *Handlers) Descendants(w http.ResponseWriter, r *http.Request) {
	handleListByID(h.Tree.Descendants, "node not found")(w, r)
}

// Ancestors handles GET /api/v1/nodes/{id}/ancestors
func (h *Handlers) Ancestors(w http.ResponseWriter, r *http.Request) {
	handleListByID(h.Tree.Ancestors, "node not found")(w, r)
}

// RightSibling handles GET /api/v1/nodes/{id}/right-sibling
func (h *Handlers) RightSibling(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Tree.RightSibling, "no right sibling")(w, r)
}

// IsDescendantOf handles GET /api/v1/nodes/{id}/descendant-of/{other}
func (h *Handlers) IsDescendantOf(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Tree.IsDescendantOf(r.Context(), urlParam(r, "id"), urlParam(r, "other"))
	if err != nil {
		writeDomainError(w, err, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"descendant": ok})
}

// MoveNode handles POST /api/v1/nodes/{id}/move
// With ?dry_run=true the move is planned and applied to a snapshot only.
func (h *Handlers) MoveNode(w http.ResponseWriter, r *http.Request) {
	dryRun, err := queryBool(r, "dry_run")
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	req, ok := readJSON[moveRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	nodeID := urlParam(r, "id")
	pos, err := nestedset.ParsePosition(req.Position)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}

	if dryRun {
		preview, err := h.Tree.PreviewMove(r.Context(), nodeID, req.TargetID, pos)
		if err != nil {
			writeDomainError(w, err, "node not found")
			return
		}
		writeJSON(w, http.StatusOK, preview)
		return
	}

	res, err := h.Tree.MoveTo(r.Context(), nodeID, req.TargetID, pos)
	if err != nil {
		writeDomainError(w, err, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Sharing ---

// CreateTarget handles POST /api/v1/targets
func (h *Handlers) CreateTarget(w http.ResponseWriter, r *http.Request) {
	handleCreate(maxRequestBodySize, func(ctx context.Context, req *createTargetRequest) (*sharing.Target, error) {
		return h.Sharing.CreateTarget(ctx, &sharing.CreateTargetRequest{
			OwnerNodeID: req.OwnerNodeID,
			Kind:        sharing.Kind(req.Kind),
			Name:        req.Name,
			Status:      sharing.Status(req.Status),
			Sharing:     sharing.Mode(req.Sharing),
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
		})
	})(w, r)
}

// GetTarget handles GET /api/v1/targets/{id}
func (h *Handlers) GetTarget(w http.ResponseWriter, r *http.Request) {
	handleGet(h.Sharing.GetTarget, "target not found")(w, r)
}

// SharedTargets handles GET /api/v1/nodes/{id}/shared-targets?kind=&closed=&order=
func (h *Handlers) SharedTargets(w http.ResponseWriter, r *http.Request) {
	closed, err := queryBool(r, "closed")
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	q := r.URL.Query()
	f := sharing.Filter{Kind: sharing.Kind(q.Get("kind")), Closed: closed}
	if o := q.Get("order"); o != "" {
		f.Order = sharing.ParseOrder(o)
	}
	targets, err := h.Sharing.SharedTargets(r.Context(), urlParam(r, "id"), f)
	if err != nil {
		writeDomainError(w, err, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

// DroppableTargets handles GET /api/v1/nodes/{id}/droppable-targets?kind=&scoped=
func (h *Handlers) DroppableTargets(w http.ResponseWriter, r *http.Request) {
	scoped, err := queryBool(r, "scoped")
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	drops, err := h.Sharing.DroppableTargets(r.Context(), urlParam(r, "id"), sharing.Kind(r.URL.Query().Get("kind")), scoped)
	if err != nil {
		writeDomainError(w, err, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, drops)
}

// BacklogScope handles GET /api/v1/nodes/{id}/backlog-scope?include_subprojects=
func (h *Handlers) BacklogScope(w http.ResponseWriter, r *http.Request) {
	include, err := queryBool(r, "include_subprojects")
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	nodes, err := h.Sharing.BacklogScope(r.Context(), urlParam(r, "id"), include)
	if err != nil {
		writeDomainError(w, err, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}
