// Package sharing models releases and sprints owned by a project node and the
// containment rules that decide which other projects see them.
package sharing

import (
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/arbor/internal/domain"
	"github.com/Strob0t/arbor/internal/domain/nestedset"
)

// Mode controls how far a target is shared beyond its owner.
type Mode string

const (
	ModeNone        Mode = "none"        // owner only
	ModeDescendants Mode = "descendants" // owner and its subprojects
	ModeHierarchy   Mode = "hierarchy"   // owner, subprojects and ancestors
	ModeTree        Mode = "tree"        // the owner's whole top-level tree
	ModeSystem      Mode = "system"      // every project
)

// Kind distinguishes the two target flavours.
type Kind string

const (
	KindRelease Kind = "release"
	KindSprint  Kind = "sprint"
)

// Status is the lifecycle state of a target.
type Status string

const (
	StatusOpen   Status = "open"
	StatusLocked Status = "locked"
	StatusClosed Status = "closed"
)

// Order is the sort direction for date-ordered listings.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ParseOrder maps anything but "desc" to ascending.
func ParseOrder(s string) Order {
	if s == string(OrderDesc) {
		return OrderDesc
	}
	return OrderAsc
}

// Target is a release or sprint that stories can be planned into.
type Target struct {
	ID          string     `json:"id"`
	OwnerNodeID string     `json:"owner_node_id"`
	Kind        Kind       `json:"kind"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	Sharing     Mode       `json:"sharing"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateTargetRequest is the input for creating a target.
type CreateTargetRequest struct {
	OwnerNodeID string     `json:"owner_node_id"`
	Kind        Kind       `json:"kind"`
	Name        string     `json:"name"`
	Status      Status     `json:"status,omitempty"`
	Sharing     Mode       `json:"sharing,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// Validate fills defaults and checks enumerations and date order.
func (r *CreateTargetRequest) Validate() error {
	if r.Status == "" {
		r.Status = StatusOpen
	}
	if r.Sharing == "" {
		r.Sharing = ModeNone
	}
	var errs []error
	if r.OwnerNodeID == "" {
		errs = append(errs, errors.New("owner_node_id is required"))
	}
	if r.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	switch r.Kind {
	case KindRelease, KindSprint:
	default:
		errs = append(errs, fmt.Errorf("kind %q is not release or sprint", r.Kind))
	}
	switch r.Status {
	case StatusOpen, StatusLocked, StatusClosed:
	default:
		errs = append(errs, fmt.Errorf("status %q is not open, locked or closed", r.Status))
	}
	if !r.Sharing.Valid() {
		errs = append(errs, fmt.Errorf("sharing %q is unknown", r.Sharing))
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		errs = append(errs, errors.New("end_date is before start_date"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
	}
	return nil
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNone, ModeDescendants, ModeHierarchy, ModeTree, ModeSystem:
		return true
	}
	return false
}

// Filter narrows a shared-target listing.
type Filter struct {
	Kind   Kind
	Closed bool // closed targets only; otherwise open and locked
	Order  Order
}

// Statuses returns the statuses the filter admits.
func (f Filter) Statuses() []Status {
	if f.Closed {
		return []Status{StatusClosed}
	}
	return []Status{StatusOpen, StatusLocked}
}

// Droppable lists the targets stories of one project may be dropped on.
type Droppable struct {
	NodeID    string   `json:"node_id"`
	TargetIDs []string `json:"target_ids"`
}

// Visible reports whether a target owned by owner, shared with mode, is
// listed for viewer. top is the viewer's top-level root. The stores evaluate
// the same rule in SQL and are tested against this one.
func Visible(viewer, top, owner *nestedset.Node, mode Mode) bool {
	if owner.ID == viewer.ID {
		return true
	}
	switch mode {
	case ModeSystem:
		return true
	case ModeTree:
		return top.Covers(owner)
	case ModeHierarchy:
		return nestedset.IsDescendantOf(viewer, owner) || nestedset.IsDescendantOf(owner, viewer)
	case ModeDescendants:
		return nestedset.IsDescendantOf(viewer, owner)
	}
	return false
}

// CanDrop reports whether stories of project may be dropped on a target
// owned by owner. ownerTop is the owner's top-level root.
func CanDrop(project, owner, ownerTop *nestedset.Node, mode Mode) bool {
	if owner.ID == project.ID {
		return true
	}
	switch mode {
	case ModeSystem:
		return true
	case ModeTree:
		return ownerTop.Covers(project)
	case ModeHierarchy:
		return owner.Covers(project) || nestedset.IsDescendantOf(owner, project)
	case ModeDescendants:
		return owner.Covers(project)
	}
	return false
}
