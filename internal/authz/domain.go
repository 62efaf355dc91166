package authz

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PermissionKind distinguishes grouping nodes from atomic capabilities.
type PermissionKind string

const (
	// KindModule marks a navigational/grouping node that aggregates
	// visibility from its subtree.
	KindModule PermissionKind = "module"
	// KindAction marks an atomic capability that must be granted explicitly.
	KindAction PermissionKind = "action"
)

// Permission is a node in the permission tree.
type Permission struct {
	ID          int64
	Name        string
	Slug        string
	Description string
	ParentID    *int64
	Kind        PermissionKind
	RouteKey    string
	SortOrder   int
	Active      bool
}

// Role groups directly assigned permissions under a stable slug.
type Role struct {
	ID          int64
	Name        string
	Slug        string
	Description string
	Active      bool
}

// TreeNode is the nested representation returned by Tree.
type TreeNode struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	Kind      PermissionKind `json:"kind"`
	RouteKey  string         `json:"route_key,omitempty"`
	SortOrder int            `json:"sort_order"`
	Active    bool           `json:"active"`
	Children  []TreeNode     `json:"children"`
}

// Decision is the internal outcome of a permission check before it collapses
// to a boolean.
type Decision int

const (
	// DecisionDeny means no rule granted the permission.
	DecisionDeny Decision = iota
	// DecisionBypass means the master role skipped all checks.
	DecisionBypass
	// DecisionDirect means the permission id is directly assigned.
	DecisionDirect
	// DecisionDescendant means a module permission was granted because a
	// descendant is directly assigned.
	DecisionDescendant
)

// Granted reports whether the decision resolves to an allow.
func (d Decision) Granted() bool {
	return d != DecisionDeny
}

func (d Decision) String() string {
	switch d {
	case DecisionBypass:
		return "bypass"
	case DecisionDirect:
		return "direct"
	case DecisionDescendant:
		return "descendant"
	default:
		return "deny"
	}
}

// ParseDecision is the inverse of Decision.String, used when reading cached
// outcomes back.
func ParseDecision(s string) (Decision, bool) {
	switch s {
	case "bypass":
		return DecisionBypass, true
	case "direct":
		return DecisionDirect, true
	case "descendant":
		return DecisionDescendant, true
	case "deny":
		return DecisionDeny, true
	default:
		return DecisionDeny, false
	}
}

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("authz: not found")
	// ErrSelfParent indicates an attempt to make a permission its own parent.
	ErrSelfParent = errors.New("authz: permission cannot be its own parent")
	// ErrCycle indicates the requested parent is a descendant of the permission.
	ErrCycle = errors.New("authz: new parent is a descendant, assignment would create a cycle")
	// ErrHierarchyCorrupt indicates the stored tree already contains a cycle.
	ErrHierarchyCorrupt = errors.New("authz: permission hierarchy contains a cycle")
)

// InvalidAssignmentError rejects a sync that references unknown permission ids.
type InvalidAssignmentError struct {
	Missing []int64
}

func (e *InvalidAssignmentError) Error() string {
	ids := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("authz: unknown permission ids: %s", strings.Join(ids, ", "))
}
