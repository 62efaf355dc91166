package authz

import (
	"context"
	"errors"
)

// Hierarchy resolves the transitive parent/child relation and guards
// structural writes against cycles.
type Hierarchy struct {
	store Store
}

// NewHierarchy constructs a Hierarchy over the given store.
func NewHierarchy(store Store) *Hierarchy {
	return &Hierarchy{store: store}
}

// DescendantIDs returns the transitive child ids of the permission, excluding
// the permission itself. The worklist keeps a visited set so a corrupted store
// cannot make the walk loop.
func (h *Hierarchy) DescendantIDs(ctx context.Context, permissionID int64) (map[int64]struct{}, error) {
	descendants := make(map[int64]struct{})
	visited := map[int64]struct{}{permissionID: {}}
	queue := []int64{permissionID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := h.store.ChildrenOf(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			descendants[child.ID] = struct{}{}
			queue = append(queue, child.ID)
		}
	}
	return descendants, nil
}

// Ancestors returns the chain of parents, nearest first, root last. A revisit
// means the stored tree has a cycle and surfaces as ErrHierarchyCorrupt
// instead of an endless loop.
func (h *Hierarchy) Ancestors(ctx context.Context, permissionID int64) ([]Permission, error) {
	var chain []Permission
	visited := map[int64]struct{}{permissionID: {}}
	current := permissionID

	for {
		parent, err := h.store.ParentOf(ctx, current)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return chain, nil
		}
		if _, seen := visited[parent.ID]; seen {
			return nil, ErrHierarchyCorrupt
		}
		visited[parent.ID] = struct{}{}
		chain = append(chain, *parent)
		current = parent.ID
	}
}

// ValidateParentAssignment checks whether the permission may be re-parented
// under newParentID. A nil newParentID (move to root) is always allowed.
// The check runs before the structural write commits; a committed cycle would
// make descendant resolution non-terminating.
func (h *Hierarchy) ValidateParentAssignment(ctx context.Context, permissionID int64, newParentID *int64) error {
	if newParentID == nil {
		return nil
	}
	if *newParentID == permissionID {
		return ErrSelfParent
	}
	if _, err := h.store.FindByID(ctx, *newParentID); err != nil {
		return err
	}
	if _, err := h.store.FindByID(ctx, permissionID); err != nil {
		// A permission not yet stored has no descendants to collide with.
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	descendants, err := h.DescendantIDs(ctx, permissionID)
	if err != nil {
		return err
	}
	if _, ok := descendants[*newParentID]; ok {
		return ErrCycle
	}
	return nil
}

// SetParent validates and commits a parent move.
func (h *Hierarchy) SetParent(ctx context.Context, permissionID int64, newParentID *int64) error {
	if err := h.ValidateParentAssignment(ctx, permissionID, newParentID); err != nil {
		return err
	}
	return h.store.SetParent(ctx, permissionID, newParentID)
}

// Tree builds the nested representation rooted at rootID, or the whole forest
// when rootID is nil. Children keep store order (sort_order, id).
func (h *Hierarchy) Tree(ctx context.Context, rootID *int64) ([]TreeNode, error) {
	var roots []Permission
	if rootID != nil {
		root, err := h.store.FindByID(ctx, *rootID)
		if err != nil {
			return nil, err
		}
		roots = []Permission{root}
	} else {
		var err error
		roots, err = h.store.ListRoots(ctx)
		if err != nil {
			return nil, err
		}
	}

	visited := make(map[int64]struct{})
	nodes := make([]TreeNode, 0, len(roots))
	for _, root := range roots {
		node, err := h.buildNode(ctx, root, visited)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (h *Hierarchy) buildNode(ctx context.Context, perm Permission, visited map[int64]struct{}) (TreeNode, error) {
	if _, seen := visited[perm.ID]; seen {
		return TreeNode{}, ErrHierarchyCorrupt
	}
	visited[perm.ID] = struct{}{}

	node := TreeNode{
		ID:        perm.ID,
		Name:      perm.Name,
		Slug:      perm.Slug,
		Kind:      perm.Kind,
		RouteKey:  perm.RouteKey,
		SortOrder: perm.SortOrder,
		Active:    perm.Active,
		Children:  []TreeNode{},
	}
	children, err := h.store.ChildrenOf(ctx, perm.ID)
	if err != nil {
		return TreeNode{}, err
	}
	for _, child := range children {
		childNode, err := h.buildNode(ctx, child, visited)
		if err != nil {
			return TreeNode{}, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}
