package authz

import "context"

// Store is the persistence contract consumed by the authorization core.
// Reads cover the permission tree and role assignments; the only writes are
// the assignment replace and the hierarchy-validated parent move.
type Store interface {
	FindBySlug(ctx context.Context, slug string) (Permission, error)
	FindByID(ctx context.Context, id int64) (Permission, error)
	FindByRouteKey(ctx context.Context, routeKey string) (Permission, error)
	// ChildrenOf returns direct children ordered by sort_order ascending,
	// ties broken by id.
	ChildrenOf(ctx context.Context, id int64) ([]Permission, error)
	// ParentOf returns nil for root permissions.
	ParentOf(ctx context.Context, id int64) (*Permission, error)
	// ExistAll returns the subset of ids that exist.
	ExistAll(ctx context.Context, ids []int64) (map[int64]struct{}, error)
	ListRoots(ctx context.Context) ([]Permission, error)
	ListSlugs(ctx context.Context) ([]string, error)

	FindRoleByID(ctx context.Context, id int64) (Role, error)
	FindRoleBySlug(ctx context.Context, slug string) (Role, error)
	ListActiveRoles(ctx context.Context) ([]Role, error)

	AssignedIDs(ctx context.Context, roleID int64) (map[int64]struct{}, error)
	// ReplaceAssignments swaps the role's entire assignment set atomically.
	// Either the whole target set is committed or the previous set survives.
	ReplaceAssignments(ctx context.Context, roleID int64, permissionIDs []int64) error
	// SetParent commits a structural move. Callers must run the move through
	// Hierarchy.ValidateParentAssignment first.
	SetParent(ctx context.Context, permissionID int64, parentID *int64) error
}
