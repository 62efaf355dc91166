package authz

import (
	"context"
	"sort"
)

// RoleBySlug fetches a role by its slug.
func (s *Service) RoleBySlug(ctx context.Context, slug string) (Role, error) {
	return s.store.FindRoleBySlug(ctx, slug)
}

// RoleByID fetches a role by id.
func (s *Service) RoleByID(ctx context.Context, id int64) (Role, error) {
	return s.store.FindRoleByID(ctx, id)
}

// PermissionByID fetches a permission by id.
func (s *Service) PermissionByID(ctx context.Context, id int64) (Permission, error) {
	return s.store.FindByID(ctx, id)
}

// AssignedPermissionIDs returns the role's direct assignments, sorted.
func (s *Service) AssignedPermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	if _, err := s.store.FindRoleByID(ctx, roleID); err != nil {
		return nil, err
	}
	assigned, err := s.store.AssignedIDs(ctx, roleID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(assigned))
	for id := range assigned {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
