package authz

import (
	"context"
	"sort"
)

// fakeStore is an in-memory Store with call counters and error injection.
type fakeStore struct {
	perms       map[int64]Permission
	roles       map[int64]Role
	assignments map[int64]map[int64]struct{}

	findBySlugCalls int
	childrenCalls   int
	assignedCalls   int
	replaceCalls    int

	childrenErr error
	replaceErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		perms:       make(map[int64]Permission),
		roles:       make(map[int64]Role),
		assignments: make(map[int64]map[int64]struct{}),
	}
}

// newFixtureStore seeds a small reporting tree:
//
//	1 reports (module)
//	  2 reports.finance (module)
//	    3 reports.finance.view (action)
//	    4 reports.finance.export (action)
//	  5 reports.sales (module)
//	    6 reports.sales.view (action)
//	7 admin (module)
//	  8 admin.users (action)
func newFixtureStore() *fakeStore {
	s := newFakeStore()
	parent := func(id int64) *int64 { return &id }
	s.addPermission(Permission{ID: 1, Name: "Reports", Slug: "reports", Kind: KindModule, RouteKey: "reports", SortOrder: 1, Active: true})
	s.addPermission(Permission{ID: 2, Name: "Finance Reports", Slug: "reports.finance", ParentID: parent(1), Kind: KindModule, SortOrder: 1, Active: true})
	s.addPermission(Permission{ID: 3, Name: "View Finance Reports", Slug: "reports.finance.view", ParentID: parent(2), Kind: KindAction, RouteKey: "reports/finance", SortOrder: 1, Active: true})
	s.addPermission(Permission{ID: 4, Name: "Export Finance Reports", Slug: "reports.finance.export", ParentID: parent(2), Kind: KindAction, SortOrder: 2, Active: true})
	s.addPermission(Permission{ID: 5, Name: "Sales Reports", Slug: "reports.sales", ParentID: parent(1), Kind: KindModule, SortOrder: 2, Active: true})
	s.addPermission(Permission{ID: 6, Name: "View Sales Reports", Slug: "reports.sales.view", ParentID: parent(5), Kind: KindAction, SortOrder: 1, Active: true})
	s.addPermission(Permission{ID: 7, Name: "Administration", Slug: "admin", Kind: KindModule, SortOrder: 2, Active: true})
	s.addPermission(Permission{ID: 8, Name: "Manage Users", Slug: "admin.users", ParentID: parent(7), Kind: KindAction, SortOrder: 1, Active: true})

	s.addRole(Role{ID: 1, Name: "Master Admin", Slug: "master-admin", Active: true})
	s.addRole(Role{ID: 2, Name: "Analyst", Slug: "analyst", Active: true})
	s.addRole(Role{ID: 3, Name: "Viewer", Slug: "viewer", Active: true})
	return s
}

func (s *fakeStore) addPermission(p Permission) {
	s.perms[p.ID] = p
}

func (s *fakeStore) addRole(r Role) {
	s.roles[r.ID] = r
	if _, ok := s.assignments[r.ID]; !ok {
		s.assignments[r.ID] = make(map[int64]struct{})
	}
}

func (s *fakeStore) assign(roleID int64, permissionIDs ...int64) {
	set, ok := s.assignments[roleID]
	if !ok {
		set = make(map[int64]struct{})
		s.assignments[roleID] = set
	}
	for _, id := range permissionIDs {
		set[id] = struct{}{}
	}
}

func (s *fakeStore) FindBySlug(_ context.Context, slug string) (Permission, error) {
	s.findBySlugCalls++
	for _, p := range s.perms {
		if p.Slug == slug {
			return p, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (s *fakeStore) FindByID(_ context.Context, id int64) (Permission, error) {
	p, ok := s.perms[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) FindByRouteKey(_ context.Context, routeKey string) (Permission, error) {
	for _, p := range s.perms {
		if p.RouteKey == routeKey && p.RouteKey != "" {
			return p, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (s *fakeStore) ChildrenOf(_ context.Context, id int64) ([]Permission, error) {
	s.childrenCalls++
	if s.childrenErr != nil {
		return nil, s.childrenErr
	}
	var children []Permission
	for _, p := range s.perms {
		if p.ParentID != nil && *p.ParentID == id {
			children = append(children, p)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].SortOrder != children[j].SortOrder {
			return children[i].SortOrder < children[j].SortOrder
		}
		return children[i].ID < children[j].ID
	})
	return children, nil
}

func (s *fakeStore) ParentOf(_ context.Context, id int64) (*Permission, error) {
	p, ok := s.perms[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.ParentID == nil {
		return nil, nil
	}
	parent, ok := s.perms[*p.ParentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &parent, nil
}

func (s *fakeStore) ExistAll(_ context.Context, ids []int64) (map[int64]struct{}, error) {
	existing := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.perms[id]; ok {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

func (s *fakeStore) ListRoots(_ context.Context) ([]Permission, error) {
	var roots []Permission
	for _, p := range s.perms {
		if p.ParentID == nil {
			roots = append(roots, p)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		if roots[i].SortOrder != roots[j].SortOrder {
			return roots[i].SortOrder < roots[j].SortOrder
		}
		return roots[i].ID < roots[j].ID
	})
	return roots, nil
}

func (s *fakeStore) ListSlugs(_ context.Context) ([]string, error) {
	slugs := make([]string, 0, len(s.perms))
	for _, p := range s.perms {
		slugs = append(slugs, p.Slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

func (s *fakeStore) FindRoleByID(_ context.Context, id int64) (Role, error) {
	r, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (s *fakeStore) FindRoleBySlug(_ context.Context, slug string) (Role, error) {
	for _, r := range s.roles {
		if r.Slug == slug {
			return r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (s *fakeStore) ListActiveRoles(_ context.Context) ([]Role, error) {
	var roles []Role
	for _, r := range s.roles {
		if r.Active {
			roles = append(roles, r)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (s *fakeStore) AssignedIDs(_ context.Context, roleID int64) (map[int64]struct{}, error) {
	s.assignedCalls++
	assigned := make(map[int64]struct{}, len(s.assignments[roleID]))
	for id := range s.assignments[roleID] {
		assigned[id] = struct{}{}
	}
	return assigned, nil
}

func (s *fakeStore) ReplaceAssignments(_ context.Context, roleID int64, permissionIDs []int64) error {
	s.replaceCalls++
	if s.replaceErr != nil {
		return s.replaceErr
	}
	set := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		set[id] = struct{}{}
	}
	s.assignments[roleID] = set
	return nil
}

func (s *fakeStore) SetParent(_ context.Context, permissionID int64, parentID *int64) error {
	p, ok := s.perms[permissionID]
	if !ok {
		return ErrNotFound
	}
	if parentID != nil {
		if _, ok := s.perms[*parentID]; !ok {
			return ErrNotFound
		}
	}
	p.ParentID = parentID
	s.perms[permissionID] = p
	return nil
}
