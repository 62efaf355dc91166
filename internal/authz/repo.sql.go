package authz

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-authz/gatehouse/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the permission tree
// and role assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const permissionColumns = `id, name, slug, description, parent_id, kind, route_key, sort_order, is_active`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	var description, routeKey *string
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &description, &p.ParentID, &p.Kind, &routeKey, &p.SortOrder, &p.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, err
	}
	if description != nil {
		p.Description = *description
	}
	if routeKey != nil {
		p.RouteKey = *routeKey
	}
	return p, nil
}

// FindBySlug fetches a permission by its slug.
func (r *Repository) FindBySlug(ctx context.Context, slug string) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE slug = $1`, slug)
	return scanPermission(row)
}

// FindByID fetches a permission by id.
func (r *Repository) FindByID(ctx context.Context, id int64) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id)
	return scanPermission(row)
}

// FindByRouteKey fetches the permission guarding a route key.
func (r *Repository) FindByRouteKey(ctx context.Context, routeKey string) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE route_key = $1`, routeKey)
	return scanPermission(row)
}

// ChildrenOf returns direct children ordered by sort_order, id.
func (r *Repository) ChildrenOf(ctx context.Context, id int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE parent_id = $1 ORDER BY sort_order, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// ParentOf returns the parent permission, or nil for roots.
func (r *Repository) ParentOf(ctx context.Context, id int64) (*Permission, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT p.id, p.name, p.slug, p.description, p.parent_id, p.kind, p.route_key, p.sort_order, p.is_active
		FROM permissions c JOIN permissions p ON p.id = c.parent_id
		WHERE c.id = $1`, id)
	parent, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Distinguish "no parent" from "no such permission".
			var exists bool
			if scanErr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE id = $1)`, id).Scan(&exists); scanErr != nil {
				return nil, scanErr
			}
			if !exists {
				return nil, ErrNotFound
			}
			return nil, nil
		}
		return nil, err
	}
	return &parent, nil
}

// ExistAll returns the subset of the given ids that exist.
func (r *Repository) ExistAll(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	existing := make(map[int64]struct{}, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id FROM permissions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return existing, nil
}

// ListRoots returns active root permissions ordered for display.
func (r *Repository) ListRoots(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE parent_id IS NULL ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

// ListSlugs returns every registered permission slug.
func (r *Repository) ListSlugs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT slug FROM permissions ORDER BY slug`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		slugs = append(slugs, slug)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slugs, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	var description *string
	if err := row.Scan(&role.ID, &role.Name, &role.Slug, &description, &role.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	if description != nil {
		role.Description = *description
	}
	return role, nil
}

// FindRoleByID fetches a role by id.
func (r *Repository) FindRoleByID(ctx context.Context, id int64) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, slug, description, is_active FROM roles WHERE id = $1`, id)
	return scanRole(row)
}

// FindRoleBySlug fetches a role by slug.
func (r *Repository) FindRoleBySlug(ctx context.Context, slug string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, slug, description, is_active FROM roles WHERE slug = $1`, slug)
	return scanRole(row)
}

// ListActiveRoles returns active roles ordered by name.
func (r *Repository) ListActiveRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, slug, description, is_active FROM roles WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// AssignedIDs returns the permission ids directly assigned to the role.
func (r *Repository) AssignedIDs(ctx context.Context, roleID int64) (map[int64]struct{}, error) {
	rows, err := r.pool.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	assigned := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		assigned[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assigned, nil
}

// ReplaceAssignments swaps the role's assignment set inside one transaction
// so a failure leaves the previous set intact.
func (r *Repository) ReplaceAssignments(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, permissionID := range permissionIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, permissionID); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetParent commits a parent change. Slug and parent integrity violations are
// mapped to domain errors.
func (r *Repository) SetParent(ctx context.Context, permissionID int64, parentID *int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE permissions SET parent_id = $2 WHERE id = $1`, permissionID, parentID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
