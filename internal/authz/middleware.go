package authz

import (
	"net/http"
	"strings"

	"log/slog"
)

// RoleResolver extracts the caller's role from the request, typically from
// the identity established by an upstream auth layer.
type RoleResolver func(r *http.Request) (Role, bool)

// Middleware wires authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
	Role    RoleResolver
}

// RequireAny ensures the caller's role has at least one of the required
// permissions.
func (m Middleware) RequireAny(slugs ...string) func(http.Handler) http.Handler {
	normalized := normalizeSlugs(slugs)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			role, ok := m.currentRole(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			granted, err := m.Service.HasAnyPermission(r.Context(), role, normalized)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require any", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if granted {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll ensures the caller's role has all required permissions.
func (m Middleware) RequireAll(slugs ...string) func(http.Handler) http.Handler {
	normalized := normalizeSlugs(slugs)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			role, ok := m.currentRole(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			granted, err := m.Service.HasAllPermissions(r.Context(), role, normalized)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require all", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if granted {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireRoute guards a handler by its declared route key. Routes with no
// permission attached pass through.
func (m Middleware) RequireRoute(routeKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := m.currentRole(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			allowed, err := m.Service.CanAccessRoute(r.Context(), role, routeKey)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz require route", slog.String("route_key", routeKey), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if allowed {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

func (m Middleware) currentRole(r *http.Request) (Role, bool) {
	if m.Role == nil {
		return Role{}, false
	}
	return m.Role(r)
}

func normalizeSlugs(slugs []string) []string {
	unique := make(map[string]struct{}, len(slugs))
	ordered := make([]string, 0, len(slugs))
	for _, s := range slugs {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			continue
		}
		if _, ok := unique[s]; ok {
			continue
		}
		unique[s] = struct{}{}
		ordered = append(ordered, s)
	}
	return ordered
}
