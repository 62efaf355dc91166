package http

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-authz/gatehouse/internal/authz"
	"github.com/gatehouse-authz/gatehouse/internal/platform/httpx"
)

// Handler exposes the authorization core as a JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *authz.Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *authz.Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers the authz routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Get("/route-access", h.routeAccess)
	r.Post("/roles/{roleID}/permissions", h.syncPermissions)
	r.Get("/roles/{roleID}/permissions", h.listAssignments)
	r.Get("/permissions/tree", h.tree)
	r.Get("/permissions/{id}/descendants", h.descendants)
	r.Get("/permissions/{id}/ancestors", h.ancestors)
	r.Put("/permissions/{id}/parent", h.setParent)
	r.Delete("/cache", h.clearCache)
}

type checkRequest struct {
	RoleSlug string   `json:"role_slug" validate:"required"`
	Slugs    []string `json:"slugs" validate:"required,min=1,dive,required"`
	Mode     string   `json:"mode" validate:"omitempty,oneof=any all"`
}

type checkResponse struct {
	Granted bool `json:"granted"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	role, err := h.service.RoleBySlug(r.Context(), req.RoleSlug)
	if err != nil {
		h.respondError(w, err)
		return
	}

	var granted bool
	if req.Mode == "all" {
		granted, err = h.service.HasAllPermissions(r.Context(), role, req.Slugs)
	} else {
		granted, err = h.service.HasAnyPermission(r.Context(), role, req.Slugs)
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Granted: granted})
}

func (h *Handler) routeAccess(w http.ResponseWriter, r *http.Request) {
	roleSlug := r.URL.Query().Get("role")
	routeKey := r.URL.Query().Get("route_key")
	if roleSlug == "" || routeKey == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role and route_key query parameters are required")
		return
	}
	role, err := h.service.RoleBySlug(r.Context(), roleSlug)
	if err != nil {
		h.respondError(w, err)
		return
	}
	allowed, err := h.service.CanAccessRoute(r.Context(), role, routeKey)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Granted: allowed})
}

type syncRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required"`
	Recursive     bool    `json:"recursive"`
}

func (h *Handler) syncPermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Path", "role id must be an integer")
		return
	}
	var req syncRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	role, err := h.service.RoleByID(r.Context(), roleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := h.service.SyncPermissions(r.Context(), role, req.PermissionIDs, req.Recursive); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Path", "role id must be an integer")
		return
	}
	ids, err := h.service.AssignedPermissionIDs(r.Context(), roleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permission_ids": ids})
}

func (h *Handler) tree(w http.ResponseWriter, r *http.Request) {
	var rootID *int64
	if raw := r.URL.Query().Get("root"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "root must be an integer")
			return
		}
		rootID = &id
	}
	nodes, err := h.service.Hierarchy().Tree(r.Context(), rootID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tree": nodes})
}

func (h *Handler) descendants(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Path", "permission id must be an integer")
		return
	}
	if _, err := h.service.PermissionByID(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	descendants, err := h.service.Hierarchy().DescendantIDs(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	ids := make([]int64, 0, len(descendants))
	for descID := range descendants {
		ids = append(ids, descID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	httpx.JSON(w, http.StatusOK, map[string]any{"descendant_ids": ids})
}

func (h *Handler) ancestors(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Path", "permission id must be an integer")
		return
	}
	if _, err := h.service.PermissionByID(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	chain, err := h.service.Hierarchy().Ancestors(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	type ancestorItem struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	items := make([]ancestorItem, len(chain))
	for i, perm := range chain {
		items[i] = ancestorItem{ID: perm.ID, Name: perm.Name, Slug: perm.Slug}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ancestors": items})
}

type setParentRequest struct {
	ParentID *int64 `json:"parent_id"`
}

func (h *Handler) setParent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Path", "permission id must be an integer")
		return
	}
	var req setParentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.service.Hierarchy().SetParent(r.Context(), id, req.ParentID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("role"); raw != "" {
		roleID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Query", "role must be an integer")
			return
		}
		if err := h.service.ClearCache(r.Context(), roleID); err != nil {
			h.respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.service.ClearCacheAll(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var invalid *authz.InvalidAssignmentError
	switch {
	case errors.Is(err, authz.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, authz.ErrSelfParent), errors.Is(err, authz.ErrCycle):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Hierarchy", err.Error())
	case errors.As(err, &invalid):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Assignment", invalid.Error())
	case errors.Is(err, authz.ErrHierarchyCorrupt):
		h.logger.Error("hierarchy corruption detected", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		h.logger.Error("authz request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(r *http.Request, param string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, param), 10, 64)
}
