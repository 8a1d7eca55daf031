// Package roles exposes role management over JSON.
package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orcamentos/orcamentos/internal/platform/httpx"
	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *rbac.Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *rbac.Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers role routes. Authentication is expected upstream.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequirePermission(shared.PermRolesBrowse)).Get("/", h.listRoles)
	r.With(h.rbac.RequireAnyPermission(shared.PermRolesAdd, shared.PermRolesEdit)).Get("/permissions", h.assignablePermissions)
	r.With(h.rbac.RequirePermission(shared.PermRolesRead)).Get("/{id}", h.showRole)
	r.With(h.rbac.RequirePermission(shared.PermRolesAdd)).Post("/", h.createRole)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermRolesEdit))
		r.Put("/{id}", h.updateRole)
		r.Put("/{id}/permissions", h.replacePermissions)
	})
	r.With(h.rbac.RequirePermission(shared.PermRolesDelete)).Delete("/{id}", h.deleteRole)
}

type roleRequest struct {
	Name          string  `json:"name" validate:"required,max=64"`
	DisplayName   string  `json:"display_name" validate:"omitempty,max=128"`
	Color         string  `json:"color" validate:"omitempty,hexcolor"`
	Description   string  `json:"description" validate:"omitempty,max=255"`
	PermissionIDs []int64 `json:"permission_ids" validate:"omitempty,dive,gt=0"`
}

type roleUpdateRequest struct {
	Name          *string `json:"name" validate:"omitempty,min=1,max=64"`
	DisplayName   *string `json:"display_name" validate:"omitempty,max=128"`
	Color         *string `json:"color" validate:"omitempty,hexcolor"`
	Description   *string `json:"description" validate:"omitempty,max=255"`
	PermissionIDs []int64 `json:"permission_ids" validate:"omitempty,dive,gt=0"`
}

type permissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		httpx.Error(w, h.logger, "list roles", err)
		return
	}
	httpx.OK(w, roles)
}

func (h *Handler) assignablePermissions(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.GroupedPermissions(r.Context())
	if err != nil {
		httpx.Error(w, h.logger, "group permissions", err)
		return
	}
	httpx.OK(w, groups)
}

func (h *Handler) showRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httpx.Error(w, h.logger, "get role", err)
		return
	}
	httpx.OK(w, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), rbac.ActorID(r.Context()), rbac.RoleInput{
		Name:          req.Name,
		DisplayName:   req.DisplayName,
		Color:         req.Color,
		Description:   req.Description,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		httpx.Error(w, h.logger, "create role", err)
		return
	}
	httpx.Created(w, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req roleUpdateRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), rbac.ActorID(r.Context()), id, rbac.RoleUpdate{
		Name:          req.Name,
		DisplayName:   req.DisplayName,
		Color:         req.Color,
		Description:   req.Description,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		httpx.Error(w, h.logger, "update role", err)
		return
	}
	httpx.OK(w, role)
}

func (h *Handler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req permissionsRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.PermissionIDs == nil {
		req.PermissionIDs = []int64{}
	}
	role, err := h.service.ReplaceRolePermissions(r.Context(), rbac.ActorID(r.Context()), id, req.PermissionIDs)
	if err != nil {
		httpx.Error(w, h.logger, "replace role permissions", err)
		return
	}
	httpx.OK(w, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), rbac.ActorID(r.Context()), id); err != nil {
		httpx.Error(w, h.logger, "delete role", err)
		return
	}
	httpx.Message(w, "Perfil excluído")
}
