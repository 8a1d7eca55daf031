package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orcamentos/orcamentos/internal/platform/httpx"
	"github.com/orcamentos/orcamentos/internal/shared"
)

// PermissionsHandler exposes permission management over JSON.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers permission routes. Authentication is expected upstream.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(shared.PermPermissionsBrowse))
		r.Get("/", h.list)
		r.Get("/groups", h.groups)
		r.Get("/resources", h.resources)
	})
	r.With(h.rbac.RequirePermission(shared.PermPermissionsRead)).Get("/{id}", h.show)
	r.With(h.rbac.RequirePermission(shared.PermPermissionsAdd)).Post("/", h.create)
	r.With(h.rbac.RequirePermission(shared.PermPermissionsEdit)).Put("/{id}", h.update)
	r.With(h.rbac.RequirePermission(shared.PermPermissionsDelete)).Delete("/{id}", h.delete)
}

type permissionRequest struct {
	Name        string `json:"name" validate:"omitempty,max=128"`
	Resource    string `json:"resource" validate:"required,max=64"`
	Action      string `json:"action" validate:"required,max=64"`
	Group       string `json:"group" validate:"omitempty,max=64"`
	Description string `json:"description" validate:"omitempty,max=255"`
	Order       int    `json:"order" validate:"gte=0"`
}

type permissionUpdateRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=128"`
	Resource    *string `json:"resource" validate:"omitempty,min=1,max=64"`
	Action      *string `json:"action" validate:"omitempty,min=1,max=64"`
	Group       *string `json:"group" validate:"omitempty,max=64"`
	Description *string `json:"description" validate:"omitempty,max=255"`
	Order       *int    `json:"order" validate:"omitempty,gte=0"`
}

func (h *PermissionsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perms, err := h.service.ListPermissions(r.Context(), PermissionFilter{Group: q.Get("group"), Resource: q.Get("resource")})
	if err != nil {
		httpx.Error(w, h.logger, "list permissions", err)
		return
	}
	httpx.OK(w, perms)
}

func (h *PermissionsHandler) groups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.PermissionGroups(r.Context())
	if err != nil {
		httpx.Error(w, h.logger, "list permission groups", err)
		return
	}
	httpx.OK(w, groups)
}

func (h *PermissionsHandler) resources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.service.PermissionResources(r.Context())
	if err != nil {
		httpx.Error(w, h.logger, "list permission resources", err)
		return
	}
	httpx.OK(w, resources)
}

func (h *PermissionsHandler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		httpx.Error(w, h.logger, "get permission", err)
		return
	}
	httpx.OK(w, perm)
}

func (h *PermissionsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), ActorID(r.Context()), PermissionInput{
		Name:        req.Name,
		Resource:    req.Resource,
		Action:      req.Action,
		Group:       req.Group,
		Description: req.Description,
		Order:       req.Order,
	})
	if err != nil {
		httpx.Error(w, h.logger, "create permission", err)
		return
	}
	httpx.Created(w, perm)
}

func (h *PermissionsHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req permissionUpdateRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perm, err := h.service.UpdatePermission(r.Context(), ActorID(r.Context()), id, PermissionUpdate{
		Name:        req.Name,
		Resource:    req.Resource,
		Action:      req.Action,
		Group:       req.Group,
		Description: req.Description,
		Order:       req.Order,
	})
	if err != nil {
		httpx.Error(w, h.logger, "update permission", err)
		return
	}
	httpx.OK(w, perm)
}

func (h *PermissionsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeletePermission(r.Context(), ActorID(r.Context()), id); err != nil {
		httpx.Error(w, h.logger, "delete permission", err)
		return
	}
	httpx.Message(w, "Permissão excluída")
}
