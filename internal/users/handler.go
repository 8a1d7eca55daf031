package users

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orcamentos/orcamentos/internal/platform/httpx"
	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/shared"
)

// Handler exposes user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes. Authentication is expected upstream.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequirePermission(shared.PermUsersBrowse)).Get("/", h.listUsers)
	r.With(h.rbac.RequirePermission(shared.PermUsersRead)).Get("/{id}", h.showUser)
	r.With(h.rbac.RequirePermission(shared.PermUsersAdd)).Post("/", h.createUser)
	r.With(h.rbac.RequirePermission(shared.PermUsersEdit)).Put("/{id}", h.updateUser)
	r.With(h.rbac.RequirePermission(shared.PermUsersDelete)).Delete("/{id}", h.deleteUser)
}

type createRequest struct {
	Name          string     `json:"name" validate:"required,max=128"`
	Email         string     `json:"email" validate:"required,email,max=255"`
	Password      string     `json:"password" validate:"required"`
	Status        string     `json:"status" validate:"omitempty,oneof=active inactive suspended"`
	RoleIDs       []int64    `json:"role_ids" validate:"omitempty,dive,gt=0"`
	RoleExpiresAt *time.Time `json:"role_expires_at"`
}

type updateRequest struct {
	Name          *string    `json:"name" validate:"omitempty,min=1,max=128"`
	Email         *string    `json:"email" validate:"omitempty,email,max=255"`
	Status        *string    `json:"status" validate:"omitempty,oneof=active inactive suspended"`
	Password      *string    `json:"password"`
	RoleIDs       []int64    `json:"role_ids" validate:"omitempty,dive,gt=0"`
	RoleExpiresAt *time.Time `json:"role_expires_at"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	result, err := h.service.List(r.Context(), ListParams{
		Page:    page,
		PerPage: perPage,
		Search:  q.Get("search"),
		Status:  rbac.UserStatus(q.Get("status")),
	})
	if err != nil {
		httpx.Error(w, h.logger, "list users", err)
		return
	}
	httpx.OK(w, result)
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, h.logger, "get user", err)
		return
	}
	httpx.OK(w, user)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Create(r.Context(), rbac.ActorID(r.Context()), CreateInput{
		Name:          req.Name,
		Email:         req.Email,
		Password:      req.Password,
		Status:        rbac.UserStatus(req.Status),
		RoleIDs:       req.RoleIDs,
		RoleExpiresAt: req.RoleExpiresAt,
	})
	if err != nil {
		httpx.Error(w, h.logger, "create user", err)
		return
	}
	httpx.Created(w, user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := UpdateInput{
		Name:          req.Name,
		Email:         req.Email,
		Password:      req.Password,
		RoleIDs:       req.RoleIDs,
		RoleExpiresAt: req.RoleExpiresAt,
	}
	if req.Status != nil {
		status := rbac.UserStatus(*req.Status)
		in.Status = &status
	}
	user, err := h.service.Update(r.Context(), rbac.ActorID(r.Context()), id, in)
	if err != nil {
		httpx.Error(w, h.logger, "update user", err)
		return
	}
	httpx.OK(w, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), rbac.ActorID(r.Context()), id); err != nil {
		httpx.Error(w, h.logger, "delete user", err)
		return
	}
	httpx.Message(w, "Usuário excluído")
}
