package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/orcamentos/orcamentos/internal/platform/httpx"
	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	rbac        rbac.Middleware
	loginPerMin int
}

// NewHandler constructs a Handler instance. loginPerMinute caps POST /login per client IP;
// zero disables the cap.
func NewHandler(logger *slog.Logger, service *Service, mw rbac.Middleware, loginPerMinute int) *Handler {
	return &Handler{logger: logger, service: service, rbac: mw, loginPerMin: loginPerMinute}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.loginPerMin > 0 {
			r.Use(httprate.Limit(h.loginPerMin, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(httpx.RateLimited),
			))
		}
		r.Post("/login", h.handleLogin)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Authenticate)
		r.Get("/me", h.handleMe)
		r.Post("/verify", h.handleVerify)
		r.Put("/change-password", h.handleChangePassword)
		r.Post("/logout", h.handleLogout)
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	TokenType string         `json:"token_type"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *rbac.Identity `json:"user"`
}

type verifyResponse struct {
	Valid       bool           `json:"valid"`
	User        *rbac.Identity `json:"user"`
	Roles       []string       `json:"roles"`
	Permissions []string       `json:"permissions"`
}

type changePasswordRequest struct {
	CurrentPassword         string `json:"current_password" validate:"required"`
	NewPassword             string `json:"new_password" validate:"required"`
	NewPasswordConfirmation string `json:"new_password_confirmation" validate:"required"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Error(w, h.logger, "login", err)
		return
	}
	httpx.OK(w, loginResponse{
		Token:     result.Token.Value,
		TokenType: "Bearer",
		ExpiresAt: result.Token.ExpiresAt,
		User:      result.Identity,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	identity := rbac.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.RespondError(w, shared.ErrNotAuthenticated)
		return
	}
	httpx.OK(w, identity)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	identity := rbac.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.RespondError(w, shared.ErrNotAuthenticated)
		return
	}
	httpx.OK(w, verifyResponse{
		Valid:       true,
		User:        identity,
		Roles:       identity.RoleNames(),
		Permissions: identity.PermissionNames(),
	})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	err := h.service.ChangePassword(r.Context(), rbac.ActorID(r.Context()), ChangePasswordInput{
		Current:      req.CurrentPassword,
		New:          req.NewPassword,
		Confirmation: req.NewPasswordConfirmation,
	})
	if err != nil {
		httpx.Error(w, h.logger, "change password", err)
		return
	}
	httpx.Message(w, "Senha alterada com sucesso")
}

// handleLogout is a no-op: tokens are stateless and the client discards its copy.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	httpx.Message(w, "Logout realizado com sucesso")
}
