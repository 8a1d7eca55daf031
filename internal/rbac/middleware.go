package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/orcamentos/orcamentos/internal/platform/httpx"
	"github.com/orcamentos/orcamentos/internal/shared"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// IdentityLoader hydrates a user id into an Identity.
type IdentityLoader interface {
	LoadIdentity(ctx context.Context, userID int64) (*Identity, error)
}

// ActivityRecorder stamps user activity without blocking the caller.
type ActivityRecorder interface {
	Touch(userID int64, at time.Time)
}

// DenialObserver is notified with the error code of every rejected request.
type DenialObserver interface {
	ObserveDenial(code string)
}

// Middleware wires authentication and authorization helpers for HTTP handlers.
type Middleware struct {
	Tokens     TokenVerifier
	Identities IdentityLoader
	Activity   ActivityRecorder
	Observer   DenialObserver
	Logger     *slog.Logger
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", shared.ErrTokenMissing
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", shared.ErrTokenFormat
	}
	return token, nil
}

// Authenticate requires a valid bearer token and attaches the hydrated identity.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := BearerToken(r)
		if err != nil {
			m.deny(w, r, err)
			return
		}
		m.serveIdentity(w, r, token, next)
	})
}

// OptionalAuth attaches the identity when a token is presented and continues anonymously
// when the Authorization header is absent. A presented but invalid token is rejected.
func (m Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := BearerToken(r)
		if err == shared.ErrTokenMissing {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			m.deny(w, r, err)
			return
		}
		m.serveIdentity(w, r, token, next)
	})
}

func (m Middleware) serveIdentity(w http.ResponseWriter, r *http.Request, token string, next http.Handler) {
	userID, err := m.Tokens.Verify(token)
	if err != nil {
		m.deny(w, r, err)
		return
	}
	identity, err := m.Identities.LoadIdentity(r.Context(), userID)
	if err != nil {
		m.deny(w, r, err)
		return
	}
	if m.Activity != nil {
		m.Activity.Touch(identity.ID, time.Now().UTC())
	}
	next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
}

// RequirePermission allows the request iff the identity holds perm.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	return m.guard(func(id *Identity) error { return CheckPermission(id, perm) })
}

// RequireAnyPermission allows the request iff the identity holds at least one of perms.
func (m Middleware) RequireAnyPermission(perms ...string) func(http.Handler) http.Handler {
	return m.guard(func(id *Identity) error { return CheckAnyPermission(id, perms) })
}

// RequireAllPermissions allows the request iff the identity holds every one of perms.
func (m Middleware) RequireAllPermissions(perms ...string) func(http.Handler) http.Handler {
	return m.guard(func(id *Identity) error { return CheckAllPermissions(id, perms) })
}

// RequireRole allows the request iff the identity holds role.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return m.guard(func(id *Identity) error { return CheckRole(id, role) })
}

// RequireAnyRole allows the request iff the identity holds at least one of roles.
func (m Middleware) RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return m.guard(func(id *Identity) error { return CheckAnyRole(id, roles) })
}

func (m Middleware) guard(check func(*Identity) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := check(IdentityFromContext(r.Context())); err != nil {
				m.deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, err error) {
	problem := httpx.Resolve(err)
	if problem.Status >= http.StatusInternalServerError && m.Logger != nil {
		m.Logger.Error("rbac hydrate identity", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	if m.Observer != nil {
		m.Observer.ObserveDenial(problem.Code)
	}
	httpx.Fail(w, problem.Status, problem.Code, problem.Message, problem.Context)
}
