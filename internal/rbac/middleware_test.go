package rbac_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/shared"
)

// stubTokens treats the token text as the user id; "expired" and "garbage" fail.
type stubTokens struct{}

func (stubTokens) Verify(token string) (int64, error) {
	switch token {
	case "expired":
		return 0, shared.ErrTokenExpired
	case "garbage":
		return 0, shared.ErrTokenMalformed
	}
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, shared.ErrTokenMalformed
	}
	return id, nil
}

type touchRecorder struct {
	mu  sync.Mutex
	ids []int64
}

func (r *touchRecorder) Touch(userID int64, _ time.Time) {
	r.mu.Lock()
	r.ids = append(r.ids, userID)
	r.mu.Unlock()
}

type denialCounter struct {
	mu    sync.Mutex
	codes []string
}

func (d *denialCounter) ObserveDenial(code string) {
	d.mu.Lock()
	d.codes = append(d.codes, code)
	d.mu.Unlock()
}

type middlewareFixture struct {
	fixture
	mw       rbac.Middleware
	touches  *touchRecorder
	denials  *denialCounter
	operator rbac.User
	router   http.Handler
}

func newMiddlewareFixture(t *testing.T) middlewareFixture {
	t.Helper()
	f := newFixture(t)
	operator := f.user(t, "op@example.com", rbac.StatusActive)
	_, err := f.svc.ReplaceUserRoles(context.Background(), 0, operator.ID,
		[]rbac.RoleAssignment{{RoleID: f.role(t, shared.RoleOperator).ID}})
	require.NoError(t, err)

	mf := middlewareFixture{fixture: f, touches: &touchRecorder{}, denials: &denialCounter{}, operator: operator}
	mf.mw = rbac.Middleware{Tokens: stubTokens{}, Identities: f.svc, Activity: mf.touches, Observer: mf.denials}

	ok := func(w http.ResponseWriter, r *http.Request) {
		id := rbac.IdentityFromContext(r.Context())
		if id == nil {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(id.Email))
	}
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(mf.mw.Authenticate)
		r.With(mf.mw.RequirePermission(shared.PermOrcamentosBrowse)).Get("/orcamentos", ok)
		r.With(mf.mw.RequirePermission(shared.PermUsersDelete)).Delete("/users/1", ok)
		r.With(mf.mw.RequireAllPermissions(shared.PermClientesRead, shared.PermClientesDelete, shared.PermClientesEdit)).Get("/clientes/all", ok)
		r.With(mf.mw.RequireAnyRole(shared.RoleAdmin, shared.RoleOperator)).Get("/staff", ok)
		r.With(mf.mw.RequireRole(shared.RoleAdmin)).Get("/admin", ok)
	})
	r.Group(func(r chi.Router) {
		r.Use(mf.mw.OptionalAuth)
		r.Get("/public", ok)
		r.With(mf.mw.RequirePermission(shared.PermOrcamentosBrowse)).Get("/public/guarded", ok)
	})
	mf.router = r
	return mf
}

func (mf middlewareFixture) do(t *testing.T, method, path, auth string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rr := httptest.NewRecorder()
	mf.router.ServeHTTP(rr, req)
	var body map[string]any
	if rr.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	}
	return rr, body
}

func (mf middlewareFixture) bearer() string {
	return "Bearer " + strconv.FormatInt(mf.operator.ID, 10)
}

func TestAuthenticateTokenFailures(t *testing.T) {
	mf := newMiddlewareFixture(t)
	cases := []struct {
		name string
		auth string
		code string
	}{
		{"missing", "", "MISSING_TOKEN"},
		{"wrong scheme", "Token abc", "INVALID_TOKEN_FORMAT"},
		{"empty bearer", "Bearer ", "INVALID_TOKEN_FORMAT"},
		{"malformed", "Bearer garbage", "INVALID_TOKEN"},
		{"expired", "Bearer expired", "TOKEN_EXPIRED"},
		{"unknown user", "Bearer 424242", "USER_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, body := mf.do(t, http.MethodGet, "/orcamentos", tc.auth)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
			require.Equal(t, false, body["success"])
			require.Equal(t, tc.code, body["error"])
		})
	}
}

func TestAuthenticateInactiveUser(t *testing.T) {
	mf := newMiddlewareFixture(t)
	suspended := mf.user(t, "s@example.com", rbac.StatusSuspended)

	rr, body := mf.do(t, http.MethodGet, "/orcamentos", "Bearer "+strconv.FormatInt(suspended.ID, 10))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "USER_INACTIVE", body["error"])
}

func TestRequirePermissionAllowsAndDenies(t *testing.T) {
	mf := newMiddlewareFixture(t)

	rr, _ := mf.do(t, http.MethodGet, "/orcamentos", mf.bearer())
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "op@example.com", rr.Body.String())

	rr, body := mf.do(t, http.MethodDelete, "/users/1", mf.bearer())
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "INSUFFICIENT_PERMISSION", body["error"])
	require.Equal(t, "users.delete", body["required"])
	require.Contains(t, body["user_permissions"], shared.PermOrcamentosBrowse)
	require.NotContains(t, body, "missing")
}

func TestRequireAllPermissionsListsMissing(t *testing.T) {
	mf := newMiddlewareFixture(t)

	rr, body := mf.do(t, http.MethodGet, "/clientes/all", mf.bearer())
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, []any{shared.PermClientesDelete}, body["missing"])
	require.Len(t, body["required"], 3)
}

func TestRoleGuards(t *testing.T) {
	mf := newMiddlewareFixture(t)

	rr, _ := mf.do(t, http.MethodGet, "/staff", mf.bearer())
	require.Equal(t, http.StatusOK, rr.Code)

	rr, body := mf.do(t, http.MethodGet, "/admin", mf.bearer())
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "INSUFFICIENT_ROLE", body["error"])
	require.Equal(t, "admin", body["required"])
	require.Equal(t, []any{"operator"}, body["user_roles"])
}

func TestOptionalAuth(t *testing.T) {
	mf := newMiddlewareFixture(t)

	rr, _ := mf.do(t, http.MethodGet, "/public", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "anonymous", rr.Body.String())

	rr, _ = mf.do(t, http.MethodGet, "/public", mf.bearer())
	require.Equal(t, "op@example.com", rr.Body.String())

	rr, body := mf.do(t, http.MethodGet, "/public/guarded", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "NOT_AUTHENTICATED", body["error"])

	rr, body = mf.do(t, http.MethodGet, "/public", "Bearer garbage")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "INVALID_TOKEN", body["error"])
}

func TestStoreFailureIsInternalError(t *testing.T) {
	mf := newMiddlewareFixture(t)
	mf.store.SetUnavailable(errors.New("dial tcp: connection refused"))

	rr, body := mf.do(t, http.MethodGet, "/orcamentos", mf.bearer())
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "INTERNAL_ERROR", body["error"])
	require.NotContains(t, rr.Body.String(), "connection refused")
}

func TestActivityAndDenialsObserved(t *testing.T) {
	mf := newMiddlewareFixture(t)

	mf.do(t, http.MethodGet, "/orcamentos", mf.bearer())
	mf.do(t, http.MethodDelete, "/users/1", mf.bearer())
	mf.do(t, http.MethodGet, "/orcamentos", "")

	require.Equal(t, []int64{mf.operator.ID, mf.operator.ID}, mf.touches.ids)
	require.Equal(t, []string{"INSUFFICIENT_PERMISSION", "MISSING_TOKEN"}, mf.denials.codes)
}
