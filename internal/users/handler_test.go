package users_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/rbac/rbactest"
	"github.com/orcamentos/orcamentos/internal/shared"
	"github.com/orcamentos/orcamentos/internal/users"
)

func newRouter(f fixture) http.Handler {
	mw := rbac.Middleware{Tokens: rbactest.Tokens{}, Identities: f.rbac}
	r := chi.NewRouter()
	r.Use(mw.Authenticate)
	r.Route("/users", users.NewHandler(nil, f.svc, mw).MountRoutes)
	return r
}

func send(t *testing.T, h http.Handler, as rbac.User, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", rbactest.Bearer(as))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return rr.Code, out
}

func TestUserEndpoints(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f)

	code, body := send(t, h, f.admin, http.MethodPost, "/users", map[string]any{
		"name":     "Paula",
		"email":    "paula@example.com",
		"password": "senha123",
		"role_ids": []int64{f.operator.ID},
	})
	require.Equal(t, http.StatusCreated, code, body)
	created := body["data"].(map[string]any)
	require.NotContains(t, created, "password_hash")
	require.NotContains(t, created, "PasswordHash")
	require.Len(t, created["roles"], 1)
	path := "/users/" + strconv.FormatFloat(created["id"].(float64), 'f', 0, 64)

	code, body = send(t, h, f.admin, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "paula@example.com", body["data"].(map[string]any)["email"])

	code, body = send(t, h, f.admin, http.MethodPut, path, map[string]any{"status": "suspended", "role_ids": []int64{}})
	require.Equal(t, http.StatusOK, code, body)
	updated := body["data"].(map[string]any)
	require.Equal(t, "suspended", updated["status"])
	require.NotContains(t, updated, "roles")

	code, body = send(t, h, f.admin, http.MethodGet, "/users?per_page=1&page=2", nil)
	require.Equal(t, http.StatusOK, code)
	page := body["data"].(map[string]any)
	require.Len(t, page["users"], 1)
	require.Equal(t, float64(2), page["pagination"].(map[string]any)["total"])

	code, _ = send(t, h, f.admin, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, code)
	code, body = send(t, h, f.admin, http.MethodGet, path, nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "NOT_FOUND", body["error"])
}

func TestUserEndpointErrors(t *testing.T) {
	f := newFixture(t)
	h := newRouter(f)

	code, body := send(t, h, f.admin, http.MethodPost, "/users", map[string]any{"email": "nope", "status": "banned"})
	require.Equal(t, http.StatusBadRequest, code)
	errs := body["errors"].(map[string]any)
	require.Contains(t, errs, "name")
	require.Contains(t, errs, "email")
	require.Contains(t, errs, "password")
	require.Contains(t, errs, "status")

	code, body = send(t, h, f.admin, http.MethodPost, "/users", map[string]any{
		"name": "Dup", "email": "ADMIN@example.com", "password": "senha123",
	})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "DUPLICATE", body["error"])

	code, body = send(t, h, f.admin, http.MethodDelete, "/users/"+strconv.FormatInt(f.admin.ID, 10), nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "CANNOT_DELETE_SELF", body["error"])

	op := f.create(t, "op@example.com", f.operator.ID)
	code, body = send(t, h, op, http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, shared.PermUsersBrowse, body["required"])
}
