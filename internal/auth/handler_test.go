package auth_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/orcamentos/orcamentos/internal/auth"
	"github.com/orcamentos/orcamentos/internal/rbac"
)

func newAuthRouter(t *testing.T, e *env) http.Handler {
	t.Helper()
	mw := rbac.Middleware{Tokens: e.tokens, Identities: e.rbac}
	r := chi.NewRouter()
	r.Route("/auth", auth.NewHandler(nil, e.svc, mw, 0).MountRoutes)
	return r
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return rr.Code, out
}

func login(t *testing.T, h http.Handler, email, pass string) string {
	t.Helper()
	code, body := call(t, h, http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": pass})
	require.Equal(t, http.StatusOK, code, body)
	data := body["data"].(map[string]any)
	require.Equal(t, "Bearer", data["token_type"])
	return data["token"].(string)
}

func TestLoginEndpoint(t *testing.T) {
	e := newEnv(t)
	h := newAuthRouter(t, e)

	token := login(t, h, "real@x.com", password)
	require.NotEmpty(t, token)

	code, body := call(t, h, http.MethodPost, "/auth/login", "", map[string]string{"email": "real@x.com", "password": "wrongpass"})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, false, body["success"])
	require.Equal(t, "INVALID_CREDENTIALS", body["error"])

	code, body = call(t, h, http.MethodPost, "/auth/login", "", map[string]string{"email": "suspended@x.com", "password": password})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "USER_INACTIVE", body["error"])

	code, body = call(t, h, http.MethodPost, "/auth/login", "", map[string]string{"email": "not-an-email", "password": password})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "INVALID_CREDENTIALS", body["error"])

	code, body = call(t, h, http.MethodPost, "/auth/login", "", map[string]string{})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "VALIDATION_ERROR", body["error"])
	require.Contains(t, body["errors"], "email")
	require.Contains(t, body["errors"], "password")
}

func TestMeAndVerify(t *testing.T) {
	e := newEnv(t)
	h := newAuthRouter(t, e)
	token := login(t, h, "real@x.com", password)

	code, body := call(t, h, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	me := body["data"].(map[string]any)
	require.Equal(t, "real@x.com", me["email"])
	require.NotContains(t, me, "password_hash")

	code, body = call(t, h, http.MethodPost, "/auth/verify", token, nil)
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	require.Equal(t, true, data["valid"])
	require.Equal(t, []any{"operator"}, data["roles"])
	require.Contains(t, data["permissions"], "orcamentos.browse")

	code, body = call(t, h, http.MethodGet, "/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "MISSING_TOKEN", body["error"])
}

func TestChangePasswordEndpoint(t *testing.T) {
	e := newEnv(t)
	h := newAuthRouter(t, e)
	token := login(t, h, "real@x.com", password)

	code, body := call(t, h, http.MethodPut, "/auth/change-password", token, map[string]string{
		"current_password":          "errada123",
		"new_password":              "novaSenha1",
		"new_password_confirmation": "novaSenha1",
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "WRONG_PASSWORD", body["error"])

	code, body = call(t, h, http.MethodPut, "/auth/change-password", token, map[string]string{
		"current_password":          password,
		"new_password":              "novaSenha1",
		"new_password_confirmation": "diferente1",
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "VALIDATION_ERROR", body["error"])

	code, _ = call(t, h, http.MethodPut, "/auth/change-password", token, map[string]string{
		"current_password":          password,
		"new_password":              "novaSenha1",
		"new_password_confirmation": "novaSenha1",
	})
	require.Equal(t, http.StatusOK, code)
	login(t, h, "real@x.com", "novaSenha1")
}

func TestLogoutIsStateless(t *testing.T) {
	e := newEnv(t)
	h := newAuthRouter(t, e)
	token := login(t, h, "real@x.com", password)

	code, body := call(t, h, http.MethodPost, "/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["success"])
	require.Contains(t, body, "data")
	require.Nil(t, body["data"])
	require.Equal(t, "Logout realizado com sucesso", body["message"])

	code, _ = call(t, h, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, code)
}

func TestLoginRateLimitedPerIP(t *testing.T) {
	e := newEnv(t)
	mw := rbac.Middleware{Tokens: e.tokens, Identities: e.rbac}
	r := chi.NewRouter()
	r.Route("/auth", auth.NewHandler(nil, e.svc, mw, 2).MountRoutes)

	creds := map[string]string{"email": "nobody@x.com", "password": "whatever1"}
	for range 2 {
		code, _ := call(t, r, http.MethodPost, "/auth/login", "", creds)
		require.Equal(t, http.StatusUnauthorized, code)
	}
	code, body := call(t, r, http.MethodPost, "/auth/login", "", creds)
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Equal(t, "RATE_LIMITED", body["error"])
}
