package perf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/orcamentos/orcamentos/internal/rbac"
	"github.com/orcamentos/orcamentos/internal/rbac/rbactest"
	"github.com/orcamentos/orcamentos/internal/shared"
)

func newGuardedRouter(tb testing.TB) (http.Handler, string) {
	tb.Helper()
	store := rbactest.NewStore()
	svc := rbac.NewService(store, nil, nil)
	_, err := svc.Bootstrap(context.Background(), rbac.DefaultSeedPlan())
	require.NoError(tb, err)
	user, err := store.AddUser("op@example.com", "x", shared.RoleOperator)
	require.NoError(tb, err)

	mw := rbac.Middleware{Tokens: rbactest.Tokens{}, Identities: svc}
	r := chi.NewRouter()
	r.Use(mw.Authenticate)
	r.With(mw.RequireAllPermissions(shared.PermOrcamentosBrowse, shared.PermClientesRead)).
		Get("/orcamentos", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	return r, rbactest.Bearer(user)
}

func serve(h http.Handler, bearer string) int {
	req := httptest.NewRequest(http.MethodGet, "/orcamentos", nil)
	req.Header.Set("Authorization", bearer)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestAuthorizedRequestLatency(t *testing.T) {
	h, bearer := newGuardedRouter(t)

	samples := make([]time.Duration, 0, 200)
	for i := 0; i < 200; i++ {
		start := time.Now()
		code := serve(h, bearer)
		samples = append(samples, time.Since(start))
		require.Equal(t, http.StatusNoContent, code)
	}

	if p95 := percentile95(samples); p95 > 50*time.Millisecond {
		t.Fatalf("authorization latency regression: p95=%s", p95)
	}
}

func BenchmarkAuthorizedRequest(b *testing.B) {
	h, bearer := newGuardedRouter(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if code := serve(h, bearer); code != http.StatusNoContent {
			b.Fatalf("status %d", code)
		}
	}
}

func BenchmarkIdentityChecks(b *testing.B) {
	perms := make([]rbac.Permission, 0, 25)
	for _, name := range shared.OperatorScopes() {
		perms = append(perms, rbac.Permission{Name: name})
	}
	id := rbac.NewIdentity(rbac.User{ID: 1, Status: rbac.StatusActive},
		[]rbac.Role{{Name: shared.RoleOperator, Permissions: perms}})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = id.HasPermission(shared.PermOrcamentosEdit)
		_ = rbac.CheckAllPermissions(id, []string{shared.PermClientesRead, shared.PermClientesEdit})
		_ = rbac.CheckRole(id, shared.RoleAdmin)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	return sorted[index]
}
