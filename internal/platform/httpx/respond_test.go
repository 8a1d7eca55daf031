package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/orcamentos/orcamentos/internal/shared"
)

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestSuccessEnvelopesCarryData(t *testing.T) {
	rr := httptest.NewRecorder()
	Message(rr, "Perfil excluído")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	require.Equal(t, true, body["success"])
	require.Contains(t, body, "data")
	require.Nil(t, body["data"])
	require.Equal(t, "Perfil excluído", body["message"])

	rr = httptest.NewRecorder()
	Created(rr, map[string]int{"id": 3})
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, map[string]any{"id": float64(3)}, decodeBody(t, rr)["data"])
}

func TestRespondErrorDeniedEmptyRequirement(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, &shared.DeniedError{Reason: shared.ErrInsufficientPermission, Mode: shared.MatchOne, Required: []string{}})
	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeBody(t, rr)
	require.Equal(t, "INSUFFICIENT_PERMISSION", body["error"])
	require.Equal(t, []any{}, body["required"])
	require.Equal(t, []any{}, body["user_permissions"])
}
