package bootstrap

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const adminToken = "swordfish"

func newTestHandler(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _, _ := newTestService(t)
	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, svc, string(hash))
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r, svc
}

func adminJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdminTokenGuard(t *testing.T) {
	router, _ := newTestHandler(t)

	rec := adminJSON(t, router, http.MethodPost, "/regions", "", map[string]string{"id": "north", "name": "North"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = adminJSON(t, router, http.MethodPost, "/regions", "wrong", map[string]string{"id": "north", "name": "North"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = adminJSON(t, router, http.MethodPost, "/regions", adminToken, map[string]string{"id": "north", "name": "North"})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestAdminFlow(t *testing.T) {
	router, _ := newTestHandler(t)

	rec := adminJSON(t, router, http.MethodPost, "/regions", adminToken, map[string]string{"id": "north", "name": "North"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = adminJSON(t, router, http.MethodPost, "/sites", adminToken, map[string]any{
		"id": "alpha", "name": "Alpha", "region_id": "north",
		"purpose": "bridge repair", "lat": 48.11, "lon": -1.68, "client_phone": "+33 2 99 00 00 00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = adminJSON(t, router, http.MethodPost, "/principals", adminToken, map[string]string{"external_id": "github:asha"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var p struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.NotEmpty(t, p.ID)

	rec = adminJSON(t, router, http.MethodPost, "/region-managers", adminToken, map[string]string{
		"principal_id": p.ID, "region_id": "north",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = adminJSON(t, router, http.MethodPost, "/vehicles", adminToken, map[string]string{
		"id": "crane-1", "name": "Crane", "region_id": "north",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = adminJSON(t, router, http.MethodDelete, "/region-managers", adminToken, map[string]string{
		"principal_id": p.ID, "region_id": "north",
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = adminJSON(t, router, http.MethodDelete, "/sites/alpha", adminToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminValidation(t *testing.T) {
	router, _ := newTestHandler(t)

	rec := adminJSON(t, router, http.MethodPost, "/regions", adminToken, map[string]string{"id": "north"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = adminJSON(t, router, http.MethodPost, "/sites", adminToken, map[string]string{
		"id": "alpha", "name": "Alpha", "region_id": "nowhere",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}
