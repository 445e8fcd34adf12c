package core

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/chantier-hq/chantier/internal/shared"
)

type staticVerifier map[string]string

func (v staticVerifier) Verify(_ context.Context, token string) (string, error) {
	id, ok := v[token]
	if !ok {
		return "", shared.ErrInvalidToken
	}
	return id, nil
}

func newTestRouter(t *testing.T, f *serviceFixture) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, f.service, staticVerifier{
		"chief-token":  f.alphaChief,
		"global-token": f.globalNorth,
	})
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthorizeEndpoint(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(t, f)

	rec := doJSON(t, router, http.MethodPost, "/authorize", "chief-token", map[string]string{
		"action": "worker.add", "target_kind": "site", "target_id": "alpha",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Allowed)

	rec = doJSON(t, router, http.MethodPost, "/authorize", "chief-token", map[string]string{
		"action": "worker.add", "target_kind": "site", "target_id": "beta",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Allowed)
	require.Equal(t, "NoSiteAuthority", resp.Reason)
}

func TestAuthorizeEndpointValidation(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(t, f)

	rec := doJSON(t, router, http.MethodPost, "/authorize", "chief-token", map[string]string{
		"action": "worker.add", "target_kind": "tenant", "target_id": "alpha",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/authorize", "chief-token", map[string]string{
		"action": "worker.promote", "target_kind": "site", "target_id": "alpha",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMutationEndpoint(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(t, f)

	rec := doJSON(t, router, http.MethodPost, "/mutations", "chief-token", map[string]any{
		"action": "worker.add",
		"payload": map[string]string{
			"worker_id": "w1", "worker_name": "Asha", "site_id": "alpha",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	w, err := f.store.Worker("w1")
	require.NoError(t, err)
	require.Equal(t, "alpha", w.SiteID)
}

func TestMutationEndpointStatusMapping(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(t, f)

	// Denied: the chief has no authority over beta.
	rec := doJSON(t, router, http.MethodPost, "/mutations", "chief-token", map[string]any{
		"action":  "worker.add",
		"payload": map[string]string{"worker_id": "w1", "worker_name": "Asha", "site_id": "beta"},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Invariant violation: duplicate worker.
	ok := doJSON(t, router, http.MethodPost, "/mutations", "global-token", map[string]any{
		"action":  "worker.add",
		"payload": map[string]string{"worker_id": "w1", "worker_name": "Asha", "site_id": "alpha"},
	})
	require.Equal(t, http.StatusOK, ok.Code)
	rec = doJSON(t, router, http.MethodPost, "/mutations", "global-token", map[string]any{
		"action":  "worker.add",
		"payload": map[string]string{"worker_id": "w1", "worker_name": "Asha", "site_id": "alpha"},
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	// Unknown site.
	rec = doJSON(t, router, http.MethodPost, "/mutations", "global-token", map[string]any{
		"action":  "worker.add",
		"payload": map[string]string{"worker_id": "w2", "worker_name": "Badri", "site_id": "missing"},
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBearerTokenRequired(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(t, f)

	rec := doJSON(t, router, http.MethodPost, "/authorize", "", map[string]string{
		"action": "worker.add", "target_kind": "site", "target_id": "alpha",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/authorize", "stolen", map[string]string{
		"action": "worker.add", "target_kind": "site", "target_id": "alpha",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionIdentityWins(t *testing.T) {
	f := newServiceFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, f.service, nil)
	r := chi.NewRouter()
	// Inject the session the way the middleware stack does.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess := &shared.Session{}
			sess.SetIdentity(f.alphaChief)
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	h.MountRoutes(r)

	rec := doJSON(t, r, http.MethodPost, "/authorize", "", map[string]string{
		"action": "worker.add", "target_kind": "site", "target_id": "alpha",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Allowed bool `json:"allowed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Allowed)
}

func TestReadEndpoints(t *testing.T) {
	f := newServiceFixture(t)
	router := newTestRouter(t, f)

	rec := doJSON(t, router, http.MethodGet, "/regions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/regions/north/sites", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/sites/alpha", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/sites/missing", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/vehicles/crane-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/regions/north/vehicles", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
