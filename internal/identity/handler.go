package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chantier-hq/chantier/internal/platform/httpx"
	"github.com/chantier-hq/chantier/internal/shared"
)

// OAuthConfig holds the GitHub OAuth application settings.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	RedirectURL  string
}

// Handler exposes the login and callback endpoints establishing a session
// around a verified external identity.
type Handler struct {
	logger   *slog.Logger
	sessions *shared.SessionManager
	verifier Verifier
	cfg      OAuthConfig
	client   *http.Client
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, sessions *shared.SessionManager, verifier Verifier, cfg OAuthConfig, client *http.Client) *Handler {
	if client == nil {
		client = http.DefaultClient
	}
	return &Handler{logger: logger, sessions: sessions, verifier: verifier, cfg: cfg, client: client}
}

// MountRoutes registers the auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login/github", h.login)
	r.Get("/callback/github", h.callback)
	r.Post("/logout", h.logout)
	r.Get("/whoami", h.whoami)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Session Unavailable", "")
		return
	}
	state := uuid.NewString()
	sess.Set("oauth_state", state)

	q := url.Values{}
	q.Set("client_id", h.cfg.ClientID)
	q.Set("redirect_uri", h.cfg.RedirectURL)
	q.Set("scope", "read:user")
	q.Set("state", state)
	http.Redirect(w, r, h.cfg.AuthorizeURL+"?"+q.Encode(), http.StatusFound)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.Get("oauth_state") == "" || sess.Get("oauth_state") != r.URL.Query().Get("state") {
		httpx.Problem(w, http.StatusForbidden, "State Mismatch", "oauth state did not match")
		return
	}
	sess.Delete("oauth_state")

	token, err := h.exchangeCode(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.logger.Warn("oauth code exchange failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusUnauthorized, "Exchange Failed", "")
		return
	}

	externalID, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidToken) {
			httpx.Problem(w, http.StatusUnauthorized, "Invalid Token", "")
			return
		}
		h.logger.Error("identity verification failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Verification Failed", "")
		return
	}

	sess.SetIdentity(externalID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// logout discards the whole session: the redis key is deleted and the
// cookie expired when the middleware commits.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		sess.SetIdentity("")
		h.sessions.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) whoami(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.Identity() == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Not Authenticated", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"identity": sess.Identity()})
}

func (h *Handler) exchangeCode(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", shared.ErrInvalidToken
	}
	form := url.Values{}
	form.Set("client_id", h.cfg.ClientID)
	form.Set("client_secret", h.cfg.ClientSecret)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", shared.ErrInvalidToken
	}
	return payload.AccessToken, nil
}
