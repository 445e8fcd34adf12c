package core

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/chantier-hq/chantier/internal/authz"
	"github.com/chantier-hq/chantier/internal/identity"
	"github.com/chantier-hq/chantier/internal/platform/httpx"
	"github.com/chantier-hq/chantier/internal/shared"
)

// Handler exposes the core service as a JSON API. The acting identity comes
// from the session cookie (browser flow) or a bearer token (API clients).
type Handler struct {
	logger   *slog.Logger
	service  *Service
	verifier identity.Verifier
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, verifier identity.Verifier) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		verifier: verifier,
		validate: validator.New(),
	}
}

// MountRoutes registers the core API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/authorize", h.authorize)
	r.Post("/mutations", h.applyMutation)

	r.Get("/regions", h.listRegions)
	r.Get("/regions/{id}", h.getRegion)
	r.Get("/regions/{id}/sites", h.listSites)
	r.Get("/regions/{id}/vehicles", h.listVehicles)
	r.Get("/sites/{id}", h.getSite)
	r.Get("/sites/{id}/workers", h.listWorkers)
	r.Get("/workers/{id}", h.getWorker)
	r.Get("/vehicles/{id}", h.getVehicle)
	r.Get("/principals/{id}", h.getPrincipal)
}

type authorizeRequest struct {
	Action     string `json:"action" validate:"required"`
	TargetKind string `json:"target_kind" validate:"required,oneof=region site worker vehicle"`
	TargetID   string `json:"target_id" validate:"required"`
}

type authorizeResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	externalID, ok := h.identityFrom(w, r)
	if !ok {
		return
	}
	var req authorizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	action, err := authz.ParseAction(req.Action)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dec, err := h.service.Authorize(r.Context(), externalID, action, authz.TargetKind(req.TargetKind), req.TargetID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, authorizeResponse{Allowed: dec.Allowed, Reason: string(dec.Reason)})
}

type mutationRequest struct {
	Action  string          `json:"action" validate:"required"`
	Payload MutationPayload `json:"payload"`
}

func (h *Handler) applyMutation(w http.ResponseWriter, r *http.Request) {
	externalID, ok := h.identityFrom(w, r)
	if !ok {
		return
	}
	var req mutationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	action, err := authz.ParseAction(req.Action)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.ApplyMutation(r.Context(), externalID, action, req.Payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (h *Handler) listRegions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.service.ListRegions())
}

func (h *Handler) getRegion(w http.ResponseWriter, r *http.Request) {
	h.respondQuery(w, authz.TargetRegion, chi.URLParam(r, "id"))
}

func (h *Handler) listSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.service.ListSites(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sites)
}

func (h *Handler) listVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.service.ListVehicles(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vehicles)
}

func (h *Handler) getSite(w http.ResponseWriter, r *http.Request) {
	h.respondQuery(w, authz.TargetSite, chi.URLParam(r, "id"))
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.service.ListWorkers(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, workers)
}

func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	h.respondQuery(w, authz.TargetWorker, chi.URLParam(r, "id"))
}

func (h *Handler) getVehicle(w http.ResponseWriter, r *http.Request) {
	h.respondQuery(w, authz.TargetVehicle, chi.URLParam(r, "id"))
}

func (h *Handler) getPrincipal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.service.Principal(id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grants, err := h.service.GrantsOfPrincipal(id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"principal": p, "grants": grants})
}

func (h *Handler) respondQuery(w http.ResponseWriter, kind authz.TargetKind, id string) {
	entity, err := h.service.Query(kind, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entity)
}

// identityFrom extracts the verified identity: session first, then bearer
// token. Writes the error response itself when no identity is available.
func (h *Handler) identityFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil && sess.Identity() != "" {
		return sess.Identity(), true
	}
	header := r.Header.Get("Authorization")
	if token, found := strings.CutPrefix(header, "Bearer "); found && h.verifier != nil {
		externalID, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			httpx.RespondError(w, err)
			return "", false
		}
		return externalID, true
	}
	httpx.Problem(w, http.StatusUnauthorized, "Not Authenticated", "login or provide a bearer token")
	return "", false
}
