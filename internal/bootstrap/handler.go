package bootstrap

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/chantier-hq/chantier/internal/fleet"
	"github.com/chantier-hq/chantier/internal/hierarchy"
	"github.com/chantier-hq/chantier/internal/platform/httpx"
)

// Handler exposes the administrative endpoints. Every request must carry
// the administrator token; only its bcrypt hash is held in configuration.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	tokenHash []byte
	validate  *validator.Validate
}

// NewHandler builds a Handler guarded by the given bcrypt token hash.
func NewHandler(logger *slog.Logger, service *Service, tokenHash string) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		tokenHash: []byte(tokenHash),
		validate:  validator.New(),
	}
}

// MountRoutes registers the admin routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.requireAdminToken)
	r.Post("/regions", h.createRegion)
	r.Post("/sites", h.createSite)
	r.Delete("/sites/{id}", h.deleteSite)
	r.Post("/principals", h.registerPrincipal)
	r.Post("/region-managers", h.grantRegionManager)
	r.Delete("/region-managers", h.revokeRegionManager)
	r.Post("/vehicles", h.addVehicle)
}

func (h *Handler) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if token == "" || bcrypt.CompareHashAndPassword(h.tokenHash, []byte(token)) != nil {
			h.logger.Warn("admin token rejected", slog.String("path", r.URL.Path))
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "administrator token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createRegionRequest struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

func (h *Handler) createRegion(w http.ResponseWriter, r *http.Request) {
	var req createRegionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.CreateRegion(r.Context(), hierarchy.Region(req)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

type createSiteRequest struct {
	ID          string  `json:"id" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	RegionID    string  `json:"region_id" validate:"required"`
	Purpose     string  `json:"purpose"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	ClientPhone string  `json:"client_phone"`
}

func (h *Handler) createSite(w http.ResponseWriter, r *http.Request) {
	var req createSiteRequest
	if !h.decode(w, r, &req) {
		return
	}
	site := hierarchy.Site{
		ID:          req.ID,
		Name:        req.Name,
		RegionID:    req.RegionID,
		Purpose:     req.Purpose,
		Coordinates: hierarchy.Coordinates{Lat: req.Lat, Lon: req.Lon},
		ClientPhone: req.ClientPhone,
	}
	if err := h.service.CreateSite(r.Context(), site); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (h *Handler) deleteSite(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSite(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerPrincipalRequest struct {
	ExternalID string `json:"external_id" validate:"required"`
}

func (h *Handler) registerPrincipal(w http.ResponseWriter, r *http.Request) {
	var req registerPrincipalRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.RegisterPrincipal(r.Context(), req.ExternalID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

type regionManagerRequest struct {
	PrincipalID string `json:"principal_id" validate:"required"`
	RegionID    string `json:"region_id" validate:"required"`
}

func (h *Handler) grantRegionManager(w http.ResponseWriter, r *http.Request) {
	var req regionManagerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.GrantRegionManager(r.Context(), req.PrincipalID, req.RegionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"status": "granted"})
}

func (h *Handler) revokeRegionManager(w http.ResponseWriter, r *http.Request) {
	var req regionManagerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.RevokeRegionManager(r.Context(), req.PrincipalID, req.RegionID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addVehicleRequest struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	RegionID string `json:"region_id" validate:"required"`
}

func (h *Handler) addVehicle(w http.ResponseWriter, r *http.Request) {
	var req addVehicleRequest
	if !h.decode(w, r, &req) {
		return
	}
	v := fleet.Vehicle{ID: req.ID, Name: req.Name, RegionID: req.RegionID}
	if err := h.service.AddVehicle(r.Context(), v); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", err.Error())
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}
