package httpx

import (
	"errors"
	"net/http"

	"github.com/chantier-hq/chantier/internal/shared"
)

// RespondError maps core errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrUnknownIdentity):
		Problem(w, http.StatusUnauthorized, "Unknown Identity", err.Error())
	case errors.Is(err, shared.ErrInvalidToken):
		Problem(w, http.StatusUnauthorized, "Invalid Token", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusForbidden, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrAdminRequired):
		Problem(w, http.StatusForbidden, "Administrative Action Required", err.Error())
	case errors.Is(err, shared.ErrInvariantViolation):
		Problem(w, http.StatusConflict, "Invariant Violation", err.Error())
	case errors.Is(err, shared.ErrBusy):
		Problem(w, http.StatusServiceUnavailable, "Busy", "the resource is contended, retry with backoff")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
