package shared

import "errors"

var (
	// ErrNotFound indicates an unknown region, site, worker or principal id.
	ErrNotFound = errors.New("chantier: not found")
	// ErrUnknownIdentity indicates a malformed or unverifiable external identity.
	ErrUnknownIdentity = errors.New("chantier: unknown identity")
	// ErrUnauthorized indicates the acting principal lacks authority over the target.
	ErrUnauthorized = errors.New("chantier: unauthorized")
	// ErrInvariantViolation indicates a write would break a hierarchy invariant.
	ErrInvariantViolation = errors.New("chantier: invariant violation")
	// ErrBusy indicates lock acquisition timed out. Callers may retry with backoff.
	ErrBusy = errors.New("chantier: busy")
	// ErrAdminRequired indicates the action is reserved for the administrative bootstrap flow.
	ErrAdminRequired = errors.New("chantier: administrative action required")
	// ErrInvalidToken indicates the OAuth access token could not be verified.
	ErrInvalidToken = errors.New("chantier: invalid token")
)
