// Package principal maps verified external identities to internal principals
// and exposes their role grants as read-only snapshots.
package principal

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/chantier-hq/chantier/internal/hierarchy"
	"github.com/chantier-hq/chantier/internal/shared"
)

// Principal is an authenticated actor.
type Principal struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// GrantSource supplies the authoritative role grants; the hierarchy store
// implements it. The registry itself never writes grants.
type GrantSource interface {
	GrantsOf(principalID string) []hierarchy.RoleGrant
}

// Registry resolves external identities to principals, lazily creating a
// record on first sight.
type Registry struct {
	mu         sync.RWMutex
	byExternal map[string]Principal
	byID       map[string]Principal
	grants     GrantSource
	now        func() time.Time
}

// NewRegistry constructs a Registry reading grants from the given source.
func NewRegistry(grants GrantSource) *Registry {
	return &Registry{
		byExternal: make(map[string]Principal),
		byID:       make(map[string]Principal),
		grants:     grants,
		now:        time.Now,
	}
}

// Resolve returns the principal for a verified external identity, creating
// one when unseen. Empty or malformed identities fail with
// shared.ErrUnknownIdentity.
func (r *Registry) Resolve(externalID string) (Principal, error) {
	externalID = strings.TrimSpace(externalID)
	if !wellFormedIdentity(externalID) {
		return Principal{}, fmt.Errorf("%w: %q", shared.ErrUnknownIdentity, externalID)
	}

	r.mu.RLock()
	p, ok := r.byExternal[externalID]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byExternal[externalID]; ok {
		return p, nil
	}
	p = Principal{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		CreatedAt:  r.now().UTC(),
	}
	r.byExternal[externalID] = p
	r.byID[p.ID] = p
	return p, nil
}

// Lookup returns a principal by internal id.
func (r *Registry) Lookup(id string) (Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Principal{}, fmt.Errorf("%w: principal %s", shared.ErrNotFound, id)
	}
	return p, nil
}

// GrantsFor returns a copy-on-read snapshot of a principal's grants.
func (r *Registry) GrantsFor(principalID string) ([]hierarchy.RoleGrant, error) {
	r.mu.RLock()
	_, ok := r.byID[principalID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: principal %s", shared.ErrNotFound, principalID)
	}
	return r.grants.GrantsOf(principalID), nil
}

// Export returns every known principal, ordered by external identity, for
// the persistence collaborator. Without it the grants in a persisted
// snapshot would point at principal ids no restarted registry could mint
// again.
func (r *Registry) Export() []Principal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Principal, 0, len(r.byExternal))
	for _, p := range r.byExternal {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// Restore replaces the identity mapping with a previously exported one. On
// any validation failure the live mapping is untouched.
func (r *Registry) Restore(principals []Principal) error {
	byExternal := make(map[string]Principal, len(principals))
	byID := make(map[string]Principal, len(principals))
	for _, p := range principals {
		if p.ID == "" || !wellFormedIdentity(p.ExternalID) {
			return fmt.Errorf("%w: malformed principal %q/%q", shared.ErrInvariantViolation, p.ID, p.ExternalID)
		}
		if _, ok := byExternal[p.ExternalID]; ok {
			return fmt.Errorf("%w: duplicate identity %q", shared.ErrInvariantViolation, p.ExternalID)
		}
		if _, ok := byID[p.ID]; ok {
			return fmt.Errorf("%w: duplicate principal id %s", shared.ErrInvariantViolation, p.ID)
		}
		byExternal[p.ExternalID] = p
		byID[p.ID] = p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExternal = byExternal
	r.byID = byID
	return nil
}

func wellFormedIdentity(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
