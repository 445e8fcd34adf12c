package hierarchy

import (
	"fmt"
	"sort"
	"time"

	"github.com/chantier-hq/chantier/internal/shared"
)

// Snapshot is a point-in-time serializable copy of the whole hierarchy,
// consumed by the persistence collaborator. Entities are ordered by id so
// equal states marshal identically.
type Snapshot struct {
	TakenAt time.Time   `json:"taken_at"`
	Regions []Region    `json:"regions"`
	Sites   []Site      `json:"sites"`
	Workers []Worker    `json:"workers"`
	Grants  []RoleGrant `json:"grants"`
}

// Snapshot captures the current state under a read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{TakenAt: time.Now().UTC()}
	for _, r := range s.regions {
		snap.Regions = append(snap.Regions, *r)
	}
	for _, site := range s.sites {
		snap.Sites = append(snap.Sites, copySite(site))
	}
	for _, w := range s.workers {
		snap.Workers = append(snap.Workers, *w)
	}
	for _, grants := range s.grants {
		snap.Grants = append(snap.Grants, grants...)
	}
	sort.Slice(snap.Regions, func(i, j int) bool { return snap.Regions[i].ID < snap.Regions[j].ID })
	sort.Slice(snap.Sites, func(i, j int) bool { return snap.Sites[i].ID < snap.Sites[j].ID })
	sort.Slice(snap.Workers, func(i, j int) bool { return snap.Workers[i].ID < snap.Workers[j].ID })
	sort.Slice(snap.Grants, func(i, j int) bool {
		a, b := snap.Grants[i], snap.Grants[j]
		if a.PrincipalID != b.PrincipalID {
			return a.PrincipalID < b.PrincipalID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ScopeID < b.ScopeID
	})
	return snap
}

// Restore replaces the store's state with the snapshot after validating
// every invariant. On any validation failure the live state is untouched.
func (s *Store) Restore(snap Snapshot) error {
	regions := make(map[string]*Region, len(snap.Regions))
	sites := make(map[string]*Site, len(snap.Sites))
	workers := make(map[string]*Worker, len(snap.Workers))
	grants := make(map[string][]RoleGrant)

	for _, r := range snap.Regions {
		if r.ID == "" {
			return fmt.Errorf("%w: region without id", shared.ErrInvariantViolation)
		}
		if _, ok := regions[r.ID]; ok {
			return fmt.Errorf("%w: duplicate region %s", shared.ErrInvariantViolation, r.ID)
		}
		region := r
		regions[r.ID] = &region
	}
	for _, raw := range snap.Sites {
		site := copySite(&raw)
		if site.ID == "" {
			return fmt.Errorf("%w: site without id", shared.ErrInvariantViolation)
		}
		if _, ok := regions[site.RegionID]; !ok {
			return fmt.Errorf("%w: site %s references unknown region %s", shared.ErrInvariantViolation, site.ID, site.RegionID)
		}
		if _, ok := sites[site.ID]; ok {
			return fmt.Errorf("%w: duplicate site %s", shared.ErrInvariantViolation, site.ID)
		}
		if !ValidStatus(site.Status) {
			return fmt.Errorf("%w: site %s has unknown status %q", shared.ErrInvariantViolation, site.ID, site.Status)
		}
		site.WorkerIDs = nil
		site.ManagerID = "" // re-derived from the grants below
		sites[site.ID] = &site
	}
	for _, w := range snap.Workers {
		if w.ID == "" {
			return fmt.Errorf("%w: worker without id", shared.ErrInvariantViolation)
		}
		site, ok := sites[w.SiteID]
		if !ok {
			return fmt.Errorf("%w: worker %s references unknown site %s", shared.ErrInvariantViolation, w.ID, w.SiteID)
		}
		if _, ok := workers[w.ID]; ok {
			return fmt.Errorf("%w: duplicate worker %s", shared.ErrInvariantViolation, w.ID)
		}
		worker := w
		workers[w.ID] = &worker
		site.WorkerIDs = append(site.WorkerIDs, w.ID)
	}
	managers := make(map[string]string) // site id -> principal id
	for _, g := range snap.Grants {
		switch g.Kind {
		case RoleSiteManager:
			site, ok := sites[g.ScopeID]
			if !ok {
				return fmt.Errorf("%w: grant references unknown site %s", shared.ErrInvariantViolation, g.ScopeID)
			}
			if holder, taken := managers[g.ScopeID]; taken {
				return fmt.Errorf("%w: site %s has managers %s and %s", shared.ErrInvariantViolation, g.ScopeID, holder, g.PrincipalID)
			}
			managers[g.ScopeID] = g.PrincipalID
			site.ManagerID = g.PrincipalID
		case RoleSitesGlobalManager:
			if _, ok := regions[g.ScopeID]; !ok {
				return fmt.Errorf("%w: grant references unknown region %s", shared.ErrInvariantViolation, g.ScopeID)
			}
		default:
			return fmt.Errorf("%w: unknown role kind %q", shared.ErrInvariantViolation, g.Kind)
		}
		for _, existing := range grants[g.PrincipalID] {
			if existing.Kind == g.Kind && existing.ScopeID == g.ScopeID {
				return fmt.Errorf("%w: duplicate grant %s/%s for principal %s", shared.ErrInvariantViolation, g.Kind, g.ScopeID, g.PrincipalID)
			}
		}
		grants[g.PrincipalID] = append(grants[g.PrincipalID], g)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = regions
	s.sites = sites
	s.workers = workers
	s.grants = grants
	return nil
}
