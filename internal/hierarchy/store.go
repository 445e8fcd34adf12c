package hierarchy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chantier-hq/chantier/internal/shared"
)

// DefaultLockWait bounds how long a mutation waits for its locks before
// failing with shared.ErrBusy.
const DefaultLockWait = 2 * time.Second

// Store is the in-memory authoritative model of the Region -> Site -> Worker
// containment and of role grants. Reads return deep copies; the write surface
// is intended to be driven only by the mutation coordinator and the
// administrative bootstrap flow, and every write re-validates invariants
// before committing.
type Store struct {
	mu       sync.RWMutex
	regions  map[string]*Region
	sites    map[string]*Site
	workers  map[string]*Worker
	grants   map[string][]RoleGrant // keyed by principal id
	locks    *lockTable
	lockWait time.Duration
}

// NewStore constructs an empty Store with the given bounded lock wait.
// A non-positive wait falls back to DefaultLockWait.
func NewStore(lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = DefaultLockWait
	}
	return &Store{
		regions:  make(map[string]*Region),
		sites:    make(map[string]*Site),
		workers:  make(map[string]*Worker),
		grants:   make(map[string][]RoleGrant),
		locks:    newLockTable(),
		lockWait: lockWait,
	}
}

/* ------------------------------- Reads ------------------------------- */

// Region returns the region by id.
func (s *Store) Region(id string) (Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[id]
	if !ok {
		return Region{}, fmt.Errorf("%w: region %s", shared.ErrNotFound, id)
	}
	return *r, nil
}

// Site returns the site by id.
func (s *Store) Site(id string) (Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[id]
	if !ok {
		return Site{}, fmt.Errorf("%w: site %s", shared.ErrNotFound, id)
	}
	return copySite(site), nil
}

// Worker returns the worker by id.
func (s *Store) Worker(id string) (Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return Worker{}, fmt.Errorf("%w: worker %s", shared.ErrNotFound, id)
	}
	return *w, nil
}

// SitesOfRegion returns every site belonging to the region.
func (s *Store) SitesOfRegion(regionID string) ([]Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.regions[regionID]; !ok {
		return nil, fmt.Errorf("%w: region %s", shared.ErrNotFound, regionID)
	}
	var sites []Site
	for _, site := range s.sites {
		if site.RegionID == regionID {
			sites = append(sites, copySite(site))
		}
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].ID < sites[j].ID })
	return sites, nil
}

// Regions returns every region.
func (s *Store) Regions() []Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	regions := make([]Region, 0, len(s.regions))
	for _, r := range s.regions {
		regions = append(regions, *r)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].ID < regions[j].ID })
	return regions
}

// WorkersOfSite returns every worker assigned to the site.
func (s *Store) WorkersOfSite(siteID string) ([]Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[siteID]
	if !ok {
		return nil, fmt.Errorf("%w: site %s", shared.ErrNotFound, siteID)
	}
	workers := make([]Worker, 0, len(site.WorkerIDs))
	for _, id := range site.WorkerIDs {
		if w, ok := s.workers[id]; ok {
			workers = append(workers, *w)
		}
	}
	return workers, nil
}

// GrantsOf returns a copy of the principal's role grants. Unknown principals
// yield an empty slice; existence is the registry's concern.
func (s *Store) GrantsOf(principalID string) []RoleGrant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grants := s.grants[principalID]
	out := make([]RoleGrant, len(grants))
	copy(out, grants)
	return out
}

/* --------------------------- Guarded sections --------------------------- */

// WithSiteLock runs fn holding the site's lock plus a shared slot of the
// owning region's lock. Acquisition waits at most the configured lock wait
// and fails with shared.ErrBusy, leaving no effect.
func (s *Store) WithSiteLock(ctx context.Context, siteID string, fn func() error) error {
	regionID, err := s.siteRegion(siteID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	var held acquisition
	if err := acquire(ctx, &held, s.locks.region(regionID), 1); err != nil {
		return err
	}
	if err := acquire(ctx, &held, s.locks.site(siteID), 1); err != nil {
		return err
	}
	defer held.release()
	return fn()
}

// WithSitesLock runs fn holding the locks of every named site and a shared
// slot of each involved region. Locks are taken in a stable order so two
// concurrent move operations cannot deadlock.
func (s *Store) WithSitesLock(ctx context.Context, siteIDs []string, fn func() error) error {
	regionSet := make(map[string]struct{})
	siteSet := make(map[string]struct{})
	for _, id := range siteIDs {
		regionID, err := s.siteRegion(id)
		if err != nil {
			return err
		}
		regionSet[regionID] = struct{}{}
		siteSet[id] = struct{}{}
	}
	regions := sortedKeys(regionSet)
	sites := sortedKeys(siteSet)

	ctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	var held acquisition
	for _, id := range regions {
		if err := acquire(ctx, &held, s.locks.region(id), 1); err != nil {
			return err
		}
	}
	for _, id := range sites {
		if err := acquire(ctx, &held, s.locks.site(id), 1); err != nil {
			return err
		}
	}
	defer held.release()
	return fn()
}

// WithRegionLock runs fn holding the region's lock exclusively, excluding
// every site-scoped operation within that region.
func (s *Store) WithRegionLock(ctx context.Context, regionID string, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	var held acquisition
	if err := acquire(ctx, &held, s.locks.region(regionID), regionSlots); err != nil {
		return err
	}
	defer held.release()
	return fn()
}

func (s *Store) siteRegion(siteID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[siteID]
	if !ok {
		return "", fmt.Errorf("%w: site %s", shared.ErrNotFound, siteID)
	}
	return site.RegionID, nil
}

/* ------------------------------- Writes ------------------------------- */

// AddRegion registers a region. Administrative bootstrap only.
func (s *Store) AddRegion(r Region) error {
	if r.ID == "" || r.Name == "" {
		return fmt.Errorf("%w: region requires id and name", shared.ErrInvariantViolation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[r.ID]; ok {
		return fmt.Errorf("%w: region %s already exists", shared.ErrInvariantViolation, r.ID)
	}
	s.regions[r.ID] = &r
	return nil
}

// AddSite registers a site under an existing region. Administrative
// bootstrap only.
func (s *Store) AddSite(site Site) error {
	if site.ID == "" || site.Name == "" {
		return fmt.Errorf("%w: site requires id and name", shared.ErrInvariantViolation)
	}
	if site.Status == "" {
		site.Status = StatusNotCarried
	}
	if !ValidStatus(site.Status) {
		return fmt.Errorf("%w: unknown site status %q", shared.ErrInvariantViolation, site.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[site.RegionID]; !ok {
		return fmt.Errorf("%w: region %s", shared.ErrNotFound, site.RegionID)
	}
	if _, ok := s.sites[site.ID]; ok {
		return fmt.Errorf("%w: site %s already exists", shared.ErrInvariantViolation, site.ID)
	}
	site.ManagerID = ""
	site.WorkerIDs = nil
	s.sites[site.ID] = &site
	return nil
}

// RemoveSite deletes a site together with its workers and site-scoped
// grants. This is the administrative bulk cleanup; the normal operation
// path never deletes containers.
func (s *Store) RemoveSite(siteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return fmt.Errorf("%w: site %s", shared.ErrNotFound, siteID)
	}
	for _, workerID := range site.WorkerIDs {
		delete(s.workers, workerID)
	}
	for principalID, grants := range s.grants {
		kept := grants[:0]
		for _, g := range grants {
			if g.Kind == RoleSiteManager && g.ScopeID == siteID {
				continue
			}
			kept = append(kept, g)
		}
		if len(kept) == 0 {
			delete(s.grants, principalID)
		} else {
			s.grants[principalID] = kept
		}
	}
	delete(s.sites, siteID)
	return nil
}

// AddWorkerToSite assigns a new worker to a site.
func (s *Store) AddWorkerToSite(w Worker) error {
	if w.ID == "" || w.Name == "" {
		return fmt.Errorf("%w: worker requires id and name", shared.ErrInvariantViolation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[w.SiteID]
	if !ok {
		return fmt.Errorf("%w: site %s", shared.ErrNotFound, w.SiteID)
	}
	if _, ok := s.workers[w.ID]; ok {
		return fmt.Errorf("%w: worker %s already belongs to a site", shared.ErrInvariantViolation, w.ID)
	}
	s.workers[w.ID] = &w
	site.WorkerIDs = append(site.WorkerIDs, w.ID)
	return nil
}

// RemoveWorkerFromSite removes the worker from the given site. A second
// removal fails with shared.ErrNotFound.
func (s *Store) RemoveWorkerFromSite(workerID, siteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeWorkerLocked(workerID, siteID)
}

// MoveWorker reassigns the worker from one site to another. The worker ends
// up belonging to exactly toSiteID, or the state is left untouched.
func (s *Store) MoveWorker(workerID, fromSiteID, toSiteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return fmt.Errorf("%w: worker %s", shared.ErrNotFound, workerID)
	}
	if w.SiteID != fromSiteID {
		return fmt.Errorf("%w: worker %s does not belong to site %s", shared.ErrInvariantViolation, workerID, fromSiteID)
	}
	to, ok := s.sites[toSiteID]
	if !ok {
		return fmt.Errorf("%w: site %s", shared.ErrNotFound, toSiteID)
	}
	if fromSiteID == toSiteID {
		return fmt.Errorf("%w: worker %s already belongs to site %s", shared.ErrInvariantViolation, workerID, toSiteID)
	}
	if err := s.removeWorkerLocked(workerID, fromSiteID); err != nil {
		return err
	}
	w = &Worker{ID: workerID, Name: w.Name, SiteID: toSiteID}
	s.workers[workerID] = w
	to.WorkerIDs = append(to.WorkerIDs, workerID)
	return nil
}

// SetSiteStatus updates the site lifecycle status.
func (s *Store) SetSiteStatus(siteID string, status SiteStatus) error {
	if !ValidStatus(status) {
		return fmt.Errorf("%w: unknown site status %q", shared.ErrInvariantViolation, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return fmt.Errorf("%w: site %s", shared.ErrNotFound, siteID)
	}
	site.Status = status
	return nil
}

// AddRoleGrant records a role grant after validating its scope. For a site
// manager grant the site's manager slot must be free; the grant claims it.
func (s *Store) AddRoleGrant(g RoleGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addGrantLocked(g)
}

// RemoveRoleGrant removes the grant of the given kind and scope from the
// principal, releasing the site's manager slot when applicable.
func (s *Store) RemoveRoleGrant(principalID string, kind RoleKind, scopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeGrantLocked(principalID, kind, scopeID)
}

// SetSiteManager grants the site manager role to the principal and marks
// them as the site's active manager.
func (s *Store) SetSiteManager(siteID, principalID, grantedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addGrantLocked(RoleGrant{
		Kind:        RoleSiteManager,
		ScopeID:     siteID,
		PrincipalID: principalID,
		GrantedBy:   grantedBy,
		GrantedAt:   at,
	})
}

// ClearSiteManager revokes the site's active manager and returns the
// principal that held the role.
func (s *Store) ClearSiteManager(siteID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return "", fmt.Errorf("%w: site %s", shared.ErrNotFound, siteID)
	}
	if site.ManagerID == "" {
		return "", fmt.Errorf("%w: site %s has no manager", shared.ErrNotFound, siteID)
	}
	managerID := site.ManagerID
	if err := s.removeGrantLocked(managerID, RoleSiteManager, siteID); err != nil {
		return "", err
	}
	return managerID, nil
}

func (s *Store) addGrantLocked(g RoleGrant) error {
	if g.PrincipalID == "" {
		return fmt.Errorf("%w: grant requires a principal", shared.ErrInvariantViolation)
	}
	switch g.Kind {
	case RoleSiteManager:
		site, ok := s.sites[g.ScopeID]
		if !ok {
			return fmt.Errorf("%w: site %s", shared.ErrNotFound, g.ScopeID)
		}
		if site.ManagerID != "" {
			return fmt.Errorf("%w: site %s already has a manager", shared.ErrInvariantViolation, g.ScopeID)
		}
		site.ManagerID = g.PrincipalID
	case RoleSitesGlobalManager:
		if _, ok := s.regions[g.ScopeID]; !ok {
			return fmt.Errorf("%w: region %s", shared.ErrNotFound, g.ScopeID)
		}
	default:
		return fmt.Errorf("%w: unknown role kind %q", shared.ErrInvariantViolation, g.Kind)
	}
	for _, existing := range s.grants[g.PrincipalID] {
		if existing.Kind == g.Kind && existing.ScopeID == g.ScopeID {
			// A duplicate site manager grant never reaches here: the
			// occupied manager slot fails the switch above first.
			return fmt.Errorf("%w: principal %s already holds %s over %s", shared.ErrInvariantViolation, g.PrincipalID, g.Kind, g.ScopeID)
		}
	}
	s.grants[g.PrincipalID] = append(s.grants[g.PrincipalID], g)
	return nil
}

func (s *Store) removeGrantLocked(principalID string, kind RoleKind, scopeID string) error {
	grants := s.grants[principalID]
	idx := -1
	for i, g := range grants {
		if g.Kind == kind && g.ScopeID == scopeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: principal %s holds no %s over %s", shared.ErrNotFound, principalID, kind, scopeID)
	}
	s.grants[principalID] = append(grants[:idx], grants[idx+1:]...)
	if len(s.grants[principalID]) == 0 {
		delete(s.grants, principalID)
	}
	if kind == RoleSiteManager {
		if site, ok := s.sites[scopeID]; ok && site.ManagerID == principalID {
			site.ManagerID = ""
		}
	}
	return nil
}

func (s *Store) removeWorkerLocked(workerID, siteID string) error {
	w, ok := s.workers[workerID]
	if !ok {
		return fmt.Errorf("%w: worker %s", shared.ErrNotFound, workerID)
	}
	if w.SiteID != siteID {
		return fmt.Errorf("%w: worker %s does not belong to site %s", shared.ErrInvariantViolation, workerID, siteID)
	}
	site, ok := s.sites[siteID]
	if !ok {
		return fmt.Errorf("%w: site %s", shared.ErrNotFound, siteID)
	}
	for i, id := range site.WorkerIDs {
		if id == workerID {
			site.WorkerIDs = append(site.WorkerIDs[:i], site.WorkerIDs[i+1:]...)
			break
		}
	}
	delete(s.workers, workerID)
	return nil
}

func copySite(site *Site) Site {
	out := *site
	out.WorkerIDs = make([]string, len(site.WorkerIDs))
	copy(out.WorkerIDs, site.WorkerIDs)
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
