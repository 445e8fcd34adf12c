package hierarchy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chantier-hq/chantier/internal/shared"
)

func seedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(DefaultLockWait)
	require.NoError(t, s.AddRegion(Region{ID: "north", Name: "North"}))
	require.NoError(t, s.AddRegion(Region{ID: "south", Name: "South"}))
	require.NoError(t, s.AddSite(Site{ID: "alpha", Name: "Alpha", RegionID: "north"}))
	require.NoError(t, s.AddSite(Site{ID: "beta", Name: "Beta", RegionID: "north"}))
	require.NoError(t, s.AddSite(Site{ID: "gamma", Name: "Gamma", RegionID: "south"}))
	return s
}

func TestAddSiteRequiresRegion(t *testing.T) {
	s := NewStore(0)
	err := s.AddSite(Site{ID: "alpha", Name: "Alpha", RegionID: "nowhere"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAddSiteDefaultsStatus(t *testing.T) {
	s := seedStore(t)
	site, err := s.Site("alpha")
	require.NoError(t, err)
	require.Equal(t, StatusNotCarried, site.Status)
}

func TestAddWorkerToUnknownSite(t *testing.T) {
	s := seedStore(t)
	err := s.AddWorkerToSite(Worker{ID: "w1", Name: "Asha", SiteID: "missing"})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestWorkerBelongsToOneSite(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.AddWorkerToSite(Worker{ID: "w1", Name: "Asha", SiteID: "alpha"}))
	err := s.AddWorkerToSite(Worker{ID: "w1", Name: "Asha", SiteID: "beta"})
	require.ErrorIs(t, err, shared.ErrInvariantViolation)
}

func TestRemoveWorkerTwice(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.AddWorkerToSite(Worker{ID: "w1", Name: "Asha", SiteID: "alpha"}))
	require.NoError(t, s.RemoveWorkerFromSite("w1", "alpha"))
	err := s.RemoveWorkerFromSite("w1", "alpha")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRemoveWorkerWrongSite(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.AddWorkerToSite(Worker{ID: "w1", Name: "Asha", SiteID: "alpha"}))
	err := s.RemoveWorkerFromSite("w1", "beta")
	require.ErrorIs(t, err, shared.ErrInvariantViolation)
}

func TestMoveWorker(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.AddWorkerToSite(Worker{ID: "w1", Name: "Asha", SiteID: "alpha"}))

	require.NoError(t, s.MoveWorker("w1", "alpha", "beta"))

	w, err := s.Worker("w1")
	require.NoError(t, err)
	require.Equal(t, "beta", w.SiteID)

	from, err := s.Site("alpha")
	require.NoError(t, err)
	require.Empty(t, from.WorkerIDs)

	to, err := s.Site("beta")
	require.NoError(t, err)
	require.Equal(t, []string{"w1"}, to.WorkerIDs)
}

func TestMoveWorkerLeavesStateOnFailure(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.AddWorkerToSite(Worker{ID: "w1", Name: "Asha", SiteID: "alpha"}))

	require.ErrorIs(t, s.MoveWorker("w1", "beta", "gamma"), shared.ErrInvariantViolation)
	require.ErrorIs(t, s.MoveWorker("w1", "alpha", "missing"), shared.ErrNotFound)
	require.ErrorIs(t, s.MoveWorker("w1", "alpha", "alpha"), shared.ErrInvariantViolation)

	w, err := s.Worker("w1")
	require.NoError(t, err)
	require.Equal(t, "alpha", w.SiteID)
	site, err := s.Site("alpha")
	require.NoError(t, err)
	require.Equal(t, []string{"w1"}, site.WorkerIDs)
}

func TestSetSiteStatusRejectsUnknown(t *testing.T) {
	s := seedStore(t)
	require.ErrorIs(t, s.SetSiteStatus("alpha", SiteStatus("paused")), shared.ErrInvariantViolation)
	require.NoError(t, s.SetSiteStatus("alpha", StatusInProgress))
	site, err := s.Site("alpha")
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, site.Status)
}

func TestSiteManagerSlot(t *testing.T) {
	s := seedStore(t)
	now := time.Now().UTC()

	require.NoError(t, s.SetSiteManager("alpha", "p1", "administrator", now))
	site, err := s.Site("alpha")
	require.NoError(t, err)
	require.Equal(t, "p1", site.ManagerID)

	err = s.SetSiteManager("alpha", "p2", "administrator", now)
	require.ErrorIs(t, err, shared.ErrInvariantViolation)

	former, err := s.ClearSiteManager("alpha")
	require.NoError(t, err)
	require.Equal(t, "p1", former)
	require.Empty(t, s.GrantsOf("p1"))

	_, err = s.ClearSiteManager("alpha")
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, s.SetSiteManager("alpha", "p2", "administrator", now))
}

func TestDuplicateGrantRejected(t *testing.T) {
	s := seedStore(t)
	g := RoleGrant{Kind: RoleSitesGlobalManager, ScopeID: "north", PrincipalID: "p1", GrantedBy: "administrator", GrantedAt: time.Now().UTC()}
	require.NoError(t, s.AddRoleGrant(g))
	require.ErrorIs(t, s.AddRoleGrant(g), shared.ErrInvariantViolation)
	require.Len(t, s.GrantsOf("p1"), 1)
}

func TestGrantScopeMustExist(t *testing.T) {
	s := seedStore(t)
	err := s.AddRoleGrant(RoleGrant{Kind: RoleSitesGlobalManager, ScopeID: "west", PrincipalID: "p1"})
	require.ErrorIs(t, err, shared.ErrNotFound)
	err = s.AddRoleGrant(RoleGrant{Kind: RoleSiteManager, ScopeID: "missing", PrincipalID: "p1"})
	require.ErrorIs(t, err, shared.ErrNotFound)
	err = s.AddRoleGrant(RoleGrant{Kind: RoleKind("owner"), ScopeID: "north", PrincipalID: "p1"})
	require.ErrorIs(t, err, shared.ErrInvariantViolation)
}

func TestRemoveSiteCleansUp(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.AddWorkerToSite(Worker{ID: "w1", Name: "Asha", SiteID: "alpha"}))
	require.NoError(t, s.AddWorkerToSite(Worker{ID: "w2", Name: "Badri", SiteID: "alpha"}))
	require.NoError(t, s.SetSiteManager("alpha", "p1", "administrator", time.Now().UTC()))

	require.NoError(t, s.RemoveSite("alpha"))

	_, err := s.Site("alpha")
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = s.Worker("w1")
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = s.Worker("w2")
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, s.GrantsOf("p1"))
}

func TestReadsReturnCopies(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.AddWorkerToSite(Worker{ID: "w1", Name: "Asha", SiteID: "alpha"}))

	site, err := s.Site("alpha")
	require.NoError(t, err)
	site.WorkerIDs[0] = "tampered"
	site.Status = StatusCompleted

	again, err := s.Site("alpha")
	require.NoError(t, err)
	require.Equal(t, []string{"w1"}, again.WorkerIDs)
	require.Equal(t, StatusNotCarried, again.Status)
}

func TestWithSiteLockBusy(t *testing.T) {
	s := seedStore(t)
	s.lockWait = 50 * time.Millisecond

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithSiteLock(context.Background(), "alpha", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := s.WithSiteLock(context.Background(), "alpha", func() error { return nil })
	require.ErrorIs(t, err, shared.ErrBusy)

	close(release)
	wg.Wait()

	require.NoError(t, s.WithSiteLock(context.Background(), "alpha", func() error { return nil }))
}

func TestRegionLockExcludesSiteLocks(t *testing.T) {
	s := seedStore(t)
	s.lockWait = 50 * time.Millisecond

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithRegionLock(context.Background(), "north", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	require.ErrorIs(t, s.WithSiteLock(context.Background(), "alpha", func() error { return nil }), shared.ErrBusy)
	// The other region stays available.
	require.NoError(t, s.WithSiteLock(context.Background(), "gamma", func() error { return nil }))

	close(release)
	wg.Wait()
}

func TestSiteLocksWithinRegionAreConcurrent(t *testing.T) {
	s := seedStore(t)
	s.lockWait = 500 * time.Millisecond

	inAlpha := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.WithSiteLock(context.Background(), "alpha", func() error {
			close(inAlpha)
			<-release
			return nil
		})
	}()
	<-inAlpha

	require.NoError(t, s.WithSiteLock(context.Background(), "beta", func() error { return nil }))

	close(release)
	wg.Wait()
}

func TestWithSitesLockOrdering(t *testing.T) {
	s := seedStore(t)
	s.lockWait = time.Second

	// Two movers locking the same pair in opposite argument order must not
	// deadlock; both complete within the lock wait.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = s.WithSitesLock(context.Background(), []string{"alpha", "beta"}, func() error {
			time.Sleep(10 * time.Millisecond)
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		errs[1] = s.WithSitesLock(context.Background(), []string{"beta", "alpha"}, func() error {
			time.Sleep(10 * time.Millisecond)
			return nil
		})
	}()
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
}

func TestWithSiteLockUnknownSite(t *testing.T) {
	s := seedStore(t)
	err := s.WithSiteLock(context.Background(), "missing", func() error { return nil })
	require.ErrorIs(t, err, shared.ErrNotFound)
}
