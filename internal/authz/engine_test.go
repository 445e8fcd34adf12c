package authz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chantier-hq/chantier/internal/hierarchy"
	"github.com/chantier-hq/chantier/internal/shared"
)

func globalGrant(regionID string) hierarchy.RoleGrant {
	return hierarchy.RoleGrant{Kind: hierarchy.RoleSitesGlobalManager, ScopeID: regionID, PrincipalID: "p"}
}

func siteGrant(siteID string) hierarchy.RoleGrant {
	return hierarchy.RoleGrant{Kind: hierarchy.RoleSiteManager, ScopeID: siteID, PrincipalID: "p"}
}

func TestAuthorizeDecisionTable(t *testing.T) {
	e := NewEngine()
	alphaNorth := Resource{SiteID: "alpha", RegionID: "north"}

	cases := []struct {
		name    string
		grants  []hierarchy.RoleGrant
		action  Action
		res     Resource
		allowed bool
		reason  Reason
	}{
		{
			name:   "no grants no authority",
			action: ActionWorkerAdd,
			res:    alphaNorth,
			reason: ReasonNoSiteAuthority,
		},
		{
			name:    "site manager on own site",
			grants:  []hierarchy.RoleGrant{siteGrant("alpha")},
			action:  ActionWorkerAdd,
			res:     alphaNorth,
			allowed: true,
		},
		{
			name:   "site manager on another site",
			grants: []hierarchy.RoleGrant{siteGrant("alpha")},
			action: ActionWorkerRemove,
			res:    Resource{SiteID: "beta", RegionID: "north"},
			reason: ReasonNoSiteAuthority,
		},
		{
			name:    "global manager anywhere in region",
			grants:  []hierarchy.RoleGrant{globalGrant("north")},
			action:  ActionWorkerMove,
			res:     alphaNorth,
			allowed: true,
		},
		{
			name:   "global manager outside region",
			grants: []hierarchy.RoleGrant{globalGrant("north")},
			action: ActionWorkerAdd,
			res:    Resource{SiteID: "delta", RegionID: "south"},
			reason: ReasonNoSiteAuthority,
		},
		{
			name:    "site status by site manager",
			grants:  []hierarchy.RoleGrant{siteGrant("alpha")},
			action:  ActionSiteStatusSet,
			res:     alphaNorth,
			allowed: true,
		},
		{
			name:    "manager assignment needs region authority",
			grants:  []hierarchy.RoleGrant{globalGrant("north")},
			action:  ActionSiteManagerAssign,
			res:     alphaNorth,
			allowed: true,
		},
		{
			name:   "site manager cannot appoint a peer",
			grants: []hierarchy.RoleGrant{siteGrant("alpha")},
			action: ActionSiteManagerAssign,
			res:    alphaNorth,
			reason: ReasonAdministrativeActionRequired,
		},
		{
			name:   "manager revocation without region authority",
			action: ActionSiteManagerRevoke,
			res:    alphaNorth,
			reason: ReasonAdministrativeActionRequired,
		},
		{
			name:   "region manager assignment is bootstrap only",
			grants: []hierarchy.RoleGrant{globalGrant("north")},
			action: ActionRegionManagerAssign,
			res:    Resource{RegionID: "north"},
			reason: ReasonAdministrativeActionRequired,
		},
		{
			name:   "region manager revocation is bootstrap only",
			grants: []hierarchy.RoleGrant{globalGrant("north")},
			action: ActionRegionManagerRevoke,
			res:    Resource{RegionID: "north"},
			reason: ReasonAdministrativeActionRequired,
		},
		{
			name:    "fleet reservation by global manager",
			grants:  []hierarchy.RoleGrant{globalGrant("north")},
			action:  ActionFleetReserve,
			res:     Resource{RegionID: "north"},
			allowed: true,
		},
		{
			name:   "fleet reservation by site manager",
			grants: []hierarchy.RoleGrant{siteGrant("alpha")},
			action: ActionFleetReserve,
			res:    Resource{RegionID: "north"},
			reason: ReasonNoRegionAuthority,
		},
		{
			name:   "empty region never grants authority",
			grants: []hierarchy.RoleGrant{globalGrant("")},
			action: ActionFleetReserve,
			res:    Resource{},
			reason: ReasonNoRegionAuthority,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := e.Authorize(tc.grants, tc.action, tc.res)
			require.Equal(t, tc.allowed, d.Allowed)
			require.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestDelegationChain(t *testing.T) {
	e := NewEngine()

	// A global manager over north appoints a site manager on alpha; the
	// appointee can then act on alpha but not on a site in another region.
	d := e.Authorize([]hierarchy.RoleGrant{globalGrant("north")}, ActionSiteManagerAssign, Resource{SiteID: "alpha", RegionID: "north"})
	require.True(t, d.Allowed)

	appointee := []hierarchy.RoleGrant{siteGrant("alpha")}
	d = e.Authorize(appointee, ActionWorkerAdd, Resource{SiteID: "alpha", RegionID: "north"})
	require.True(t, d.Allowed)

	d = e.Authorize(appointee, ActionWorkerAdd, Resource{SiteID: "epsilon", RegionID: "south"})
	require.False(t, d.Allowed)
	require.Equal(t, ReasonNoSiteAuthority, d.Reason)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("worker.move")
	require.NoError(t, err)
	require.Equal(t, ActionWorkerMove, a)

	_, err = ParseAction("worker.promote")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
