// Package authz decides whether a principal may perform an action on a
// hierarchy resource. Decisions are a pure function of the grants and the
// resolved resource scope; the engine never reads or writes live state.
package authz

import "github.com/chantier-hq/chantier/internal/hierarchy"

// Reason explains a denial.
type Reason string

const (
	ReasonNone Reason = ""
	// ReasonNoRegionAuthority: the principal holds no global manager grant
	// over the target's region.
	ReasonNoRegionAuthority Reason = "NoRegionAuthority"
	// ReasonNoSiteAuthority: the principal holds neither region authority
	// nor a site manager grant on the exact target site.
	ReasonNoSiteAuthority Reason = "NoSiteAuthority"
	// ReasonAdministrativeActionRequired: the action sits above this
	// engine's authority model (or requires region authority the
	// principal lacks, for manager delegation).
	ReasonAdministrativeActionRequired Reason = "AdministrativeActionRequired"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason Reason) Decision { return Decision{Reason: reason} }

// Resource is the scope an action resolves to: the exact site (empty for
// region-targeted actions) and its owning region. Callers resolve targets
// against a consistent snapshot before asking for a decision.
type Resource struct {
	SiteID   string
	RegionID string
}

// Engine evaluates the decision table.
type Engine struct{}

// NewEngine constructs an Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Authorize decides allow or deny, in priority order:
//
//  1. global manager grants -> always deny: reserved for the
//     administrative bootstrap actor;
//  2. site manager delegation -> requires a global manager grant over the
//     site's region, a site manager can never appoint peers or self-promote;
//  3. region authority over the resource's region -> allow;
//  4. site authority on the exact site -> allow;
//  5. otherwise deny, naming the missing scope.
func (e *Engine) Authorize(grants []hierarchy.RoleGrant, action Action, res Resource) Decision {
	switch action {
	case ActionRegionManagerAssign, ActionRegionManagerRevoke:
		return deny(ReasonAdministrativeActionRequired)
	case ActionSiteManagerAssign, ActionSiteManagerRevoke:
		if hasRegionAuthority(grants, res.RegionID) {
			return allow()
		}
		return deny(ReasonAdministrativeActionRequired)
	}

	if hasRegionAuthority(grants, res.RegionID) {
		return allow()
	}
	if res.SiteID == "" {
		// Region-targeted action (fleet reservations): only region
		// authority qualifies.
		return deny(ReasonNoRegionAuthority)
	}
	if hasSiteAuthority(grants, res.SiteID) {
		return allow()
	}
	return deny(ReasonNoSiteAuthority)
}

func hasRegionAuthority(grants []hierarchy.RoleGrant, regionID string) bool {
	if regionID == "" {
		return false
	}
	for _, g := range grants {
		if g.Kind == hierarchy.RoleSitesGlobalManager && g.ScopeID == regionID {
			return true
		}
	}
	return false
}

func hasSiteAuthority(grants []hierarchy.RoleGrant, siteID string) bool {
	for _, g := range grants {
		if g.Kind == hierarchy.RoleSiteManager && g.ScopeID == siteID {
			return true
		}
	}
	return false
}
