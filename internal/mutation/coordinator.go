// Package mutation serializes every state-changing operation: it resolves
// the acting principal, authorizes the precise action and target, applies
// the hierarchy write under the locking discipline, and emits exactly one
// audit record per attempt, for denials and invariant failures as much as
// for committed changes.
package mutation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chantier-hq/chantier/internal/audit"
	"github.com/chantier-hq/chantier/internal/authz"
	"github.com/chantier-hq/chantier/internal/fleet"
	"github.com/chantier-hq/chantier/internal/hierarchy"
	"github.com/chantier-hq/chantier/internal/principal"
	"github.com/chantier-hq/chantier/internal/shared"
)

// Coordinator is the sole writer to the hierarchy store on the normal
// operation path.
type Coordinator struct {
	store    *hierarchy.Store
	vehicles *fleet.Store
	registry *principal.Registry
	engine   *authz.Engine
	sink     audit.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator constructs a Coordinator. The fleet store may be nil when
// the deployment carries no vehicles.
func NewCoordinator(store *hierarchy.Store, vehicles *fleet.Store, registry *principal.Registry, engine *authz.Engine, sink audit.Sink, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		vehicles: vehicles,
		registry: registry,
		engine:   engine,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// AddWorker assigns a new worker to a site.
func (c *Coordinator) AddWorker(ctx context.Context, externalID string, w hierarchy.Worker) error {
	p, err := c.registry.Resolve(externalID)
	if err != nil {
		return err
	}
	return c.store.WithSiteLock(ctx, w.SiteID, func() error {
		site, err := c.store.Site(w.SiteID)
		if err != nil {
			return err
		}
		return c.guarded(ctx, p, authz.ActionWorkerAdd,
			authz.Target{Kind: authz.TargetWorker, ID: w.ID},
			authz.Resource{SiteID: site.ID, RegionID: site.RegionID},
			func() error { return c.store.AddWorkerToSite(w) })
	})
}

// RemoveWorker removes a worker from the given site. Removing the same
// worker twice fails with shared.ErrNotFound; the first removal stands.
func (c *Coordinator) RemoveWorker(ctx context.Context, externalID, workerID, siteID string) error {
	p, err := c.registry.Resolve(externalID)
	if err != nil {
		return err
	}
	return c.store.WithSiteLock(ctx, siteID, func() error {
		site, err := c.store.Site(siteID)
		if err != nil {
			return err
		}
		return c.guarded(ctx, p, authz.ActionWorkerRemove,
			authz.Target{Kind: authz.TargetWorker, ID: workerID},
			authz.Resource{SiteID: site.ID, RegionID: site.RegionID},
			func() error { return c.store.RemoveWorkerFromSite(workerID, siteID) })
	})
}

// MoveWorker reassigns a worker between two sites atomically: on any
// failure the worker stays at fromSiteID. The principal needs authority
// over both sites.
func (c *Coordinator) MoveWorker(ctx context.Context, externalID, workerID, fromSiteID, toSiteID string) error {
	p, err := c.registry.Resolve(externalID)
	if err != nil {
		return err
	}
	return c.store.WithSitesLock(ctx, []string{fromSiteID, toSiteID}, func() error {
		from, err := c.store.Site(fromSiteID)
		if err != nil {
			return err
		}
		to, err := c.store.Site(toSiteID)
		if err != nil {
			return err
		}
		grants := c.store.GrantsOf(p.ID)
		target := authz.Target{Kind: authz.TargetWorker, ID: workerID}
		for _, site := range []hierarchy.Site{from, to} {
			dec := c.engine.Authorize(grants, authz.ActionWorkerMove, authz.Resource{SiteID: site.ID, RegionID: site.RegionID})
			if !dec.Allowed {
				c.audit(ctx, p, authz.ActionWorkerMove, target, audit.OutcomeDenied, string(dec.Reason), "")
				return denialError(authz.ActionWorkerMove, dec.Reason)
			}
		}
		if err := c.store.MoveWorker(workerID, fromSiteID, toSiteID); err != nil {
			c.audit(ctx, p, authz.ActionWorkerMove, target, audit.OutcomeRejected, "", err.Error())
			return err
		}
		c.audit(ctx, p, authz.ActionWorkerMove, target, audit.OutcomeApplied, "", "")
		return nil
	})
}

// SetSiteStatus updates a site's lifecycle status.
func (c *Coordinator) SetSiteStatus(ctx context.Context, externalID, siteID string, status hierarchy.SiteStatus) error {
	p, err := c.registry.Resolve(externalID)
	if err != nil {
		return err
	}
	return c.store.WithSiteLock(ctx, siteID, func() error {
		site, err := c.store.Site(siteID)
		if err != nil {
			return err
		}
		return c.guarded(ctx, p, authz.ActionSiteStatusSet,
			authz.Target{Kind: authz.TargetSite, ID: siteID},
			authz.Resource{SiteID: site.ID, RegionID: site.RegionID},
			func() error { return c.store.SetSiteStatus(siteID, status) })
	})
}

// AssignSiteManager delegates the site manager role to granteeID. Only a
// global manager of the site's region may delegate; the operation takes the
// region lock exclusively.
func (c *Coordinator) AssignSiteManager(ctx context.Context, externalID, granteeID, siteID string) error {
	p, err := c.registry.Resolve(externalID)
	if err != nil {
		return err
	}
	site, err := c.store.Site(siteID)
	if err != nil {
		return err
	}
	if _, err := c.registry.Lookup(granteeID); err != nil {
		return err
	}
	return c.store.WithRegionLock(ctx, site.RegionID, func() error {
		return c.guarded(ctx, p, authz.ActionSiteManagerAssign,
			authz.Target{Kind: authz.TargetSite, ID: siteID},
			authz.Resource{SiteID: site.ID, RegionID: site.RegionID},
			func() error { return c.store.SetSiteManager(siteID, granteeID, p.ID, c.now().UTC()) })
	})
}

// RevokeSiteManager removes the site's active manager.
func (c *Coordinator) RevokeSiteManager(ctx context.Context, externalID, siteID string) error {
	p, err := c.registry.Resolve(externalID)
	if err != nil {
		return err
	}
	site, err := c.store.Site(siteID)
	if err != nil {
		return err
	}
	return c.store.WithRegionLock(ctx, site.RegionID, func() error {
		return c.guarded(ctx, p, authz.ActionSiteManagerRevoke,
			authz.Target{Kind: authz.TargetSite, ID: siteID},
			authz.Resource{SiteID: site.ID, RegionID: site.RegionID},
			func() error {
				_, err := c.store.ClearSiteManager(siteID)
				return err
			})
	})
}

// ReserveVehicle books a region-owned vehicle. Resource management is
// region authority.
func (c *Coordinator) ReserveVehicle(ctx context.Context, externalID, vehicleID string, res fleet.Reservation) error {
	if c.vehicles == nil {
		return fmt.Errorf("%w: no fleet configured", shared.ErrNotFound)
	}
	p, err := c.registry.Resolve(externalID)
	if err != nil {
		return err
	}
	v, err := c.vehicles.Vehicle(vehicleID)
	if err != nil {
		return err
	}
	res.ReservedBy = p.ID
	return c.store.WithRegionLock(ctx, v.RegionID, func() error {
		return c.guarded(ctx, p, authz.ActionFleetReserve,
			authz.Target{Kind: authz.TargetVehicle, ID: vehicleID},
			authz.Resource{RegionID: v.RegionID},
			func() error { return c.vehicles.Reserve(vehicleID, res) })
	})
}

// guarded authorizes against the grants visible under the held lock, then
// applies and audits. Exactly one record is emitted whatever the outcome.
func (c *Coordinator) guarded(ctx context.Context, p principal.Principal, action authz.Action, target authz.Target, res authz.Resource, apply func() error) error {
	dec := c.engine.Authorize(c.store.GrantsOf(p.ID), action, res)
	if !dec.Allowed {
		c.audit(ctx, p, action, target, audit.OutcomeDenied, string(dec.Reason), "")
		return denialError(action, dec.Reason)
	}
	if err := apply(); err != nil {
		c.audit(ctx, p, action, target, audit.OutcomeRejected, "", err.Error())
		return err
	}
	c.audit(ctx, p, action, target, audit.OutcomeApplied, "", "")
	return nil
}

func (c *Coordinator) audit(ctx context.Context, p principal.Principal, action authz.Action, target authz.Target, outcome audit.Outcome, reason, detail string) {
	rec := audit.NewRecord(p.ID, string(action), string(target.Kind), target.ID, outcome)
	rec.Reason = reason
	rec.Detail = detail
	audit.Emit(ctx, c.logger, c.sink, rec)
}

func denialError(action authz.Action, reason authz.Reason) error {
	if reason == authz.ReasonAdministrativeActionRequired {
		return fmt.Errorf("%w: %s", shared.ErrAdminRequired, action)
	}
	return fmt.Errorf("%w: %s: %s", shared.ErrUnauthorized, action, reason)
}
