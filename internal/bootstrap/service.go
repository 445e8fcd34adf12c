// Package bootstrap carries the administrative flows that sit above the
// core's authority model: creating containers, deleting them with bulk
// cleanup, and delegating region-wide authority. These flows bypass the
// authorization engine by design and are guarded at the transport layer by
// the administrator token.
package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/chantier-hq/chantier/internal/audit"
	"github.com/chantier-hq/chantier/internal/fleet"
	"github.com/chantier-hq/chantier/internal/hierarchy"
	"github.com/chantier-hq/chantier/internal/principal"
)

// actorID marks bootstrap-issued audit records; there is no principal
// behind the administrator token.
const actorID = "administrator"

// Service applies administrative mutations directly to the stores.
type Service struct {
	store    *hierarchy.Store
	vehicles *fleet.Store
	registry *principal.Registry
	sink     audit.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the bootstrap service.
func NewService(store *hierarchy.Store, vehicles *fleet.Store, registry *principal.Registry, sink audit.Sink, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		vehicles: vehicles,
		registry: registry,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateRegion registers a new region.
func (s *Service) CreateRegion(ctx context.Context, r hierarchy.Region) error {
	return s.audited(ctx, "region.create", "region", r.ID, func() error {
		return s.store.AddRegion(r)
	})
}

// CreateSite registers a new site under its region.
func (s *Service) CreateSite(ctx context.Context, site hierarchy.Site) error {
	return s.audited(ctx, "site.create", "site", site.ID, func() error {
		return s.store.WithRegionLock(ctx, site.RegionID, func() error {
			return s.store.AddSite(site)
		})
	})
}

// DeleteSite removes a site with bulk cleanup of its workers and
// site-scoped grants.
func (s *Service) DeleteSite(ctx context.Context, siteID string) error {
	site, err := s.store.Site(siteID)
	if err != nil {
		return err
	}
	return s.audited(ctx, "site.delete", "site", siteID, func() error {
		return s.store.WithRegionLock(ctx, site.RegionID, func() error {
			return s.store.RemoveSite(siteID)
		})
	})
}

// GrantRegionManager grants region-wide authority to an existing principal.
func (s *Service) GrantRegionManager(ctx context.Context, principalID, regionID string) error {
	if _, err := s.registry.Lookup(principalID); err != nil {
		return err
	}
	return s.audited(ctx, "region.manager.assign", "region", regionID, func() error {
		return s.store.WithRegionLock(ctx, regionID, func() error {
			return s.store.AddRoleGrant(hierarchy.RoleGrant{
				Kind:        hierarchy.RoleSitesGlobalManager,
				ScopeID:     regionID,
				PrincipalID: principalID,
				GrantedBy:   actorID,
				GrantedAt:   s.now().UTC(),
			})
		})
	})
}

// RevokeRegionManager removes a principal's region-wide authority.
func (s *Service) RevokeRegionManager(ctx context.Context, principalID, regionID string) error {
	return s.audited(ctx, "region.manager.revoke", "region", regionID, func() error {
		return s.store.WithRegionLock(ctx, regionID, func() error {
			return s.store.RemoveRoleGrant(principalID, hierarchy.RoleSitesGlobalManager, regionID)
		})
	})
}

// RegisterPrincipal pre-registers an external identity so grants can be
// issued before the person first logs in.
func (s *Service) RegisterPrincipal(ctx context.Context, externalID string) (principal.Principal, error) {
	p, err := s.registry.Resolve(externalID)
	if err != nil {
		return principal.Principal{}, err
	}
	rec := audit.NewRecord(actorID, "principal.register", "principal", p.ID, audit.OutcomeApplied)
	audit.Emit(ctx, s.logger, s.sink, rec)
	return p, nil
}

// AddVehicle registers a vehicle in a region's fleet.
func (s *Service) AddVehicle(ctx context.Context, v fleet.Vehicle) error {
	if _, err := s.store.Region(v.RegionID); err != nil {
		return err
	}
	return s.audited(ctx, "vehicle.create", "vehicle", v.ID, func() error {
		return s.vehicles.AddVehicle(v)
	})
}

func (s *Service) audited(ctx context.Context, action, targetKind, targetID string, apply func() error) error {
	if err := apply(); err != nil {
		rec := audit.NewRecord(actorID, action, targetKind, targetID, audit.OutcomeRejected)
		rec.Detail = err.Error()
		audit.Emit(ctx, s.logger, s.sink, rec)
		return err
	}
	audit.Emit(ctx, s.logger, s.sink, audit.NewRecord(actorID, action, targetKind, targetID, audit.OutcomeApplied))
	return nil
}
