// Package core is the surface the transport layer talks to: authorization
// checks, mutation application and read-only queries over one consistent
// view of the hierarchy.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/chantier-hq/chantier/internal/audit"
	"github.com/chantier-hq/chantier/internal/authz"
	"github.com/chantier-hq/chantier/internal/fleet"
	"github.com/chantier-hq/chantier/internal/hierarchy"
	"github.com/chantier-hq/chantier/internal/mutation"
	"github.com/chantier-hq/chantier/internal/principal"
	"github.com/chantier-hq/chantier/internal/shared"
)

// DecisionRecorder counts authorization outcomes. Satisfied by
// observability.Metrics.
type DecisionRecorder interface {
	RecordDecision(action, outcome string)
}

// Service composes the principal registry, hierarchy store, authorization
// engine and mutation coordinator behind one facade.
type Service struct {
	registry *principal.Registry
	store    *hierarchy.Store
	vehicles *fleet.Store
	engine   *authz.Engine
	coord    *mutation.Coordinator
	sink     audit.Sink
	logger   *slog.Logger
	collator *collate.Collator
	recorder DecisionRecorder
}

// SetDecisionRecorder wires metrics for authorization outcomes. A nil
// recorder disables counting.
func (s *Service) SetDecisionRecorder(r DecisionRecorder) {
	s.recorder = r
}

// NewService constructs the facade. Site and region listings are ordered
// with French collation, matching the workforce the platform serves.
func NewService(registry *principal.Registry, store *hierarchy.Store, vehicles *fleet.Store, engine *authz.Engine, coord *mutation.Coordinator, sink audit.Sink, logger *slog.Logger) *Service {
	return &Service{
		registry: registry,
		store:    store,
		vehicles: vehicles,
		engine:   engine,
		coord:    coord,
		sink:     sink,
		logger:   logger,
		collator: collate.New(language.French),
	}
}

// MutationPayload carries the parameters of one ApplyMutation call. Which
// fields matter depends on the action.
type MutationPayload struct {
	WorkerID    string `json:"worker_id,omitempty"`
	WorkerName  string `json:"worker_name,omitempty"`
	SiteID      string `json:"site_id,omitempty"`
	FromSiteID  string `json:"from_site_id,omitempty"`
	ToSiteID    string `json:"to_site_id,omitempty"`
	PrincipalID string `json:"principal_id,omitempty"`
	Status      string `json:"status,omitempty"`
	VehicleID   string `json:"vehicle_id,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	StartPeriod string `json:"start_period,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	EndPeriod   string `json:"end_period,omitempty"`
}

// Authorize answers whether the identity may perform the action on the
// target, without mutating anything. The decision itself is audited.
func (s *Service) Authorize(ctx context.Context, externalID string, action authz.Action, targetKind authz.TargetKind, targetID string) (authz.Decision, error) {
	p, err := s.registry.Resolve(externalID)
	if err != nil {
		return authz.Decision{}, err
	}
	res, err := s.resolveTarget(targetKind, targetID)
	if err != nil {
		return authz.Decision{}, err
	}
	dec := s.engine.Authorize(s.store.GrantsOf(p.ID), action, res)

	outcome := audit.OutcomeAllowed
	if !dec.Allowed {
		outcome = audit.OutcomeDenied
	}
	rec := audit.NewRecord(p.ID, string(action), string(targetKind), targetID, outcome)
	rec.Reason = string(dec.Reason)
	audit.Emit(ctx, s.logger, s.sink, rec)
	if s.recorder != nil {
		s.recorder.RecordDecision(string(action), string(outcome))
	}

	return dec, nil
}

// ApplyMutation dispatches the action to the coordinator.
func (s *Service) ApplyMutation(ctx context.Context, externalID string, action authz.Action, payload MutationPayload) error {
	err := s.dispatch(ctx, externalID, action, payload)
	if s.recorder != nil {
		s.recorder.RecordDecision(string(action), mutationOutcome(err))
	}
	return err
}

func (s *Service) dispatch(ctx context.Context, externalID string, action authz.Action, payload MutationPayload) error {
	switch action {
	case authz.ActionWorkerAdd:
		return s.coord.AddWorker(ctx, externalID, hierarchy.Worker{
			ID:     payload.WorkerID,
			Name:   payload.WorkerName,
			SiteID: payload.SiteID,
		})
	case authz.ActionWorkerRemove:
		return s.coord.RemoveWorker(ctx, externalID, payload.WorkerID, payload.SiteID)
	case authz.ActionWorkerMove:
		return s.coord.MoveWorker(ctx, externalID, payload.WorkerID, payload.FromSiteID, payload.ToSiteID)
	case authz.ActionSiteStatusSet:
		return s.coord.SetSiteStatus(ctx, externalID, payload.SiteID, hierarchy.SiteStatus(payload.Status))
	case authz.ActionSiteManagerAssign:
		return s.coord.AssignSiteManager(ctx, externalID, payload.PrincipalID, payload.SiteID)
	case authz.ActionSiteManagerRevoke:
		return s.coord.RevokeSiteManager(ctx, externalID, payload.SiteID)
	case authz.ActionFleetReserve:
		res, err := fleet.NewReservation(payload.StartDate, fleet.DayPeriod(payload.StartPeriod), payload.EndDate, fleet.DayPeriod(payload.EndPeriod))
		if err != nil {
			return err
		}
		res.SiteID = payload.SiteID
		return s.coord.ReserveVehicle(ctx, externalID, payload.VehicleID, res)
	case authz.ActionRegionManagerAssign, authz.ActionRegionManagerRevoke:
		return fmt.Errorf("%w: %s", shared.ErrAdminRequired, action)
	default:
		return fmt.Errorf("%w: action %q", shared.ErrNotFound, action)
	}
}

func mutationOutcome(err error) string {
	switch {
	case err == nil:
		return string(audit.OutcomeApplied)
	case errors.Is(err, shared.ErrUnauthorized), errors.Is(err, shared.ErrAdminRequired):
		return string(audit.OutcomeDenied)
	case errors.Is(err, shared.ErrBusy):
		return "busy"
	default:
		return string(audit.OutcomeRejected)
	}
}

// Query returns a read-only snapshot of the named entity.
func (s *Service) Query(targetKind authz.TargetKind, id string) (any, error) {
	switch targetKind {
	case authz.TargetRegion:
		return s.store.Region(id)
	case authz.TargetSite:
		return s.store.Site(id)
	case authz.TargetWorker:
		return s.store.Worker(id)
	case authz.TargetVehicle:
		if s.vehicles == nil {
			return nil, fmt.Errorf("%w: no fleet configured", shared.ErrNotFound)
		}
		return s.vehicles.Vehicle(id)
	default:
		return nil, fmt.Errorf("%w: target kind %q", shared.ErrNotFound, targetKind)
	}
}

// Principal returns the principal record by internal id.
func (s *Service) Principal(id string) (principal.Principal, error) {
	return s.registry.Lookup(id)
}

// GrantsOfPrincipal returns a principal's grants, copy-on-read.
func (s *Service) GrantsOfPrincipal(id string) ([]hierarchy.RoleGrant, error) {
	return s.registry.GrantsFor(id)
}

// ListRegions returns every region ordered by name.
func (s *Service) ListRegions() []hierarchy.Region {
	regions := s.store.Regions()
	sort.SliceStable(regions, func(i, j int) bool {
		return s.collator.CompareString(regions[i].Name, regions[j].Name) < 0
	})
	return regions
}

// ListSites returns the region's sites ordered by name.
func (s *Service) ListSites(regionID string) ([]hierarchy.Site, error) {
	sites, err := s.store.SitesOfRegion(regionID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sites, func(i, j int) bool {
		return s.collator.CompareString(sites[i].Name, sites[j].Name) < 0
	})
	return sites, nil
}

// ListWorkers returns the site's workers.
func (s *Service) ListWorkers(siteID string) ([]hierarchy.Worker, error) {
	return s.store.WorkersOfSite(siteID)
}

// ListVehicles returns the region's fleet.
func (s *Service) ListVehicles(regionID string) ([]fleet.Vehicle, error) {
	if _, err := s.store.Region(regionID); err != nil {
		return nil, err
	}
	if s.vehicles == nil {
		return nil, nil
	}
	return s.vehicles.VehiclesOfRegion(regionID), nil
}

func (s *Service) resolveTarget(kind authz.TargetKind, id string) (authz.Resource, error) {
	switch kind {
	case authz.TargetRegion:
		region, err := s.store.Region(id)
		if err != nil {
			return authz.Resource{}, err
		}
		return authz.Resource{RegionID: region.ID}, nil
	case authz.TargetSite:
		site, err := s.store.Site(id)
		if err != nil {
			return authz.Resource{}, err
		}
		return authz.Resource{SiteID: site.ID, RegionID: site.RegionID}, nil
	case authz.TargetWorker:
		w, err := s.store.Worker(id)
		if err != nil {
			return authz.Resource{}, err
		}
		site, err := s.store.Site(w.SiteID)
		if err != nil {
			return authz.Resource{}, err
		}
		return authz.Resource{SiteID: site.ID, RegionID: site.RegionID}, nil
	case authz.TargetVehicle:
		if s.vehicles == nil {
			return authz.Resource{}, fmt.Errorf("%w: no fleet configured", shared.ErrNotFound)
		}
		v, err := s.vehicles.Vehicle(id)
		if err != nil {
			return authz.Resource{}, err
		}
		return authz.Resource{RegionID: v.RegionID}, nil
	default:
		return authz.Resource{}, fmt.Errorf("%w: target kind %q", shared.ErrNotFound, kind)
	}
}
