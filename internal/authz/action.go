package authz

import (
	"fmt"

	"github.com/chantier-hq/chantier/internal/shared"
)

// Action is the closed set of state-changing and checkable operations.
type Action string

const (
	ActionWorkerAdd           Action = "worker.add"
	ActionWorkerRemove        Action = "worker.remove"
	ActionWorkerMove          Action = "worker.move"
	ActionSiteStatusSet       Action = "site.status.set"
	ActionSiteManagerAssign   Action = "site.manager.assign"
	ActionSiteManagerRevoke   Action = "site.manager.revoke"
	ActionRegionManagerAssign Action = "region.manager.assign"
	ActionRegionManagerRevoke Action = "region.manager.revoke"
	ActionFleetReserve        Action = "fleet.reserve"
)

var actions = map[Action]struct{}{
	ActionWorkerAdd:           {},
	ActionWorkerRemove:        {},
	ActionWorkerMove:          {},
	ActionSiteStatusSet:       {},
	ActionSiteManagerAssign:   {},
	ActionSiteManagerRevoke:   {},
	ActionRegionManagerAssign: {},
	ActionRegionManagerRevoke: {},
	ActionFleetReserve:        {},
}

// ParseAction validates a wire-level action name.
func ParseAction(raw string) (Action, error) {
	a := Action(raw)
	if _, ok := actions[a]; !ok {
		return "", fmt.Errorf("%w: action %q", shared.ErrNotFound, raw)
	}
	return a, nil
}

// TargetKind names what an action is aimed at.
type TargetKind string

const (
	TargetRegion  TargetKind = "region"
	TargetSite    TargetKind = "site"
	TargetWorker  TargetKind = "worker"
	TargetVehicle TargetKind = "vehicle"
)

// Target identifies the resource an action is aimed at.
type Target struct {
	Kind TargetKind
	ID   string
}
