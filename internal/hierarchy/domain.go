package hierarchy

import "time"

// SiteStatus tracks the lifecycle of a construction site.
type SiteStatus string

const (
	StatusNotCarried  SiteStatus = "not_carried"
	StatusInProgress  SiteStatus = "in_progress"
	StatusInterrupted SiteStatus = "interrupted"
	StatusCompleted   SiteStatus = "completed"
)

// ValidStatus reports whether s is one of the known site statuses.
func ValidStatus(s SiteStatus) bool {
	switch s {
	case StatusNotCarried, StatusInProgress, StatusInterrupted, StatusCompleted:
		return true
	}
	return false
}

// Coordinates locate a site geographically.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Region is a top-level administrative grouping of sites.
type Region struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Site is a construction site. A site belongs to exactly one region and has
// at most one active site manager at any time.
type Site struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	RegionID    string      `json:"region_id"`
	Purpose     string      `json:"purpose,omitempty"`
	Coordinates Coordinates `json:"coordinates"`
	ClientPhone string      `json:"client_phone,omitempty"`
	Status      SiteStatus  `json:"status"`
	ManagerID   string      `json:"manager_id,omitempty"`
	WorkerIDs   []string    `json:"worker_ids,omitempty"`
}

// Worker belongs to exactly one site at any time.
type Worker struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	SiteID string `json:"site_id"`
}

// RoleKind identifies a managerial role.
type RoleKind string

const (
	// RoleSiteManager is scoped to a single site (fr: chef de chantier).
	RoleSiteManager RoleKind = "site_manager"
	// RoleSitesGlobalManager is scoped to every site of a region
	// (fr: responsable des chantiers).
	RoleSitesGlobalManager RoleKind = "sites_global_manager"
)

// RoleGrant assigns authority of a given kind over a scope. The scope is a
// site id for RoleSiteManager and a region id for RoleSitesGlobalManager.
type RoleGrant struct {
	Kind        RoleKind  `json:"kind"`
	ScopeID     string    `json:"scope_id"`
	PrincipalID string    `json:"principal_id"`
	GrantedBy   string    `json:"granted_by"`
	GrantedAt   time.Time `json:"granted_at"`
}
