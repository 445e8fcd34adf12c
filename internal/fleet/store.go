package fleet

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chantier-hq/chantier/internal/shared"
)

// Vehicle is a region-owned resource with a reservation calendar.
type Vehicle struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	RegionID     string        `json:"region_id"`
	Reservations []Reservation `json:"reservations,omitempty"`
}

// Store holds the fleet of every region. Mutations are expected to run
// under the owning region's hierarchy lock; the store's own mutex only
// protects map consistency.
type Store struct {
	mu       sync.RWMutex
	vehicles map[string]*Vehicle
}

// NewStore constructs an empty fleet store.
func NewStore() *Store {
	return &Store{vehicles: make(map[string]*Vehicle)}
}

// AddVehicle registers a vehicle. Administrative bootstrap only.
func (s *Store) AddVehicle(v Vehicle) error {
	if v.ID == "" || v.RegionID == "" {
		return fmt.Errorf("%w: vehicle requires id and region", shared.ErrInvariantViolation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vehicles[v.ID]; ok {
		return fmt.Errorf("%w: vehicle %s already exists", shared.ErrInvariantViolation, v.ID)
	}
	v.Reservations = append([]Reservation(nil), v.Reservations...)
	s.vehicles[v.ID] = &v
	return nil
}

// Vehicle returns a copy of the vehicle by id.
func (s *Store) Vehicle(id string) (Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return Vehicle{}, fmt.Errorf("%w: vehicle %s", shared.ErrNotFound, id)
	}
	return copyVehicle(v), nil
}

// VehiclesOfRegion returns every vehicle owned by the region.
func (s *Store) VehiclesOfRegion(regionID string) []Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Vehicle
	for _, v := range s.vehicles {
		if v.RegionID == regionID {
			out = append(out, copyVehicle(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reserve adds a reservation to the vehicle's calendar after checking every
// existing reservation for conflicts. All-or-nothing: a conflicting request
// leaves the calendar unchanged.
func (s *Store) Reserve(vehicleID string, res Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return fmt.Errorf("%w: vehicle %s", shared.ErrNotFound, vehicleID)
	}
	for _, existing := range v.Reservations {
		if existing.Conflicts(res) {
			return fmt.Errorf("%w: vehicle %s already reserved from %s (%s) to %s (%s)",
				shared.ErrInvariantViolation, vehicleID,
				existing.StartDate.Format(dateLayout), existing.StartPeriod,
				existing.EndDate.Format(dateLayout), existing.EndPeriod)
		}
	}
	v.Reservations = append(v.Reservations, res)
	return nil
}

func copyVehicle(v *Vehicle) Vehicle {
	out := *v
	out.Reservations = append([]Reservation(nil), v.Reservations...)
	return out
}
