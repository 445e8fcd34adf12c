// Package fleet manages region-scoped vehicle resources and their
// reservations. Reservations span whole or half days: a day splits into a
// morning and an afternoon period, and a reservation ending at noon is
// compatible with one starting the same afternoon.
package fleet

import (
	"fmt"
	"time"

	"github.com/chantier-hq/chantier/internal/shared"
)

// DayPeriod is half of a working day.
type DayPeriod string

const (
	Morning   DayPeriod = "morning"
	Afternoon DayPeriod = "afternoon"
)

const dateLayout = "2006-01-02"

// Reservation blocks a vehicle from the start date's start period through
// the end date's end period, both included.
type Reservation struct {
	StartDate   time.Time `json:"start_date"`
	StartPeriod DayPeriod `json:"start_period"`
	EndDate     time.Time `json:"end_date"`
	EndPeriod   DayPeriod `json:"end_period"`
	SiteID      string    `json:"site_id,omitempty"`
	ReservedBy  string    `json:"reserved_by,omitempty"`
}

// NewReservation parses YYYY-MM-DD dates and validates ordering. A
// same-day reservation must run morning to afternoon.
func NewReservation(startDate string, startPeriod DayPeriod, endDate string, endPeriod DayPeriod) (Reservation, error) {
	if !validPeriod(startPeriod) || !validPeriod(endPeriod) {
		return Reservation{}, fmt.Errorf("%w: unknown day period", shared.ErrInvariantViolation)
	}
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: start date %q", shared.ErrInvariantViolation, startDate)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: end date %q", shared.ErrInvariantViolation, endDate)
	}
	if end.Before(start) {
		return Reservation{}, fmt.Errorf("%w: reservation ends before it starts", shared.ErrInvariantViolation)
	}
	if start.Equal(end) {
		if startPeriod == Afternoon && endPeriod == Morning {
			return Reservation{}, fmt.Errorf("%w: reservation ends before it starts", shared.ErrInvariantViolation)
		}
		if startPeriod == endPeriod {
			return Reservation{}, fmt.Errorf("%w: reservation starts and ends at the same period", shared.ErrInvariantViolation)
		}
	}
	return Reservation{StartDate: start, StartPeriod: startPeriod, EndDate: end, EndPeriod: endPeriod}, nil
}

// Conflicts reports whether two reservations overlap. Two reservations are
// compatible when one is entirely over before the other begins; abutting at
// noon of the same day is compatible.
func (r Reservation) Conflicts(other Reservation) bool {
	return !r.compatible(other) && !other.compatible(r)
}

// compatible reports whether r is entirely over before other begins.
func (r Reservation) compatible(other Reservation) bool {
	if r.EndDate.Before(other.StartDate) {
		return true
	}
	if r.EndDate.Equal(other.StartDate) {
		return r.EndPeriod == Morning && other.StartPeriod == Afternoon
	}
	return false
}

func validPeriod(p DayPeriod) bool {
	return p == Morning || p == Afternoon
}
