// Package audit produces the append-only trail of authorization decisions
// and mutation attempts. The core only writes records; reading them back is
// the observability stack's business. Sink failures are logged and never
// roll back a committed mutation, so the trail is a best-effort mirror of
// the authoritative in-memory state.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies what happened to the audited request.
type Outcome string

const (
	// OutcomeApplied: authorization passed and the mutation committed.
	OutcomeApplied Outcome = "applied"
	// OutcomeAllowed: a standalone authorization check passed.
	OutcomeAllowed Outcome = "allowed"
	// OutcomeDenied: authorization denied the request.
	OutcomeDenied Outcome = "denied"
	// OutcomeRejected: authorization passed but the write violated an
	// invariant and was rolled back.
	OutcomeRejected Outcome = "rejected"
)

// Record describes one authorization decision or mutation attempt.
type Record struct {
	ID          string    `json:"id"`
	At          time.Time `json:"at"`
	PrincipalID string    `json:"principal_id"`
	Action      string    `json:"action"`
	TargetKind  string    `json:"target_kind"`
	TargetID    string    `json:"target_id"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// NewRecord stamps a record with a fresh id and timestamp.
func NewRecord(principalID, action, targetKind, targetID string, outcome Outcome) Record {
	return Record{
		ID:          uuid.NewString(),
		At:          time.Now().UTC(),
		PrincipalID: principalID,
		Action:      action,
		TargetKind:  targetKind,
		TargetID:    targetID,
		Outcome:     outcome,
	}
}
