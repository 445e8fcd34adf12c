// Package persistence mirrors the platform's durable state into Postgres.
// The in-memory stores stay authoritative; snapshots are a crash-recovery
// convenience, written in the background and loaded once at startup.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chantier-hq/chantier/internal/hierarchy"
	"github.com/chantier-hq/chantier/internal/platform/db"
	"github.com/chantier-hq/chantier/internal/principal"
	"github.com/chantier-hq/chantier/internal/shared"
)

// State is the durable image of the platform: the hierarchy snapshot and
// the principals its grants and manager slots refer to. Grants are keyed by
// internal principal id, so a restore without the identity mapping would
// strand every granted authority.
type State struct {
	Hierarchy  hierarchy.Snapshot    `json:"hierarchy"`
	Principals []principal.Principal `json:"principals"`
}

// SnapshotStore loads and persists platform state snapshots.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore constructs a SnapshotStore backed by the provided pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Load returns the most recent state, or shared.ErrNotFound when none has
// been persisted yet.
func (s *SnapshotStore) Load(ctx context.Context) (State, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM hierarchy_snapshots ORDER BY version DESC LIMIT 1`).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, fmt.Errorf("%w: no snapshot", shared.ErrNotFound)
		}
		return State{}, fmt.Errorf("persistence: load snapshot: %w", err)
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, fmt.Errorf("persistence: decode snapshot: %w", err)
	}
	return state, nil
}

// Persist writes the state under the next version. A concurrent writer
// claiming the same version surfaces as shared.ErrBusy; the caller's next
// periodic run picks up a fresh version.
func (s *SnapshotStore) Persist(ctx context.Context, state State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("persistence: encode snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO hierarchy_snapshots (version, taken_at, payload)
		SELECT COALESCE(MAX(version), 0) + 1, $1, $2 FROM hierarchy_snapshots`,
		state.Hierarchy.TakenAt, payload)
	if err != nil {
		if db.UniqueViolation(err) {
			return fmt.Errorf("%w: snapshot version conflict", shared.ErrBusy)
		}
		return fmt.Errorf("persistence: persist snapshot: %w", err)
	}
	return nil
}
