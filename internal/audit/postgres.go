package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chantier-hq/chantier/internal/platform/db"
)

// PostgresSink appends records into the audit_records table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink constructs a PostgresSink backed by the provided pool.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Append inserts the record. Re-delivery of an already stored record id is
// treated as success so the background queue may deliver at-least-once.
func (s *PostgresSink) Append(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_records (id, at, principal_id, action, target_kind, target_id, outcome, reason, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.At, rec.PrincipalID, rec.Action, rec.TargetKind, rec.TargetID, string(rec.Outcome), rec.Reason, rec.Detail)
	if err != nil {
		if db.UniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("audit: append record %s: %w", rec.ID, err)
	}
	return nil
}
