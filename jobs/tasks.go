package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chantier-hq/chantier/internal/persistence"
	"github.com/chantier-hq/chantier/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSnapshotPersist carries the full platform state taken by the
	// API process for durable storage.
	TaskTypeSnapshotPersist = "hierarchy:snapshot"
	// TaskTypeAuditPrune trims audit records past the retention window.
	TaskTypeAuditPrune = "audit:prune"
)

// NewSnapshotPersistTask wraps a state snapshot into an Asynq task.
func NewSnapshotPersistTask(state persistence.State) (*asynq.Task, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSnapshotPersist, data), nil
}

// NewSnapshotPersistHandler returns the handler persisting queued snapshots
// as new versions. A version conflict means a newer snapshot already landed,
// so the task is dropped rather than retried.
func NewSnapshotPersistHandler(snapshots *persistence.SnapshotStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var state persistence.State
		if err := json.Unmarshal(t.Payload(), &state); err != nil {
			return asynq.SkipRetry
		}
		if err := snapshots.Persist(ctx, state); err != nil {
			if errors.Is(err, shared.ErrBusy) {
				logger.Info("snapshot version already taken, dropping task")
				return asynq.SkipRetry
			}
			logger.Warn("snapshot persist failed", slog.Any("error", err))
			return err
		}
		logger.Info("platform state persisted",
			slog.Int("regions", len(state.Hierarchy.Regions)),
			slog.Int("sites", len(state.Hierarchy.Sites)),
			slog.Int("principals", len(state.Principals)))
		return nil
	}
}

// AuditPrunePayload bounds the retention window for audit records.
type AuditPrunePayload struct {
	Retention string `json:"retention"`
}

// NewAuditPruneTask constructs an audit prune task for the given retention.
func NewAuditPruneTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPrunePayload{Retention: retention.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAuditPrune, data), nil
}

// NewAuditPruneHandler returns the handler deleting audit records older than
// the retention window.
func NewAuditPruneHandler(pool *pgxpool.Pool, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AuditPrunePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		retention, err := time.ParseDuration(payload.Retention)
		if err != nil || retention <= 0 {
			return asynq.SkipRetry
		}
		cutoff := time.Now().UTC().Add(-retention)
		tag, err := pool.Exec(ctx, `DELETE FROM audit_records WHERE at < $1`, cutoff)
		if err != nil {
			logger.Warn("audit prune failed", slog.Any("error", err))
			return err
		}
		logger.Info("audit records pruned",
			slog.Int64("deleted", tag.RowsAffected()),
			slog.Time("cutoff", cutoff))
		return nil
	}
}
