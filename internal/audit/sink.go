package audit

import (
	"context"
	"log/slog"
	"sync"
)

// Sink accepts audit records, fire-and-forget. Implementations must be safe
// for concurrent use.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Emit appends the record and logs a failed delivery as non-fatal. The core
// never retries a sink write.
func Emit(ctx context.Context, logger *slog.Logger, sink Sink, rec Record) {
	if sink == nil {
		return
	}
	if err := sink.Append(ctx, rec); err != nil && logger != nil {
		logger.Warn("audit append failed",
			slog.String("record_id", rec.ID),
			slog.String("action", rec.Action),
			slog.Any("error", err))
	}
}

// MemorySink keeps records in memory. Used in tests and as a last-resort
// sink when no delivery backend is configured.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores the record.
func (s *MemorySink) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of everything appended so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
