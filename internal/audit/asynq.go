package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskTypeAppend is the asynq task type carrying one audit record.
const TaskTypeAppend = "audit:append"

// NewAppendTask wraps a record into an asynq task.
func NewAppendTask(rec Record) (*asynq.Task, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeAppend, data), nil
}

// AsynqSink enqueues records for background delivery instead of writing
// them inline. The worker process drains the queue into the real sink.
type AsynqSink struct {
	client *asynq.Client
	queue  string
}

// NewAsynqSink constructs an AsynqSink publishing to the given queue.
func NewAsynqSink(client *asynq.Client, queue string) *AsynqSink {
	return &AsynqSink{client: client, queue: queue}
}

// Append enqueues the record.
func (s *AsynqSink) Append(ctx context.Context, rec Record) error {
	task, err := NewAppendTask(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record %s: %w", rec.ID, err)
	}
	if _, err := s.client.EnqueueContext(ctx, task, asynq.Queue(s.queue)); err != nil {
		return fmt.Errorf("audit: enqueue record %s: %w", rec.ID, err)
	}
	return nil
}

// NewAppendHandler returns the asynq handler delivering queued records into
// the destination sink.
func NewAppendHandler(dest Sink) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var rec Record
		if err := json.Unmarshal(t.Payload(), &rec); err != nil {
			return asynq.SkipRetry
		}
		return dest.Append(ctx, rec)
	}
}
