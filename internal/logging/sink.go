package logging

import (
	"context"
	"time"

	"llm_fanout/internal/queue"
	"llm_fanout/internal/utils"
)

// Record is one provider call as written to the activity log.
type Record struct {
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id"`
	UserID        string    `json:"user_id"`
	InteractionID string    `json:"interaction_id,omitempty"`
	SlotNumber    int       `json:"slot_number,omitempty"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	KeyType       string    `json:"key_type,omitempty"`
	InputTokens   int64     `json:"input_tokens"`
	OutputTokens  int64     `json:"output_tokens"`
	ProviderMs    int64     `json:"provider_ms"`
	Outcome       string    `json:"outcome"`
	Error         string    `json:"error,omitempty"`
}

// Sink receives activity records. Enqueue must not block the caller for long.
type Sink interface {
	Enqueue(rec *Record) error
}

// NoopSink discards records.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *Record) error {
	return nil
}

// enqueueTimeout bounds how long a full buffer can stall a request.
const enqueueTimeout = 500 * time.Millisecond

// QueueSink buffers records on a queue for a Shipper to drain.
type QueueSink struct {
	queue  queue.Queue[Record]
	logger *utils.Logger
}

func NewQueueSink(q queue.Queue[Record]) *QueueSink {
	return &QueueSink{
		queue:  q,
		logger: utils.NewLogger("activity-sink"),
	}
}

func (s *QueueSink) Enqueue(rec *Record) error {
	if rec == nil {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	if err := s.queue.Enqueue(ctx, *rec); err != nil {
		s.logger.Warn("Dropping activity record", "request_id", rec.RequestID, "error", err)
		return err
	}
	return nil
}
