package logging

import (
	"context"

	"llm_fanout/internal/queue"
)

// BatchWriter persists a batch of records
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []Record) (string, error)
}

// Shipper drains the activity queue into a BatchWriter. Batches that keep
// failing are parked in the dead-letter queue.
type Shipper struct {
	worker *queue.Worker[Record]
}

func NewShipper(q queue.Queue[Record], dlq queue.DeadLetterQueue[Record], writer BatchWriter, cfg *queue.Config) *Shipper {
	handle := func(ctx context.Context, batch []Record) error {
		_, err := writer.WriteBatch(ctx, batch)
		return err
	}
	return &Shipper{worker: queue.NewWorker(q, dlq, handle, cfg)}
}

func (s *Shipper) Start(ctx context.Context) {
	s.worker.Start(ctx)
}

// Stop flushes queued records and stops shipping
func (s *Shipper) Stop() error {
	return s.worker.Stop()
}

// Failed lists records that could not be shipped
func (s *Shipper) Failed(ctx context.Context, maxItems int) ([]queue.DeadLetterItem[Record], error) {
	return s.worker.DeadLetterItems(ctx, maxItems)
}

// Pending returns the number of records waiting to be shipped
func (s *Shipper) Pending(ctx context.Context) (int, error) {
	return s.worker.QueueLength(ctx)
}

// Replay moves every parked record back onto the queue. It stops at the
// first failure and reports how many records were moved.
func (s *Shipper) Replay(ctx context.Context) (int, error) {
	failed, err := s.Failed(ctx, 0)
	if err != nil {
		return 0, err
	}
	for i, item := range failed {
		if err := s.worker.RetryDeadLetterItem(ctx, item.ID); err != nil {
			return i, err
		}
	}
	return len(failed), nil
}
