package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"llm_fanout/internal/utils"
)

// Handler processes one batch. A returned error fails the whole batch.
type Handler[T any] func(ctx context.Context, batch []T) error

// Worker drains a queue in batches on a background goroutine
type Worker[T any] struct {
	queue       Queue[T]
	dlq         DeadLetterQueue[T]
	handle      Handler[T]
	config      *Config
	logger      *utils.Logger
	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a worker. dlq may be nil, in which case exhausted
// batches are dropped after logging.
func NewWorker[T any](q Queue[T], dlq DeadLetterQueue[T], handle Handler[T], config *Config) *Worker[T] {
	if config == nil {
		config = DefaultConfig("worker")
	}

	return &Worker[T]{
		queue:       q,
		dlq:         dlq,
		handle:      handle,
		config:      config,
		logger:      utils.NewLogger(config.QueueName + "-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *Worker[T]) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop drains what is already queued and waits for the goroutine to exit
func (w *Worker[T]) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.stoppedChan
	return nil
}

func (w *Worker[T]) run(ctx context.Context) {
	defer close(w.stoppedChan)

	// Stop interrupts a blocking dequeue; handlers keep running on ctx.
	dequeueCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-dequeueCtx.Done():
		}
	}()

	for {
		select {
		case <-w.stopChan:
			w.drain(ctx)
			w.logger.Info("Worker stopped")
			return
		case <-ctx.Done():
			w.logger.Info("Worker context cancelled")
			return
		default:
		}

		items, err := w.queue.DequeueWithTimeout(dequeueCtx, w.config.BatchSize, w.config.BatchTimeout)
		if err != nil {
			if dequeueCtx.Err() == nil {
				w.logger.Error("Failed to dequeue", "error", err)
				w.sleep(dequeueCtx, time.Second)
			}
			continue
		}
		w.handleBatch(ctx, items)
	}
}

// drain handles remaining items until the queue reports empty
func (w *Worker[T]) drain(ctx context.Context) {
	for {
		n, err := w.processBatch(ctx, 10*time.Millisecond)
		if err != nil || n == 0 {
			return
		}
	}
}

// processBatch returns the number of items dequeued
func (w *Worker[T]) processBatch(ctx context.Context, timeout time.Duration) (int, error) {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, timeout)
	if err != nil {
		return 0, err
	}
	w.handleBatch(ctx, items)
	return len(items), nil
}

func (w *Worker[T]) handleBatch(ctx context.Context, items []T) {
	if len(items) == 0 {
		return
	}

	w.logger.Debug("Processing batch", "count", len(items))

	if err := w.processWithRetry(ctx, items); err != nil {
		w.deadLetter(ctx, items, err)
	}
}

func (w *Worker[T]) processWithRetry(ctx context.Context, items []T) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying batch", "attempt", attempt, "backoff", backoff)
			if !w.sleep(ctx, backoff) {
				return ctx.Err()
			}
		}

		if err := w.handle(ctx, items); err != nil {
			lastErr = err
			w.logger.Warn("Batch failed", "attempt", attempt, "error", err)
			if !utils.IsRecoverableError(err) {
				return err
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func (w *Worker[T]) deadLetter(ctx context.Context, items []T, cause error) {
	if w.dlq == nil {
		w.logger.Error("Dropping failed batch", "count", len(items), "error", cause)
		return
	}

	for _, item := range items {
		if err := w.dlq.Add(ctx, item, cause); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		}
	}
	w.logger.Warn("Batch moved to DLQ", "count", len(items), "error", cause)
}

// sleep waits for d and reports false if the context ended first
func (w *Worker[T]) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// QueueLength returns the number of items waiting
func (w *Worker[T]) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// DeadLetterItems lists failed items
func (w *Worker[T]) DeadLetterItems(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a failed item and removes it from the DLQ
func (w *Worker[T]) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, dlItem.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		return w.dlq.Remove(ctx, id)
	}

	return ErrItemNotFound
}
