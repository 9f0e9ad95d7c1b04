// Package queue moves activity records from request handlers to a batching
// worker. The in-memory backend suits a single process; the Redis list
// backend survives restarts and can be shared between replicas.
package queue

import (
	"context"
	"time"
)

// Queue is a FIFO of T.
type Queue[T any] interface {
	Enqueue(ctx context.Context, item T) error

	// Dequeue waits for at least one item and returns at most maxItems.
	Dequeue(ctx context.Context, maxItems int) ([]T, error)

	// DequeueWithTimeout is Dequeue bounded by timeout; it returns an empty
	// slice, not an error, when the wait runs out.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error)

	Length(ctx context.Context) (int, error)
	Close() error
}

// DeadLetterQueue parks batches the worker gave up on.
type DeadLetterQueue[T any] interface {
	Add(ctx context.Context, item T, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error)
	Remove(ctx context.Context, id string) error
	Close() error
}

type DeadLetterItem[T any] struct {
	ID        string    `json:"id"`
	Item      T         `json:"item"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Config tunes a queue and the worker draining it. MaxRetries counts retries
// after the first attempt; RetryBackoff doubles on each one.
type Config struct {
	QueueName    string
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func DefaultConfig(queueName string) *Config {
	return &Config{
		QueueName:    queueName,
		BatchSize:    50,
		BatchTimeout: 10 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
	}
}
