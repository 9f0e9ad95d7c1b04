package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_fanout/internal/queue"
)

func TestNoopSink(t *testing.T) {
	sink := NewNoopSink()
	assert.NoError(t, sink.Enqueue(&Record{RequestID: "req-1"}))
}

func TestQueueSink_Enqueue(t *testing.T) {
	q := queue.NewMemoryQueue[Record](queue.DefaultConfig("activity"))
	defer q.Close()
	sink := NewQueueSink(q)

	require.NoError(t, sink.Enqueue(&Record{
		RequestID:  "req-1",
		UserID:     "user-1",
		SlotNumber: 2,
		Provider:   "openai",
		Model:      "gpt-4o-mini",
		Outcome:    "success",
	}))
	require.NoError(t, sink.Enqueue(nil))

	items, err := q.DequeueWithTimeout(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "req-1", items[0].RequestID)
	assert.Equal(t, 2, items[0].SlotNumber)
	assert.False(t, items[0].Timestamp.IsZero())
}

func TestQueueSink_ClosedQueue(t *testing.T) {
	q := queue.NewMemoryQueue[Record](queue.DefaultConfig("activity"))
	require.NoError(t, q.Close())

	err := NewQueueSink(q).Enqueue(&Record{RequestID: "req-1"})
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
}
