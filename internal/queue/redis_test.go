package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Seq  int    `json:"seq"`
	Kind string `json:"kind"`
}

func newMiniredis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestRedisQueue_StoresJSONList(t *testing.T) {
	client, mr := newMiniredis(t)
	q := NewRedisQueue[record](client, DefaultConfig("activity"))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, record{Seq: 1, Kind: "dispatch"}))

	stored, err := mr.List("queue:activity")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"seq":1,"kind":"dispatch"}`}, stored)

	got, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []record{{Seq: 1, Kind: "dispatch"}}, got)
	assert.False(t, mr.Exists("queue:activity"))
}

func TestRedisQueue_DrainsInBatches(t *testing.T) {
	client, _ := newMiniredis(t)
	q := NewRedisQueue[record](client, DefaultConfig("activity"))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, q.Enqueue(ctx, record{Seq: i}))
	}

	n, err := q.Length(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, n)

	var sizes []int
	var order []int
	for {
		got, err := q.DequeueWithTimeout(ctx, 3, time.Second)
		require.NoError(t, err)
		if len(got) == 0 {
			break
		}
		sizes = append(sizes, len(got))
		for _, r := range got {
			order = append(order, r.Seq)
		}
	}

	assert.Equal(t, []int{3, 3, 2}, sizes)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, order)
}

func TestRedisQueue_DropsForeignPayloads(t *testing.T) {
	client, mr := newMiniredis(t)
	q := NewRedisQueue[record](client, DefaultConfig("activity"))
	ctx := context.Background()

	_, err := mr.Push("queue:activity", "{broken")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, record{Seq: 7}))

	got, err := q.DequeueWithTimeout(ctx, 5, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []record{{Seq: 7}}, got)
}

func TestRedisQueue_SurvivesReopen(t *testing.T) {
	client, _ := newMiniredis(t)
	ctx := context.Background()

	first := NewRedisQueue[record](client, DefaultConfig("activity"))
	require.NoError(t, first.Enqueue(ctx, record{Seq: 99, Kind: "summary"}))
	require.NoError(t, first.Close())

	second := NewRedisQueue[record](client, DefaultConfig("activity"))
	got, err := second.DequeueWithTimeout(ctx, 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []record{{Seq: 99, Kind: "summary"}}, got)
}

func TestRedisDeadLetterQueue_OrderAndRemoval(t *testing.T) {
	client, _ := newMiniredis(t)
	dlq := NewRedisDeadLetterQueue[record](client, DefaultConfig("activity"))
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, record{Seq: 1}, errors.New("bucket missing")))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, dlq.Add(ctx, record{Seq: 2}, errors.New("access denied")))

	parked, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, parked, 2)
	assert.Equal(t, 1, parked[0].Item.Seq)
	assert.Equal(t, "bucket missing", parked[0].Error)

	oldest, err := dlq.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	assert.Equal(t, parked[0].ID, oldest[0].ID)

	require.NoError(t, dlq.Remove(ctx, parked[0].ID))
	assert.ErrorIs(t, dlq.Remove(ctx, parked[0].ID), ErrItemNotFound)

	rest, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, 2, rest[0].Item.Seq)
}
