package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_fanout/internal/models"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisBalanceStore_NewUserGetsAllowance(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisBalanceStore(client, 1000)

	b, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.FreeRemaining)
	assert.Equal(t, int64(0), b.PaidRemaining)
	assert.Equal(t, int64(0), b.TotalUsedOverall)
}

func TestRedisBalanceStore_DebitFreeThenPaid(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisBalanceStore(client, 100)
	ctx := context.Background()

	applied, err := store.Credit(ctx, &models.ProcessedPayment{Reference: "cs_1", UserID: "user-1", Tokens: 50})
	require.NoError(t, err)
	require.True(t, applied)

	res, err := store.Debit(ctx, "user-1", 120)
	require.NoError(t, err)
	assert.Equal(t, int64(120), res.Debited)
	assert.False(t, res.Short())
	assert.Equal(t, int64(0), res.Balance.FreeRemaining)
	assert.Equal(t, int64(30), res.Balance.PaidRemaining)
	assert.Equal(t, int64(120), res.Balance.TotalUsedOverall)
}

func TestRedisBalanceStore_DebitIsCapped(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisBalanceStore(client, 100)
	ctx := context.Background()

	res, err := store.Debit(ctx, "user-1", 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.Balance.FreeRemaining)

	res, err = store.Debit(ctx, "user-1", 60)
	require.NoError(t, err)
	assert.True(t, res.Short())
	assert.Equal(t, int64(40), res.Debited)
	assert.Equal(t, int64(0), res.Balance.FreeRemaining)
	assert.Equal(t, int64(0), res.Balance.PaidRemaining)
	assert.Equal(t, int64(120), res.Balance.TotalUsedOverall)
}

func TestRedisBalanceStore_ConcurrentDebits(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisBalanceStore(client, 1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Debit(ctx, "user-1", 70)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.FreeRemaining)
	assert.Equal(t, int64(1400), b.TotalUsedOverall)
}

func TestRedisBalanceStore_CreditIsIdempotent(t *testing.T) {
	client, mr := setupTestRedis(t)
	store := NewRedisBalanceStore(client, 0)
	ctx := context.Background()

	payment := &models.ProcessedPayment{Reference: "cs_test_1", EventID: "evt_1", UserID: "user-1", Tokens: 500}

	applied, err := store.Credit(ctx, payment)
	require.NoError(t, err)
	assert.True(t, applied)

	payment.EventID = "evt_2"
	applied, err = store.Credit(ctx, payment)
	require.NoError(t, err)
	assert.False(t, applied)

	b, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), b.PaidRemaining)
	assert.True(t, mr.Exists("fanout:payments:processed"))
}

func TestRedisBalanceStore_MonthlyReset(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisBalanceStore(client, 100)
	ctx := context.Background()

	store.now = func() time.Time { return time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC) }
	_, err := store.Debit(ctx, "user-1", 80)
	require.NoError(t, err)
	_, err = store.Credit(ctx, &models.ProcessedPayment{Reference: "cs_1", UserID: "user-1", Tokens: 10})
	require.NoError(t, err)

	store.now = func() time.Time { return time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC) }
	b, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), b.FreeRemaining)

	store.now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 1, 0, time.UTC) }
	b, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.FreeRemaining)
	assert.Equal(t, int64(10), b.PaidRemaining)
	assert.Equal(t, int64(80), b.TotalUsedOverall)
}

func TestRedisBalanceStore_AddUnmetered(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisBalanceStore(client, 100)
	ctx := context.Background()

	require.NoError(t, store.AddUnmetered(ctx, "user-1", 250))

	b, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.FreeRemaining)
	assert.Equal(t, int64(250), b.TotalUsedOverall)
}
