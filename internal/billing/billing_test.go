package billing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/models"
)

type memoryUsageLog struct {
	mu      sync.Mutex
	entries []*models.UsageLogEntry
	err     error
}

func (m *memoryUsageLog) Append(ctx context.Context, entry *models.UsageLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

type failingBalances struct {
	BalanceStore
}

func (failingBalances) Debit(ctx context.Context, userID string, tokens int64) (*models.DebitResult, error) {
	return nil, errors.New("connection reset")
}

func (failingBalances) Credit(ctx context.Context, payment *models.ProcessedPayment) (bool, error) {
	return false, errors.New("connection reset")
}

func newTestLedger(t *testing.T, allowance int64) (*Ledger, *RedisBalanceStore, *memoryUsageLog) {
	client, _ := setupTestRedis(t)
	store := NewRedisBalanceStore(client, allowance)
	usage := &memoryUsageLog{}
	return NewLedger(store, usage), store, usage
}

func TestLedger_RecordProvidedKeyDebits(t *testing.T) {
	ledger, _, usage := newTestLedger(t, 1000)
	ctx := context.Background()

	id := uuid.New()
	slot := 2
	err := ledger.Record(ctx, UsageEvent{
		UserID:        "user-1",
		Provider:      models.ProviderOpenAI,
		Model:         "gpt-4o-mini",
		InputTokens:   12,
		OutputTokens:  30,
		InteractionID: &id,
		SlotNumber:    &slot,
		KeyType:       models.KeyTypeProvided,
	})
	require.NoError(t, err)

	b, err := ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(958), b.FreeRemaining)
	assert.Equal(t, int64(42), b.TotalUsedOverall)

	require.Len(t, usage.entries, 1)
	e := usage.entries[0]
	assert.Equal(t, int64(42), e.TotalTokens)
	assert.Equal(t, models.KeyTypeProvided, e.KeyType)
	assert.Equal(t, &slot, e.SlotNumber)
}

func TestLedger_RecordUserKeyDoesNotDebit(t *testing.T) {
	ledger, _, usage := newTestLedger(t, 1000)
	ctx := context.Background()

	err := ledger.Record(ctx, UsageEvent{
		UserID:       "user-1",
		Provider:     models.ProviderAnthropic,
		Model:        "claude-3-5-haiku",
		InputTokens:  100,
		OutputTokens: 200,
		KeyType:      models.KeyTypeUser,
	})
	require.NoError(t, err)

	b, err := ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.FreeRemaining)
	assert.Equal(t, int64(300), b.TotalUsedOverall)
	require.Len(t, usage.entries, 1)
	assert.Equal(t, models.KeyTypeUser, usage.entries[0].KeyType)
}

func TestLedger_RecordShortBalance(t *testing.T) {
	ledger, _, usage := newTestLedger(t, 50)

	err := ledger.Record(context.Background(), UsageEvent{
		UserID:       "user-1",
		Provider:     models.ProviderGemini,
		Model:        "gemini-1.5-flash",
		InputTokens:  40,
		OutputTokens: 40,
		KeyType:      models.KeyTypeProvided,
	})
	require.Error(t, err)

	var short *apperr.InsufficientBalanceError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, int64(80), short.Requested)
	assert.Equal(t, int64(50), short.Debited)

	// The call is logged even though the balance ran out.
	assert.Len(t, usage.entries, 1)
}

func TestLedger_RecordLogFailureStillDebits(t *testing.T) {
	ledger, _, usage := newTestLedger(t, 100)
	usage.err = errors.New("disk full")
	ctx := context.Background()

	err := ledger.Record(ctx, UsageEvent{
		UserID:       "user-1",
		Provider:     models.ProviderOpenAI,
		Model:        "gpt-4o",
		InputTokens:  5,
		OutputTokens: 5,
		KeyType:      models.KeyTypeProvided,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrLogWriteError))

	b, err := ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(90), b.FreeRemaining)
}

func TestLedger_DebitStoreFailure(t *testing.T) {
	ledger := NewLedger(failingBalances{}, &memoryUsageLog{})

	_, err := ledger.Debit(context.Background(), "user-1", 10)
	assert.True(t, errors.Is(err, apperr.ErrPersistence))

	_, err = ledger.Debit(context.Background(), "user-1", -1)
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))
}

func TestLedger_Credit(t *testing.T) {
	ledger, _, _ := newTestLedger(t, 0)
	ctx := context.Background()

	applied, err := ledger.Credit(ctx, "user-1", 1000, "cs_1", "evt_1")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = ledger.Credit(ctx, "user-1", 1000, "cs_1", "evt_2")
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = ledger.Credit(ctx, "user-1", 0, "cs_2", "evt_3")
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))

	_, err = ledger.Credit(ctx, "user-1", 10, "", "evt_4")
	assert.True(t, errors.Is(err, apperr.ErrInvalidRequest))

	b, err := ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.PaidRemaining)

	failing := NewLedger(failingBalances{}, &memoryUsageLog{})
	_, err = failing.Credit(ctx, "user-1", 10, "cs_3", "evt_5")
	assert.True(t, errors.Is(err, apperr.ErrPersistence))
}

func TestLedger_CanAfford(t *testing.T) {
	ledger, _, _ := newTestLedger(t, 100)
	ctx := context.Background()

	ok, err := ledger.CanAfford(ctx, "user-1", 100)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ledger.CanAfford(ctx, "user-1", 101)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEstimator_Estimate(t *testing.T) {
	e := Estimator{OutputReserve: 256}

	assert.Equal(t, int64(256), e.Estimate(nil))

	// "Hello" is 5 runes: ceil(5/4) = 2, plus 4 overhead.
	msgs := []models.Message{{Role: models.RoleUser, Content: "Hello"}}
	assert.Equal(t, int64(2+4+256), e.Estimate(msgs))

	msgs = append(msgs, models.Message{Role: models.RoleModel, Content: "héllo wörld"})
	// 5 + 11 runes = 16 -> 4, plus 8 overhead.
	assert.Equal(t, int64(4+8+256), e.Estimate(msgs))
}
