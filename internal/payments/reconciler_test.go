package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/billing"
)

const testSecret = "whsec_test_secret"

type credit struct {
	userID    string
	tokens    int64
	reference string
	eventID   string
}

type memoryCrediter struct {
	mu      sync.Mutex
	applied map[string]credit
	calls   int
	err     error
}

func newMemoryCrediter() *memoryCrediter {
	return &memoryCrediter{applied: make(map[string]credit)}
}

func (m *memoryCrediter) Credit(ctx context.Context, userID string, tokens int64, reference, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.applied[reference]; ok {
		return false, nil
	}
	m.applied[reference] = credit{userID: userID, tokens: tokens, reference: reference, eventID: eventID}
	return true, nil
}

func sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEvent(eventID, eventType, sessionID, paymentStatus, metadata string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": %q,
		"data": {
			"object": {
				"id": %q,
				"object": "checkout.session",
				"payment_status": %q,
				"client_reference_id": "user-1",
				"metadata": %s
			}
		}
	}`, eventID, eventType, sessionID, paymentStatus, metadata))
}

const paidMetadata = `{"user_id": "user-1", "price_id": "price_a", "quantity": "2"}`

func testPrices() PriceTable {
	return PriceTable{"price_a": 100000, "price_b": 550000}
}

func TestReconciler_CreditsPaidCheckout(t *testing.T) {
	ledger := newMemoryCrediter()
	r := NewReconciler(ledger, testSecret, testPrices())

	payload := checkoutEvent("evt_1", EventCheckoutCompleted, "cs_test_1", "paid", paidMetadata)
	require.NoError(t, r.HandleWebhook(context.Background(), payload, sign(payload, testSecret, time.Now())))

	got, ok := ledger.applied["cs_test_1"]
	require.True(t, ok)
	assert.Equal(t, "user-1", got.userID)
	assert.Equal(t, int64(200000), got.tokens)
	assert.Equal(t, "evt_1", got.eventID)
}

func TestReconciler_BadSignature(t *testing.T) {
	ledger := newMemoryCrediter()
	r := NewReconciler(ledger, testSecret, testPrices())
	payload := checkoutEvent("evt_1", EventCheckoutCompleted, "cs_test_1", "paid", paidMetadata)

	tests := []struct {
		name   string
		header string
	}{
		{"wrong secret", sign(payload, "whsec_other", time.Now())},
		{"stale timestamp", sign(payload, testSecret, time.Now().Add(-time.Hour))},
		{"missing header", ""},
		{"garbage header", "not-a-signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.HandleWebhook(context.Background(), payload, tt.header)
			assert.True(t, errors.Is(err, apperr.ErrBadSignature), "got %v", err)
		})
	}

	// Tampered body with a signature for the original.
	header := sign(payload, testSecret, time.Now())
	tampered := checkoutEvent("evt_1", EventCheckoutCompleted, "cs_test_1", "paid",
		`{"user_id": "attacker", "price_id": "price_b", "quantity": "100"}`)
	err := r.HandleWebhook(context.Background(), tampered, header)
	assert.True(t, errors.Is(err, apperr.ErrBadSignature))

	assert.Equal(t, 0, ledger.calls)
}

func TestReconciler_MalformedPayload(t *testing.T) {
	r := NewReconciler(newMemoryCrediter(), testSecret, testPrices())
	payload := []byte(`{"id": "evt_1", "type": `)

	err := r.HandleWebhook(context.Background(), payload, sign(payload, testSecret, time.Now()))
	assert.True(t, errors.Is(err, apperr.ErrMalformedPayload))
}

func TestReconciler_IgnoresOtherEvents(t *testing.T) {
	ledger := newMemoryCrediter()
	r := NewReconciler(ledger, testSecret, testPrices())
	payload := []byte(`{"id": "evt_2", "object": "event", "type": "customer.created", "data": {"object": {"id": "cus_1"}}}`)

	require.NoError(t, r.HandleWebhook(context.Background(), payload, sign(payload, testSecret, time.Now())))
	assert.Equal(t, 0, ledger.calls)
}

func TestReconciler_UnpaidCompletionWaitsForAsyncSuccess(t *testing.T) {
	ledger := newMemoryCrediter()
	r := NewReconciler(ledger, testSecret, testPrices())
	ctx := context.Background()

	completed := checkoutEvent("evt_1", EventCheckoutCompleted, "cs_async", "unpaid", paidMetadata)
	require.NoError(t, r.HandleWebhook(ctx, completed, sign(completed, testSecret, time.Now())))
	assert.Equal(t, 0, ledger.calls)

	succeeded := checkoutEvent("evt_2", EventCheckoutAsyncPaymentSucceeded, "cs_async", "paid", paidMetadata)
	require.NoError(t, r.HandleWebhook(ctx, succeeded, sign(succeeded, testSecret, time.Now())))
	assert.Equal(t, int64(200000), ledger.applied["cs_async"].tokens)
}

func TestReconciler_UnreconcilableSessionIsAcknowledged(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
	}{
		{"unknown price", `{"user_id": "user-1", "price_id": "price_unknown", "quantity": "1"}`},
		{"user only in client reference", `{"price_id": "price_a", "quantity": "1"}`},
		{"quantity above limit", `{"user_id": "user-1", "price_id": "price_a", "quantity": "101"}`},
		{"quantity overflows credit", `{"user_id": "user-1", "price_id": "price_a", "quantity": "9223372036854775807"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newMemoryCrediter()
			r := NewReconciler(ledger, testSecret, testPrices())

			payload := checkoutEvent("evt_1", EventCheckoutCompleted, "cs_1", "paid", tt.metadata)
			require.NoError(t, r.HandleWebhook(context.Background(), payload, sign(payload, testSecret, time.Now())))
			assert.Equal(t, 0, ledger.calls)
		})
	}
}

func TestReconciler_CreditFailureAsksForRedelivery(t *testing.T) {
	ledger := newMemoryCrediter()
	ledger.err = errors.New("connection reset")
	r := NewReconciler(ledger, testSecret, testPrices())

	payload := checkoutEvent("evt_1", EventCheckoutCompleted, "cs_1", "paid", paidMetadata)
	err := r.HandleWebhook(context.Background(), payload, sign(payload, testSecret, time.Now()))
	assert.True(t, errors.Is(err, apperr.ErrPersistence))
}

func TestReconciler_ReplayCreditsOnce(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ledger := billing.NewLedger(billing.NewRedisBalanceStore(client, 0), nil)
	r := NewReconciler(ledger, testSecret, testPrices())
	ctx := context.Background()

	payload := checkoutEvent("evt_1", EventCheckoutCompleted, "cs_replay", "paid", paidMetadata)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.HandleWebhook(ctx, payload, sign(payload, testSecret, time.Now())))
	}

	// A different event for the same session is also a replay.
	async := checkoutEvent("evt_2", EventCheckoutAsyncPaymentSucceeded, "cs_replay", "paid", paidMetadata)
	require.NoError(t, r.HandleWebhook(ctx, async, sign(async, testSecret, time.Now())))

	b, err := ledger.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200000), b.PaidRemaining)
}
