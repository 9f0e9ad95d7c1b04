package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"llm_fanout/internal/models"
)

// Every script first creates the balance hash with the monthly allowance and
// refills the free allowance when the last reset predates the current month.
const ensureBalanceLua = `
local key = KEYS[1]
local allowance = tonumber(ARGV[1])
local month_start = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

if redis.call('EXISTS', key) == 0 then
	redis.call('HSET', key, 'free', allowance, 'paid', 0, 'total', 0, 'reset', now, 'updated', now)
end

local reset = tonumber(redis.call('HGET', key, 'reset')) or 0
if reset < month_start then
	redis.call('HSET', key, 'free', allowance, 'reset', now)
end
`

const balanceReplyLua = `
return {
	tonumber(redis.call('HGET', key, 'free')) or 0,
	tonumber(redis.call('HGET', key, 'paid')) or 0,
	tonumber(redis.call('HGET', key, 'total')) or 0,
	tonumber(redis.call('HGET', key, 'reset')) or 0,
	tonumber(redis.call('HGET', key, 'updated')) or 0,
	debited or 0
}
`

var (
	getScript = redis.NewScript(ensureBalanceLua + `
local debited = 0
` + balanceReplyLua)

	debitScript = redis.NewScript(ensureBalanceLua + `
local tokens = tonumber(ARGV[4])
local free = tonumber(redis.call('HGET', key, 'free')) or 0
local paid = tonumber(redis.call('HGET', key, 'paid')) or 0

local from_free = math.min(free, tokens)
local from_paid = math.min(paid, tokens - from_free)
local debited = from_free + from_paid

redis.call('HSET', key, 'free', free - from_free, 'paid', paid - from_paid, 'updated', now)
redis.call('HINCRBY', key, 'total', tokens)
` + balanceReplyLua)

	unmeteredScript = redis.NewScript(ensureBalanceLua + `
redis.call('HINCRBY', key, 'total', tonumber(ARGV[4]))
redis.call('HSET', key, 'updated', now)
return 1
`)

	creditScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[2], ARGV[5], ARGV[6]) == 0 then
	return 0
end
` + ensureBalanceLua + `
redis.call('HINCRBY', key, 'paid', tonumber(ARGV[4]))
redis.call('HSET', key, 'updated', now)
return 1
`)
)

// RedisBalanceStore keeps balances in Redis hashes. Each operation runs as a
// single Lua script, which Redis executes atomically.
type RedisBalanceStore struct {
	redis         redis.Scripter
	freeAllowance int64
	keyPrefix     string
	now           func() time.Time
}

// NewRedisBalanceStore creates a new Redis-backed balance store
func NewRedisBalanceStore(client redis.Scripter, freeAllowance int64) *RedisBalanceStore {
	return &RedisBalanceStore{
		redis:         client,
		freeAllowance: freeAllowance,
		keyPrefix:     "fanout",
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisBalanceStore) balanceKey(userID string) string {
	return fmt.Sprintf("%s:balance:%s", s.keyPrefix, userID)
}

func (s *RedisBalanceStore) processedKey() string {
	return s.keyPrefix + ":payments:processed"
}

func (s *RedisBalanceStore) baseArgs() (time.Time, []interface{}) {
	now := s.now()
	return now, []interface{}{s.freeAllowance, models.MonthStart(now).Unix(), now.Unix()}
}

// Get returns the balance, applying a pending monthly reset
func (s *RedisBalanceStore) Get(ctx context.Context, userID string) (*models.Balance, error) {
	_, args := s.baseArgs()
	reply, err := getScript.Run(ctx, s.redis, []string{s.balanceKey(userID)}, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	b, _ := parseBalanceReply(userID, reply)
	return b, nil
}

// Debit consumes free tokens first, then paid tokens, never going below zero
func (s *RedisBalanceStore) Debit(ctx context.Context, userID string, tokens int64) (*models.DebitResult, error) {
	if tokens < 0 {
		return nil, fmt.Errorf("debit amount must not be negative: %d", tokens)
	}

	_, args := s.baseArgs()
	args = append(args, tokens)
	reply, err := debitScript.Run(ctx, s.redis, []string{s.balanceKey(userID)}, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to debit balance: %w", err)
	}

	b, debited := parseBalanceReply(userID, reply)
	return &models.DebitResult{Requested: tokens, Debited: debited, Balance: *b}, nil
}

// AddUnmetered records usage paid for with the user's own key
func (s *RedisBalanceStore) AddUnmetered(ctx context.Context, userID string, tokens int64) error {
	_, args := s.baseArgs()
	args = append(args, tokens)
	if err := unmeteredScript.Run(ctx, s.redis, []string{s.balanceKey(userID)}, args...).Err(); err != nil {
		return fmt.Errorf("failed to record unmetered usage: %w", err)
	}
	return nil
}

// Credit adds purchased tokens once per payment reference
func (s *RedisBalanceStore) Credit(ctx context.Context, payment *models.ProcessedPayment) (bool, error) {
	now, args := s.baseArgs()
	record := *payment
	record.CreatedAt = now

	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payment: %w", err)
	}

	args = append(args, payment.Tokens, payment.Reference, string(data))
	applied, err := creditScript.Run(ctx, s.redis,
		[]string{s.balanceKey(payment.UserID), s.processedKey()}, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to credit balance: %w", err)
	}

	return applied == 1, nil
}

func parseBalanceReply(userID string, reply []int64) (*models.Balance, int64) {
	vals := make([]int64, 6)
	copy(vals, reply)

	return &models.Balance{
		UserID:           userID,
		FreeRemaining:    vals[0],
		PaidRemaining:    vals[1],
		TotalUsedOverall: vals[2],
		FreeLastResetAt:  time.Unix(vals[3], 0).UTC(),
		UpdatedAt:        time.Unix(vals[4], 0).UTC(),
	}, vals[5]
}
