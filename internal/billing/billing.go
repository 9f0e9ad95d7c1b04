package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/models"
	"llm_fanout/internal/utils"
)

// BalanceStore persists token balances. Implementations must apply each
// operation atomically: Debit consumes free tokens before paid tokens and
// never drives either below zero; Credit applies at most once per reference.
type BalanceStore interface {
	Get(ctx context.Context, userID string) (*models.Balance, error)
	Debit(ctx context.Context, userID string, tokens int64) (*models.DebitResult, error)
	AddUnmetered(ctx context.Context, userID string, tokens int64) error
	Credit(ctx context.Context, payment *models.ProcessedPayment) (bool, error)
}

// UsageLogStore appends usage entries.
type UsageLogStore interface {
	Append(ctx context.Context, entry *models.UsageLogEntry) error
}

// UsageEvent describes one completed provider call.
type UsageEvent struct {
	UserID        string
	Provider      models.ProviderType
	Model         string
	InputTokens   int64
	OutputTokens  int64
	InteractionID *uuid.UUID
	SlotNumber    *int
	KeyType       models.KeyType
}

// Ledger meters provider usage against token balances.
type Ledger struct {
	balances BalanceStore
	usage    UsageLogStore
	logger   *utils.Logger
}

// NewLedger creates a ledger over the given stores
func NewLedger(balances BalanceStore, usage UsageLogStore) *Ledger {
	return &Ledger{
		balances: balances,
		usage:    usage,
		logger:   utils.NewLogger("ledger"),
	}
}

// Record appends a usage entry and settles it: platform-key calls are
// debited, user-key calls only count towards total usage. Both steps are
// always attempted and their failures are reported together.
func (l *Ledger) Record(ctx context.Context, ev UsageEvent) error {
	total := ev.InputTokens + ev.OutputTokens

	entry := &models.UsageLogEntry{
		ID:            uuid.New(),
		UserID:        ev.UserID,
		Provider:      ev.Provider,
		Model:         ev.Model,
		InputTokens:   ev.InputTokens,
		OutputTokens:  ev.OutputTokens,
		TotalTokens:   total,
		InteractionID: ev.InteractionID,
		SlotNumber:    ev.SlotNumber,
		KeyType:       ev.KeyType,
		CreatedAt:     time.Now().UTC(),
	}

	var errs []error
	if err := l.usage.Append(ctx, entry); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", apperr.ErrLogWriteError, err))
	}

	switch ev.KeyType {
	case models.KeyTypeProvided:
		if _, err := l.Debit(ctx, ev.UserID, total); err != nil {
			errs = append(errs, err)
		}
	case models.KeyTypeUser:
		if err := l.balances.AddUnmetered(ctx, ev.UserID, total); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", apperr.ErrPersistence, err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown key type %q", ev.KeyType))
	}

	if len(errs) > 0 {
		l.logger.Warn("Usage settlement incomplete",
			"user_id", ev.UserID, "provider", ev.Provider, "tokens", total, "error", errors.Join(errs...))
	}
	return errors.Join(errs...)
}

// Debit consumes tokens. When the balance cannot cover the request the
// available tokens are still consumed and an InsufficientBalanceError is returned.
func (l *Ledger) Debit(ctx context.Context, userID string, tokens int64) (*models.DebitResult, error) {
	if tokens < 0 {
		return nil, fmt.Errorf("%w: negative debit", apperr.ErrInvalidRequest)
	}

	res, err := l.balances.Debit(ctx, userID, tokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}

	if res.Short() {
		return res, &apperr.InsufficientBalanceError{Requested: res.Requested, Debited: res.Debited}
	}
	return res, nil
}

// Credit adds purchased tokens. It returns false, nil when the reference was
// already credited.
func (l *Ledger) Credit(ctx context.Context, userID string, tokens int64, reference, eventID string) (bool, error) {
	if tokens <= 0 {
		return false, fmt.Errorf("%w: credit must be positive", apperr.ErrInvalidRequest)
	}
	if reference == "" {
		return false, fmt.Errorf("%w: credit reference is required", apperr.ErrInvalidRequest)
	}

	applied, err := l.balances.Credit(ctx, &models.ProcessedPayment{
		Reference: reference,
		EventID:   eventID,
		UserID:    userID,
		Tokens:    tokens,
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}

	if applied {
		l.logger.Info("Credited tokens", "user_id", userID, "tokens", tokens, "reference", reference)
	} else {
		l.logger.Info("Duplicate credit ignored", "user_id", userID, "reference", reference)
	}
	return applied, nil
}

// Balance returns the user's current balance
func (l *Ledger) Balance(ctx context.Context, userID string) (*models.Balance, error) {
	b, err := l.balances.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	return b, nil
}

// CanAfford reports whether the balance covers an estimated call.
func (l *Ledger) CanAfford(ctx context.Context, userID string, estimate int64) (bool, error) {
	b, err := l.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return b.Available() >= estimate, nil
}

// Estimator produces a conservative pre-flight token estimate.
type Estimator struct {
	OutputReserve int64 // tokens reserved for the answer
}

// perMessageOverhead approximates role and formatting tokens per message.
const perMessageOverhead = 4

// Estimate returns ceil(chars/4) plus per-message overhead plus the output reserve.
func (e Estimator) Estimate(messages []models.Message) int64 {
	var chars int64
	for _, m := range messages {
		chars += int64(utf8.RuneCountInString(m.Content))
	}
	return (chars+3)/4 + int64(len(messages))*perMessageOverhead + e.OutputReserve
}
