package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// KeyType records whose credential paid for a provider call.
type KeyType string

const (
	// KeyTypeUser means the user's own provider key was used; nothing is debited.
	KeyTypeUser KeyType = "user"
	// KeyTypeProvided means the platform key was used; tokens are debited.
	KeyTypeProvided KeyType = "provided"
)

// Balance is a user's token account (balances table).
type Balance struct {
	UserID           string    `db:"user_id" json:"user_id"`
	FreeRemaining    int64     `db:"free_remaining" json:"free_remaining"`
	PaidRemaining    int64     `db:"paid_remaining" json:"paid_remaining"`
	TotalUsedOverall int64     `db:"total_used_overall" json:"total_used_overall"`
	FreeLastResetAt  time.Time `db:"free_last_reset_at" json:"free_last_reset_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Available returns the spendable tokens.
func (b *Balance) Available() int64 {
	return b.FreeRemaining + b.PaidRemaining
}

// UsageLogEntry is an append-only record of one metered provider call (usage_log table).
type UsageLogEntry struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	UserID        string       `db:"user_id" json:"user_id"`
	Provider      ProviderType `db:"provider" json:"provider"`
	Model         string       `db:"model" json:"model"`
	InputTokens   int64        `db:"input_tokens" json:"input_tokens"`
	OutputTokens  int64        `db:"output_tokens" json:"output_tokens"`
	TotalTokens   int64        `db:"total_tokens" json:"total_tokens"`
	InteractionID *uuid.UUID   `db:"interaction_id" json:"interaction_id,omitempty"`
	SlotNumber    *int         `db:"slot_number" json:"slot_number,omitempty"`
	KeyType       KeyType      `db:"key_type" json:"key_type"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// ProcessedPayment marks a checkout session as credited (processed_payments table).
type ProcessedPayment struct {
	Reference string    `db:"reference" json:"reference"`
	EventID   string    `db:"event_id" json:"event_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Tokens    int64     `db:"tokens" json:"tokens"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

//
// User settings (user_settings table)
//

// EncryptedKeys maps a provider name to its encrypted credential blob.
type EncryptedKeys map[string]string

// UserSettings holds a user's credential and model preferences.
type UserSettings struct {
	UserID          string         `db:"user_id" json:"user_id"`
	UseProvidedKeys bool           `db:"use_provided_keys" json:"use_provided_keys"`
	EncryptedKeys   EncryptedKeys  `db:"encrypted_keys" json:"-"`
	SlotModels      pq.StringArray `db:"slot_models" json:"slot_models"`
	SummaryModel    *string        `db:"summary_model" json:"summary_model,omitempty"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// DefaultUserSettings is used for users that never saved settings.
func DefaultUserSettings(userID string) *UserSettings {
	return &UserSettings{
		UserID:          userID,
		UseProvidedKeys: true,
		EncryptedKeys:   EncryptedKeys{},
	}
}

// HasKey reports whether an encrypted credential is stored for the provider.
func (s *UserSettings) HasKey(p ProviderType) bool {
	blob, ok := s.EncryptedKeys[string(p)]
	return ok && blob != ""
}

// DebitResult is the outcome of an atomic debit.
type DebitResult struct {
	Requested int64
	Debited   int64
	Balance   Balance
}

// Short reports whether the balance could not cover the full request.
func (r *DebitResult) Short() bool {
	return r.Debited < r.Requested
}

// MonthStart returns the first instant of t's month in UTC. The free
// allowance is refilled on the first balance operation after this instant.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
