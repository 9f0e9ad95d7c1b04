package httpapi

import (
	"llm_fanout/internal/models"
)

// SlotRequest selects the model of one slot
type SlotRequest struct {
	SlotNumber int    `json:"slot_number" validate:"min=1,max=6"`
	Model      string `json:"model" validate:"required"`
}

// CreateInteractionRequest starts a new interaction. Without slots the
// user's saved slot models are used.
type CreateInteractionRequest struct {
	Prompt string        `json:"prompt" validate:"required"`
	Slots  []SlotRequest `json:"slots" validate:"omitempty,max=6,dive"`
}

// ContinueInteractionRequest sends a follow-up prompt. Without slot numbers
// every slot of the interaction is continued.
type ContinueInteractionRequest struct {
	Prompt      string `json:"prompt" validate:"required"`
	SlotNumbers []int  `json:"slot_numbers" validate:"omitempty,max=6,dive,min=1,max=6"`
}

// SummaryResponse is the result of a summary request
type SummaryResponse struct {
	InteractionID string `json:"interaction_id"`
	Summary       string `json:"summary"`
}

// BalanceResponse is the user's balance with the spendable total
type BalanceResponse struct {
	*models.Balance
	Available int64 `json:"available"`
}

// StoreCredentialRequest carries a provider API key
type StoreCredentialRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

// PreferencesRequest replaces the user's non-secret preferences
type PreferencesRequest struct {
	UseProvidedKeys *bool    `json:"use_provided_keys" validate:"required"`
	SlotModels      []string `json:"slot_models" validate:"max=6"`
	SummaryModel    *string  `json:"summary_model"`
}

// SettingsResponse shows settings without any credential material
type SettingsResponse struct {
	UseProvidedKeys     bool                  `json:"use_provided_keys"`
	ConfiguredProviders []models.ProviderType `json:"configured_providers"`
	SlotModels          []string              `json:"slot_models"`
	SummaryModel        *string               `json:"summary_model,omitempty"`
}

func newSettingsResponse(s *models.UserSettings) SettingsResponse {
	resp := SettingsResponse{
		UseProvidedKeys:     s.UseProvidedKeys,
		ConfiguredProviders: []models.ProviderType{},
		SlotModels:          []string(s.SlotModels),
		SummaryModel:        s.SummaryModel,
	}
	if resp.SlotModels == nil {
		resp.SlotModels = []string{}
	}
	for _, p := range models.AllProviders {
		if s.HasKey(p) {
			resp.ConfiguredProviders = append(resp.ConfiguredProviders, p)
		}
	}
	return resp
}

// CheckoutRequest buys a token package
type CheckoutRequest struct {
	PriceID  string `json:"price_id" validate:"required"`
	Quantity int64  `json:"quantity" validate:"omitempty,min=1,max=100"`
}

// InteractionListResponse is one page of a user's interactions
type InteractionListResponse struct {
	Interactions []*models.Interaction `json:"interactions"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// UsageListResponse is one page of the usage log
type UsageListResponse struct {
	Entries []*models.UsageLogEntry `json:"entries"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}
