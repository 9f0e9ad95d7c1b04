// Package dispatch fans one prompt out to several provider slots and meters
// and persists the results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/billing"
	"llm_fanout/internal/logging"
	"llm_fanout/internal/models"
	"llm_fanout/internal/providers"
	"llm_fanout/internal/storage"
	"llm_fanout/internal/utils"
	"llm_fanout/internal/vault"
)

// InteractionStore persists interactions. Every call is scoped by owner.
type InteractionStore interface {
	Create(ctx context.Context, interaction *models.Interaction) error
	GetByID(ctx context.Context, ownerID string, id uuid.UUID) (*models.Interaction, error)
	AppendTurns(ctx context.Context, ownerID string, id uuid.UUID, turns []models.SlotTurn) error
	SetSummary(ctx context.Context, ownerID string, id uuid.UUID, summary string) error
}

// CredentialResolver picks the key for a call
type CredentialResolver interface {
	Resolve(ctx context.Context, userID string, provider models.ProviderType) (vault.Credential, error)
	Settings(ctx context.Context, userID string) (*models.UserSettings, error)
}

// ProviderSource looks up adapters by provider
type ProviderSource interface {
	Get(t models.ProviderType) (providers.Provider, error)
}

// UsageMeter admits and settles metered calls
type UsageMeter interface {
	CanAfford(ctx context.Context, userID string, estimate int64) (bool, error)
	Record(ctx context.Context, ev billing.UsageEvent) error
}

// Config tunes the coordinator
type Config struct {
	ProviderTimeout     time.Duration // bound on each provider call
	OutputReserve       int64         // tokens reserved for the answer in the admission estimate
	DefaultSummaryModel string
}

// DefaultConfig returns the defaults used when no configuration is given
func DefaultConfig() Config {
	return Config{
		ProviderTimeout:     60 * time.Second,
		OutputReserve:       1024,
		DefaultSummaryModel: "gemini-1.5-flash",
	}
}

// SlotConfig selects the model for one slot
type SlotConfig struct {
	SlotNumber int
	Model      models.ModelRef
}

// Request is one prompt for one or more slots. A nil InteractionID starts a
// new interaction; otherwise the prompt continues each slot's history.
type Request struct {
	RequestID     string
	UserID        string
	InteractionID *uuid.UUID
	Prompt        string
	Slots         []SlotConfig
}

// ErrorDetail is a failure as shown to the user
type ErrorDetail struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func newErrorDetail(err error) *ErrorDetail {
	return &ErrorDetail{Code: apperr.CodeOf(err), Message: apperr.UserMessage(err)}
}

// SlotResult is the answer or failure of one slot
type SlotResult struct {
	SlotNumber   int                 `json:"slot_number"`
	Provider     models.ProviderType `json:"provider"`
	Model        string              `json:"model"`
	Text         string              `json:"text,omitempty"`
	PartialText  string              `json:"partial_text,omitempty"` // truncated answers only, never persisted
	InputTokens  int64               `json:"input_tokens"`
	OutputTokens int64               `json:"output_tokens"`
	KeyType      models.KeyType      `json:"key_type,omitempty"`
	Error        *ErrorDetail        `json:"error,omitempty"`
}

// Outcome holds one result per requested slot, ordered by slot number
type Outcome struct {
	InteractionID *uuid.UUID   `json:"interaction_id,omitempty"`
	Slots         []SlotResult `json:"slots"`
	PersistError  *ErrorDetail `json:"persist_error,omitempty"`
}

// Coordinator runs dispatch rounds
type Coordinator struct {
	credentials  CredentialResolver
	providers    ProviderSource
	meter        UsageMeter
	interactions InteractionStore
	sink         logging.Sink
	estimator    billing.Estimator
	cfg          Config
	logger       *utils.Logger
}

// NewCoordinator wires a coordinator. A nil sink disables the activity log.
func NewCoordinator(
	credentials CredentialResolver,
	registry ProviderSource,
	meter UsageMeter,
	interactions InteractionStore,
	sink logging.Sink,
	cfg Config,
) *Coordinator {
	if sink == nil {
		sink = logging.NewNoopSink()
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultConfig().ProviderTimeout
	}
	if cfg.DefaultSummaryModel == "" {
		cfg.DefaultSummaryModel = DefaultConfig().DefaultSummaryModel
	}
	return &Coordinator{
		credentials:  credentials,
		providers:    registry,
		meter:        meter,
		interactions: interactions,
		sink:         sink,
		estimator:    billing.Estimator{OutputReserve: cfg.OutputReserve},
		cfg:          cfg,
		logger:       utils.NewLogger("dispatch"),
	}
}

// Dispatch sends the prompt to every slot concurrently. Slot failures are
// reported in their SlotResult and never abort sibling slots; the returned
// error is reserved for invalid requests and unreadable interactions.
func (c *Coordinator) Dispatch(ctx context.Context, req Request) (*Outcome, error) {
	slots, err := validateRequest(req)
	if err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	var existing *models.Interaction
	interactionID := uuid.New()
	if req.InteractionID != nil {
		existing, err = c.loadInteraction(ctx, req.UserID, *req.InteractionID)
		if err != nil {
			return nil, err
		}
		interactionID = existing.ID
	}

	results := make([]SlotResult, len(slots))
	turns := make([]*models.SlotTurn, len(slots))

	var wg sync.WaitGroup
	for i, slot := range slots {
		var history models.Conversation
		if existing != nil {
			if prior, ok := existing.SlotByNumber(slot.SlotNumber); ok {
				history = prior.Conversation
			}
		}

		wg.Add(1)
		go func(i int, slot SlotConfig, history models.Conversation) {
			defer wg.Done()
			results[i], turns[i] = c.runSlot(ctx, req, interactionID, slot, history)
		}(i, slot, history)
	}
	wg.Wait()

	outcome := &Outcome{Slots: results}

	var completed []models.SlotTurn
	for _, t := range turns {
		if t != nil {
			completed = append(completed, *t)
		}
	}

	if existing == nil && len(completed) == 0 {
		// Nothing answered: there is no conversation to keep.
		return outcome, nil
	}

	persistCtx := context.WithoutCancel(ctx)
	if existing == nil {
		err = c.interactions.Create(persistCtx, newInteraction(interactionID, req, completed))
	} else if len(completed) > 0 {
		err = c.interactions.AppendTurns(persistCtx, req.UserID, interactionID, completed)
	}

	outcome.InteractionID = &interactionID
	if err != nil {
		c.logger.Error("Failed to persist interaction",
			"request_id", req.RequestID, "interaction_id", interactionID, "error", err)
		outcome.PersistError = newErrorDetail(fmt.Errorf("%w: %v", apperr.ErrPersistence, err))
		if existing == nil {
			outcome.InteractionID = nil
		}
	}

	return outcome, nil
}

func validateRequest(req Request) ([]SlotConfig, error) {
	if req.UserID == "" {
		return nil, apperr.ErrUnauthorized
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is empty", apperr.ErrInvalidRequest)
	}
	if len(req.Slots) == 0 || len(req.Slots) > models.MaxSlots {
		return nil, fmt.Errorf("%w: between 1 and %d slots are required", apperr.ErrInvalidRequest, models.MaxSlots)
	}

	seen := make(map[int]bool, len(req.Slots))
	for _, s := range req.Slots {
		if s.SlotNumber < 1 || s.SlotNumber > models.MaxSlots {
			return nil, fmt.Errorf("%w: slot number %d out of range", apperr.ErrInvalidRequest, s.SlotNumber)
		}
		if seen[s.SlotNumber] {
			return nil, fmt.Errorf("%w: duplicate slot %d", apperr.ErrInvalidRequest, s.SlotNumber)
		}
		seen[s.SlotNumber] = true
		if !s.Model.Provider.Valid() || s.Model.Model == "" {
			return nil, fmt.Errorf("%w: slot %d has no valid model", apperr.ErrInvalidRequest, s.SlotNumber)
		}
	}

	slots := append([]SlotConfig(nil), req.Slots...)
	sort.Slice(slots, func(i, j int) bool { return slots[i].SlotNumber < slots[j].SlotNumber })
	return slots, nil
}

// Interaction returns one of the user's interactions
func (c *Coordinator) Interaction(ctx context.Context, userID string, id uuid.UUID) (*models.Interaction, error) {
	if userID == "" {
		return nil, apperr.ErrUnauthorized
	}
	return c.loadInteraction(ctx, userID, id)
}

func (c *Coordinator) loadInteraction(ctx context.Context, userID string, id uuid.UUID) (*models.Interaction, error) {
	interaction, err := c.interactions.GetByID(ctx, userID, id)
	if errors.Is(err, storage.ErrInteractionNotFound) {
		return nil, fmt.Errorf("%w: interaction %s", apperr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	return interaction, nil
}

func newInteraction(id uuid.UUID, req Request, turns []models.SlotTurn) *models.Interaction {
	interaction := &models.Interaction{
		ID:            id,
		OwnerID:       req.UserID,
		InitialPrompt: req.Prompt,
	}
	for _, t := range turns {
		interaction.Slots = append(interaction.Slots, models.Slot{
			SlotNumber:   t.SlotNumber,
			Provider:     t.Provider,
			Model:        t.Model,
			Conversation: models.Conversation(nil).Append(t.Prompt, t.Answer),
			InputTokens:  t.InputTokens,
			OutputTokens: t.OutputTokens,
		})
	}
	return interaction
}

// runSlot returns the slot's result and, when it succeeded, the turn to persist
func (c *Coordinator) runSlot(ctx context.Context, req Request, interactionID uuid.UUID, slot SlotConfig, history models.Conversation) (SlotResult, *models.SlotTurn) {
	result := SlotResult{
		SlotNumber: slot.SlotNumber,
		Provider:   slot.Model.Provider,
		Model:      slot.Model.Model,
	}

	slotNumber := slot.SlotNumber
	call := c.invoke(ctx, invocation{
		requestID:     req.RequestID,
		userID:        req.UserID,
		model:         slot.Model,
		history:       history,
		prompt:        req.Prompt,
		interactionID: &interactionID,
		slotNumber:    &slotNumber,
	})

	result.KeyType = call.keyType
	result.InputTokens = call.result.InputTokens
	result.OutputTokens = call.result.OutputTokens
	if call.err != nil {
		result.Error = newErrorDetail(call.err)
		if call.result.Kind == providers.ResultTruncated {
			result.PartialText = call.result.Text
		}
		return result, nil
	}

	result.Text = call.result.Text
	return result, &models.SlotTurn{
		SlotNumber:   slot.SlotNumber,
		Provider:     slot.Model.Provider,
		Model:        slot.Model.Model,
		Prompt:       req.Prompt,
		Answer:       call.result.Text,
		InputTokens:  call.result.InputTokens,
		OutputTokens: call.result.OutputTokens,
	}
}
