// Package httpapi exposes the fan-out, account and payment operations over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/dispatch"
	"llm_fanout/internal/middleware"
	"llm_fanout/internal/models"
	"llm_fanout/internal/payments"
	"llm_fanout/internal/utils"
)

// Dispatcher runs and reads interactions
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Outcome, error)
	Interaction(ctx context.Context, userID string, id uuid.UUID) (*models.Interaction, error)
	Summarize(ctx context.Context, userID string, id uuid.UUID) (string, error)
}

// CredentialManager reads settings and stores provider keys
type CredentialManager interface {
	Settings(ctx context.Context, userID string) (*models.UserSettings, error)
	StoreCredential(ctx context.Context, userID string, provider models.ProviderType, apiKey string) error
	RemoveCredential(ctx context.Context, userID string, provider models.ProviderType) error
}

// PreferencesStore saves non-secret settings
type PreferencesStore interface {
	UpdatePreferences(ctx context.Context, userID string, useProvidedKeys bool, slotModels []string, summaryModel *string) (*models.UserSettings, error)
}

// BalanceReader reads token balances
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (*models.Balance, error)
}

// CheckoutCreator starts token purchases
type CheckoutCreator interface {
	CreateSession(ctx context.Context, userID, priceID string, quantity int64) (*payments.CheckoutSession, error)
}

// WebhookProcessor applies signed payment events
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

// HistoryStore lists and deletes a user's interactions
type HistoryStore interface {
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*models.Interaction, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
}

// UsageHistory reads the usage log
type UsageHistory interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.UsageLogEntry, error)
}

// Dependencies aggregates all services the HTTP layer needs
type Dependencies struct {
	Dispatcher  Dispatcher
	Credentials CredentialManager
	Preferences PreferencesStore
	Balances    BalanceReader
	Checkout    CheckoutCreator
	Webhooks    WebhookProcessor
	History     HistoryStore
	Usage       UsageHistory
}

// Handler serves the API
type Handler struct {
	deps     Dependencies
	validate *validator.Validate
	logger   *utils.Logger
}

// NewHandler creates a handler over the given services
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		deps:     deps,
		validate: validator.New(),
		logger:   utils.NewLogger("httpapi"),
	}
}

// decode reads a JSON body into dst and validates it
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request payload", apperr.ErrInvalidRequest)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", apperr.ErrInvalidRequest, validationMessage(err))
	}
	return nil
}

const maxBodyBytes = 1 << 20

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// respondError writes err with its client code. Details of invalid requests
// are shown; everything else gets the generic user message.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	message := apperr.UserMessage(err)
	if errors.Is(err, apperr.ErrInvalidRequest) || errors.Is(err, apperr.ErrNotFound) {
		message = err.Error()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	utils.RespondWithErrorCode(w, status, message, string(apperr.CodeOf(err)))
}

func (h *Handler) userID(r *http.Request) (string, error) {
	id, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return "", apperr.ErrUnauthorized
	}
	return id, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", apperr.ErrInvalidRequest, name)
	}
	return id, nil
}

func pathProvider(r *http.Request) (models.ProviderType, error) {
	p := models.ProviderType(strings.ToLower(r.PathValue("provider")))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown provider %q", apperr.ErrInvalidRequest, r.PathValue("provider"))
	}
	return p, nil
}
