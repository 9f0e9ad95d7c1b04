// Package payments turns Stripe checkout events into token credits.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/utils"
)

const (
	EventCheckoutCompleted             = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// Metadata keys set on checkout sessions
const (
	MetadataUserID   = "user_id"
	MetadataPriceID  = "price_id"
	MetadataQuantity = "quantity"
)

// Crediter applies a credit at most once per reference
type Crediter interface {
	Credit(ctx context.Context, userID string, tokens int64, reference, eventID string) (bool, error)
}

// Reconciler verifies and applies payment webhooks
type Reconciler struct {
	ledger Crediter
	secret string
	prices PriceTable
	logger *utils.Logger
}

func NewReconciler(ledger Crediter, webhookSecret string, prices PriceTable) *Reconciler {
	return &Reconciler{
		ledger: ledger,
		secret: webhookSecret,
		prices: prices,
		logger: utils.NewLogger("payments"),
	}
}

// HandleWebhook verifies the signature before anything else. A nil error
// means the event may be acknowledged; a PersistenceError asks the sender to
// redeliver, which is safe because credits are keyed by checkout session id.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := webhook.ValidatePayload(payload, signatureHeader, r.secret); err != nil {
		r.logger.Warn("Rejected webhook", "error", err)
		return fmt.Errorf("%w: %v", apperr.ErrBadSignature, err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrMalformedPayload, err)
	}

	switch event.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncPaymentSucceeded:
		return r.handleCheckout(ctx, &event)
	default:
		r.logger.Debug("Ignoring webhook event", "event_id", event.ID, "type", event.Type)
		return nil
	}
}

func (r *Reconciler) handleCheckout(ctx context.Context, event *stripe.Event) error {
	if event.Data == nil {
		return fmt.Errorf("%w: event %s has no data", apperr.ErrMalformedPayload, event.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrMalformedPayload, err)
	}

	// Delayed payment methods complete unpaid and are credited on async_payment_succeeded.
	if event.Type == EventCheckoutCompleted && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		r.logger.Info("Checkout completed without payment yet", "session_id", session.ID, "status", session.PaymentStatus)
		return nil
	}

	// Only metadata we wrote at session creation is trusted for attribution.
	userID := session.Metadata[MetadataUserID]
	priceID := session.Metadata[MetadataPriceID]
	quantity, err := strconv.ParseInt(session.Metadata[MetadataQuantity], 10, 64)
	if err != nil {
		quantity = 1
	}

	tokens, ok := r.prices.Tokens(priceID, quantity)
	if userID == "" || !ok {
		// Redelivery cannot fix missing metadata; acknowledge and leave it to an operator.
		r.logger.Error("Unreconcilable checkout session",
			"session_id", session.ID, "event_id", event.ID, "user_id", userID, "price_id", priceID)
		return nil
	}

	applied, err := r.ledger.Credit(ctx, userID, tokens, session.ID, event.ID)
	if err != nil {
		r.logger.Error("Failed to credit checkout", "session_id", session.ID, "user_id", userID, "error", err)
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}

	r.logger.Info("Checkout reconciled",
		"session_id", session.ID, "user_id", userID, "tokens", tokens, "applied", applied)
	return nil
}
