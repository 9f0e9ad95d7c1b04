package httpapi

import (
	"io"
	"net/http"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/utils"
)

// maxWebhookBytes bounds a webhook body
const maxWebhookBytes = 65536

// CreateCheckout handles POST /v1/checkout
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req CheckoutRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	session, err := h.deps.Checkout.CreateSession(r.Context(), userID, req.PriceID, req.Quantity)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, session)
}

// StripeWebhook handles POST /v1/webhooks/stripe. Failures other than a bad
// signature or payload answer 5xx so that Stripe redelivers the event.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.respondError(w, r, apperr.ErrMalformedPayload)
		return
	}

	if err := h.deps.Webhooks.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.logger.Warn("Webhook rejected", "code", apperr.CodeOf(err), "error", err)
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}
