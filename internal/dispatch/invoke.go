package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/billing"
	"llm_fanout/internal/logging"
	"llm_fanout/internal/models"
	"llm_fanout/internal/providers"
)

// invocation is one metered provider call
type invocation struct {
	requestID     string
	userID        string
	model         models.ModelRef
	history       models.Conversation
	prompt        string
	interactionID *uuid.UUID
	slotNumber    *int
}

type callOutcome struct {
	result  providers.Result
	keyType models.KeyType
	err     error
}

// invoke resolves the credential, admits platform-key calls against the
// balance, calls the provider under the configured timeout and settles usage.
func (c *Coordinator) invoke(ctx context.Context, inv invocation) (out callOutcome) {
	defer func() { c.emit(inv, out) }()

	provider, err := c.providers.Get(inv.model.Provider)
	if err != nil {
		out.err = fmt.Errorf("%w: %v", apperr.ErrNotConfigured, err)
		return out
	}

	cred, err := c.credentials.Resolve(ctx, inv.userID, inv.model.Provider)
	if err != nil {
		out.err = err
		return out
	}
	out.keyType = cred.KeyType

	messages := make([]models.Message, 0, len(inv.history)+1)
	messages = append(messages, inv.history...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: inv.prompt})

	if cred.KeyType == models.KeyTypeProvided {
		estimate := c.estimator.Estimate(messages)
		ok, err := c.meter.CanAfford(ctx, inv.userID, estimate)
		if err != nil {
			out.err = err
			return out
		}
		if !ok {
			out.err = fmt.Errorf("%w: estimated %d tokens", apperr.ErrInsufficientBalance, estimate)
			return out
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
	res := provider.Chat(callCtx, providers.ChatRequest{
		APIKey:   cred.APIKey,
		Model:    inv.model.Model,
		Messages: messages,
	})
	cancel()

	out.result = res
	if res.Success() || res.TotalTokens() > 0 {
		c.settle(ctx, inv, cred.KeyType, res)
	}
	out.err = res.Err(inv.model.Provider)
	return out
}

// settle records usage. Failures are logged and never hide the answer.
func (c *Coordinator) settle(ctx context.Context, inv invocation, keyType models.KeyType, res providers.Result) {
	err := c.meter.Record(context.WithoutCancel(ctx), billing.UsageEvent{
		UserID:        inv.userID,
		Provider:      inv.model.Provider,
		Model:         inv.model.Model,
		InputTokens:   res.InputTokens,
		OutputTokens:  res.OutputTokens,
		InteractionID: inv.interactionID,
		SlotNumber:    inv.slotNumber,
		KeyType:       keyType,
	})
	if err != nil {
		c.logger.Warn("Usage not fully recorded",
			"request_id", inv.requestID, "user_id", inv.userID, "model", inv.model.String(), "error", err)
	}
}

func (c *Coordinator) emit(inv invocation, out callOutcome) {
	rec := &logging.Record{
		RequestID:    inv.requestID,
		UserID:       inv.userID,
		Provider:     string(inv.model.Provider),
		Model:        inv.model.Model,
		KeyType:      string(out.keyType),
		InputTokens:  out.result.InputTokens,
		OutputTokens: out.result.OutputTokens,
		ProviderMs:   out.result.ProviderLatency.Milliseconds(),
		Outcome:      "success",
	}
	if inv.interactionID != nil {
		rec.InteractionID = inv.interactionID.String()
	}
	if inv.slotNumber != nil {
		rec.SlotNumber = *inv.slotNumber
	}
	if out.err != nil {
		rec.Outcome = string(apperr.CodeOf(out.err))
		rec.Error = out.err.Error()
	}

	// Enqueue failures are already logged by the sink.
	_ = c.sink.Enqueue(rec)
}
