package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/models"
)

const summaryInstructions = `Several assistants answered the same question. Write one concise summary ` +
	`that combines their answers, notes where they disagree and keeps any concrete facts.`

// Summarize condenses the latest answer of every slot with the user's summary
// model and stores the result on the interaction. The call is metered like a
// slot call but carries no slot number.
func (c *Coordinator) Summarize(ctx context.Context, userID string, interactionID uuid.UUID) (string, error) {
	interaction, err := c.loadInteraction(ctx, userID, interactionID)
	if err != nil {
		return "", err
	}

	prompt, ok := buildSummaryPrompt(interaction)
	if !ok {
		return "", fmt.Errorf("%w: interaction has no answers to summarize", apperr.ErrInvalidRequest)
	}

	settings, err := c.credentials.Settings(ctx, userID)
	if err != nil {
		return "", err
	}
	modelName := c.cfg.DefaultSummaryModel
	if settings.SummaryModel != nil && *settings.SummaryModel != "" {
		modelName = *settings.SummaryModel
	}
	ref, err := models.ParseModelRef(modelName)
	if err != nil {
		return "", fmt.Errorf("%w: summary model: %v", apperr.ErrInvalidRequest, err)
	}

	call := c.invoke(ctx, invocation{
		requestID:     uuid.NewString(),
		userID:        userID,
		model:         ref,
		prompt:        prompt,
		interactionID: &interaction.ID,
	})
	if call.err != nil {
		return "", call.err
	}

	summary := strings.TrimSpace(call.result.Text)
	if err := c.interactions.SetSummary(context.WithoutCancel(ctx), userID, interaction.ID, summary); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}
	return summary, nil
}

func buildSummaryPrompt(interaction *models.Interaction) (string, bool) {
	var b strings.Builder
	b.WriteString(summaryInstructions)
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(interaction.InitialPrompt)

	answers := 0
	for _, slot := range interaction.Slots {
		answer := slot.Conversation.LastAnswer()
		if strings.TrimSpace(answer) == "" {
			continue
		}
		answers++
		fmt.Fprintf(&b, "\n\nAnswer %d (%s:%s):\n%s", slot.SlotNumber, slot.Provider, slot.Model, answer)
	}
	return b.String(), answers > 0
}
