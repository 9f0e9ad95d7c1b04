package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/google/uuid"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/dispatch"
	"llm_fanout/internal/models"
	"llm_fanout/internal/utils"
)

// CreateInteraction handles POST /v1/interactions
func (h *Handler) CreateInteraction(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req CreateInteractionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	slots, err := h.initialSlots(r.Context(), userID, req.Slots)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.dispatch(w, r, dispatch.Request{
		UserID: userID,
		Prompt: req.Prompt,
		Slots:  slots,
	})
}

// ContinueInteraction handles POST /v1/interactions/{id}/turns
func (h *Handler) ContinueInteraction(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req ContinueInteractionRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	interaction, err := h.deps.Dispatcher.Interaction(r.Context(), userID, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	slots, err := continuationSlots(interaction, req.SlotNumbers)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.dispatch(w, r, dispatch.Request{
		UserID:        userID,
		InteractionID: &id,
		Prompt:        req.Prompt,
		Slots:         slots,
	})
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, req dispatch.Request) {
	req.RequestID = uuid.NewString()
	w.Header().Set("X-Request-ID", req.RequestID)

	outcome, err := h.deps.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, outcome)
}

// GetInteraction handles GET /v1/interactions/{id}
func (h *Handler) GetInteraction(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	interaction, err := h.deps.Dispatcher.Interaction(r.Context(), userID, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, interaction)
}

// SummarizeInteraction handles POST /v1/interactions/{id}/summary
func (h *Handler) SummarizeInteraction(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	id, err := pathUUID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	summary, err := h.deps.Dispatcher.Summarize(r.Context(), userID, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, SummaryResponse{InteractionID: id.String(), Summary: summary})
}

// initialSlots resolves the requested slots, falling back to the user's
// saved slot models. Saved entries are numbered by position; blanks are skipped.
func (h *Handler) initialSlots(ctx context.Context, userID string, requested []SlotRequest) ([]dispatch.SlotConfig, error) {
	if len(requested) > 0 {
		slots := make([]dispatch.SlotConfig, 0, len(requested))
		for _, s := range requested {
			ref, err := models.ParseModelRef(s.Model)
			if err != nil {
				return nil, fmt.Errorf("%w: slot %d: %v", apperr.ErrInvalidRequest, s.SlotNumber, err)
			}
			slots = append(slots, dispatch.SlotConfig{SlotNumber: s.SlotNumber, Model: ref})
		}
		return slots, nil
	}

	settings, err := h.deps.Credentials.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}

	var slots []dispatch.SlotConfig
	for i, name := range settings.SlotModels {
		if name == "" {
			continue
		}
		ref, err := models.ParseModelRef(name)
		if err != nil {
			return nil, fmt.Errorf("%w: saved slot %d: %v", apperr.ErrInvalidRequest, i+1, err)
		}
		slots = append(slots, dispatch.SlotConfig{SlotNumber: i + 1, Model: ref})
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: no slots requested and no slot models saved", apperr.ErrInvalidRequest)
	}
	return slots, nil
}

// continuationSlots keeps each slot on the model it started with
func continuationSlots(interaction *models.Interaction, numbers []int) ([]dispatch.SlotConfig, error) {
	if len(numbers) == 0 {
		for _, s := range interaction.Slots {
			numbers = append(numbers, s.SlotNumber)
		}
		sort.Ints(numbers)
	}

	slots := make([]dispatch.SlotConfig, 0, len(numbers))
	for _, n := range numbers {
		slot, ok := interaction.SlotByNumber(n)
		if !ok {
			return nil, fmt.Errorf("%w: interaction has no slot %d", apperr.ErrInvalidRequest, n)
		}
		slots = append(slots, dispatch.SlotConfig{
			SlotNumber: n,
			Model:      models.ModelRef{Provider: slot.Provider, Model: slot.Model},
		})
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: interaction has no slots", apperr.ErrInvalidRequest)
	}
	return slots, nil
}
