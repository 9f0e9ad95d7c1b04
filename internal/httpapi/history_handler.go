package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/models"
	"llm_fanout/internal/storage"
	"llm_fanout/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// page reads limit and offset from the query string
func page(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxPageSize {
			return 0, 0, fmt.Errorf("%w: limit must be between 1 and %d", apperr.ErrInvalidRequest, maxPageSize)
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: offset must not be negative", apperr.ErrInvalidRequest)
		}
	}
	return limit, offset, nil
}

// ListInteractions handles GET /v1/interactions. Slots are not included.
func (h *Handler) ListInteractions(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	interactions, err := h.deps.History.ListByOwner(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: %v", apperr.ErrPersistence, err))
		return
	}
	if interactions == nil {
		interactions = []*models.Interaction{}
	}
	utils.RespondWithJSON(w, http.StatusOK, InteractionListResponse{Interactions: interactions, Limit: limit, Offset: offset})
}

// DeleteInteraction handles DELETE /v1/interactions/{id}
func (h *Handler) DeleteInteraction(w http.ResponseWriter, r *http.Request) {
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

	err = h.deps.History.Delete(r.Context(), userID, id)
	switch {
	case errors.Is(err, storage.ErrInteractionNotFound):
		h.respondError(w, r, fmt.Errorf("%w: interaction %s", apperr.ErrNotFound, id))
	case err != nil:
		h.respondError(w, r, fmt.Errorf("%w: %v", apperr.ErrPersistence, err))
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListUsage handles GET /v1/usage
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	entries, err := h.deps.Usage.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: %v", apperr.ErrPersistence, err))
		return
	}
	if entries == nil {
		entries = []*models.UsageLogEntry{}
	}
	utils.RespondWithJSON(w, http.StatusOK, UsageListResponse{Entries: entries, Limit: limit, Offset: offset})
}
