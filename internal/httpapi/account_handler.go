package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/models"
	"llm_fanout/internal/utils"
)

// GetBalance handles GET /v1/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	balance, err := h.deps.Balances.Balance(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, BalanceResponse{Balance: balance, Available: balance.Available()})
}

// GetSettings handles GET /v1/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	settings, err := h.deps.Credentials.Settings(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, newSettingsResponse(settings))
}

// StoreCredential handles PUT /v1/settings/credentials/{provider}
func (h *Handler) StoreCredential(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	provider, err := pathProvider(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req StoreCredentialRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.deps.Credentials.StoreCredential(r.Context(), userID, provider, req.APIKey); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveCredential handles DELETE /v1/settings/credentials/{provider}
func (h *Handler) RemoveCredential(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	provider, err := pathProvider(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.deps.Credentials.RemoveCredential(r.Context(), userID, provider); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdatePreferences handles PUT /v1/settings/preferences
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req PreferencesRequest
	if err := h.decode(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	slotModels := make([]string, len(req.SlotModels))
	for i, name := range req.SlotModels {
		if strings.TrimSpace(name) == "" {
			continue
		}
		ref, err := models.ParseModelRef(name)
		if err != nil {
			h.respondError(w, r, fmt.Errorf("%w: slot %d: %v", apperr.ErrInvalidRequest, i+1, err))
			return
		}
		slotModels[i] = ref.String()
	}

	var summaryModel *string
	if req.SummaryModel != nil && strings.TrimSpace(*req.SummaryModel) != "" {
		ref, err := models.ParseModelRef(*req.SummaryModel)
		if err != nil {
			h.respondError(w, r, fmt.Errorf("%w: summary model: %v", apperr.ErrInvalidRequest, err))
			return
		}
		name := ref.String()
		summaryModel = &name
	}

	settings, err := h.deps.Preferences.UpdatePreferences(r.Context(), userID, *req.UseProvidedKeys, slotModels, summaryModel)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: %v", apperr.ErrPersistence, err))
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, newSettingsResponse(settings))
}
