package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithErrorCode(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		code    string
	}{
		{"bad request", http.StatusBadRequest, "prompt is empty", "invalid_request"},
		{"payment required", http.StatusPaymentRequired, "Your token balance is too low.", "insufficient_balance"},
		{"no code", http.StatusUnauthorized, "Missing authentication token", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondWithErrorCode(w, tt.status, tt.message, tt.code)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var raw map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
			assert.Equal(t, tt.message, raw["error"])
			if tt.code == "" {
				assert.NotContains(t, raw, "code")
			} else {
				assert.Equal(t, tt.code, raw["code"])
			}
		})
	}
}

func TestRespondWithError(t *testing.T) {
	w := httptest.NewRecorder()
	RespondWithError(w, http.StatusNotFound, "Resource not found")

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Resource not found", resp.Error)
	assert.Empty(t, resp.Code)
}

func TestRespondWithJSON(t *testing.T) {
	w := httptest.NewRecorder()
	payload := map[string]int64{"free_remaining": 958}

	require.NoError(t, RespondWithJSON(w, http.StatusOK, payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"free_remaining":958}`, w.Body.String())
}

func TestRespondWithJSON_Unencodable(t *testing.T) {
	w := httptest.NewRecorder()
	err := RespondWithJSON(w, http.StatusOK, map[string]interface{}{"ch": make(chan int)})
	assert.Error(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
}
