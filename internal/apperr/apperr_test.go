package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"sentinel", ErrNotConfigured, CodeNotConfigured},
		{"wrapped", fmt.Errorf("resolve: %w", ErrDecryptionFailed), CodeDecryptionFailed},
		{"provider error struct", &ProviderError{Provider: "openai", StatusCode: 500, Message: "boom"}, CodeProviderError},
		{"insufficient balance struct", &InsufficientBalanceError{Requested: 60, Debited: 40}, CodeInsufficientBalance},
		{"joined", errors.Join(ErrLogWriteError, ErrInsufficientBalance), CodeInsufficientBalance},
		{"unknown", errors.New("something else"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(ErrUnauthorized))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ErrBadSignature))
	assert.Equal(t, http.StatusPaymentRequired, HTTPStatus(ErrInsufficientBalance))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("load: %w", ErrNotFound)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrPersistence))
}

func TestUserMessage_DistinguishesRemediation(t *testing.T) {
	notConfigured := UserMessage(ErrNotConfigured)
	decryption := UserMessage(ErrDecryptionFailed)

	assert.NotEqual(t, notConfigured, decryption)
	assert.Contains(t, decryption, "re-enter")
	assert.Contains(t, UserMessage(&ProviderError{Provider: "anthropic", Message: "overloaded"}), "overloaded")
	assert.Contains(t, UserMessage(ErrInsufficientBalance), "top up")
}
