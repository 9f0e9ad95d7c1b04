// Package apperr defines the error kinds shared by the dispatch, billing and
// payment paths. Every kind has a stable Code that is safe to show to clients.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the client-facing identifier of an error kind.
type Code string

const (
	CodeUnauthorized        Code = "unauthorized"
	CodeNotConfigured       Code = "not_configured"
	CodeDecryptionFailed    Code = "decryption_failed"
	CodeProviderError       Code = "provider_error"
	CodeEmptyResponse       Code = "empty_response"
	CodeBlocked             Code = "blocked"
	CodeTruncated           Code = "truncated"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeLogWriteError       Code = "log_write_error"
	CodeBadSignature        Code = "bad_signature"
	CodeMalformedPayload    Code = "malformed_payload"
	CodePersistence         Code = "persistence_error"
	CodeInvalidRequest      Code = "invalid_request"
	CodeNotFound            Code = "not_found"
	CodeInternal            Code = "internal_error"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotConfigured       = errors.New("credential not configured")
	ErrDecryptionFailed    = errors.New("stored credential could not be decrypted")
	ErrProviderError       = errors.New("provider error")
	ErrEmptyResponse       = errors.New("provider returned an empty response")
	ErrBlocked             = errors.New("response blocked by provider")
	ErrTruncated           = errors.New("response truncated by provider")
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrLogWriteError       = errors.New("usage log write failed")
	ErrBadSignature        = errors.New("invalid webhook signature")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrPersistence         = errors.New("persistence error")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNotFound            = errors.New("not found")
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrUnauthorized, CodeUnauthorized},
	{ErrNotConfigured, CodeNotConfigured},
	{ErrDecryptionFailed, CodeDecryptionFailed},
	{ErrProviderError, CodeProviderError},
	{ErrEmptyResponse, CodeEmptyResponse},
	{ErrBlocked, CodeBlocked},
	{ErrTruncated, CodeTruncated},
	{ErrInsufficientBalance, CodeInsufficientBalance},
	{ErrLogWriteError, CodeLogWriteError},
	{ErrBadSignature, CodeBadSignature},
	{ErrMalformedPayload, CodeMalformedPayload},
	{ErrPersistence, CodePersistence},
	{ErrInvalidRequest, CodeInvalidRequest},
	{ErrNotFound, CodeNotFound},
}

// CodeOf returns the code of the first known kind found in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// HTTPStatus maps an error onto the status code returned to clients.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeInvalidRequest, CodeBadSignature, CodeMalformedPayload:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInsufficientBalance:
		return http.StatusPaymentRequired
	case CodeNotConfigured, CodeDecryptionFailed:
		return http.StatusUnprocessableEntity
	case CodeProviderError, CodeEmptyResponse, CodeBlocked, CodeTruncated:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage is the remediation hint shown next to a failed slot.
func UserMessage(err error) string {
	switch CodeOf(err) {
	case CodeNotConfigured:
		return "No API key is configured for this provider. Add one in settings or switch to platform credits."
	case CodeDecryptionFailed:
		return "Your stored API key could not be read. Please re-enter it in settings."
	case CodeProviderError:
		var pe *ProviderError
		if errors.As(err, &pe) && pe.Message != "" {
			return fmt.Sprintf("The provider is unavailable: %s", pe.Message)
		}
		return "The provider is unavailable. Please try again later."
	case CodeEmptyResponse:
		return "The model returned an empty response."
	case CodeBlocked:
		return "The model declined to answer this prompt."
	case CodeTruncated:
		return "The model stopped before finishing its answer."
	case CodeInsufficientBalance:
		return "Your token balance is too low. Please top up to continue."
	case CodeUnauthorized:
		return "Please sign in again."
	default:
		return "Something went wrong."
	}
}

// ProviderError carries the provider's status and message for transport and API failures.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return ErrProviderError
}

// InsufficientBalanceError reports how much of a debit could be applied.
type InsufficientBalanceError struct {
	Requested int64
	Debited   int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient token balance: requested %d, debited %d", e.Requested, e.Debited)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
