package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"llm_fanout/internal/apperr"
	"llm_fanout/internal/models"
)

// ChatRequest is a normalized single-turn call carrying the slot's prior history.
type ChatRequest struct {
	APIKey   string           // resolved per call, never stored by the provider
	Model    string           // provider-specific model name
	Messages []models.Message // prior history followed by the new user prompt
}

// ResultKind discriminates the outcome of a provider call.
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultBlocked
	ResultTruncated
	ResultEmpty
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultBlocked:
		return "blocked"
	case ResultTruncated:
		return "truncated"
	case ResultEmpty:
		return "empty"
	default:
		return "error"
	}
}

// Result is the normalized outcome of a provider call. ResultSuccess carries
// the answer and ResultTruncated the partial text cut off at the output
// limit; every kind carries whatever usage the provider reported.
type Result struct {
	Kind         ResultKind
	Text         string
	InputTokens  int64
	OutputTokens int64

	Reason     string // finish or block reason as reported by the provider
	StatusCode int    // HTTP status for ResultError, when known
	Message    string // provider error message for ResultError

	ProviderLatency time.Duration
}

// Success reports whether the call produced an accepted answer.
func (r Result) Success() bool {
	return r.Kind == ResultSuccess
}

// TotalTokens returns input plus output tokens.
func (r Result) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

// Err converts a non-success result into an error of the matching kind.
func (r Result) Err(provider models.ProviderType) error {
	switch r.Kind {
	case ResultSuccess:
		return nil
	case ResultBlocked:
		return fmt.Errorf("%s: %w (%s)", provider, apperr.ErrBlocked, r.Reason)
	case ResultTruncated:
		return fmt.Errorf("%s: %w (%s)", provider, apperr.ErrTruncated, r.Reason)
	case ResultEmpty:
		return fmt.Errorf("%s: %w", provider, apperr.ErrEmptyResponse)
	default:
		return &apperr.ProviderError{Provider: string(provider), StatusCode: r.StatusCode, Message: r.Message}
	}
}

// accept classifies text that arrived with a normal finish: whitespace-only
// answers are rejected as empty.
func accept(text string, in, out int64) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Kind: ResultEmpty, InputTokens: in, OutputTokens: out}
	}
	return Result{Kind: ResultSuccess, Text: text, InputTokens: in, OutputTokens: out}
}

// errorResult builds a ResultError.
func errorResult(status int, message string) Result {
	return Result{Kind: ResultError, StatusCode: status, Message: message}
}

// Provider is implemented by each concrete LLM vendor adapter.
type Provider interface {
	// Type returns the provider type (openai, anthropic, gemini)
	Type() models.ProviderType

	// Chat sends the conversation and classifies the answer. Transport and
	// API failures are reported as ResultError, never as a Go error.
	Chat(ctx context.Context, req ChatRequest) Result

	// Close performs cleanup when the provider is no longer needed
	Close() error
}
