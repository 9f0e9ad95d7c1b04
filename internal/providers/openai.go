package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"llm_fanout/internal/models"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAITimeout        = 120 * time.Second
)

// OpenAIConfig configures the OpenAI adapter
type OpenAIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// OpenAIProvider implements the Provider interface for OpenAI chat completions
type OpenAIProvider struct {
	auth    HeaderAuth
	client  *http.Client
	baseURL string
}

// NewOpenAIProvider creates a new OpenAI provider instance
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := openAIDefaultBaseURL
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = openAITimeout
	}

	return &OpenAIProvider{
		auth:    NewHeaderAuth("Authorization", "Bearer "),
		client:  newHTTPClient(timeout),
		baseURL: baseURL,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Type returns the provider type
func (p *OpenAIProvider) Type() models.ProviderType {
	return models.ProviderOpenAI
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// openAIRole maps conversation roles onto the chat completions vocabulary.
func openAIRole(r models.Role) string {
	if r == models.RoleModel {
		return "assistant"
	}
	return "user"
}

// Chat sends a chat completion request to OpenAI
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) Result {
	start := time.Now()

	payload := openAIRequest{Model: req.Model, Messages: make([]openAIMessage, 0, len(req.Messages))}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, openAIMessage{Role: openAIRole(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errorResult(0, fmt.Sprintf("failed to marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return errorResult(0, fmt.Sprintf("failed to create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := p.auth.Apply(httpReq, req.APIKey); err != nil {
		return errorResult(0, err.Error())
	}

	status, respBody, err := doRequest(p.client, httpReq)
	if err != nil {
		return withLatency(transportError(err), start)
	}
	if status >= http.StatusBadRequest {
		return withLatency(errorResult(status, extractErrorMessage(respBody, status)), start)
	}

	return withLatency(classifyOpenAI(respBody), start)
}

func classifyOpenAI(body []byte) Result {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return errorResult(http.StatusOK, fmt.Sprintf("failed to decode response: %v", err))
	}

	var in, out int64
	if resp.Usage != nil {
		in, out = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}

	if len(resp.Choices) == 0 {
		return Result{Kind: ResultEmpty, InputTokens: in, OutputTokens: out}
	}

	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return Result{Kind: ResultBlocked, Reason: choice.FinishReason, InputTokens: in, OutputTokens: out}
	}
	if choice.Message.Refusal != nil && strings.TrimSpace(*choice.Message.Refusal) != "" {
		return Result{Kind: ResultBlocked, Reason: "refusal", InputTokens: in, OutputTokens: out}
	}

	text := ""
	if choice.Message.Content != nil {
		text = *choice.Message.Content
	}
	if choice.FinishReason == "length" {
		return Result{Kind: ResultTruncated, Text: text, Reason: choice.FinishReason, InputTokens: in, OutputTokens: out}
	}
	return accept(text, in, out)
}

// Close cleans up resources
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// doRequest performs the call and reads the whole body
func doRequest(client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// transportError reports network failures and deadline expiry as ResultError.
func transportError(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return errorResult(http.StatusGatewayTimeout, "request timed out")
	}
	if errors.Is(err, context.Canceled) {
		return errorResult(0, "request cancelled")
	}
	return errorResult(0, fmt.Sprintf("request failed: %v", err))
}

// extractErrorMessage reads {"error":{"message":...}}, which both OpenAI and Anthropic use.
func extractErrorMessage(body []byte, status int) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		return text
	}
	return http.StatusText(status)
}

func withLatency(r Result, start time.Time) Result {
	r.ProviderLatency = time.Since(start)
	return r
}
