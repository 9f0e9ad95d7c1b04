package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"llm_fanout/internal/models"
)

const (
	anthropicDefaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// AnthropicConfig configures the Anthropic adapter
type AnthropicConfig struct {
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// AnthropicProvider implements the Provider interface for the Anthropic Messages API
type AnthropicProvider struct {
	auth      HeaderAuth
	client    *http.Client
	baseURL   string
	maxTokens int
}

// NewAnthropicProvider creates a new Anthropic provider instance
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	baseURL := anthropicDefaultBaseURL
	if cfg.BaseURL != "" {
		baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = openAITimeout
	}

	return &AnthropicProvider{
		auth:      NewHeaderAuth("x-api-key", ""),
		client:    newHTTPClient(timeout),
		baseURL:   baseURL,
		maxTokens: maxTokens,
	}
}

// Type returns the provider type
func (p *AnthropicProvider) Type() models.ProviderType {
	return models.ProviderAnthropic
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func anthropicRole(r models.Role) string {
	if r == models.RoleModel {
		return "assistant"
	}
	return "user"
}

// Chat sends a messages request to Anthropic
func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) Result {
	start := time.Now()

	payload := anthropicRequest{
		Model:     req.Model,
		MaxTokens: p.maxTokens,
		Messages:  make([]anthropicMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, anthropicMessage{Role: anthropicRole(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errorResult(0, fmt.Sprintf("failed to marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return errorResult(0, fmt.Sprintf("failed to create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
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

	return withLatency(classifyAnthropic(respBody), start)
}

func classifyAnthropic(body []byte) Result {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return errorResult(http.StatusOK, fmt.Sprintf("failed to decode response: %v", err))
	}

	var in, out int64
	if resp.Usage != nil {
		in, out = resp.Usage.InputTokens, resp.Usage.OutputTokens
	}

	if resp.StopReason == "refusal" {
		return Result{Kind: ResultBlocked, Reason: resp.StopReason, InputTokens: in, OutputTokens: out}
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if resp.StopReason == "max_tokens" {
		return Result{Kind: ResultTruncated, Text: sb.String(), Reason: resp.StopReason, InputTokens: in, OutputTokens: out}
	}
	return accept(sb.String(), in, out)
}

// Close cleans up resources
func (p *AnthropicProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
