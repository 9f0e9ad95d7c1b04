package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/option"

	"llm_fanout/internal/models"
)

// chatSession is the part of *genai.ChatSession the adapter depends on.
type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// sessionFactory opens a chat session seeded with history. The returned
// closer releases the underlying client.
type sessionFactory func(ctx context.Context, apiKey, model string, history []*genai.Content) (chatSession, func() error, error)

// GeminiConfig configures the Gemini adapter
type GeminiConfig struct {
	MaxOutputTokens int32
}

// GeminiProvider implements the Provider interface on top of the Gemini SDK.
// A client is created per call because the API key differs per user.
type GeminiProvider struct {
	newSession sessionFactory
}

// NewGeminiProvider creates a new Gemini provider instance
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	return &GeminiProvider{newSession: sdkSessionFactory(cfg)}
}

func sdkSessionFactory(cfg GeminiConfig) sessionFactory {
	return func(ctx context.Context, apiKey, model string, history []*genai.Content) (chatSession, func() error, error) {
		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}

		gm := client.GenerativeModel(model)
		if cfg.MaxOutputTokens > 0 {
			gm.SetMaxOutputTokens(cfg.MaxOutputTokens)
		}
		cs := gm.StartChat()
		cs.History = history

		return cs, client.Close, nil
	}
}

// Type returns the provider type
func (p *GeminiProvider) Type() models.ProviderType {
	return models.ProviderGemini
}

// Chat sends the prompt through a chat session seeded with the slot history
func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) Result {
	start := time.Now()

	if req.APIKey == "" {
		return errorResult(0, "API key is required")
	}
	if len(req.Messages) == 0 {
		return errorResult(0, "no messages to send")
	}

	prompt := req.Messages[len(req.Messages)-1]
	history := make([]*genai.Content, 0, len(req.Messages)-1)
	for _, m := range req.Messages[:len(req.Messages)-1] {
		history = append(history, &genai.Content{
			Role:  string(m.Role), // user/model are native Gemini roles
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	session, closeFn, err := p.newSession(ctx, req.APIKey, req.Model, history)
	if err != nil {
		return withLatency(errorResult(0, err.Error()), start)
	}
	defer closeFn()

	resp, err := session.SendMessage(ctx, genai.Text(prompt.Content))
	return withLatency(classifyGemini(resp, err), start)
}

func classifyGemini(resp *genai.GenerateContentResponse, err error) Result {
	if err != nil {
		// The SDK turns a blocked prompt and a SAFETY or RECITATION candidate
		// into a BlockedError with a nil response, so no usage reaches us and
		// a blocked Gemini call is never settled.
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return Result{Kind: ResultBlocked, Reason: blockedReason(blocked)}
		}
		return geminiError(err)
	}
	if resp == nil {
		return Result{Kind: ResultEmpty}
	}

	var in, out int64
	if resp.UsageMetadata != nil {
		in = int64(resp.UsageMetadata.PromptTokenCount)
		out = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 {
		return Result{Kind: ResultEmpty, InputTokens: in, OutputTokens: out}
	}

	candidate := resp.Candidates[0]
	text := candidateText(candidate)
	if candidate.FinishReason == genai.FinishReasonMaxTokens {
		return Result{Kind: ResultTruncated, Text: text, Reason: candidate.FinishReason.String(), InputTokens: in, OutputTokens: out}
	}
	return accept(text, in, out)
}

func candidateText(c *genai.Candidate) string {
	if c == nil || c.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range c.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

func blockedReason(b *genai.BlockedError) string {
	if b.PromptFeedback != nil {
		return b.PromptFeedback.BlockReason.String()
	}
	if b.Candidate != nil {
		return b.Candidate.FinishReason.String()
	}
	return "blocked"
}

func geminiError(err error) Result {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transportError(err)
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPCode()
		if status <= 0 {
			status = http.StatusBadGateway
		}
		msg := apiErr.Reason()
		if msg == "" {
			msg = apiErr.Error()
		}
		return errorResult(status, msg)
	}

	return errorResult(0, err.Error())
}

// Close cleans up resources
func (p *GeminiProvider) Close() error {
	return nil
}
