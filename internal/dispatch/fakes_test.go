package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"llm_fanout/internal/billing"
	"llm_fanout/internal/logging"
	"llm_fanout/internal/models"
	"llm_fanout/internal/providers"
	"llm_fanout/internal/storage"
	"llm_fanout/internal/vault"
)

// fakeProvider answers with a fixed function and counts calls
type fakeProvider struct {
	kind  models.ProviderType
	chat  func(ctx context.Context, req providers.ChatRequest) providers.Result
	calls atomic.Int32

	mu       sync.Mutex
	requests []providers.ChatRequest
}

func (p *fakeProvider) Type() models.ProviderType { return p.kind }

func (p *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) providers.Result {
	p.calls.Add(1)
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return p.chat(ctx, req)
}

func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) lastRequest() providers.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func answering(kind models.ProviderType, text string, in, out int64) *fakeProvider {
	return &fakeProvider{
		kind: kind,
		chat: func(ctx context.Context, req providers.ChatRequest) providers.Result {
			return providers.Result{Kind: providers.ResultSuccess, Text: text, InputTokens: in, OutputTokens: out}
		},
	}
}

func failing(kind models.ProviderType, status int, message string) *fakeProvider {
	return &fakeProvider{
		kind: kind,
		chat: func(ctx context.Context, req providers.ChatRequest) providers.Result {
			return providers.Result{Kind: providers.ResultError, StatusCode: status, Message: message}
		},
	}
}

// fakeCredentials resolves every provider to the same key type
type fakeCredentials struct {
	keyType  models.KeyType
	errs     map[models.ProviderType]error
	settings *models.UserSettings
}

func (f *fakeCredentials) Resolve(ctx context.Context, userID string, provider models.ProviderType) (vault.Credential, error) {
	if err := f.errs[provider]; err != nil {
		return vault.Credential{}, err
	}
	return vault.Credential{APIKey: "key-" + string(provider), KeyType: f.keyType}, nil
}

func (f *fakeCredentials) Settings(ctx context.Context, userID string) (*models.UserSettings, error) {
	if f.settings != nil {
		return f.settings, nil
	}
	return models.DefaultUserSettings(userID), nil
}

// memoryInteractions is an owner-scoped in-memory InteractionStore
type memoryInteractions struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*models.Interaction
	createErr error
	appended  [][]models.SlotTurn
}

func newMemoryInteractions() *memoryInteractions {
	return &memoryInteractions{rows: make(map[uuid.UUID]*models.Interaction)}
}

func (m *memoryInteractions) Create(ctx context.Context, interaction *models.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, s := range interaction.Slots {
		if !s.Conversation.Balanced() {
			return storage.ErrInvalidTurn
		}
	}
	m.rows[interaction.ID] = interaction
	return nil
}

func (m *memoryInteractions) GetByID(ctx context.Context, ownerID string, id uuid.UUID) (*models.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.rows[id]
	if !ok || i.OwnerID != ownerID {
		return nil, storage.ErrInteractionNotFound
	}
	cp := *i
	cp.Slots = append([]models.Slot(nil), i.Slots...)
	return &cp, nil
}

func (m *memoryInteractions) AppendTurns(ctx context.Context, ownerID string, id uuid.UUID, turns []models.SlotTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.rows[id]
	if !ok || i.OwnerID != ownerID {
		return storage.ErrInteractionNotFound
	}
	m.appended = append(m.appended, turns)
	for _, t := range turns {
		if slot, ok := i.SlotByNumber(t.SlotNumber); ok {
			slot.Conversation = slot.Conversation.Append(t.Prompt, t.Answer)
			slot.InputTokens += t.InputTokens
			slot.OutputTokens += t.OutputTokens
			continue
		}
		i.Slots = append(i.Slots, models.Slot{
			InteractionID: id,
			SlotNumber:    t.SlotNumber,
			Provider:      t.Provider,
			Model:         t.Model,
			Conversation:  models.Conversation(nil).Append(t.Prompt, t.Answer),
			InputTokens:   t.InputTokens,
			OutputTokens:  t.OutputTokens,
		})
	}
	return nil
}

func (m *memoryInteractions) SetSummary(ctx context.Context, ownerID string, id uuid.UUID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.rows[id]
	if !ok || i.OwnerID != ownerID {
		return storage.ErrInteractionNotFound
	}
	i.Summary = &summary
	return nil
}

type memoryUsageLog struct {
	mu      sync.Mutex
	entries []*models.UsageLogEntry
}

func (m *memoryUsageLog) Append(ctx context.Context, entry *models.UsageLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

type capturingSink struct {
	mu      sync.Mutex
	records []logging.Record
}

func (s *capturingSink) Enqueue(rec *logging.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

// harness wires a coordinator over fakes and a miniredis-backed ledger
type harness struct {
	coordinator  *Coordinator
	registry     *providers.Registry
	credentials  *fakeCredentials
	interactions *memoryInteractions
	ledger       *billing.Ledger
	usage        *memoryUsageLog
	sink         *capturingSink
}

func newHarness(t *testing.T, allowance int64, cfg Config, provs ...*fakeProvider) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	registry := providers.NewRegistry()
	for _, p := range provs {
		registry.Register(p)
	}

	h := &harness{
		registry:     registry,
		credentials:  &fakeCredentials{keyType: models.KeyTypeProvided},
		interactions: newMemoryInteractions(),
		usage:        &memoryUsageLog{},
		sink:         &capturingSink{},
	}
	h.ledger = billing.NewLedger(billing.NewRedisBalanceStore(client, allowance), h.usage)
	h.coordinator = NewCoordinator(h.credentials, registry, h.ledger, h.interactions, h.sink, cfg)
	return h
}

func threeSlots() []SlotConfig {
	return []SlotConfig{
		{SlotNumber: 1, Model: models.ModelRef{Provider: models.ProviderOpenAI, Model: "gpt-4o-mini"}},
		{SlotNumber: 2, Model: models.ModelRef{Provider: models.ProviderAnthropic, Model: "claude-3-5-haiku-latest"}},
		{SlotNumber: 3, Model: models.ModelRef{Provider: models.ProviderGemini, Model: "gemini-1.5-flash"}},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OutputReserve = 16
	return cfg
}
