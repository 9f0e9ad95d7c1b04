package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxSlots is the number of parallel provider slots an interaction can hold.
const MaxSlots = 6

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is a single conversation entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the ordered message history of one slot.
type Conversation []Message

// Balanced reports whether the conversation alternates user/model starting
// with user and ending with a model answer. An empty conversation is balanced.
func (c Conversation) Balanced() bool {
	if len(c)%2 != 0 {
		return false
	}
	for i, m := range c {
		want := RoleUser
		if i%2 == 1 {
			want = RoleModel
		}
		if m.Role != want {
			return false
		}
	}
	return true
}

// Append returns a copy of the conversation extended with one full turn.
func (c Conversation) Append(prompt, answer string) Conversation {
	out := make(Conversation, 0, len(c)+2)
	out = append(out, c...)
	return append(out,
		Message{Role: RoleUser, Content: prompt},
		Message{Role: RoleModel, Content: answer},
	)
}

// LastAnswer returns the most recent model message, or "" when there is none.
func (c Conversation) LastAnswer() string {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == RoleModel {
			return c[i].Content
		}
	}
	return ""
}

//
// Interaction (interactions + interaction_slots tables)
//

// Slot is one provider/model column inside an interaction.
type Slot struct {
	InteractionID uuid.UUID    `db:"interaction_id" json:"-"`
	SlotNumber    int          `db:"slot_number" json:"slot_number"`
	Provider      ProviderType `db:"provider" json:"provider"`
	Model         string       `db:"model" json:"model"`
	Conversation  Conversation `db:"conversation" json:"conversation"`
	InputTokens   int64        `db:"input_tokens" json:"input_tokens"`
	OutputTokens  int64        `db:"output_tokens" json:"output_tokens"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// Interaction is a persisted multi-slot conversation owned by a single user.
type Interaction struct {
	ID            uuid.UUID `db:"id" json:"id"`
	OwnerID       string    `db:"owner_id" json:"owner_id"`
	InitialPrompt string    `db:"initial_prompt" json:"initial_prompt"`
	Title         *string   `db:"title" json:"title,omitempty"`
	Summary       *string   `db:"summary" json:"summary,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`

	Slots []Slot `db:"-" json:"slots"`
}

// SlotByNumber returns the slot with the given number, if present.
func (i *Interaction) SlotByNumber(n int) (*Slot, bool) {
	for idx := range i.Slots {
		if i.Slots[idx].SlotNumber == n {
			return &i.Slots[idx], true
		}
	}
	return nil, false
}

// SlotTurn is the successful result of one slot in a dispatch round.
type SlotTurn struct {
	SlotNumber   int
	Provider     ProviderType
	Model        string
	Prompt       string
	Answer       string
	InputTokens  int64
	OutputTokens int64
}
