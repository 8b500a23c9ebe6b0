// Package history records completed conversation turns.
//
// DESIGN: A turn is pushed once, after the caller already received the full
// streamed answer. Backends:
//   - MemoryRecorder:   process memory (default, tests)
//   - SQLiteRecorder:   database/sql + modernc sqlite
//   - PostgresRecorder: pgx pool
//
// Every backend also implements Reader for the conversation audit endpoint.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/compresr/session-gateway/internal/models"
)

// ErrNoConversation is returned when a requested conversation has no turns.
var ErrNoConversation = errors.New("history: conversation not found")

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContextKey identifies where a turn belongs.
type ContextKey struct {
	Tier           models.Tier `json:"tier"`
	SessionIndex   int         `json:"session_index"`
	Credential     string      `json:"-"`
	ConversationID string      `json:"conversation_id"`
	Model          string      `json:"model"`
}

// Message is one side of a turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation groups the recorded messages of one conversation id.
type Conversation struct {
	ConversationID string      `json:"conversation_id"`
	Tier           models.Tier `json:"tier"`
	SessionIndex   int         `json:"session_index"`
	Model          string      `json:"model"`
	Messages       []Message   `json:"messages"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Recorder appends turns.
type Recorder interface {
	PushMessage(ctx context.Context, key ContextKey, messages []Message) error
}

// Reader lists recorded conversations for a credential. An empty
// conversationID returns all of them, oldest first.
type Reader interface {
	Conversations(ctx context.Context, credential, conversationID string) ([]Conversation, error)
}

// Store is a full history backend.
type Store interface {
	Recorder
	Reader
	Close() error
}

// Turn builds the user/assistant pair for one completed exchange.
func Turn(user, assistant string) []Message {
	return []Message{
		{Role: RoleUser, Content: user},
		{Role: RoleAssistant, Content: assistant},
	}
}

// prepare stamps token counts and timestamps on a copy of msgs.
func prepare(msgs []Message, count TokenCounter, now time.Time) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.Tokens == 0 && count != nil {
			m.Tokens = count(m.Content)
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		out[i] = m
	}
	return out
}

// row is one stored message with its key, used to regroup query results.
type row struct {
	key ContextKey
	msg Message
}

// group folds rows (already in insertion order) into conversations.
func group(rows []row) []Conversation {
	var out []Conversation
	index := make(map[string]int)
	for _, r := range rows {
		i, ok := index[r.key.ConversationID]
		if !ok {
			i = len(out)
			index[r.key.ConversationID] = i
			out = append(out, Conversation{
				ConversationID: r.key.ConversationID,
				Tier:           r.key.Tier,
				SessionIndex:   r.key.SessionIndex,
				Model:          r.key.Model,
			})
		}
		out[i].Messages = append(out[i].Messages, r.msg)
		if r.msg.CreatedAt.After(out[i].UpdatedAt) {
			out[i].UpdatedAt = r.msg.CreatedAt
		}
	}
	return out
}
