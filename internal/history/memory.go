package history

import (
	"context"
	"sync"
	"time"
)

// MemoryRecorder keeps turns in process memory.
type MemoryRecorder struct {
	count TokenCounter

	mu   sync.Mutex
	rows map[string][]row // credential -> rows in insertion order
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder(count TokenCounter) *MemoryRecorder {
	return &MemoryRecorder{count: count, rows: make(map[string][]row)}
}

// PushMessage implements Recorder.
func (m *MemoryRecorder) PushMessage(_ context.Context, key ContextKey, messages []Message) error {
	prepared := prepare(messages, m.count, time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range prepared {
		m.rows[key.Credential] = append(m.rows[key.Credential], row{key: key, msg: msg})
	}
	return nil
}

// Conversations implements Reader.
func (m *MemoryRecorder) Conversations(_ context.Context, credential, conversationID string) ([]Conversation, error) {
	m.mu.Lock()
	var selected []row
	for _, r := range m.rows[credential] {
		if conversationID == "" || r.key.ConversationID == conversationID {
			selected = append(selected, r)
		}
	}
	m.mu.Unlock()

	if conversationID != "" && len(selected) == 0 {
		return nil, ErrNoConversation
	}
	return group(selected), nil
}

// Close is a no-op.
func (m *MemoryRecorder) Close() error { return nil }

var _ Store = (*MemoryRecorder)(nil)
