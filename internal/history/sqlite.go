package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/compresr/session-gateway/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS history_messages (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT    NOT NULL UNIQUE,
	credential      TEXT    NOT NULL,
	conversation_id TEXT    NOT NULL,
	tier            TEXT    NOT NULL,
	session_index   INTEGER NOT NULL,
	model           TEXT    NOT NULL,
	role            TEXT    NOT NULL,
	content         TEXT    NOT NULL,
	tokens          INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_credential ON history_messages (credential, conversation_id);`

// SQLiteRecorder stores turns in SQLite.
type SQLiteRecorder struct {
	db    *sql.DB
	count TokenCounter
}

// NewSQLiteRecorder creates the history table if missing.
func NewSQLiteRecorder(ctx context.Context, db *sql.DB, count TokenCounter) (*SQLiteRecorder, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("create history table: %w", err)
	}
	return &SQLiteRecorder{db: db, count: count}, nil
}

// PushMessage implements Recorder. All messages of a turn commit together.
func (s *SQLiteRecorder) PushMessage(ctx context.Context, key ContextKey, messages []Message) error {
	prepared := prepare(messages, s.count, time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range prepared {
		_, err := tx.ExecContext(ctx, `
INSERT INTO history_messages
	(id, credential, conversation_id, tier, session_index, model, role, content, tokens, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), key.Credential, key.ConversationID, string(key.Tier), key.SessionIndex,
			key.Model, string(m.Role), m.Content, m.Tokens, m.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

// Conversations implements Reader.
func (s *SQLiteRecorder) Conversations(ctx context.Context, credential, conversationID string) ([]Conversation, error) {
	query := `SELECT conversation_id, tier, session_index, model, role, content, tokens, created_at
FROM history_messages WHERE credential = ?`
	args := []any{credential}
	if conversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			r          row
			tier, role string
			created    int64
		)
		if err := rows.Scan(&r.key.ConversationID, &tier, &r.key.SessionIndex, &r.key.Model,
			&role, &r.msg.Content, &r.msg.Tokens, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.key.Credential = credential
		r.key.Tier = models.ParseTier(tier)
		r.msg.Role = Role(role)
		r.msg.CreatedAt = time.UnixMilli(created)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if conversationID != "" && len(out) == 0 {
		return nil, ErrNoConversation
	}
	return group(out), nil
}

// Close closes the database.
func (s *SQLiteRecorder) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteRecorder)(nil)
