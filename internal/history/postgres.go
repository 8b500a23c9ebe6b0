package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/compresr/session-gateway/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS history_messages (
	seq             BIGSERIAL PRIMARY KEY,
	id              UUID        NOT NULL UNIQUE,
	credential      TEXT        NOT NULL,
	conversation_id TEXT        NOT NULL,
	tier            TEXT        NOT NULL,
	session_index   INTEGER     NOT NULL,
	model           TEXT        NOT NULL,
	role            TEXT        NOT NULL,
	content         TEXT        NOT NULL,
	tokens          INTEGER     NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_history_credential ON history_messages (credential, conversation_id);`

// PostgresRecorder stores turns in Postgres.
type PostgresRecorder struct {
	db    *pgxpool.Pool
	count TokenCounter
}

// NewPostgresRecorder creates the history table if missing.
func NewPostgresRecorder(ctx context.Context, db *pgxpool.Pool, count TokenCounter) (*PostgresRecorder, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create history table: %w", err)
	}
	return &PostgresRecorder{db: db, count: count}, nil
}

// PushMessage implements Recorder.
func (p *PostgresRecorder) PushMessage(ctx context.Context, key ContextKey, messages []Message) error {
	prepared := prepare(messages, p.count, time.Now())

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, m := range prepared {
		batch.Queue(`
			INSERT INTO history_messages
				(id, credential, conversation_id, tier, session_index, model, role, content, tokens, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			uuid.New(), key.Credential, key.ConversationID, string(key.Tier), key.SessionIndex,
			key.Model, string(m.Role), m.Content, m.Tokens, m.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}
	return tx.Commit(ctx)
}

// Conversations implements Reader.
func (p *PostgresRecorder) Conversations(ctx context.Context, credential, conversationID string) ([]Conversation, error) {
	query := `
		SELECT conversation_id, tier, session_index, model, role, content, tokens, created_at
		FROM history_messages
		WHERE credential = $1`
	args := []any{credential}
	if conversationID != "" {
		query += ` AND conversation_id = $2`
		args = append(args, conversationID)
	}
	query += ` ORDER BY seq`

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			r          row
			tier, role string
		)
		if err := rows.Scan(&r.key.ConversationID, &tier, &r.key.SessionIndex, &r.key.Model,
			&role, &r.msg.Content, &r.msg.Tokens, &r.msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		r.key.Credential = credential
		r.key.Tier = models.ParseTier(tier)
		r.msg.Role = Role(role)
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

// Close closes the pool.
func (p *PostgresRecorder) Close() error {
	p.db.Close()
	return nil
}

var _ Store = (*PostgresRecorder)(nil)
