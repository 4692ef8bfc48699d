package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// Store persists conversations and messages in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ConversationStore = (*Store)(nil)
	_ domain.MessageStore      = (*Store)(nil)
	_ domain.ExchangeStore     = (*Store)(nil)
)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations (user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	tokens_input INTEGER,
	tokens_output INTEGER
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at, seq);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ─────────────────────────────────────────
// ConversationStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		string(conv.ID), string(conv.UserID), conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return domain.StoreError("postgres CreateConversation", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id domain.ConversationID, owner domain.UserID) (*domain.Conversation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = $1 AND user_id = $2`,
		string(id), string(owner),
	)

	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.StoreError("postgres GetConversation", err)
	}
	return conv, nil
}

func (s *Store) ListConversationsByUser(ctx context.Context, owner domain.UserID, limit int) ([]*domain.Conversation, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
		 WHERE user_id = $1 ORDER BY updated_at DESC, created_at DESC LIMIT $2`,
		string(owner), lim,
	)
	if err != nil {
		return nil, domain.StoreError("postgres ListConversationsByUser", err)
	}
	defer rows.Close()

	out := []*domain.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, domain.StoreError("postgres ListConversationsByUser scan", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("postgres ListConversationsByUser", err)
	}
	return out, nil
}

// DeleteConversation removes the conversation; ON DELETE CASCADE takes its messages.
func (s *Store) DeleteConversation(ctx context.Context, id domain.ConversationID, owner domain.UserID) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1 AND user_id = $2`, string(id), string(owner))
	if err != nil {
		return domain.StoreError("postgres DeleteConversation", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, id domain.ConversationID, at time.Time) error {
	return touchConversation(ctx, s.pool, id, at)
}

func touchConversation(ctx context.Context, ex execer, id domain.ConversationID, at time.Time) error {
	ct, err := ex.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, string(id), at)
	if err != nil {
		return domain.StoreError("postgres TouchConversation", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ─────────────────────────────────────────
// MessageStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	return appendMessage(ctx, s.pool, msg)
}

func appendMessage(ctx context.Context, ex execer, msg *domain.Message) error {
	_, err := ex.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, created_at, tokens_input, tokens_output)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, string(msg.ID), string(msg.ConversationID), string(msg.Role), msg.Content, msg.CreatedAt, msg.TokensInput, msg.TokensOutput)
	if err != nil {
		return domain.StoreError("postgres AppendMessage", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]*domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, created_at, tokens_input, tokens_output
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`, string(conversationID))
	if err != nil {
		return nil, domain.StoreError("postgres ListMessages", err)
	}
	defer rows.Close()

	out := []*domain.Message{}
	for rows.Next() {
		var (
			id, role, content string
			createdAt         time.Time
			in, outTok        *int32
		)
		if err := rows.Scan(&id, &role, &content, &createdAt, &in, &outTok); err != nil {
			return nil, domain.StoreError("postgres ListMessages scan", err)
		}
		out = append(out, &domain.Message{
			ID:             domain.MessageID(id),
			ConversationID: conversationID,
			Role:           domain.Role(role),
			Content:        content,
			CreatedAt:      createdAt.UTC(),
			TokensInput:    intPtr(in),
			TokensOutput:   intPtr(outTok),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("postgres ListMessages", err)
	}
	return out, nil
}

// ─────────────────────────────────────────
// ExchangeStore implementation
// ─────────────────────────────────────────

type txWriter struct {
	tx pgx.Tx
}

func (w txWriter) AppendMessage(ctx context.Context, msg *domain.Message) error {
	return appendMessage(ctx, w.tx, msg)
}

func (w txWriter) TouchConversation(ctx context.Context, id domain.ConversationID, at time.Time) error {
	return touchConversation(ctx, w.tx, id, at)
}

// RunExchange runs fn inside one Postgres transaction.
func (s *Store) RunExchange(ctx context.Context, fn func(ctx context.Context, w domain.ExchangeWriter) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.StoreError("postgres RunExchange begin", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer tx.Rollback(ctx)

	if err := fn(ctx, txWriter{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.StoreError("postgres RunExchange commit", err)
	}
	return nil
}

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var (
		conv                 domain.Conversation
		id, userID           string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &userID, &conv.Title, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.ID = domain.ConversationID(id)
	conv.UserID = domain.UserID(userID)
	conv.CreatedAt = createdAt.UTC()
	conv.UpdatedAt = updatedAt.UTC()
	return &conv, nil
}

func intPtr(n *int32) *int {
	if n == nil {
		return nil
	}
	v := int(*n)
	return &v
}
