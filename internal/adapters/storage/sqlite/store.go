package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// Store persists conversations and messages in a single SQLite file.
// Timestamps are stored as UTC unix nanoseconds so ORDER BY is exact.
type Store struct {
	db *sql.DB
}

var (
	_ domain.ConversationStore = (*Store)(nil)
	_ domain.MessageStore      = (*Store)(nil)
	_ domain.ExchangeStore     = (*Store)(nil)
)

// Open opens (or creates) the database at path, making sure the parent
// directory exists, and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversations_user_updated ON conversations(user_id, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			tokens_input INTEGER,
			tokens_output INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at, seq);
	`)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// ─────────────────────────────────────────
// ConversationStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		string(conv.ID), string(conv.UserID), conv.Title, toNanos(conv.CreatedAt), toNanos(conv.UpdatedAt),
	)
	if err != nil {
		return domain.StoreError("sqlite CreateConversation", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id domain.ConversationID, owner domain.UserID) (*domain.Conversation, error) {
	var (
		conv             domain.Conversation
		created, updated int64
		convID, userID   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?`,
		string(id), string(owner),
	).Scan(&convID, &userID, &conv.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.StoreError("sqlite GetConversation", err)
	}

	conv.ID = domain.ConversationID(convID)
	conv.UserID = domain.UserID(userID)
	conv.CreatedAt = fromNanos(created)
	conv.UpdatedAt = fromNanos(updated)
	return &conv, nil
}

func (s *Store) ListConversationsByUser(ctx context.Context, owner domain.UserID, limit int) ([]*domain.Conversation, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM conversations
		 WHERE user_id = ? ORDER BY updated_at DESC, created_at DESC LIMIT ?`,
		string(owner), limit,
	)
	if err != nil {
		return nil, domain.StoreError("sqlite ListConversationsByUser", err)
	}
	defer rows.Close()

	out := []*domain.Conversation{}
	for rows.Next() {
		var (
			conv             domain.Conversation
			created, updated int64
			convID, userID   string
		)
		if err := rows.Scan(&convID, &userID, &conv.Title, &created, &updated); err != nil {
			return nil, domain.StoreError("sqlite ListConversationsByUser scan", err)
		}
		conv.ID = domain.ConversationID(convID)
		conv.UserID = domain.UserID(userID)
		conv.CreatedAt = fromNanos(created)
		conv.UpdatedAt = fromNanos(updated)
		out = append(out, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("sqlite ListConversationsByUser", err)
	}
	return out, nil
}

// DeleteConversation removes the conversation; messages go with it through
// the foreign key cascade, and explicitly in case foreign keys are off.
func (s *Store) DeleteConversation(ctx context.Context, id domain.ConversationID, owner domain.UserID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreError("sqlite DeleteConversation begin", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND user_id = ?`, string(id), string(owner))
	if err != nil {
		return domain.StoreError("sqlite DeleteConversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, string(id)); err != nil {
		return domain.StoreError("sqlite DeleteConversation messages", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.StoreError("sqlite DeleteConversation commit", err)
	}
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, id domain.ConversationID, at time.Time) error {
	return touchConversation(ctx, s.db, id, at)
}

func touchConversation(ctx context.Context, ex execer, id domain.ConversationID, at time.Time) error {
	res, err := ex.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, toNanos(at), string(id))
	if err != nil {
		return domain.StoreError("sqlite TouchConversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ─────────────────────────────────────────
// MessageStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	return appendMessage(ctx, s.db, msg)
}

func appendMessage(ctx context.Context, ex execer, msg *domain.Message) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at, tokens_input, tokens_output)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(msg.ID), string(msg.ConversationID), string(msg.Role), msg.Content, toNanos(msg.CreatedAt),
		nullInt(msg.TokensInput), nullInt(msg.TokensOutput),
	)
	if err != nil {
		return domain.StoreError("sqlite AppendMessage", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at, tokens_input, tokens_output FROM messages
		 WHERE conversation_id = ? ORDER BY created_at ASC, seq ASC`,
		string(conversationID),
	)
	if err != nil {
		return nil, domain.StoreError("sqlite ListMessages", err)
	}
	defer rows.Close()

	out := []*domain.Message{}
	for rows.Next() {
		var (
			id, role, content string
			created           int64
			in, outTok        sql.NullInt64
		)
		if err := rows.Scan(&id, &role, &content, &created, &in, &outTok); err != nil {
			return nil, domain.StoreError("sqlite ListMessages scan", err)
		}
		out = append(out, &domain.Message{
			ID:             domain.MessageID(id),
			ConversationID: conversationID,
			Role:           domain.Role(role),
			Content:        content,
			CreatedAt:      fromNanos(created),
			TokensInput:    intPtr(in),
			TokensOutput:   intPtr(outTok),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StoreError("sqlite ListMessages", err)
	}
	return out, nil
}

// ─────────────────────────────────────────
// ExchangeStore implementation
// ─────────────────────────────────────────

type txWriter struct {
	tx *sql.Tx
}

func (w txWriter) AppendMessage(ctx context.Context, msg *domain.Message) error {
	return appendMessage(ctx, w.tx, msg)
}

func (w txWriter) TouchConversation(ctx context.Context, id domain.ConversationID, at time.Time) error {
	return touchConversation(ctx, w.tx, id, at)
}

// RunExchange runs fn inside one SQLite transaction.
func (s *Store) RunExchange(ctx context.Context, fn func(ctx context.Context, w domain.ExchangeWriter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StoreError("sqlite RunExchange begin", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, txWriter{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.StoreError("sqlite RunExchange commit", err)
	}
	return nil
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
