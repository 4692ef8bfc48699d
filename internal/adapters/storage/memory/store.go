package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// Store is an in-memory implementation of the conversation and message stores.
// It is NOT persistent and is only suitable for development / local mode.
type Store struct {
	mu            sync.RWMutex
	conversations map[domain.ConversationID]*domain.Conversation
	messages      map[domain.ConversationID][]*domain.Message
}

var (
	_ domain.ConversationStore = (*Store)(nil)
	_ domain.MessageStore      = (*Store)(nil)
	_ domain.ExchangeStore     = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		conversations: make(map[domain.ConversationID]*domain.Conversation),
		messages:      make(map[domain.ConversationID][]*domain.Message),
	}
}

// RunExchange stages the writes made by fn and applies them under one lock
// only if fn succeeds and every staged write is valid.
func (s *Store) RunExchange(
	ctx context.Context,
	fn func(ctx context.Context, w domain.ExchangeWriter) error,
) error {
	tx := &stagedTx{}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range tx.messages {
		if _, ok := s.conversations[msg.ConversationID]; !ok {
			return fmt.Errorf("memory RunExchange: conversation %s: %w", msg.ConversationID, domain.ErrNotFound)
		}
	}
	for _, t := range tx.touches {
		if _, ok := s.conversations[t.id]; !ok {
			return fmt.Errorf("memory RunExchange: conversation %s: %w", t.id, domain.ErrNotFound)
		}
	}

	for _, msg := range tx.messages {
		s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	}
	for _, t := range tx.touches {
		s.touchLocked(t.id, t.at)
	}
	return nil
}

type touch struct {
	id domain.ConversationID
	at time.Time
}

type stagedTx struct {
	messages []*domain.Message
	touches  []touch
}

func (tx *stagedTx) AppendMessage(_ context.Context, msg *domain.Message) error {
	c := *msg
	tx.messages = append(tx.messages, &c)
	return nil
}

func (tx *stagedTx) TouchConversation(_ context.Context, id domain.ConversationID, at time.Time) error {
	tx.touches = append(tx.touches, touch{id: id, at: at})
	return nil
}
