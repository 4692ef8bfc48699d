package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

func (s *Store) AppendMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, domain.ErrNotFound)
	}

	c := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &c)
	return nil
}

// ListMessages returns the conversation's messages ascending by CreatedAt.
// The sort is stable, so equal timestamps keep insertion order.
func (s *Store) ListMessages(_ context.Context, conversationID domain.ConversationID) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[conversationID]
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		c := *m
		out = append(out, &c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
