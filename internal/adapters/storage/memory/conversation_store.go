package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

func (s *Store) CreateConversation(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return errors.New("conversation already exists")
	}

	c := *conv
	s.conversations[conv.ID] = &c
	return nil
}

func (s *Store) GetConversation(_ context.Context, id domain.ConversationID, owner domain.UserID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok || conv.UserID != owner {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}

	c := *conv
	return &c, nil
}

// ListConversationsByUser returns the user's conversations, most recently updated first.
func (s *Store) ListConversationsByUser(_ context.Context, owner domain.UserID, limit int) ([]*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Conversation{}
	for _, conv := range s.conversations {
		if conv.UserID == owner {
			c := *conv
			result = append(result, &c)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DeleteConversation removes the conversation and all of its messages.
func (s *Store) DeleteConversation(_ context.Context, id domain.ConversationID, owner domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok || conv.UserID != owner {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}

	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) TouchConversation(_ context.Context, id domain.ConversationID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	s.touchLocked(id, at)
	return nil
}

func (s *Store) touchLocked(id domain.ConversationID, at time.Time) {
	c := *s.conversations[id]
	c.UpdatedAt = at
	s.conversations[id] = &c
}
