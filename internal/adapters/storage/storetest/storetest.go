// Package storetest holds the behavior every storage adapter must share.
// Adapter test files call Run with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// Store is the full surface a storage adapter exposes.
type Store interface {
	domain.ConversationStore
	domain.MessageStore
	domain.ExchangeStore
}

// Run executes the shared suite against stores built by newStore.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("GetConversationScopedByOwner", func(t *testing.T) { testGetScopedByOwner(t, newStore(t)) })
	t.Run("ListMessagesEmpty", func(t *testing.T) { testListMessagesEmpty(t, newStore(t)) })
	t.Run("ListMessagesOrder", func(t *testing.T) { testListMessagesOrder(t, newStore(t)) })
	t.Run("TokenCountsRoundTrip", func(t *testing.T) { testTokenCounts(t, newStore(t)) })
	t.Run("TouchConversation", func(t *testing.T) { testTouch(t, newStore(t)) })
	t.Run("RunExchangeCommits", func(t *testing.T) { testRunExchangeCommits(t, newStore(t)) })
	t.Run("RunExchangeRollsBackOnError", func(t *testing.T) { testRunExchangeRollsBack(t, newStore(t)) })
	t.Run("RunExchangeRollsBackOnMissingConversation", func(t *testing.T) { testRunExchangeMissingConversation(t, newStore(t)) })
	t.Run("ListConversationsByUser", func(t *testing.T) { testListConversations(t, newStore(t)) })
	t.Run("DeleteConversationCascades", func(t *testing.T) { testDelete(t, newStore(t)) })
}

// Now is a store-friendly timestamp: UTC at microsecond precision, which every
// backend can hold without rounding.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newConversation(t *testing.T, s Store, owner domain.UserID, at time.Time) *domain.Conversation {
	t.Helper()
	conv := &domain.Conversation{
		ID:        domain.ConversationID(uuid.NewString()),
		UserID:    owner,
		Title:     "Test conversation",
		CreatedAt: at,
		UpdatedAt: at,
	}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	return conv
}

func newMessage(convID domain.ConversationID, role domain.Role, content string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:             domain.MessageID(uuid.NewString()),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		CreatedAt:      at,
	}
}

func testGetScopedByOwner(t *testing.T, s Store) {
	ctx := context.Background()
	conv := newConversation(t, s, "alice", Now())

	got, err := s.GetConversation(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, conv.Title, got.Title)
	assert.True(t, conv.CreatedAt.Equal(got.CreatedAt))

	_, err = s.GetConversation(ctx, conv.ID, "mallory")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "other owner: %v", err)

	_, err = s.GetConversation(ctx, domain.ConversationID(uuid.NewString()), "alice")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "missing: %v", err)
}

func testListMessagesEmpty(t *testing.T, s Store) {
	conv := newConversation(t, s, "alice", Now())

	msgs, err := s.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func testListMessagesOrder(t *testing.T, s Store) {
	ctx := context.Background()
	base := Now()
	conv := newConversation(t, s, "alice", base)

	// Two messages share a timestamp; they must come back in insertion order.
	require.NoError(t, s.AppendMessage(ctx, newMessage(conv.ID, domain.RoleUser, "first", base.Add(time.Second))))
	require.NoError(t, s.AppendMessage(ctx, newMessage(conv.ID, domain.RoleAssistant, "second", base.Add(time.Second))))
	require.NoError(t, s.AppendMessage(ctx, newMessage(conv.ID, domain.RoleUser, "third", base.Add(2*time.Second))))

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "third", msgs[2].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
}

func testTokenCounts(t *testing.T, s Store) {
	ctx := context.Background()
	conv := newConversation(t, s, "alice", Now())

	at := Now()
	user := newMessage(conv.ID, domain.RoleUser, "ask", at)
	in, out := 120, 48
	assistant := newMessage(conv.ID, domain.RoleAssistant, "reply", at.Add(time.Microsecond))
	assistant.TokensInput = &in
	assistant.TokensOutput = &out

	require.NoError(t, s.AppendMessage(ctx, user))
	require.NoError(t, s.AppendMessage(ctx, assistant))

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Nil(t, msgs[0].TokensInput)
	assert.Nil(t, msgs[0].TokensOutput)
	require.NotNil(t, msgs[1].TokensInput)
	require.NotNil(t, msgs[1].TokensOutput)
	assert.Equal(t, 120, *msgs[1].TokensInput)
	assert.Equal(t, 48, *msgs[1].TokensOutput)
	assert.Equal(t, user.ID, msgs[0].ID)
	assert.Equal(t, assistant.ID, msgs[1].ID)
}

func testTouch(t *testing.T, s Store) {
	ctx := context.Background()
	base := Now()
	conv := newConversation(t, s, "alice", base)

	later := base.Add(time.Minute)
	require.NoError(t, s.TouchConversation(ctx, conv.ID, later))

	got, err := s.GetConversation(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.True(t, later.Equal(got.UpdatedAt), "updated_at %v, want %v", got.UpdatedAt, later)
	assert.True(t, base.Equal(got.CreatedAt))

	err = s.TouchConversation(ctx, domain.ConversationID(uuid.NewString()), later)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "missing: %v", err)
}

func testRunExchangeCommits(t *testing.T, s Store) {
	ctx := context.Background()
	base := Now()
	conv := newConversation(t, s, "alice", base)
	done := base.Add(3 * time.Second)

	err := s.RunExchange(ctx, func(ctx context.Context, w domain.ExchangeWriter) error {
		if err := w.AppendMessage(ctx, newMessage(conv.ID, domain.RoleUser, "hi", base.Add(time.Second))); err != nil {
			return err
		}
		if err := w.AppendMessage(ctx, newMessage(conv.ID, domain.RoleAssistant, "hello", done)); err != nil {
			return err
		}
		return w.TouchConversation(ctx, conv.ID, done)
	})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)

	got, err := s.GetConversation(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.True(t, done.Equal(got.UpdatedAt))
}

func testRunExchangeRollsBack(t *testing.T, s Store) {
	ctx := context.Background()
	base := Now()
	conv := newConversation(t, s, "alice", base)
	boom := errors.New("boom")

	err := s.RunExchange(ctx, func(ctx context.Context, w domain.ExchangeWriter) error {
		if err := w.AppendMessage(ctx, newMessage(conv.ID, domain.RoleUser, "hi", base.Add(time.Second))); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom), "got %v", err)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	got, err := s.GetConversation(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.True(t, base.Equal(got.UpdatedAt))
}

func testRunExchangeMissingConversation(t *testing.T, s Store) {
	ctx := context.Background()
	conv := newConversation(t, s, "alice", Now())
	missing := domain.ConversationID(uuid.NewString())

	err := s.RunExchange(ctx, func(ctx context.Context, w domain.ExchangeWriter) error {
		if err := w.AppendMessage(ctx, newMessage(conv.ID, domain.RoleUser, "hi", Now())); err != nil {
			return err
		}
		return w.TouchConversation(ctx, missing, Now())
	})
	require.Error(t, err)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func testListConversations(t *testing.T, s Store) {
	ctx := context.Background()
	base := Now()

	older := newConversation(t, s, "alice", base)
	newer := newConversation(t, s, "alice", base.Add(time.Second))
	newConversation(t, s, "bob", base.Add(2*time.Second))

	// Touching the older one moves it to the top.
	require.NoError(t, s.TouchConversation(ctx, older.ID, base.Add(time.Minute)))

	convs, err := s.ListConversationsByUser(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, older.ID, convs[0].ID)
	assert.Equal(t, newer.ID, convs[1].ID)

	limited, err := s.ListConversationsByUser(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.ListConversationsByUser(ctx, "carol", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDelete(t *testing.T, s Store) {
	ctx := context.Background()
	conv := newConversation(t, s, "alice", Now())
	require.NoError(t, s.AppendMessage(ctx, newMessage(conv.ID, domain.RoleUser, "hi", Now())))

	err := s.DeleteConversation(ctx, conv.ID, "mallory")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "other owner: %v", err)

	require.NoError(t, s.DeleteConversation(ctx, conv.ID, "alice"))

	_, err = s.GetConversation(ctx, conv.ID, "alice")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
