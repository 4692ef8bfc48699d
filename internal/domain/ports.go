package domain

import (
	"context"
	"time"
)

// CompletionClient defines how the core application talks to a completion provider.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// CompletionRequest is the provider-agnostic request for one reply.
type CompletionRequest struct {
	Model     string
	System    string
	Turns     []Turn
	MaxTokens int
}

// Completion is the provider-agnostic reply.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// IdentityVerifier resolves a bearer token to a user.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// ConversationStore defines conversation persistence.
// Every read is scoped by owner; a conversation owned by someone else is ErrNotFound.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id ConversationID, owner UserID) (*Conversation, error)
	ListConversationsByUser(ctx context.Context, owner UserID, limit int) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, id ConversationID, owner UserID) error
	TouchConversation(ctx context.Context, id ConversationID, at time.Time) error
}

// MessageStore defines message persistence.
// ListMessages returns messages ascending by CreatedAt, ties in insertion order.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID ConversationID) ([]*Message, error)
}

// ExchangeWriter is the write side available inside a unit of work.
type ExchangeWriter interface {
	AppendMessage(ctx context.Context, msg *Message) error
	TouchConversation(ctx context.Context, id ConversationID, at time.Time) error
}

// ExchangeStore is implemented by stores that can run the writes of one
// exchange as a single transaction. If fn returns an error nothing is kept.
type ExchangeStore interface {
	RunExchange(ctx context.Context, fn func(ctx context.Context, w ExchangeWriter) error) error
}

// ConversationLocker serializes exchanges on the same conversation.
type ConversationLocker interface {
	Lock(ctx context.Context, id ConversationID) (unlock func(), err error)
}
