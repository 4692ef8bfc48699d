package conversation

import (
	"context"

	"github.com/PabloGalante/secretary-agent/internal/domain"
	"github.com/PabloGalante/secretary-agent/internal/observability"
)

// Persister writes both sides of an exchange and touches the conversation.
type Persister struct {
	conversations domain.ConversationStore
	messages      domain.MessageStore
	// exchanges is nil when the store cannot run a transaction.
	exchanges domain.ExchangeStore
}

// NewPersister detects whether the message store can run an exchange
// atomically.
func NewPersister(conversations domain.ConversationStore, messages domain.MessageStore) *Persister {
	p := &Persister{conversations: conversations, messages: messages}
	if xs, ok := messages.(domain.ExchangeStore); ok {
		p.exchanges = xs
	}
	return p
}

// Atomic reports whether Persist runs as one transaction.
func (p *Persister) Atomic() bool {
	return p.exchanges != nil
}

// Persist writes the user message, then the assistant message, then the new
// updated_at.
func (p *Persister) Persist(ctx context.Context, ex domain.Exchange) error {
	if p.exchanges != nil {
		return p.exchanges.RunExchange(ctx, func(ctx context.Context, w domain.ExchangeWriter) error {
			return writeExchange(ctx, w, ex)
		})
	}
	return p.persistSequential(ctx, ex)
}

func writeExchange(ctx context.Context, w domain.ExchangeWriter, ex domain.Exchange) error {
	if err := w.AppendMessage(ctx, ex.UserMessage); err != nil {
		return err
	}
	if err := w.AppendMessage(ctx, ex.AssistantMessage); err != nil {
		return err
	}
	return w.TouchConversation(ctx, ex.UserMessage.ConversationID, ex.CompletedAt)
}

// persistSequential is the non-atomic path. A failure after the user message
// is written leaves it orphaned; that is logged for manual reconciliation and
// never retried.
func (p *Persister) persistSequential(ctx context.Context, ex domain.Exchange) error {
	log := observability.LoggerFromContext(ctx).With(
		"conversation_id", ex.UserMessage.ConversationID,
		"user_message_id", ex.UserMessage.ID,
	)

	if err := p.messages.AppendMessage(ctx, ex.UserMessage); err != nil {
		return err
	}

	if err := p.messages.AppendMessage(ctx, ex.AssistantMessage); err != nil {
		log.Error("orphaned user message", "step", "append_assistant", "error", err)
		return err
	}

	if err := p.conversations.TouchConversation(ctx, ex.UserMessage.ConversationID, ex.CompletedAt); err != nil {
		log.Error("orphaned user message", "step", "touch_conversation",
			"assistant_message_id", ex.AssistantMessage.ID, "error", err)
		return err
	}
	return nil
}
