package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/secretary-agent/internal/domain"
	"github.com/PabloGalante/secretary-agent/internal/observability"
)

// HistoryWindow decides which prior turns are sent to the provider.
// It receives the stored history (without the new turn) and the new turn,
// and returns the suffix of history to keep.
type HistoryWindow interface {
	Name() string
	Keep(history []domain.Turn, next domain.Turn) []domain.Turn
}

// Assembler rebuilds the ordered context for one completion call.
type Assembler struct {
	messages domain.MessageStore
	window   HistoryWindow
}

// NewAssembler returns an assembler. A nil window sends the full history.
func NewAssembler(messages domain.MessageStore, window HistoryWindow) *Assembler {
	return &Assembler{messages: messages, window: window}
}

// normalizeContent trims the user text and rejects blank input.
func normalizeContent(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", fmt.Errorf("message content is required: %w", domain.ErrInvalidInput)
	}
	return trimmed, nil
}

// Assemble returns every stored turn of the conversation in order, followed
// by the new user turn.
func (a *Assembler) Assemble(ctx context.Context, conversationID domain.ConversationID, text string) ([]domain.Turn, error) {
	content, err := normalizeContent(text)
	if err != nil {
		return nil, err
	}

	msgs, err := a.messages.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	history := make([]domain.Turn, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, domain.Turn{Role: m.Role, Content: m.Content})
	}
	next := domain.Turn{Role: domain.RoleUser, Content: content}

	if a.window != nil {
		kept := trimLeadingAssistant(a.window.Keep(history, next))
		if dropped := len(history) - len(kept); dropped > 0 {
			observability.LoggerFromContext(ctx).Warn("history truncated",
				"conversation_id", conversationID,
				"window", a.window.Name(),
				"dropped", dropped,
				"kept", len(kept),
			)
		}
		history = kept
	}

	return append(history, next), nil
}

// trimLeadingAssistant makes sure the context opens with a user turn.
func trimLeadingAssistant(turns []domain.Turn) []domain.Turn {
	for len(turns) > 0 && turns[0].Role == domain.RoleAssistant {
		turns = turns[1:]
	}
	return turns
}

// LastN keeps the N most recent stored turns.
type LastN int

func (n LastN) Name() string { return fmt.Sprintf("last_%d", int(n)) }

func (n LastN) Keep(history []domain.Turn, _ domain.Turn) []domain.Turn {
	if int(n) <= 0 || len(history) <= int(n) {
		return history
	}
	return history[len(history)-int(n):]
}

// TokenBudget keeps the most recent stored turns whose tokens, together with
// the new turn, fit in Budget. The new turn is always sent.
type TokenBudget struct {
	Budget  int
	Counter TokenCounter
}

func (b TokenBudget) Name() string { return fmt.Sprintf("token_budget_%d", b.Budget) }

func (b TokenBudget) Keep(history []domain.Turn, next domain.Turn) []domain.Turn {
	if b.Budget <= 0 {
		return history
	}
	counter := b.Counter
	if counter == nil {
		counter = HeuristicCounter{}
	}

	used := counter.Count(next.Content)
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		t := counter.Count(history[i].Content)
		if used+t > b.Budget {
			break
		}
		used += t
		start = i
	}
	return history[start:]
}
