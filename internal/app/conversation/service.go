package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/secretary-agent/internal/domain"
	"github.com/PabloGalante/secretary-agent/internal/observability"
)

// Options are the opt-in parts of the pipeline. The zero value sends full
// history, waits on the provider without a deadline and takes no lock.
type Options struct {
	Invoker InvokerConfig
	Window  HistoryWindow
	Locker  domain.ConversationLocker
	Rates   *domain.Rates
}

type Service struct {
	conversations domain.ConversationStore
	messages      domain.MessageStore

	assembler *Assembler
	invoker   *Invoker
	persister *Persister
	locker    domain.ConversationLocker
	rates     domain.Rates

	now   func() time.Time
	newID func() string
}

func NewService(
	llm domain.CompletionClient,
	conversations domain.ConversationStore,
	messages domain.MessageStore,
	opts Options,
) *Service {
	rates := domain.DefaultRates
	if opts.Rates != nil {
		rates = *opts.Rates
	}

	return &Service{
		conversations: conversations,
		messages:      messages,
		assembler:     NewAssembler(messages, opts.Window),
		invoker:       NewInvoker(llm, opts.Invoker),
		persister:     NewPersister(conversations, messages),
		locker:        opts.Locker,
		rates:         rates,
		now:           storeNow,
		newID:         uuid.NewString,
	}
}

// storeNow is UTC at microsecond precision so every backend stores it as is.
func storeNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type SendMessageInput struct {
	ConversationID domain.ConversationID
	UserID         domain.UserID
	Content        string
}

type SendMessageOutput struct {
	UserMessage      *domain.Message
	AssistantMessage *domain.Message
	Usage            domain.Usage
	Model            string
}

// SendMessage runs one exchange: validate, check ownership, assemble context,
// call the provider, persist both messages and report usage. Nothing is
// written unless the provider answered.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*SendMessageOutput, error) {
	log := observability.LoggerFromContext(ctx).With(
		"conversation_id", in.ConversationID,
		"user_id", in.UserID,
	)

	content, err := normalizeContent(in.Content)
	if err != nil {
		return nil, err
	}

	if _, err := s.conversations.GetConversation(ctx, in.ConversationID, in.UserID); err != nil {
		log.Info("conversation lookup failed", "error", err)
		return nil, err
	}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, in.ConversationID)
		if err != nil {
			log.Warn("could not acquire conversation lock", "error", err)
			return nil, fmt.Errorf("lock conversation %s: %w", in.ConversationID, err)
		}
		defer unlock()
	}

	// From here on the exchange finishes even if the caller goes away, so a
	// paid completion is never thrown away half written.
	ctx = context.WithoutCancel(ctx)

	turns, err := s.assembler.Assemble(ctx, in.ConversationID, content)
	if err != nil {
		log.Error("failed to assemble context", "error", err)
		return nil, err
	}

	completion, err := s.invoker.Invoke(ctx, turns)
	if err != nil {
		return nil, err
	}

	userMsg := &domain.Message{
		ID:             domain.MessageID(s.newID()),
		ConversationID: in.ConversationID,
		Role:           domain.RoleUser,
		Content:        content,
		CreatedAt:      s.now(),
	}
	tokensIn, tokensOut := completion.InputTokens, completion.OutputTokens
	assistantMsg := &domain.Message{
		ID:             domain.MessageID(s.newID()),
		ConversationID: in.ConversationID,
		Role:           domain.RoleAssistant,
		Content:        completion.Text,
		CreatedAt:      s.now(),
		TokensInput:    &tokensIn,
		TokensOutput:   &tokensOut,
	}
	if assistantMsg.CreatedAt.Before(userMsg.CreatedAt) {
		assistantMsg.CreatedAt = userMsg.CreatedAt
	}

	if err := s.persister.Persist(ctx, domain.Exchange{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		CompletedAt:      assistantMsg.CreatedAt,
	}); err != nil {
		log.Error("failed to persist exchange", "atomic", s.persister.Atomic(), "error", err)
		return nil, err
	}

	usage, err := domain.ReportUsage(tokensIn, tokensOut, s.rates)
	if err != nil {
		return nil, err
	}

	log.Info("exchange completed",
		"user_message_id", userMsg.ID,
		"assistant_message_id", assistantMsg.ID,
		"total_tokens", usage.TotalTokens,
		"estimated_cost_usd", usage.CostUSD,
	)

	return &SendMessageOutput{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
		Usage:            usage,
		Model:            completion.Model,
	}, nil
}

// ListMessages returns the conversation's messages in order, if userID owns it.
func (s *Service) ListMessages(ctx context.Context, id domain.ConversationID, userID domain.UserID) ([]*domain.Message, error) {
	if _, err := s.conversations.GetConversation(ctx, id, userID); err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListMessages(ctx, id)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to list messages", "conversation_id", id, "error", err)
		return nil, err
	}
	return msgs, nil
}

type CreateConversationInput struct {
	UserID domain.UserID
	Title  string
}

func (s *Service) CreateConversation(ctx context.Context, in CreateConversationInput) (*domain.Conversation, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("user id is required: %w", domain.ErrInvalidInput)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = domain.DefaultConversationTitle
	}

	now := s.now()
	conv := &domain.Conversation{
		ID:        domain.ConversationID(s.newID()),
		UserID:    in.UserID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	log := observability.LoggerFromContext(ctx).With("user_id", in.UserID)
	if err := s.conversations.CreateConversation(ctx, conv); err != nil {
		log.Error("failed to create conversation", "error", err)
		return nil, err
	}

	log.Info("conversation created", "conversation_id", conv.ID)
	return conv, nil
}

func (s *Service) GetConversation(ctx context.Context, id domain.ConversationID, userID domain.UserID) (*domain.Conversation, error) {
	return s.conversations.GetConversation(ctx, id, userID)
}

// ListConversations returns the user's conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Conversation, error) {
	return s.conversations.ListConversationsByUser(ctx, userID, limit)
}

func (s *Service) DeleteConversation(ctx context.Context, id domain.ConversationID, userID domain.UserID) error {
	if err := s.conversations.DeleteConversation(ctx, id, userID); err != nil {
		return err
	}
	observability.LoggerFromContext(ctx).Info("conversation deleted", "conversation_id", id, "user_id", userID)
	return nil
}
