package conversation_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/secretary-agent/internal/adapters/llm"
	"github.com/PabloGalante/secretary-agent/internal/adapters/lock"
	"github.com/PabloGalante/secretary-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/secretary-agent/internal/app/conversation"
	"github.com/PabloGalante/secretary-agent/internal/domain"
	"github.com/PabloGalante/secretary-agent/internal/observability"
)

type mockCompletion struct {
	mock.Mock
}

func (m *mockCompletion) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*domain.Completion)
	return out, args.Error(1)
}

func reply(text string, in, out int) *domain.Completion {
	return &domain.Completion{Text: text, InputTokens: in, OutputTokens: out, Model: "claude-sonnet-4-20250514"}
}

var invokerCfg = conversation.InvokerConfig{
	Model:     "claude-sonnet-4-20250514",
	System:    llm.SecretaryPrompt,
	MaxTokens: 1024,
}

func newConversation(t *testing.T, svc *conversation.Service, owner domain.UserID) *domain.Conversation {
	t.Helper()
	conv, err := svc.CreateConversation(context.Background(), conversation.CreateConversationInput{UserID: owner})
	require.NoError(t, err)
	return conv
}

func TestSendMessageEmptyConversation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	client := &mockCompletion{}
	svc := conversation.NewService(client, store, store, conversation.Options{Invoker: invokerCfg})

	conv := newConversation(t, svc, "alice")
	assert.Equal(t, domain.DefaultConversationTitle, conv.Title)

	client.On("Complete", mock.Anything, mock.MatchedBy(func(req domain.CompletionRequest) bool {
		return req.Model == invokerCfg.Model &&
			req.System == llm.SecretaryPrompt &&
			req.MaxTokens == 1024 &&
			len(req.Turns) == 1 &&
			req.Turns[0] == domain.Turn{Role: domain.RoleUser, Content: "Draft a meeting reminder"}
	})).Return(reply("Reminder: sync at 10am.", 100, 50), nil).Once()

	out, err := svc.SendMessage(ctx, conversation.SendMessageInput{
		ConversationID: conv.ID,
		UserID:         "alice",
		Content:        "  Draft a meeting reminder\n",
	})
	require.NoError(t, err)
	client.AssertExpectations(t)

	assert.NotEmpty(t, out.UserMessage.ID)
	assert.NotEmpty(t, out.AssistantMessage.ID)
	assert.Equal(t, "Draft a meeting reminder", out.UserMessage.Content)
	assert.Nil(t, out.UserMessage.TokensInput)
	require.NotNil(t, out.AssistantMessage.TokensInput)
	assert.Equal(t, 100, *out.AssistantMessage.TokensInput)
	assert.Equal(t, 50, *out.AssistantMessage.TokensOutput)

	assert.Equal(t, 150, out.Usage.TotalTokens)
	assert.InDelta(t, 0.00105, out.Usage.CostUSD, 1e-12)

	msgs, err := svc.ListMessages(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)

	after, err := svc.GetConversation(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.False(t, after.UpdatedAt.Before(conv.UpdatedAt))
	assert.Equal(t, out.AssistantMessage.CreatedAt, after.UpdatedAt)
}

func TestSendMessageSendsFullHistoryInOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	client := &mockCompletion{}
	svc := conversation.NewService(client, store, store, conversation.Options{Invoker: invokerCfg})
	conv := newConversation(t, svc, "alice")

	client.On("Complete", mock.Anything, mock.Anything).Return(reply("first answer", 10, 5), nil).Once()
	client.On("Complete", mock.Anything, mock.Anything).Return(reply("second answer", 20, 5), nil).Once()
	for _, text := range []string{"first question", "second question"} {
		_, err := svc.SendMessage(ctx, conversation.SendMessageInput{ConversationID: conv.ID, UserID: "alice", Content: text})
		require.NoError(t, err)
	}

	var got domain.CompletionRequest
	client.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(domain.CompletionRequest) }).
		Return(reply("third answer", 30, 5), nil).Once()

	_, err := svc.SendMessage(ctx, conversation.SendMessageInput{ConversationID: conv.ID, UserID: "alice", Content: "third question"})
	require.NoError(t, err)

	assert.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Content: "first question"},
		{Role: domain.RoleAssistant, Content: "first answer"},
		{Role: domain.RoleUser, Content: "second question"},
		{Role: domain.RoleAssistant, Content: "second answer"},
		{Role: domain.RoleUser, Content: "third question"},
	}, got.Turns)
}

func TestSendMessageAddsExactlyTwoMessages(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := conversation.NewService(llm.NewMockLLM(), store, store, conversation.Options{Invoker: invokerCfg})
	conv := newConversation(t, svc, "alice")

	for n := 0; n < 5; n++ {
		before, err := svc.ListMessages(ctx, conv.ID, "alice")
		require.NoError(t, err)
		require.Len(t, before, 2*n)

		_, err = svc.SendMessage(ctx, conversation.SendMessageInput{ConversationID: conv.ID, UserID: "alice", Content: "hello"})
		require.NoError(t, err)

		after, err := svc.ListMessages(ctx, conv.ID, "alice")
		require.NoError(t, err)
		require.Len(t, after, len(before)+2)
		for i := 1; i < len(after); i++ {
			assert.False(t, after[i].CreatedAt.Before(after[i-1].CreatedAt))
		}
	}
}

func TestSendMessageRejectsBlankContent(t *testing.T) {
	store := memory.NewStore()
	client := &mockCompletion{}
	svc := conversation.NewService(client, store, store, conversation.Options{Invoker: invokerCfg})
	conv := newConversation(t, svc, "alice")

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := svc.SendMessage(context.Background(), conversation.SendMessageInput{
			ConversationID: conv.ID,
			UserID:         "alice",
			Content:        content,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}

	// Blank input is rejected even for a conversation that does not exist.
	_, err := svc.SendMessage(context.Background(), conversation.SendMessageInput{ConversationID: "missing", UserID: "alice", Content: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	client.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	msgs, err := store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestOtherUsersConversationIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	client := &mockCompletion{}
	svc := conversation.NewService(client, store, store, conversation.Options{Invoker: invokerCfg})
	conv := newConversation(t, svc, "alice")

	_, err := svc.SendMessage(ctx, conversation.SendMessageInput{ConversationID: conv.ID, UserID: "mallory", Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.ListMessages(ctx, conv.ID, "mallory")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.GetConversation(ctx, conv.ID, "mallory")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = svc.DeleteConversation(ctx, conv.ID, "mallory")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.SendMessage(ctx, conversation.SendMessageInput{ConversationID: "does-not-exist", UserID: "alice", Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	client.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestProviderFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	client := &mockCompletion{}
	svc := conversation.NewService(client, store, store, conversation.Options{Invoker: invokerCfg})
	conv := newConversation(t, svc, "alice")

	client.On("Complete", mock.Anything, mock.Anything).
		Return(nil, &domain.ProviderError{Kind: domain.ProviderRateLimited, StatusCode: 429, Err: errors.New("slow down")}).Once()
	client.On("Complete", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).Once()
	client.On("Complete", mock.Anything, mock.Anything).
		Return(&domain.Completion{Text: "", InputTokens: 1}, nil).Once()

	for i := 0; i < 3; i++ {
		_, err := svc.SendMessage(ctx, conversation.SendMessageInput{ConversationID: conv.ID, UserID: "alice", Content: "hi"})
		require.ErrorIs(t, err, domain.ErrProvider)
	}

	msgs, err := svc.ListMessages(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	after, err := svc.GetConversation(ctx, conv.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, conv.UpdatedAt, after.UpdatedAt)
}

func TestProviderErrorKindIsKept(t *testing.T) {
	store := memory.NewStore()
	client := &mockCompletion{}
	svc := conversation.NewService(client, store, store, conversation.Options{Invoker: invokerCfg})
	conv := newConversation(t, svc, "alice")

	client.On("Complete", mock.Anything, mock.Anything).
		Return(nil, &domain.ProviderError{Kind: domain.ProviderAuth, StatusCode: 401, Err: errors.New("bad key")})

	_, err := svc.SendMessage(context.Background(), conversation.SendMessageInput{ConversationID: conv.ID, UserID: "alice", Content: "hi"})
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.ProviderAuth, pe.Kind)
}

func TestCompletionTimeout(t *testing.T) {
	store := memory.NewStore()
	client := &mockCompletion{}
	cfg := invokerCfg
	cfg.Timeout = 20 * time.Millisecond
	svc := conversation.NewService(client, store, store, conversation.Options{Invoker: cfg})
	conv := newConversation(t, svc, "alice")

	client.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.DeadlineExceeded)

	_, err := svc.SendMessage(context.Background(), conversation.SendMessageInput{ConversationID: conv.ID, UserID: "alice", Content: "hi"})
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.ProviderUnavailable, pe.Kind)
}

func TestCallerCancellationDoesNotAbortExchange(t *testing.T) {
	store := memory.NewStore()
	client := &mockCompletion{}
	svc := conversation.NewService(client, store, store, conversation.Options{Invoker: invokerCfg})
	conv := newConversation(t, svc, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	client.On("Complete", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(reply("done", 5, 5), nil)

	_, err := svc.SendMessage(ctx, conversation.SendMessageInput{ConversationID: conv.ID, UserID: "alice", Content: "hi"})
	require.NoError(t, err)

	msgs, err := store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

// sequentialStore is a MessageStore without RunExchange, so the persister
// falls back to step-by-step writes. It can fail the assistant write.
type sequentialStore struct {
	mem           *memory.Store
	failAssistant bool
}

func (s *sequentialStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if s.failAssistant && msg.Role == domain.RoleAssistant {
		return domain.StoreError("append", errors.New("disk full"))
	}
	return s.mem.AppendMessage(ctx, msg)
}

func (s *sequentialStore) ListMessages(ctx context.Context, id domain.ConversationID) ([]*domain.Message, error) {
	return s.mem.ListMessages(ctx, id)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	observability.Configure(&buf, "info")
	t.Cleanup(func() { observability.Configure(os.Stdout, "info") })
	return &buf
}

func TestSequentialPersistLogsOrphanedUserMessage(t *testing.T) {
	logs := captureLogs(t)

	mem := memory.NewStore()
	seq := &sequentialStore{mem: mem, failAssistant: true}
	svc := conversation.NewService(llm.NewMockLLM(), mem, seq, conversation.Options{Invoker: invokerCfg})
	conv := newConversation(t, svc, "alice")

	_, err := svc.SendMessage(context.Background(), conversation.SendMessageInput{ConversationID: conv.ID, UserID: "alice", Content: "hi"})
	require.ErrorIs(t, err, domain.ErrStore)

	msgs, err := mem.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)

	assert.Contains(t, logs.String(), "orphaned user message")
	assert.Contains(t, logs.String(), string(msgs[0].ID))
	assert.Contains(t, logs.String(), string(conv.ID))
}

func TestSequentialPersistSucceeds(t *testing.T) {
	mem := memory.NewStore()
	seq := &sequentialStore{mem: mem}
	svc := conversation.NewService(llm.NewMockLLM(), mem, seq, conversation.Options{Invoker: invokerCfg})
	conv := newConversation(t, svc, "alice")

	_, err := svc.SendMessage(context.Background(), conversation.SendMessageInput{ConversationID: conv.ID, UserID: "alice", Content: "hi"})
	require.NoError(t, err)

	msgs, err := mem.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestExchangeLockSerializesConversation(t *testing.T) {
	store := memory.NewStore()
	client := &mockCompletion{}
	svc := conversation.NewService(client, store, store, conversation.Options{
		Invoker: invokerCfg,
		Locker:  lock.NewLocalLocker(),
	})
	conv := newConversation(t, svc, "alice")

	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)
	client.On("Complete", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			mu.Lock()
			inFlight++
			if inFlight > maxSeen {
				maxSeen = inFlight
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
		}).
		Return(reply("ok", 1, 1), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SendMessage(context.Background(), conversation.SendMessageInput{ConversationID: conv.ID, UserID: "alice", Content: "hi"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)

	msgs, err := store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 16)
	for i, m := range msgs {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "message %d", i)
	}
}

func TestCustomRates(t *testing.T) {
	store := memory.NewStore()
	client := &mockCompletion{}
	svc := conversation.NewService(client, store, store, conversation.Options{
		Invoker: invokerCfg,
		Rates:   &domain.Rates{InputPerMillion: 1, OutputPerMillion: 2},
	})
	conv := newConversation(t, svc, "alice")
	client.On("Complete", mock.Anything, mock.Anything).Return(reply("ok", 1_000_000, 500_000), nil)

	out, err := svc.SendMessage(context.Background(), conversation.SendMessageInput{ConversationID: conv.ID, UserID: "alice", Content: "hi"})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, out.Usage.CostUSD, 1e-9)
}

func TestConversationCRUD(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := conversation.NewService(llm.NewMockLLM(), store, store, conversation.Options{Invoker: invokerCfg})

	first, err := svc.CreateConversation(ctx, conversation.CreateConversationInput{UserID: "alice", Title: "  Travel plans "})
	require.NoError(t, err)
	assert.Equal(t, "Travel plans", first.Title)

	second := newConversation(t, svc, "alice")
	newConversation(t, svc, "bob")

	_, err = svc.SendMessage(ctx, conversation.SendMessageInput{ConversationID: first.ID, UserID: "alice", Content: "hi"})
	require.NoError(t, err)

	list, err := svc.ListConversations(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID, "most recently active first")
	assert.Equal(t, second.ID, list[1].ID)

	require.NoError(t, svc.DeleteConversation(ctx, first.ID, "alice"))
	_, err = svc.GetConversation(ctx, first.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.CreateConversation(ctx, conversation.CreateConversationInput{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
