package conversation

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/secretary-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/secretary-agent/internal/domain"
	"github.com/PabloGalante/secretary-agent/internal/observability"
)

// seed creates a conversation holding the given contents, alternating user
// and assistant and all sharing one timestamp.
func seed(t *testing.T, contents ...string) (*memory.Store, domain.ConversationID) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now().UTC()

	id := domain.ConversationID("conv-1")
	require.NoError(t, store.CreateConversation(ctx, &domain.Conversation{ID: id, UserID: "alice", CreatedAt: now, UpdatedAt: now}))

	for i, c := range contents {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		require.NoError(t, store.AppendMessage(ctx, &domain.Message{
			ID:             domain.MessageID(c),
			ConversationID: id,
			Role:           role,
			Content:        c,
			CreatedAt:      now,
		}))
	}
	return store, id
}

func contentsOf(turns []domain.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Content)
	}
	return out
}

func TestAssembleAppendsNewTurnAfterHistory(t *testing.T) {
	store, id := seed(t, "u1", "a1", "u2", "a2")

	turns, err := NewAssembler(store, nil).Assemble(context.Background(), id, "u3")
	require.NoError(t, err)

	require.Len(t, turns, 5)
	assert.Equal(t, []string{"u1", "a1", "u2", "a2", "u3"}, contentsOf(turns))
	assert.Equal(t, domain.RoleAssistant, turns[3].Role)
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Content: "u3"}, turns[4])
}

func TestAssembleEmptyHistory(t *testing.T) {
	store, id := seed(t)

	turns, err := NewAssembler(store, nil).Assemble(context.Background(), id, " hello ")
	require.NoError(t, err)
	assert.Equal(t, []domain.Turn{{Role: domain.RoleUser, Content: "hello"}}, turns)
}

func TestAssembleRejectsBlankBeforeReading(t *testing.T) {
	// A nil store would panic if it were touched.
	_, err := NewAssembler(nil, nil).Assemble(context.Background(), "conv-1", " \t\n")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLastNWindow(t *testing.T) {
	var buf bytes.Buffer
	observability.Configure(&buf, "info")
	t.Cleanup(func() { observability.Configure(os.Stdout, "info") })

	store, id := seed(t, "u1", "a1", "u2", "a2", "u3", "a3")

	turns, err := NewAssembler(store, LastN(4)).Assemble(context.Background(), id, "u4")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "a2", "u3", "a3", "u4"}, contentsOf(turns))
	assert.Contains(t, buf.String(), `"dropped":2`)
	assert.Contains(t, buf.String(), `"window":"last_4"`)
}

func TestWindowNeverStartsOnAssistant(t *testing.T) {
	store, id := seed(t, "u1", "a1", "u2", "a2")

	turns, err := NewAssembler(store, LastN(3)).Assemble(context.Background(), id, "u3")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "a2", "u3"}, contentsOf(turns))
}

func TestWindowKeepsNewTurnAlone(t *testing.T) {
	store, id := seed(t, "u1", "a1")

	turns, err := NewAssembler(store, LastN(1)).Assemble(context.Background(), id, "u2")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, contentsOf(turns))
}

func TestWindowNotTriggeredIsSilent(t *testing.T) {
	var buf bytes.Buffer
	observability.Configure(&buf, "info")
	t.Cleanup(func() { observability.Configure(os.Stdout, "info") })

	store, id := seed(t, "u1", "a1")

	turns, err := NewAssembler(store, LastN(10)).Assemble(context.Background(), id, "u2")
	require.NoError(t, err)
	assert.Len(t, turns, 3)
	assert.NotContains(t, buf.String(), "history truncated")
}

func TestTokenBudgetWindow(t *testing.T) {
	long := strings.Repeat("x", 40) // 10 heuristic tokens
	store, id := seed(t, long, long, "u2", "a2")

	w := TokenBudget{Budget: 6, Counter: HeuristicCounter{}}
	turns, err := NewAssembler(store, w).Assemble(context.Background(), id, "u3")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "a2", "u3"}, contentsOf(turns))
}

func TestTokenBudgetAlwaysSendsNewTurn(t *testing.T) {
	w := TokenBudget{Budget: 1, Counter: HeuristicCounter{}}
	history := []domain.Turn{{Role: domain.RoleUser, Content: "a"}}
	next := domain.Turn{Role: domain.RoleUser, Content: strings.Repeat("y", 100)}

	assert.Empty(t, w.Keep(history, next))
}

func TestHeuristicCounter(t *testing.T) {
	c := HeuristicCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 2, c.Count("abcde"))
	assert.Equal(t, 3, CountTurns(c, []domain.Turn{{Content: "abcd"}, {Content: "abcde"}}))
}
