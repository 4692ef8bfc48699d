package wiring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/secretary-agent/internal/adapters/auth"
	"github.com/PabloGalante/secretary-agent/internal/adapters/llm"
	"github.com/PabloGalante/secretary-agent/internal/adapters/lock"
	memstore "github.com/PabloGalante/secretary-agent/internal/adapters/storage/memory"
	sqlitestore "github.com/PabloGalante/secretary-agent/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/secretary-agent/internal/app/conversation"
	"github.com/PabloGalante/secretary-agent/internal/config"
)

func localConfig() *config.Config {
	return &config.Config{
		Mode:           config.ModeLocal,
		LLMProvider:    "mock",
		ModelName:      config.DefaultModel,
		MaxTokens:      1024,
		StorageBackend: "memory",
		AuthMode:       "static",
		StaticTokens:   "dev-token:dev-user",
		ExchangeLock:   "none",
		InputRate:      3,
		OutputRate:     15,
	}
}

func TestLocalDefaults(t *testing.T) {
	ctx := context.Background()
	cfg := localConfig()

	client, err := CompletionClient(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &llm.MockLLM{}, client)

	store, closeStore, err := OpenStore(ctx, cfg)
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &memstore.Store{}, store)

	v, err := Verifier(cfg)
	require.NoError(t, err)
	assert.IsType(t, &auth.StaticVerifier{}, v)

	opts, closeOpts, err := ServiceOptions(ctx, cfg)
	require.NoError(t, err)
	defer closeOpts()
	assert.Nil(t, opts.Window)
	assert.Nil(t, opts.Locker)
	assert.Zero(t, opts.Invoker.Timeout)
	assert.Equal(t, llm.SecretaryPrompt, opts.Invoker.System)
	assert.Equal(t, 15.0, opts.Rates.OutputPerMillion)
}

func TestHardeningOptions(t *testing.T) {
	cfg := localConfig()
	cfg.HistoryWindow = 12
	cfg.ExchangeLock = "local"

	opts, closeOpts, err := ServiceOptions(context.Background(), cfg)
	require.NoError(t, err)
	defer closeOpts()
	assert.Equal(t, conversation.LastN(12), opts.Window)
	assert.IsType(t, &lock.LocalLocker{}, opts.Locker)

	prev := newTokenCounter
	newTokenCounter = func() conversation.TokenCounter { return conversation.HeuristicCounter{} }
	t.Cleanup(func() { newTokenCounter = prev })

	cfg.HistoryTokenBudget = 2000
	opts, _, err = ServiceOptions(context.Background(), cfg)
	require.NoError(t, err)
	budget, ok := opts.Window.(conversation.TokenBudget)
	require.True(t, ok)
	assert.Equal(t, 2000, budget.Budget)
}

func TestOpenSQLiteStore(t *testing.T) {
	cfg := localConfig()
	cfg.StorageBackend = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "nested", "secretary.db")

	store, closeStore, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &sqlitestore.Store{}, store)
}

func TestSupabaseVerifierSelected(t *testing.T) {
	cfg := localConfig()
	cfg.AuthMode = "supabase"
	cfg.SupabaseURL = "https://example.supabase.co"
	cfg.SupabaseServiceKey = "k"

	v, err := Verifier(cfg)
	require.NoError(t, err)
	assert.IsType(t, &auth.SupabaseVerifier{}, v)
}
