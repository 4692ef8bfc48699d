// Package wiring turns a Config into the concrete adapters behind the
// conversation service. Both binaries build their dependencies through it.
package wiring

import (
	"context"
	"fmt"
	"time"

	"github.com/PabloGalante/secretary-agent/internal/adapters/auth"
	"github.com/PabloGalante/secretary-agent/internal/adapters/llm"
	"github.com/PabloGalante/secretary-agent/internal/adapters/lock"
	firestorestore "github.com/PabloGalante/secretary-agent/internal/adapters/storage/firestore"
	memstore "github.com/PabloGalante/secretary-agent/internal/adapters/storage/memory"
	pgstore "github.com/PabloGalante/secretary-agent/internal/adapters/storage/postgres"
	sqlitestore "github.com/PabloGalante/secretary-agent/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/secretary-agent/internal/app/conversation"
	"github.com/PabloGalante/secretary-agent/internal/config"
	"github.com/PabloGalante/secretary-agent/internal/domain"
	"github.com/PabloGalante/secretary-agent/internal/observability"
)

// newTokenCounter may download the encoding on first use.
var newTokenCounter = conversation.NewTokenCounter

// Store is what every storage backend provides.
type Store interface {
	domain.ConversationStore
	domain.MessageStore
}

// CompletionClient builds the configured provider client.
func CompletionClient(ctx context.Context, cfg *config.Config) (domain.CompletionClient, error) {
	log := observability.Logger()

	switch cfg.LLMProvider {
	case "anthropic":
		log.Info("using Anthropic completion client", "model", cfg.ModelName)
		return llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	case "vertex":
		log.Info("using Vertex AI completion client", "model", cfg.ModelName, "project", cfg.GCPProjectID)
		return llm.NewVertexClient(ctx, cfg.GCPProjectID, cfg.GCPLocation)
	case "gemini":
		log.Info("using Gemini API completion client", "model", cfg.ModelName)
		return llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, "")
	default:
		log.Info("using mock completion client")
		return llm.NewMockLLM(), nil
	}
}

// OpenStore opens the configured backend. The returned close func releases it.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, func(), error) {
	log := observability.Logger()

	switch cfg.StorageBackend {
	case "sqlite":
		log.Info("using sqlite storage", "path", cfg.SQLitePath)
		s, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case "postgres":
		log.Info("using postgres storage")
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		pool, err := pgstore.Connect(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s := pgstore.NewStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil

	case "firestore":
		log.Info("using Firestore storage", "project", cfg.GCPProjectID)
		s, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	default:
		log.Info("using in-memory storage")
		return memstore.NewStore(), func() {}, nil
	}
}

// Verifier builds the configured identity verifier.
func Verifier(cfg *config.Config) (domain.IdentityVerifier, error) {
	switch cfg.AuthMode {
	case "supabase":
		return auth.NewSupabaseVerifier(cfg.SupabaseURL, cfg.SupabaseServiceKey, 10*time.Second), nil
	default:
		observability.Logger().Warn("using static tokens for authentication, do not use in production")
		return auth.ParseStaticTokens(cfg.StaticTokens)
	}
}

// ServiceOptions builds the pipeline options. The close func releases the
// lock backend if there is one.
func ServiceOptions(ctx context.Context, cfg *config.Config) (conversation.Options, func(), error) {
	opts := conversation.Options{
		Invoker: conversation.InvokerConfig{
			Model:     cfg.ModelName,
			System:    llm.SecretaryPrompt,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.CompletionTimeout,
		},
		Rates: &domain.Rates{InputPerMillion: cfg.InputRate, OutputPerMillion: cfg.OutputRate},
	}

	switch {
	case cfg.HistoryTokenBudget > 0:
		opts.Window = conversation.TokenBudget{Budget: cfg.HistoryTokenBudget, Counter: newTokenCounter()}
	case cfg.HistoryWindow > 0:
		opts.Window = conversation.LastN(cfg.HistoryWindow)
	}

	closeFn := func() {}
	switch cfg.ExchangeLock {
	case "local":
		opts.Locker = lock.NewLocalLocker()
	case "redis":
		l, err := lock.NewRedisLocker(ctx, cfg.RedisURL, lock.LeaseFor(cfg.CompletionTimeout))
		if err != nil {
			return conversation.Options{}, nil, fmt.Errorf("exchange lock: %w", err)
		}
		opts.Locker = l
		closeFn = func() { _ = l.Close() }
	}

	return opts, closeFn, nil
}
