package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PabloGalante/secretary-agent/internal/domain"
	"github.com/PabloGalante/secretary-agent/internal/observability"
)

// InvokerConfig holds the per-deployment completion settings.
type InvokerConfig struct {
	Model     string
	System    string
	MaxTokens int
	// Timeout bounds the provider call. Zero waits as long as it takes.
	Timeout time.Duration
}

// Invoker makes exactly one completion call per exchange.
type Invoker struct {
	client domain.CompletionClient
	cfg    InvokerConfig
}

func NewInvoker(client domain.CompletionClient, cfg InvokerConfig) *Invoker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Invoker{client: client, cfg: cfg}
}

// Invoke sends the assembled turns with the fixed system prompt. Every error
// it returns matches domain.ErrProvider.
func (i *Invoker) Invoke(ctx context.Context, turns []domain.Turn) (*domain.Completion, error) {
	log := observability.LoggerFromContext(ctx)

	if i.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := i.client.Complete(ctx, domain.CompletionRequest{
		Model:     i.cfg.Model,
		System:    i.cfg.System,
		Turns:     turns,
		MaxTokens: i.cfg.MaxTokens,
	})
	elapsed := time.Since(start)

	if err != nil {
		err = asProviderError(err)
		log.Error("completion failed", "model", i.cfg.Model, "turns", len(turns), "elapsed_ms", elapsed.Milliseconds(), "error", err)
		return nil, err
	}
	if out == nil || out.Text == "" || out.InputTokens < 0 || out.OutputTokens < 0 {
		err := &domain.ProviderError{Kind: domain.ProviderUnknown, Err: fmt.Errorf("malformed completion %+v", out)}
		log.Error("completion failed", "model", i.cfg.Model, "error", err)
		return nil, err
	}

	log.Info("completion done",
		"model", out.Model,
		"turns", len(turns),
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return out, nil
}

// asProviderError keeps provider errors as they are and classifies anything
// else, a deadline included, as a provider failure.
func asProviderError(err error) error {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	kind := domain.ProviderUnknown
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.ProviderUnavailable
	}
	return &domain.ProviderError{Kind: kind, Err: err}
}
