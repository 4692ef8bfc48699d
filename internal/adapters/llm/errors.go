package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

func providerError(status int, err error) *domain.ProviderError {
	kind := domain.ProviderKindForStatus(status)
	if status == 0 {
		// No HTTP response at all: the provider could not be reached.
		kind = domain.ProviderUnavailable
		if errors.Is(err, context.Canceled) {
			kind = domain.ProviderUnknown
		}
	}
	return &domain.ProviderError{Kind: kind, StatusCode: status, Err: err}
}

// validate rejects replies that cannot be persisted as an assistant message.
func validate(c *domain.Completion) error {
	if c.Text == "" {
		return &domain.ProviderError{Kind: domain.ProviderUnknown, Err: errors.New("empty completion text")}
	}
	if c.InputTokens < 0 || c.OutputTokens < 0 {
		return &domain.ProviderError{
			Kind: domain.ProviderUnknown,
			Err:  fmt.Errorf("negative token counts (in=%d, out=%d)", c.InputTokens, c.OutputTokens),
		}
	}
	return nil
}
