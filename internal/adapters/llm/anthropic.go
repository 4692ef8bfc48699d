package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
}

var _ domain.CompletionClient = (*AnthropicClient)(nil)

type AnthropicOption func(*[]option.RequestOption)

// WithAnthropicBaseURL points the client at another endpoint (tests, proxies).
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithBaseURL(url))
	}
}

// NewAnthropicClient builds a client with SDK retries disabled. Failures are
// returned to the caller as they happen.
func NewAnthropicClient(apiKey string, opts ...AnthropicOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	for _, o := range opts {
		o(&reqOpts)
	}

	return &AnthropicClient{client: anthropic.NewClient(reqOpts...)}, nil
}

// Complete implements domain.CompletionClient.
func (c *AnthropicClient) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Turns))
	for _, t := range req.Turns {
		block := anthropic.NewTextBlock(t.Content)
		switch t.Role {
		case domain.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(block))
		default:
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	res, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, providerError(apiErr.StatusCode, err)
		}
		return nil, providerError(0, err)
	}

	var text strings.Builder
	for _, block := range res.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := &domain.Completion{
		Text:         text.String(),
		InputTokens:  int(res.Usage.InputTokens),
		OutputTokens: int(res.Usage.OutputTokens),
		Model:        string(res.Model),
	}
	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}
