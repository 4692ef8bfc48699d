package llm

import (
	"context"
	"fmt"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// MockLLM answers locally without any provider. Token counts are rough
// word-based figures so usage reporting has something to show.
type MockLLM struct{}

var _ domain.CompletionClient = (*MockLLM)(nil)

func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

func (m *MockLLM) Complete(_ context.Context, req domain.CompletionRequest) (*domain.Completion, error) {
	if len(req.Turns) == 0 {
		return nil, &domain.ProviderError{Kind: domain.ProviderUnknown, Err: fmt.Errorf("no turns to answer")}
	}

	last := req.Turns[len(req.Turns)-1].Content
	text := fmt.Sprintf("Noted. You asked: %q. I will draft that for you right away.", last)

	in := wordCount(req.System)
	for _, t := range req.Turns {
		in += wordCount(t.Content)
	}

	return &domain.Completion{
		Text:         text,
		InputTokens:  in,
		OutputTokens: wordCount(text),
		Model:        "mock",
	}, nil
}

func wordCount(s string) int {
	n, inWord := 0, false
	for _, r := range s {
		space := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !space && !inWord {
			n++
		}
		inWord = !space
	}
	return n
}
