package conversation

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// TokenCounter estimates how many tokens a piece of text costs.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with the cl100k_base encoding. It is an estimate for
// non-OpenAI models but stays within a few percent for English prose.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCounter assumes four characters per token.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

// NewTokenCounter returns a tiktoken counter, or the heuristic one if the
// encoding cannot be loaded (it is fetched on first use).
func NewTokenCounter() TokenCounter {
	enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		return HeuristicCounter{}
	}
	return &TiktokenCounter{enc: enc}
}

// CountTurns sums the tokens of every turn.
func CountTurns(c TokenCounter, turns []domain.Turn) int {
	total := 0
	for _, t := range turns {
		total += c.Count(t.Content)
	}
	return total
}
