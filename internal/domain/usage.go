package domain

import "fmt"

// Rates are prices in USD per million tokens.
type Rates struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultRates are the Claude Sonnet 4 list prices.
var DefaultRates = Rates{
	InputPerMillion:  3,
	OutputPerMillion: 15,
}

// Usage is the token and cost summary of one exchange.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	CostUSD      float64
}

// ReportUsage derives the usage summary for an exchange. It does no I/O.
func ReportUsage(inputTokens, outputTokens int, rates Rates) (Usage, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return Usage{}, fmt.Errorf("%w: negative token count (in=%d, out=%d)", ErrInvalidInput, inputTokens, outputTokens)
	}

	cost := float64(inputTokens)*rates.InputPerMillion/1e6 +
		float64(outputTokens)*rates.OutputPerMillion/1e6

	return Usage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		CostUSD:      cost,
	}, nil
}
