// Package summarizer wraps the LLM that turns sampled market data into
// report text.
package summarizer

import (
	"context"
	"errors"
)

// ErrRateLimited marks a rate-limit-class failure. Callers may back off
// and retry; any other error class is terminal for the request.
var ErrRateLimited = errors.New("summarizer: rate limited")

// Summarizer generates text for one prompt. Implementations keep the model
// identifier as construction state.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}
