package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// Gemini talks to the Gemini API through the official SDK.
type Gemini struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, logger zerolog.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("summarizer: gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, logger: logger}, nil
}

func (g *Gemini) Summarize(ctx context.Context, prompt string) (string, error) {
	g.logger.Debug().Str("model", g.model).Int("prompt_len", len(prompt)).Msg("summarizer request")

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
		}
		return "", fmt.Errorf("summarizer: generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", errors.New("summarizer: empty response")
	}
	return text, nil
}
