package script

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// TextGenerator produces text from a prompt. Satisfied by GeminiClient;
// tests substitute a fake.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, maxTokens int32, temperature float32) (string, error)
}

// GeminiClient wraps the Gemini API with rate-limit-aware retry. The free
// tier is 5 RPM, so backing off on quota errors is essential.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

// NewGeminiClient connects to the Gemini API with the given key and model.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not configured")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		model:  model,
		log:    log.With().Str("component", "gemini").Str("model", model).Logger(),
	}, nil
}

// isRateLimited matches quota/429 failures, the only Gemini errors worth
// retrying.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") || strings.Contains(s, "rate") || strings.Contains(s, "quota")
}

// GenerateText runs one generation, retrying rate-limit errors with
// exponential backoff up to 8 attempts within a 5-minute budget.
func (g *GeminiClient) GenerateText(ctx context.Context, prompt string, maxTokens int32, temperature float32) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetMaxOutputTokens(maxTokens)
	model.SetTemperature(temperature)

	operation := func() (string, error) {
		start := time.Now()
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		duration := time.Since(start)
		if err != nil {
			g.log.Error().Err(err).Dur("duration", duration).Msg("generation failed")
			if !isRateLimited(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}

		text := collectText(resp)
		if text == "" {
			return "", backoff.Permanent(fmt.Errorf("gemini returned no text candidates"))
		}
		g.log.Info().Dur("duration", duration).
			Int("prompt_chars", len(prompt)).Int("response_chars", len(text)).
			Msg("generated text")
		return text, nil
	}

	text, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(8),
		backoff.WithMaxElapsedTime(5*time.Minute),
		backoff.WithNotify(func(err error, wait time.Duration) {
			g.log.Warn().Err(err).Dur("backoff", wait).Msg("rate limit hit, backing off")
		}),
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return text, nil
}

// Close releases the underlying API connection.
func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func collectText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
