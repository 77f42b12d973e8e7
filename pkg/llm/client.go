// Package llm wraps the OpenRouter chat-completions API behind a small
// Generate interface so agents can be tested against scripted fakes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/dossier-hq/dossier/pkg/config"
)

// Request is one completion call.
type Request struct {
	System string
	Prompt string
	// Temperature overrides the configured default when non-nil.
	Temperature *float64
	// MaxTokens overrides the configured default when > 0.
	MaxTokens int
}

// Generator produces a completion for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Client talks to OpenRouter through its OpenAI-compatible API.
type Client struct {
	model      llms.Model
	cfg        config.LLMConfig
	maxRetries uint64
}

var _ Generator = (*Client)(nil)

// NewClient builds the OpenRouter client. The API key is required; the
// base URL defaults to OpenRouter's OpenAI-compatible endpoint.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: OPENROUTER_API_KEY is required")
	}
	model, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create client: %w", err)
	}
	retries := uint64(cfg.MaxRetries)
	if cfg.MaxRetries <= 0 {
		retries = 3
	}
	return &Client{model: model, cfg: cfg, maxRetries: retries}, nil
}

// Generate runs one completion with exponential-backoff retry on
// transient failures. Context cancellation stops the retry loop.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	temperature := c.cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := c.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	var content string
	operation := func() error {
		resp, err := c.model.GenerateContent(ctx, messages,
			llms.WithTemperature(temperature),
			llms.WithMaxTokens(maxTokens),
		)
		if err != nil {
			// Context errors are permanent; retrying cannot help.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			slog.Warn("LLM call failed, retrying", "model", c.cfg.Model, "error", err)
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty response")
		}
		content = resp.Choices[0].Content
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackoff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("llm: generation failed: %w", err)
	}
	return content, nil
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}
