package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ProviderOpenAICompat = "openai-compat"
	ProviderGemini       = "gemini"
	ProviderClaude       = "claude"

	// DefaultMaxTokens caps replies when a request does not set MaxTokens.
	DefaultMaxTokens = 2000
	defaultTimeout   = 120 * time.Second
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty response from model")

// Attachment is a binary input sent alongside the prompt, e.g. the PDF itself
// or a screenshot of a formula.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Request is one single-turn generation call.
type Request struct {
	SystemPrompt string
	Prompt       string
	Attachments  []Attachment
	MaxTokens    int
}

// Generator produces text from a prompt and optional attachments.
// All providers (OpenAI-compatible, Gemini, Claude) implement this interface.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewGenerator builds the Generator named by cfg.Provider.
func NewGenerator(ctx context.Context, cfg Config) (Generator, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAICompat:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("openai-compat base url required")
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case ProviderGemini:
		return NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
	case ProviderClaude:
		return NewClaudeGenerator(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

func maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}
