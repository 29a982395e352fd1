package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiGenerator calls the Gemini API through the genai SDK.
type GeminiGenerator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiGenerator builds a Gemini-based Generator. baseURL is optional.
func NewGeminiGenerator(ctx context.Context, apiKey, model, baseURL string, timeout time.Duration) (*GeminiGenerator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &GeminiGenerator{
		client:  client,
		model:   strings.TrimPrefix(strings.TrimSpace(model), "models/"),
		timeout: timeout,
	}, nil
}

// Generate implements Generator using Gemini generateContent.
func (g *GeminiGenerator) Generate(ctx context.Context, in Request) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("gemini generation model required")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	parts := make([]*genai.Part, 0, len(in.Attachments)+1)
	for _, att := range in.Attachments {
		parts = append(parts, genai.NewPartFromBytes(att.Data, att.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(in.Prompt))

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens(in)),
	}
	if strings.TrimSpace(in.SystemPrompt) != "" {
		config.SystemInstruction = genai.NewContentFromText(in.SystemPrompt, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		{Role: genai.RoleUser, Parts: parts},
	}, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	var text strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part != nil && part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}
	return out, nil
}
