package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeGenerator calls the Anthropic Messages API.
type ClaudeGenerator struct {
	client anthropic.Client
	model  string
}

// NewClaudeGenerator builds a Claude-based Generator. baseURL is optional.
func NewClaudeGenerator(apiKey, model, baseURL string, timeout time.Duration) (*ClaudeGenerator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("claude api key required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &ClaudeGenerator{
		client: anthropic.NewClient(opts...),
		model:  strings.TrimSpace(model),
	}, nil
}

// Generate implements Generator. PDFs become document blocks and images
// become image blocks ahead of the prompt text.
func (g *ClaudeGenerator) Generate(ctx context.Context, in Request) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("claude generation model required")
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(in.Attachments)+1)
	for _, att := range in.Attachments {
		encoded := base64.StdEncoding.EncodeToString(att.Data)
		switch {
		case att.MIMEType == "application/pdf":
			blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: encoded}))
		case strings.HasPrefix(att.MIMEType, "image/"):
			blocks = append(blocks, anthropic.NewImageBlockBase64(att.MIMEType, encoded))
		default:
			return "", fmt.Errorf("claude: unsupported attachment type %q", att.MIMEType)
		}
	}
	blocks = append(blocks, anthropic.NewTextBlock(in.Prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(maxTokens(in)),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if strings.TrimSpace(in.SystemPrompt) != "" {
		params.System = []anthropic.TextBlockParam{{Text: in.SystemPrompt}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude generate: %w", err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", fmt.Errorf("claude: %w", ErrEmptyResponse)
	}
	return out, nil
}
