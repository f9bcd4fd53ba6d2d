package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aretw0/tendril/pkg/domain"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

// Anthropic completes prompts with the Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

func NewAnthropic(apiKey, model, baseURL string, extra ...option.RequestOption) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		model:  pickModel(model, defaultAnthropicModel),
	}
}

func (p *Anthropic) Complete(ctx context.Context, prompt string, cfg domain.AIConfig) (string, error) {
	msgReq := anthropic.MessageNewParams{
		Model: anthropic.Model(pickModel(cfg.Model, p.model)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		// Anthropic requires max_tokens.
		MaxTokens: defaultAnthropicMaxTokens,
	}
	if cfg.MaxTokens > 0 {
		msgReq.MaxTokens = int64(cfg.MaxTokens)
	}
	if cfg.SystemPrompt != "" {
		msgReq.System = []anthropic.TextBlockParam{{Text: cfg.SystemPrompt}}
	}
	if cfg.Temperature > 0 {
		msgReq.Temperature = anthropic.Float(cfg.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, msgReq)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
