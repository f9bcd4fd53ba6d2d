package ai

import (
	"context"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAI completes prompts with the chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  pickModel(model, defaultOpenAIModel),
	}
}

func (p *OpenAI) Complete(ctx context.Context, prompt string, cfg domain.AIConfig) (string, error) {
	var messages []openai.ChatCompletionMessage
	if cfg.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: cfg.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       pickModel(cfg.Model, p.model),
		Messages:    messages,
		Temperature: float32(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
