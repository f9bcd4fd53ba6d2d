package ai

import (
	"context"
	"fmt"

	"github.com/aretw0/tendril/pkg/domain"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini completes prompts with the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model, baseURL string) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: pickModel(model, defaultGeminiModel)}, nil
}

func (p *Gemini) Complete(ctx context.Context, prompt string, cfg domain.AIConfig) (string, error) {
	config := &genai.GenerateContentConfig{}
	if cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	if cfg.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(cfg.Temperature))
	}
	if cfg.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(cfg.SystemPrompt)},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, pickModel(cfg.Model, p.model), genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini api error: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
