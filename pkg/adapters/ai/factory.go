// Package ai provides ports.AIProvider implementations backed by the
// OpenAI, Anthropic and Gemini SDKs.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/ports"
)

// ErrEmptyResponse is returned when a model answers with no text.
var ErrEmptyResponse = errors.New("ai: empty response")

// Config selects and authenticates a provider. Model is the default used
// when the engine's AIConfig does not name one.
type Config struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
}

// NewProvider builds the provider named by cfg.Provider: "openai",
// "anthropic" (or "claude"), "gemini", or "ollama" (OpenAI compatible API).
func NewProvider(ctx context.Context, cfg Config) (ports.AIProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "anthropic", "claude":
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "gemini":
		return NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = strings.TrimRight(baseURL, "/") + "/v1"
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		return NewOpenAI(apiKey, cfg.Model, baseURL), nil
	case "":
		return nil, fmt.Errorf("ai: provider is required")
	default:
		return nil, fmt.Errorf("ai: unsupported provider %q", cfg.Provider)
	}
}

func pickModel(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
