package domain

// AIConfig selects the generative model used by ai nodes.
type AIConfig struct {
	Provider     string  `json:"provider" mapstructure:"provider"`
	Model        string  `json:"model" mapstructure:"model"`
	SystemPrompt string  `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	Temperature  float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

// WithSystemPrompt returns a copy of c with the system prompt replaced when s is set.
func (c AIConfig) WithSystemPrompt(s string) AIConfig {
	if s != "" {
		c.SystemPrompt = s
	}
	return c
}

// Product is a catalog item rendered by product nodes.
type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ImageURL string  `json:"image_url,omitempty"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
	URL      string  `json:"url,omitempty"`
}
