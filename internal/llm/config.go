// Package llm wraps the chat models used for remote domain labeling. Gemini and OpenAI sit
// behind the same Client interface.
package llm

import "fmt"

// Provider names a model vendor.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// ParseProvider maps a configuration value to a Provider. Empty means Gemini.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case "", ProviderGemini:
		return ProviderGemini, nil
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	}
	return "", fmt.Errorf("unsupported llm provider %q", s)
}

// Config selects the model used for labeling.
type Config struct {
	Provider Provider
	Model    string
	// Temperature is kept low so repeated runs label the same domain the same way.
	Temperature float32
	// MaxOutputTokens caps the reply; 0 leaves the vendor default.
	MaxOutputTokens int32
	// BaseURL points OpenAI requests at a compatible gateway.
	BaseURL string
}

var defaultModels = map[Provider]string{
	ProviderGemini: "gemini-2.5-flash-lite",
	ProviderOpenAI: "gpt-4o-mini",
}

// ConfigFor returns the labeling defaults for a provider name, falling back to Gemini.
func ConfigFor(provider string) *Config {
	p, err := ParseProvider(provider)
	if err != nil {
		p = ProviderGemini
	}
	return &Config{Provider: p, Model: defaultModels[p], Temperature: 0.1}
}

// DefaultConfig labels with Gemini.
func DefaultConfig() *Config {
	return ConfigFor(string(ProviderGemini))
}

// model returns the configured model or the provider default.
func (c *Config) model() string {
	if c.Model != "" {
		return c.Model
	}
	return defaultModels[c.Provider]
}
