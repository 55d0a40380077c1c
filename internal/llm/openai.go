package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to OpenAI or a compatible gateway.
type OpenAIClient struct {
	client *openai.Client
	config *Config
}

func NewOpenAIClient(config *Config, apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if config == nil {
		config = ConfigFor(string(ProviderOpenAI))
	}

	cc := openai.DefaultConfig(apiKey)
	if config.BaseURL != "" {
		cc.BaseURL = config.BaseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cc), config: config}, nil
}

// Complete sends one chat completion. JSON mode is never requested from the API because
// it only allows top-level objects and labels come back as an array.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.config.model(),
		Temperature: c.config.Temperature,
		MaxTokens:   int(c.config.MaxOutputTokens),
		Messages:    messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", c.config.model(), err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyReply
	}

	text := resp.Choices[0].Message.Content
	if req.JSON {
		return ExtractJSON(text), nil
	}
	return text, nil
}

func (c *OpenAIClient) Model() string { return c.config.model() }

// Close is a no-op.
func (c *OpenAIClient) Close() error { return nil }
