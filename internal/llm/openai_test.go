package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatCall struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// chatServer answers every completion with content and records the last request.
func chatServer(t *testing.T, content string, got *chatCall) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))

		choices := []map[string]any{}
		if content != "" {
			choices = append(choices, map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   got.Model,
			"choices": choices,
		})
	}))
}

func openAIFor(t *testing.T, url string) *OpenAIClient {
	t.Helper()
	config := ConfigFor("openai")
	config.BaseURL = url
	client, err := NewOpenAIClient(config, "test-key")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestOpenAIClient_CompleteJSON(t *testing.T) {
	var call chatCall
	server := chatServer(t, "Here you go:\n```json\n[{\"domain\": \"rankia.com\"}]\n```", &call)
	defer server.Close()

	client := openAIFor(t, server.URL)
	out, err := client.Complete(context.Background(), Request{
		System: "label domains",
		Prompt: "rankia.com",
		JSON:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `[{"domain": "rankia.com"}]`, out)

	assert.Equal(t, "gpt-4o-mini", call.Model)
	assert.Equal(t, "gpt-4o-mini", client.Model())
	require.Len(t, call.Messages, 2)
	assert.Equal(t, "system", call.Messages[0].Role)
	assert.Equal(t, "rankia.com", call.Messages[1].Content)
}

func TestOpenAIClient_PlainTextKeepsReply(t *testing.T) {
	var call chatCall
	server := chatServer(t, "editorial", &call)
	defer server.Close()

	out, err := openAIFor(t, server.URL).Complete(context.Background(), Request{Prompt: "xataka.com"})
	require.NoError(t, err)
	assert.Equal(t, "editorial", out)
	assert.Len(t, call.Messages, 1)
}

func TestOpenAIClient_EmptyReply(t *testing.T) {
	var call chatCall
	server := chatServer(t, "", &call)
	defer server.Close()

	_, err := openAIFor(t, server.URL).Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestNewClient_SelectsOpenAI(t *testing.T) {
	client, err := NewClient(context.Background(), ConfigFor("openai"), "k")
	require.NoError(t, err)
	_, ok := client.(*OpenAIClient)
	assert.True(t, ok)
}
