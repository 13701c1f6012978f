package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompleterRequestsJSONObject(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewCompleter(Provider{ID: "qwen", Model: "qwen-plus", APIKey: "sk-test", BaseURL: srv.URL + "/"})
	out, err := c.Complete(context.Background(), CompletionRequest{
		System: "sys", User: "usr", Temperature: 0.3, MaxTokens: 2000, JSON: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	assert.Equal(t, "qwen-plus", got["model"])
	assert.InDelta(t, 0.3, got["temperature"], 0.0001)
	assert.EqualValues(t, 2000, got["max_tokens"])
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
	messages := got["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "usr", messages[1].(map[string]any)["content"])
}

func TestOpenAICompleterNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAICompleter(Provider{Model: "gpt-4o-mini", APIKey: "k", BaseURL: srv.URL})
	out, err := c.Complete(context.Background(), CompletionRequest{User: "x"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOpenAICompleterPropagatesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAICompleter(Provider{Model: "gpt-4o-mini", APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), CompletionRequest{User: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestAnthropicCompleter(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-haiku-4-5",
			"content": [{"type": "text", "text": "` + "```json\\n{\\\"summary\\\":\\\"ok\\\"}\\n```" + `"}],
			"stop_reason": "end_turn", "usage": {"input_tokens": 1, "output_tokens": 1}
		}`))
	}))
	defer srv.Close()

	c := NewCompleter(Provider{Kind: AnthropicMessages, Model: "claude-haiku-4-5", APIKey: "sk-ant", BaseURL: srv.URL})
	out, err := c.Complete(context.Background(), CompletionRequest{
		System: "review", User: "diff", Temperature: 0.3, MaxTokens: 2000, JSON: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, out)

	assert.Equal(t, "claude-haiku-4-5", got["model"])
	assert.EqualValues(t, 2000, got["max_tokens"])
	assert.InDelta(t, 0.3, got["temperature"], 0.0001)
	system := got["system"].([]any)
	require.Len(t, system, 1)
	assert.Contains(t, system[0].(map[string]any)["text"], "Return valid JSON only")
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence("  {\"a\":1}  "))
	assert.Empty(t, stripFence(""))
}
