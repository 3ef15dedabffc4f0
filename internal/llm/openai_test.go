package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitafit/config"
)

func newOpenAITestInvoker(url string, timeout time.Duration) *OpenAIInvoker {
	return NewOpenAIInvoker(config.LLMConfig{
		Provider:  "openai",
		APIKey:    "sk-test",
		BaseURL:   url + "/v1",
		Model:     "gpt-test",
		MaxTokens: 512,
		Timeout:   timeout,
	})
}

func TestOpenAIInvoker_Invoke_Success(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-test-0001",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": "```json\n{\"reply\":\"oi\"}\n```"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19},
		})
	}))
	defer server.Close()

	inv := newOpenAITestInvoker(server.URL, 5*time.Second)
	history := []Turn{
		{Role: RoleUser, Content: "primeira"},
		{Role: RoleAssistant, Content: "resposta"},
	}

	raw, err := inv.Invoke(context.Background(), Payload{System: "sys", Text: "pergunta", JSON: true}, history)
	require.NoError(t, err)

	assert.Equal(t, "```json\n{\"reply\":\"oi\"}\n```", raw.Text)
	assert.Equal(t, "gpt-test-0001", raw.Model)
	assert.Equal(t, 12, raw.PromptTokens)
	assert.Equal(t, 7, raw.CompletionTokens)

	messages := captured["messages"].([]any)
	require.Len(t, messages, 4)
	roles := make([]string, 0, len(messages))
	for _, m := range messages {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
	assert.Equal(t, "primeira", messages[1].(map[string]any)["content"])
	assert.Equal(t, "json_object", captured["response_format"].(map[string]any)["type"])
}

func TestOpenAIInvoker_Invoke_SendsImageWithText(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`))
	}))
	defer server.Close()

	inv := newOpenAITestInvoker(server.URL, 5*time.Second)
	payload := Payload{
		Text:       "analise",
		Attachment: &Attachment{MediaType: "image/png", Data: []byte{0x89, 0x50}},
	}

	_, err := inv.Invoke(context.Background(), payload, nil)
	require.NoError(t, err)

	messages := captured["messages"].([]any)
	require.Len(t, messages, 1)
	parts := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"])
	assert.Equal(t, "analise", parts[0].(map[string]any)["text"])
	image := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.True(t, strings.HasPrefix(image["url"].(string), "data:image/png;base64,"))
}

func TestOpenAIInvoker_Invoke_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	inv := newOpenAITestInvoker(server.URL, 5*time.Second)
	_, err := inv.Invoke(context.Background(), Payload{Text: "x"}, nil)
	require.Error(t, err)

	assert.True(t, IsRejected(err))
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusUnauthorized, rejected.Status)
	assert.Equal(t, "invalid_api_key", rejected.Code)
	assert.False(t, rejected.Transient())
}

func TestOpenAIInvoker_Invoke_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	inv := newOpenAITestInvoker(server.URL, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := inv.Invoke(ctx, Payload{Text: "x"}, nil)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestOpenAIInvoker_Invoke_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	inv := newOpenAITestInvoker(url, time.Second)
	_, err := inv.Invoke(context.Background(), Payload{Text: "x"}, nil)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsRejected(err))
}
