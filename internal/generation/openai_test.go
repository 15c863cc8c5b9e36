package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens"`
}

func fakeChat(t *testing.T, content string, got *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   got.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 40, "completion_tokens": 12, "total_tokens": 52},
		})
	}))
}

func TestOpenAI_Generate(t *testing.T) {
	var got chatRequest
	srv := fakeChat(t, "Refunds take five days.", &got)
	defer srv.Close()

	g, err := New(context.Background(), Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)

	resp, err := g.Generate(context.Background(), Request{
		System: "Answer from context.",
		History: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
		Prompt:    "How long do refunds take?",
		MaxTokens: 300,
	})
	require.NoError(t, err)

	assert.Equal(t, "Refunds take five days.", resp.Content)
	assert.Equal(t, 52, resp.TokensUsed)
	assert.Equal(t, DefaultModel, resp.Model)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	assert.Equal(t, "How long do refunds take?", got.Messages[3].Content)
	assert.Equal(t, 300, got.MaxTokens)
}

func TestOpenAI_EmptyAnswer(t *testing.T) {
	var got chatRequest
	srv := fakeChat(t, "  ", &got)
	defer srv.Close()

	g, err := New(context.Background(), Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), Request{Prompt: "q"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "llama", APIKey: "k"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

// TestTruncateContent verifies truncation works correctly for very long content.
func TestTruncateContent(t *testing.T) {
	g := NewOpenAI(nil, "", 100, nil)

	long := strings.Repeat("This is a test content. ", 100)
	truncated := g.truncateContent(long)

	assert.Len(t, truncated, 400)
	assert.True(t, strings.HasPrefix(long, truncated))
	assert.Equal(t, "short", g.truncateContent("short"))
}
