package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicProviderInvokeText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-sonnet-4-20250514", req.Model)

		_ = json.NewEncoder(w).Encode(anthropicResponse{
			ID:    "msg_1",
			Model: req.Model,
			Content: []anthropicContentBlock{
				{Type: "text", Text: "hello there"},
			},
		})
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Invoke(t.Context(), Request{
		Model:    "claude-sonnet-4-20250514",
		Messages: []Message{TextMessage("user", "hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
}

func TestAnthropicProviderInvokeStructuredViaToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Tools, 1)
		assert.Equal(t, structuredOutputToolName, req.Tools[0].Name)
		require.NotNil(t, req.ToolChoice)
		assert.Equal(t, "tool", req.ToolChoice.Type)

		_ = json.NewEncoder(w).Encode(anthropicResponse{
			ID:    "msg_2",
			Model: req.Model,
			Content: []anthropicContentBlock{
				{Type: "tool_use", Name: structuredOutputToolName, Input: json.RawMessage(`{"score":7}`)},
			},
		})
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Invoke(t.Context(), Request{
		Model:            "claude-sonnet-4-20250514",
		Messages:         []Message{TextMessage("user", "rate this")},
		StructuredSchema: map[string]any{"type": "object"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Structured)
	assert.EqualValues(t, 7, resp.Structured["score"])
}

func TestAnthropicProviderRetriesOn503(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			ID:      "msg_3",
			Content: []anthropicContentBlock{{Type: "text", Text: "recovered"}},
		})
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	p.retry.base = 1
	p.retry.cap = 1

	resp, err := p.Invoke(t.Context(), Request{Model: "m", Messages: []Message{TextMessage("user", "hi")}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, 2, attempts)
}

func TestAnthropicProviderMissingAPIKeyErrors(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicProvider(AnthropicConfig{})
	assert.Error(t, err)
}
