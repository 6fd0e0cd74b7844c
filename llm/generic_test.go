package llm

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenericProviderInvokeText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		resp := chatResponse{ID: "1", Model: "m"}
		resp.Choices = []chatChoice{{FinishReason: "stop"}}
		content := "hi there"
		resp.Choices[0].Message.Content = &content
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewGenericProvider(GenericConfig{Name: "ollama", BaseURL: srv.URL, APIKey: "tok"})
	require.NoError(t, err)

	resp, err := p.Invoke(t.Context(), Request{Model: "m", Messages: []Message{TextMessage("user", "hi")}})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
}

func TestGenericProviderInvokeStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_schema", req.ResponseFormat.Type)

		resp := chatResponse{ID: "1", Model: req.Model}
		resp.Choices = []chatChoice{{}}
		content := `{"ok":true}`
		resp.Choices[0].Message.Content = &content
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewGenericProvider(GenericConfig{Name: "local", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Invoke(t.Context(), Request{
		Model:            "m",
		Messages:         []Message{TextMessage("user", "hi")},
		StructuredSchema: map[string]any{"type": "object"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Structured["ok"].(bool))
}

func TestGenericProviderInvokeImage(t *testing.T) {
	wantPNG := []byte{0x89, 0x50, 0x4e, 0x47}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		_ = json.NewEncoder(w).Encode(imageResponse{
			Data: []struct {
				B64JSON string `json:"b64_json"`
				URL     string `json:"url"`
			}{{B64JSON: base64.StdEncoding.EncodeToString(wantPNG)}},
		})
	}))
	defer srv.Close()

	p, err := NewGenericProvider(GenericConfig{Name: "sd", BaseURL: srv.URL, ImagePath: "/images/generations"})
	require.NoError(t, err)

	resp, err := p.Invoke(t.Context(), Request{
		Model:    "m",
		Messages: []Message{TextMessage("user", "a cat")},
		Image:    &ImageOptions{AspectRatio: "1:1"},
	})
	require.NoError(t, err)
	assert.Equal(t, wantPNG, resp.Image)
	assert.Equal(t, "image/png", resp.MimeType)
}

func TestGenericProviderImageWithoutPathErrors(t *testing.T) {
	p, err := NewGenericProvider(GenericConfig{Name: "sd", BaseURL: "http://example.invalid"})
	require.NoError(t, err)

	_, err = p.Invoke(t.Context(), Request{
		Model:    "m",
		Messages: []Message{TextMessage("user", "a cat")},
		Image:    &ImageOptions{},
	})
	assert.Error(t, err)
}
