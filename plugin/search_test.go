package plugin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSearchQueriesConfiguredEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte(`{"hits":["a","b"]}`))
	}))
	defer srv.Close()

	p, err := NewWebSearchFactory()("s1", map[string]any{
		"endpoint":     srv.URL,
		"queryField":   "query",
		"apiKeyHeader": "X-Api-Key",
		"apiKey":       "secret",
	})
	require.NoError(t, err)

	resolved, err := p.ResolveConfig(nil, map[string]any{"query": "golang"}, nil)
	require.NoError(t, err)

	result, err := p.Execute(t.Context(), resolved, &Services{HTTPClient: srv.Client()})
	require.NoError(t, err)
	require.Len(t, result.Packets, 1)
	assert.NotNil(t, result.Packets[0].Data["results"])
}

func TestImageSearchDefaultsResultsField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p, err := NewImageSearchFactory()("s1", map[string]any{
		"endpoint":   srv.URL,
		"queryField": "query",
	})
	require.NoError(t, err)

	resolved, err := p.ResolveConfig(nil, map[string]any{"query": "cats"}, nil)
	require.NoError(t, err)

	result, err := p.Execute(t.Context(), resolved, &Services{HTTPClient: srv.Client()})
	require.NoError(t, err)
	require.Len(t, result.Packets, 1)
	_, ok := result.Packets[0].Data["images"]
	assert.True(t, ok)
}

func TestSearchEmptyQueryIsNoOp(t *testing.T) {
	p, err := NewWebSearchFactory()("s1", map[string]any{
		"endpoint":   "http://example.invalid",
		"queryField": "query",
	})
	require.NoError(t, err)

	resolved, err := p.ResolveConfig(nil, map[string]any{}, nil)
	require.NoError(t, err)

	result, err := p.Execute(t.Context(), resolved, &Services{HTTPClient: http.DefaultClient})
	require.NoError(t, err)
	assert.Len(t, result.Packets, 1)
}

func TestSearchFactoryRequiresEndpoint(t *testing.T) {
	_, err := NewWebSearchFactory()("s1", map[string]any{"queryField": "q"})
	assert.Error(t, err)
}
