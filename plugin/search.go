package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/Mythli/batchprompter-sub003/packet"
)

// Search is a generic search-api plugin: it issues a GET against a
// configurable endpoint with the row's query field as a parameter and
// surfaces the raw JSON response (or a results array extracted via a
// dotted path) under an output field. It implements both `websearch` and
// `imagesearch` plugin types — the two differ only in their default
// result field and type tag, not in transport logic, per spec Non-goals
// ("no specific retrieval provider implementation").
type Search struct {
	name         string
	typeTag      string
	endpoint     string
	queryField   string
	queryParam   string
	resultsField string
	apiKeyHeader string
	apiKey       string
}

// NewWebSearchFactory returns a Factory for the `websearch` plugin type.
func NewWebSearchFactory() Factory {
	return newSearchFactory("websearch", "results")
}

// NewImageSearchFactory returns a Factory for the `imagesearch` plugin type.
func NewImageSearchFactory() Factory {
	return newSearchFactory("imagesearch", "images")
}

func newSearchFactory(typeTag, defaultResultsField string) Factory {
	return func(name string, config map[string]any) (Plugin, error) {
		endpoint, _ := config["endpoint"].(string)
		if endpoint == "" {
			return nil, fmt.Errorf("plugin %q: %s requires a non-empty endpoint", name, typeTag)
		}
		queryField, _ := config["queryField"].(string)
		if queryField == "" {
			return nil, fmt.Errorf("plugin %q: %s requires a non-empty queryField", name, typeTag)
		}
		queryParam, _ := config["queryParam"].(string)
		if queryParam == "" {
			queryParam = "q"
		}
		resultsField, _ := config["resultsField"].(string)
		if resultsField == "" {
			resultsField = defaultResultsField
		}
		apiKeyHeader, _ := config["apiKeyHeader"].(string)
		apiKey, _ := config["apiKey"].(string)

		return &Search{
			name:         name,
			typeTag:      typeTag,
			endpoint:     endpoint,
			queryField:   queryField,
			queryParam:   queryParam,
			resultsField: resultsField,
			apiKeyHeader: apiKeyHeader,
			apiKey:       apiKey,
		}, nil
	}
}

func (s *Search) Type() string { return s.typeTag }

func (s *Search) ConfigSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"endpoint", "queryField"},
		"properties": map[string]any{
			"endpoint":     map[string]any{"type": "string"},
			"queryField":   map[string]any{"type": "string"},
			"queryParam":   map[string]any{"type": "string"},
			"resultsField": map[string]any{"type": "string"},
			"apiKeyHeader": map[string]any{"type": "string"},
			"apiKey":       map[string]any{"type": "string"},
		},
	}
}

func (s *Search) RequiredCapabilities() []Capability {
	return []Capability{CapabilitySearchAPI}
}

func (s *Search) ResolveConfig(_ map[string]any, rowData map[string]any, _ map[string]any) (ResolvedConfig, error) {
	query, _ := rowData[s.queryField].(string)
	return ResolvedConfig{Raw: map[string]any{"query": query}}, nil
}

func (s *Search) Execute(ctx context.Context, resolved ResolvedConfig, services *Services) (Result, error) {
	query, _ := resolved.Raw["query"].(string)
	if query == "" {
		return Result{Packets: []packet.DataPacket{{Data: map[string]any{}}}}, nil
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("plugin %q: parse endpoint: %w", s.name, err)
	}
	q := u.Query()
	q.Set(s.queryParam, query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("plugin %q: build request: %w", s.name, err)
	}
	if s.apiKeyHeader != "" && s.apiKey != "" {
		req.Header.Set(s.apiKeyHeader, s.apiKey)
	}

	resp, err := services.HTTPClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("plugin %q: request failed: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("plugin %q: read response: %w", s.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("plugin %q: search endpoint returned status %d: %s", s.name, resp.StatusCode, string(body))
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, fmt.Errorf("plugin %q: parse response: %w", s.name, err)
	}

	return Result{Packets: []packet.DataPacket{{Data: map[string]any{s.resultsField: decoded}}}}, nil
}
