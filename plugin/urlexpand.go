package plugin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Mythli/batchprompter-sub003/packet"
)

// URLExpand follows redirects on a URL field and writes the final,
// resolved URL back under a configured output field. Used to normalise
// shortened or tracking URLs before they are passed to downstream plugins
// or LLM prompts.
type URLExpand struct {
	name        string
	urlField    string
	targetField string
}

// NewURLExpandFactory returns a Factory that builds URLExpand plugins.
func NewURLExpandFactory() Factory {
	return func(name string, config map[string]any) (Plugin, error) {
		urlField, _ := config["urlField"].(string)
		if urlField == "" {
			return nil, fmt.Errorf("plugin %q: urlexpand requires a non-empty urlField", name)
		}
		targetField, _ := config["targetField"].(string)
		if targetField == "" {
			targetField = urlField
		}
		return &URLExpand{name: name, urlField: urlField, targetField: targetField}, nil
	}
}

func (p *URLExpand) Type() string { return "urlexpand" }

func (p *URLExpand) ConfigSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"urlField"},
		"properties": map[string]any{
			"urlField":    map[string]any{"type": "string"},
			"targetField": map[string]any{"type": "string"},
		},
	}
}

func (p *URLExpand) RequiredCapabilities() []Capability {
	return []Capability{CapabilityHTTPFetch}
}

func (p *URLExpand) ResolveConfig(_ map[string]any, rowData map[string]any, _ map[string]any) (ResolvedConfig, error) {
	url, _ := rowData[p.urlField].(string)
	return ResolvedConfig{Raw: map[string]any{
		"url":         url,
		"targetField": p.targetField,
	}}, nil
}

func (p *URLExpand) Execute(ctx context.Context, resolved ResolvedConfig, services *Services) (Result, error) {
	url, _ := resolved.Raw["url"].(string)
	targetField, _ := resolved.Raw["targetField"].(string)
	if url == "" {
		return Result{Packets: []packet.DataPacket{{Data: map[string]any{}}}}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("plugin %q: build request: %w", p.name, err)
	}

	resp, err := services.HTTPClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("plugin %q: expand %q: %w", p.name, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	final := url
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}

	return Result{Packets: []packet.DataPacket{{Data: map[string]any{targetField: final}}}}, nil
}
