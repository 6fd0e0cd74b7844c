package plugin

import (
	"context"
	"fmt"

	"github.com/Mythli/batchprompter-sub003/packet"
)

// browserPlugin is the shared implementation behind the `website-agent` and
// `style-scraper` plugin types: both resolve a URL field from the row,
// acquire a slot on the services' browser worker pool, and delegate to an
// out-of-process worker over the WorkerLauncher. They differ only in the
// task string passed to the worker and their output field name.
type browserPlugin struct {
	name        string
	typeTag     string
	task        string
	urlField    string
	targetField string
	launcher    *WorkerLauncher
}

// NewWebsiteAgentFactory returns a Factory for the `website-agent` plugin
// type: fetches a rendered page via the browser worker and writes the
// extracted page data back under targetField.
func NewWebsiteAgentFactory(launcher *WorkerLauncher) Factory {
	return newBrowserFactory("website-agent", "render", "page", launcher)
}

// NewStyleScraperFactory returns a Factory for the `style-scraper` plugin
// type: extracts a site's style/logo summary via the browser worker.
func NewStyleScraperFactory(launcher *WorkerLauncher) Factory {
	return newBrowserFactory("style-scraper", "style-scrape", "style", launcher)
}

func newBrowserFactory(typeTag, task, defaultTargetField string, launcher *WorkerLauncher) Factory {
	return func(name string, config map[string]any) (Plugin, error) {
		urlField, _ := config["urlField"].(string)
		if urlField == "" {
			return nil, fmt.Errorf("plugin %q: %s requires a non-empty urlField", name, typeTag)
		}
		targetField, _ := config["targetField"].(string)
		if targetField == "" {
			targetField = defaultTargetField
		}
		return &browserPlugin{
			name:        name,
			typeTag:     typeTag,
			task:        task,
			urlField:    urlField,
			targetField: targetField,
			launcher:    launcher,
		}, nil
	}
}

func (p *browserPlugin) Type() string { return p.typeTag }

func (p *browserPlugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"urlField"},
		"properties": map[string]any{
			"urlField":    map[string]any{"type": "string"},
			"targetField": map[string]any{"type": "string"},
		},
	}
}

func (p *browserPlugin) RequiredCapabilities() []Capability {
	return []Capability{CapabilityBrowserAutomation}
}

func (p *browserPlugin) ResolveConfig(_ map[string]any, rowData map[string]any, _ map[string]any) (ResolvedConfig, error) {
	url, _ := rowData[p.urlField].(string)
	return ResolvedConfig{Raw: map[string]any{"url": url}}, nil
}

func (p *browserPlugin) Execute(ctx context.Context, resolved ResolvedConfig, services *Services) (Result, error) {
	url, _ := resolved.Raw["url"].(string)
	if url == "" {
		return Result{Packets: []packet.DataPacket{{Data: map[string]any{}}}}, nil
	}

	if err := services.BrowserSemaphore.Acquire(ctx, 1); err != nil {
		return Result{}, fmt.Errorf("plugin %q: acquire browser slot: %w", p.name, err)
	}
	defer services.BrowserSemaphore.Release(1)

	resp, err := p.launcher.Fetch(BrowserRequest{URL: url, Task: p.task})
	if err != nil {
		return Result{}, fmt.Errorf("plugin %q: worker fetch failed: %w", p.name, err)
	}

	return Result{Packets: []packet.DataPacket{{Data: map[string]any{p.targetField: resp.Data}}}}, nil
}
