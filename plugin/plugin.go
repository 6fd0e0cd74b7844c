// Package plugin defines the plugin contract (pipeline preprocess steps
// that fan rows out, filter them, or enrich them before LLM inference runs)
// and a registry of concrete plugin types.
package plugin

import (
	"context"

	"github.com/Mythli/batchprompter-sub003/packet"
)

// Capability names an external dependency a plugin needs in order to run.
// runtime.BuildSteps checks every declared plugin's RequiredCapabilities
// against the services bundle at startup and fails fast if one is missing.
type Capability string

const (
	CapabilityHTTPFetch         Capability = "http-fetch"
	CapabilityBrowserAutomation Capability = "browser-automation"
	CapabilityLLM               Capability = "llm"
	CapabilitySearchAPI         Capability = "search-api"
	CapabilityEmailVerify       Capability = "email-verify"
)

// ResolvedConfig is a frozen, row-specific configuration produced by
// Plugin.ResolveConfig: templates already bound against the row, inherited
// model defaults already merged in.
type ResolvedConfig struct {
	Raw map[string]any
}

// Result is what Plugin.Execute returns: zero or more data packets. Packet
// semantics (drop / continue / fan-out) are interpreted by the caller
// (runtime.StepExecutor), not by the plugin itself.
type Result struct {
	Packets []packet.DataPacket
}

// Plugin is a single composable unit of pipeline preprocessing.
type Plugin interface {
	// Type returns the plugin's type tag, matching PluginConfig.Type.
	Type() string

	// ConfigSchema returns a JSON Schema (as a map, suitable for
	// santhosh-tekuri/jsonschema/v6 compilation) describing a raw plugin
	// config. A nil schema means "no schema". The runtime does not compile
	// this schema or validate raw configs against it.
	ConfigSchema() map[string]any

	// RequiredCapabilities lists the capabilities this plugin needs from
	// the services bundle.
	RequiredCapabilities() []Capability

	// ResolveConfig combines raw with row and inheritedModel and returns a
	// frozen row-specific config. The Step Executor calls it once per row
	// per plugin and passes nil for inheritedModel; the result is not
	// validated against ConfigSchema. Calling ResolveConfig twice against
	// the same row and raw config must yield equal results.
	ResolveConfig(raw map[string]any, row map[string]any, inheritedModel map[string]any) (ResolvedConfig, error)

	// Execute runs the plugin against a resolved config.
	Execute(ctx context.Context, resolved ResolvedConfig, services *Services) (Result, error)
}

// Factory builds a Plugin instance from its declared config at pipeline
// load time (not per-row — ResolveConfig handles the per-row binding).
type Factory func(name string, config map[string]any) (Plugin, error)

// Registry maps plugin type strings to factories; Create builds a new
// instance from a factory on each call. A flat map keyed by type tag,
// looked up once per declared PluginConfig at pipeline build time.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a plugin factory for the given type tag.
func (r *Registry) Register(pluginType string, factory Factory) {
	r.factories[pluginType] = factory
}

// Create instantiates a Plugin of the given type.
func (r *Registry) Create(pluginType, name string, config map[string]any) (Plugin, error) {
	factory, ok := r.factories[pluginType]
	if !ok {
		return nil, &UnknownTypeError{Type: pluginType}
	}
	return factory(name, config)
}

// Types returns every registered plugin type tag.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	return out
}

// UnknownTypeError is returned by Registry.Create for an unregistered type.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return "plugin: unknown type: " + e.Type
}
