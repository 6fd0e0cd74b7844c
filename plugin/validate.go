package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Mythli/batchprompter-sub003/packet"
)

// Validate drops a row (zero packets) if the row's data does not satisfy a
// configured JSON Schema, or if a required-fields list has a missing
// entry. Mirrors the teacher's two-strategy ValidateStep, generalised from
// a hand-rolled type checker to a real schema compiler.
type Validate struct {
	name           string
	strategy       string // "json_schema" or "required_fields"
	requiredFields []string
	schema         *jsonschema.Schema
}

// NewValidateFactory returns a Factory that builds Validate plugins.
func NewValidateFactory() Factory {
	return func(name string, config map[string]any) (Plugin, error) {
		strategy, _ := config["strategy"].(string)
		if strategy == "" {
			strategy = "required_fields"
		}

		v := &Validate{name: name, strategy: strategy}

		switch strategy {
		case "json_schema":
			schemaMap, ok := config["schema"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("plugin %q: json_schema strategy requires a 'schema' map", name)
			}
			compiled, err := compileSchema(schemaMap)
			if err != nil {
				return nil, fmt.Errorf("plugin %q: compile schema: %w", name, err)
			}
			v.schema = compiled
		case "required_fields":
			rawFields, _ := config["requiredFields"].([]any)
			if len(rawFields) == 0 {
				return nil, fmt.Errorf("plugin %q: required_fields strategy requires a non-empty 'requiredFields' list", name)
			}
			fields := make([]string, 0, len(rawFields))
			for _, f := range rawFields {
				s, ok := f.(string)
				if !ok {
					return nil, fmt.Errorf("plugin %q: requiredFields entries must be strings", name)
				}
				fields = append(fields, s)
			}
			v.requiredFields = fields
		default:
			return nil, fmt.Errorf("plugin %q: unknown strategy %q (expected json_schema or required_fields)", name, strategy)
		}

		return v, nil
	}
}

// compileSchema compiles an inline JSON-Schema map via jsonschema/v6's
// in-memory resource loading, avoiding a round trip through the
// filesystem for schemas embedded directly in pipeline config.
func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	const resourceURL = "mem://schema.json"
	res, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if err := c.AddResource(resourceURL, res); err != nil {
		return nil, err
	}
	return c.Compile(resourceURL)
}

// mapToAny adapts a row's map[string]any into the `any` shape
// jsonschema/v6 expects an instance to already be in (plain Go values as
// produced by encoding/json unmarshalling into interface{}).
func mapToAny(m map[string]any) any {
	return any(m)
}

func (p *Validate) Type() string { return "validate" }

func (p *Validate) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"strategy":       map[string]any{"type": "string", "enum": []any{"json_schema", "required_fields"}},
			"schema":         map[string]any{"type": "object"},
			"requiredFields": map[string]any{"type": "array"},
		},
	}
}

func (p *Validate) RequiredCapabilities() []Capability { return nil }

func (p *Validate) ResolveConfig(_ map[string]any, rowData map[string]any, _ map[string]any) (ResolvedConfig, error) {
	cp := make(map[string]any, len(rowData))
	for k, v := range rowData {
		cp[k] = v
	}
	return ResolvedConfig{Raw: cp}, nil
}

func (p *Validate) Execute(_ context.Context, resolved ResolvedConfig, _ *Services) (Result, error) {
	switch p.strategy {
	case "required_fields":
		for _, field := range p.requiredFields {
			if _, ok := resolved.Raw[field]; !ok {
				return Result{}, nil
			}
		}
		return Result{Packets: []packet.DataPacket{{Data: map[string]any{}}}}, nil
	case "json_schema":
		if err := p.schema.Validate(mapToAny(resolved.Raw)); err != nil {
			return Result{}, nil
		}
		return Result{Packets: []packet.DataPacket{{Data: map[string]any{}}}}, nil
	default:
		return Result{}, fmt.Errorf("plugin %q: unknown strategy %q", p.name, p.strategy)
	}
}
