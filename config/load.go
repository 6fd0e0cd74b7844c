package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a PipelineConfig from raw, which is either inline JSON
// (detected by a leading '{' after trimming whitespace) or a path to a
// YAML or JSON file on disk, selected by extension (falling back to YAML
// when the extension is absent or unrecognised). Unknown fields are
// rejected in both formats, following the teacher's
// FileSource/LoadFromFile split between reading bytes and decoding.
func Load(raw string) (*PipelineConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		return decodeJSON([]byte(trimmed))
	}

	data, err := os.ReadFile(raw)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", raw, err)
	}

	if strings.HasSuffix(raw, ".json") {
		return decodeJSON(data)
	}
	return decodeYAML(data)
}

func decodeJSON(data []byte) (*PipelineConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg PipelineConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse JSON: %w", err)
	}
	return &cfg, nil
}

func decodeYAML(data []byte) (*PipelineConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg PipelineConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse YAML: %w", err)
	}
	return &cfg, nil
}
