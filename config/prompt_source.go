package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// PromptSource is either an inline template string or a {file: "..."}
// reference to a template file or directory of files, per spec §4.1. It
// accepts both forms transparently in YAML and JSON documents.
type PromptSource struct {
	Text string
	File string
}

// IsZero reports whether no source was configured at all (an optional
// field like StepConfig.System left unset).
func (p PromptSource) IsZero() bool {
	return p.Text == "" && p.File == ""
}

func (p *PromptSource) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*p = PromptSource{Text: asString}
		return nil
	}

	var asObject struct {
		File string `json:"file"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		return fmt.Errorf("config: prompt source must be a string or {file: \"...\"}: %w", err)
	}
	*p = PromptSource{File: asObject.File}
	return nil
}

func (p PromptSource) MarshalJSON() ([]byte, error) {
	if p.File != "" {
		return json.Marshal(struct {
			File string `json:"file"`
		}{File: p.File})
	}
	return json.Marshal(p.Text)
}

func (p *PromptSource) UnmarshalYAML(value *yaml.Node) error {
	var asString string
	if err := value.Decode(&asString); err == nil {
		*p = PromptSource{Text: asString}
		return nil
	}

	var asObject struct {
		File string `yaml:"file"`
	}
	if err := value.Decode(&asObject); err != nil {
		return fmt.Errorf("config: prompt source must be a string or {file: \"...\"}: %w", err)
	}
	*p = PromptSource{File: asObject.File}
	return nil
}
