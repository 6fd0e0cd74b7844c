package config

import "fmt"

// Validate checks the static invariants on a loaded PipelineConfig that
// are not expressible as a schema constraint: mode=column requires a
// column name, step names are unique, candidates is non-negative.
func (c *PipelineConfig) Validate() error {
	if c.Data.Source == "" {
		return fmt.Errorf("config: data.source is required")
	}

	seen := make(map[string]struct{}, len(c.Steps))
	for i, step := range c.Steps {
		if step.Name == "" {
			return fmt.Errorf("config: step %d: name is required", i)
		}
		if _, dup := seen[step.Name]; dup {
			return fmt.Errorf("config: step %d: duplicate step name %q", i, step.Name)
		}
		seen[step.Name] = struct{}{}

		if err := step.Output.Validate(); err != nil {
			return fmt.Errorf("config: step %q: %w", step.Name, err)
		}
		if step.Candidates < 0 {
			return fmt.Errorf("config: step %q: candidates must be >= 0", step.Name)
		}
		for j, pc := range step.Plugins {
			if pc.Type == "" {
				return fmt.Errorf("config: step %q: plugin %d: type is required", step.Name, j)
			}
			if err := pc.Output.Validate(); err != nil {
				return fmt.Errorf("config: step %q: plugin %d: %w", step.Name, j, err)
			}
		}
	}
	return nil
}

// Validate enforces the OutputConfig invariant from the data model:
// mode=column requires column to be set.
func (o *OutputConfig) Validate() error {
	switch o.Mode {
	case "", OutputModeMerge, OutputModeIgnore:
		return nil
	case OutputModeColumn:
		if o.Column == "" {
			return fmt.Errorf("output: mode=column requires a non-empty column")
		}
		return nil
	default:
		return fmt.Errorf("output: unknown mode %q", o.Mode)
	}
}
