package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadInlineJSON(t *testing.T) {
	cfg, err := Load(`{"data":{"source":"in.csv"},"globals":{},"steps":[{"name":"s1","prompt":"hi"}]}`)
	require.NoError(t, err)
	assert.Equal(t, "in.csv", cfg.Data.Source)
	require.Len(t, cfg.Steps, 1)
	assert.Equal(t, "s1", cfg.Steps[0].Name)
}

func TestLoadInlineJSONRejectsUnknownFields(t *testing.T) {
	_, err := Load(`{"data":{"source":"in.csv"},"bogus":true}`)
	assert.Error(t, err)
}

func TestValidateRequiresDataSource(t *testing.T) {
	cfg := &PipelineConfig{}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateStepNames(t *testing.T) {
	cfg := &PipelineConfig{
		Data:  DataConfig{Source: "in.csv"},
		Steps: []StepConfig{{Name: "s1"}, {Name: "s1"}},
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateColumnModeRequiresColumn(t *testing.T) {
	cfg := &PipelineConfig{
		Data:  DataConfig{Source: "in.csv"},
		Steps: []StepConfig{{Name: "s1", Output: OutputConfig{Mode: OutputModeColumn}}},
	}
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &PipelineConfig{
		Data: DataConfig{Source: "in.csv"},
		Steps: []StepConfig{
			{Name: "s1", Output: OutputConfig{Mode: OutputModeColumn, Column: "out"}},
		},
	}
	assert.NoError(t, cfg.Validate())
}

func TestApplyCLIOverridesGlobalsAndPerStep(t *testing.T) {
	cfg := &PipelineConfig{
		Data:    DataConfig{Source: "in.csv"},
		Globals: GlobalsConfig{Model: "base-model"},
		Steps:   []StepConfig{{Name: "s1", Model: "step-model"}, {Name: "s2"}},
	}

	two := 2
	ApplyCLIOverrides(cfg, Overrides{
		Model: "global-override",
		Step: map[int]Overrides{
			2: {Model: "step2-override", Candidates: &two},
		},
	})

	assert.Equal(t, "global-override", cfg.Globals.Model)
	assert.Equal(t, "step-model", cfg.Steps[0].Model)
	assert.Equal(t, "step2-override", cfg.Steps[1].Model)
	assert.Equal(t, 2, cfg.Steps[1].Candidates)
}

func TestParseStepIndex(t *testing.T) {
	n, ok := ParseStepIndex("3")
	require.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = ParseStepIndex("0")
	assert.False(t, ok)

	_, ok = ParseStepIndex("abc")
	assert.False(t, ok)
}
