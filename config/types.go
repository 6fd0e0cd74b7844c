// Package config defines the declarative PipelineConfig document and its
// loader: YAML or JSON, unknown fields rejected, CLI-override merging.
package config

// PipelineConfig is the top-level declarative document: data source,
// global defaults, and the ordered list of steps.
type PipelineConfig struct {
	Data    DataConfig    `json:"data" yaml:"data"`
	Globals GlobalsConfig `json:"globals" yaml:"globals"`
	Steps   []StepConfig  `json:"steps" yaml:"steps"`
}

// DataConfig describes the input row source and slicing.
type DataConfig struct {
	Source string `json:"source" yaml:"source"`
	Offset int    `json:"offset,omitempty" yaml:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// GlobalsConfig holds defaults inherited by every step unless overridden.
type GlobalsConfig struct {
	Model           string       `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature     float64      `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	ThinkingLevel   string       `json:"thinkingLevel,omitempty" yaml:"thinkingLevel,omitempty"`
	System          PromptSource `json:"system,omitempty" yaml:"system,omitempty"`
	Concurrency     int          `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	TaskConcurrency int          `json:"taskConcurrency,omitempty" yaml:"taskConcurrency,omitempty"`
	TmpDir          string       `json:"tmpDir,omitempty" yaml:"tmpDir,omitempty"`
	DataOutputPath  string       `json:"dataOutputPath,omitempty" yaml:"dataOutputPath,omitempty"`
	ContinueOnError bool         `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
}

// StepConfig is one stage of the pipeline: plugins, an optional LLM call,
// judge/feedback, verification, post-processing, and output binding.
type StepConfig struct {
	Name     string         `json:"name" yaml:"name"`
	Prompt   PromptSource   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	System   PromptSource   `json:"system,omitempty" yaml:"system,omitempty"`
	Model    string         `json:"model,omitempty" yaml:"model,omitempty"`
	Plugins  []PluginConfig `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	Output   OutputConfig   `json:"output,omitempty" yaml:"output,omitempty"`
	Schema   map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`

	Candidates int `json:"candidates,omitempty" yaml:"candidates,omitempty"`

	Judge    *JudgeConfig    `json:"judge,omitempty" yaml:"judge,omitempty"`
	Feedback *FeedbackConfig `json:"feedback,omitempty" yaml:"feedback,omitempty"`

	AspectRatio          string `json:"aspectRatio,omitempty" yaml:"aspectRatio,omitempty"`
	Command              string `json:"command,omitempty" yaml:"command,omitempty"`
	SkipCandidateCommand bool   `json:"skipCandidateCommand,omitempty" yaml:"skipCandidateCommand,omitempty"`
	VerifyCommand        string `json:"verifyCommand,omitempty" yaml:"verifyCommand,omitempty"`
}

// JudgeConfig configures the auxiliary judge model invoked to pick among
// multiple candidates.
type JudgeConfig struct {
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Model  string `json:"model,omitempty" yaml:"model,omitempty"`
}

// FeedbackConfig configures the critique+regenerate loop.
type FeedbackConfig struct {
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Model  string `json:"model,omitempty" yaml:"model,omitempty"`
	Loops  int    `json:"loops,omitempty" yaml:"loops,omitempty"`
}

// OutputConfig governs how a step's (or plugin's) result folds back into
// the row set or is emitted as an artifact.
type OutputConfig struct {
	Mode       string `json:"mode,omitempty" yaml:"mode,omitempty"` // merge | column | ignore
	Column     string `json:"column,omitempty" yaml:"column,omitempty"`
	Explode    bool   `json:"explode,omitempty" yaml:"explode,omitempty"`
	OutputPath string `json:"outputPath,omitempty" yaml:"outputPath,omitempty"`
	JQFilter   string `json:"jqFilter,omitempty" yaml:"jqFilter,omitempty"`
}

const (
	OutputModeMerge  = "merge"
	OutputModeColumn = "column"
	OutputModeIgnore = "ignore"
)

// PluginConfig is discriminated by Type; the Config map is validated
// against that plugin's own ConfigSchema once resolved.
type PluginConfig struct {
	ID     string         `json:"id,omitempty" yaml:"id,omitempty"`
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	Output OutputConfig   `json:"output,omitempty" yaml:"output,omitempty"`
}
