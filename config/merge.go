package config

import "strconv"

// Overrides holds CLI flag values to merge on top of a loaded
// PipelineConfig, override-wins, mirroring the teacher's DeepMergeConfigs
// semantics but specialised to this module's flat globals/step shape
// instead of a generic map merge.
type Overrides struct {
	Model           string
	Temperature     *float64
	ThinkingLevel   string
	System          string
	Prompt          string
	Schema          map[string]any
	Concurrency     *int
	TaskConcurrency *int
	TmpDir          string
	DataOutputPath  string

	Offset *int
	Limit  *int

	OutputPath   string
	OutputColumn string
	Explode      *bool

	Candidates     *int
	JudgePrompt    string
	JudgeModel     string
	FeedbackPrompt string
	FeedbackLoops  *int

	Command       string
	VerifyCommand string
	AspectRatio   string

	// Step is keyed by 1-based step index for flags suffixed `-<N>`. Each
	// entry overrides the corresponding field on c.Steps[N-1] only.
	Step map[int]Overrides
}

// ApplyCLIOverrides merges o onto c in place, override-wins. Global fields
// apply to c.Globals; per-step overrides (keyed 1-based in o.Step) apply
// only to the addressed step, taking precedence over both the loaded
// step config and the global override for that same field.
func ApplyCLIOverrides(c *PipelineConfig, o Overrides) {
	applyGlobals(&c.Globals, o)

	if o.Offset != nil {
		c.Data.Offset = *o.Offset
	}
	if o.Limit != nil {
		c.Data.Limit = *o.Limit
	}

	for idx, stepOverride := range o.Step {
		if idx < 1 || idx > len(c.Steps) {
			continue
		}
		applyStep(&c.Steps[idx-1], stepOverride)
	}
}

func applyGlobals(g *GlobalsConfig, o Overrides) {
	if o.Model != "" {
		g.Model = o.Model
	}
	if o.Temperature != nil {
		g.Temperature = *o.Temperature
	}
	if o.ThinkingLevel != "" {
		g.ThinkingLevel = o.ThinkingLevel
	}
	if o.System != "" {
		g.System = PromptSource{Text: o.System}
	}
	if o.Concurrency != nil {
		g.Concurrency = *o.Concurrency
	}
	if o.TaskConcurrency != nil {
		g.TaskConcurrency = *o.TaskConcurrency
	}
	if o.TmpDir != "" {
		g.TmpDir = o.TmpDir
	}
	if o.DataOutputPath != "" {
		g.DataOutputPath = o.DataOutputPath
	}
}

func applyStep(s *StepConfig, o Overrides) {
	if o.Model != "" {
		s.Model = o.Model
	}
	if o.System != "" {
		s.System = PromptSource{Text: o.System}
	}
	if o.Prompt != "" {
		s.Prompt = PromptSource{Text: o.Prompt}
	}
	if o.Schema != nil {
		s.Schema = o.Schema
	}
	if o.OutputPath != "" {
		s.Output.OutputPath = o.OutputPath
	}
	if o.OutputColumn != "" {
		s.Output.Mode = OutputModeColumn
		s.Output.Column = o.OutputColumn
	}
	if o.Explode != nil {
		s.Output.Explode = *o.Explode
	}
	if o.Candidates != nil {
		s.Candidates = *o.Candidates
	}
	if o.JudgePrompt != "" || o.JudgeModel != "" {
		if s.Judge == nil {
			s.Judge = &JudgeConfig{}
		}
		if o.JudgePrompt != "" {
			s.Judge.Prompt = o.JudgePrompt
		}
		if o.JudgeModel != "" {
			s.Judge.Model = o.JudgeModel
		}
	}
	if o.FeedbackPrompt != "" || o.FeedbackLoops != nil {
		if s.Feedback == nil {
			s.Feedback = &FeedbackConfig{}
		}
		if o.FeedbackPrompt != "" {
			s.Feedback.Prompt = o.FeedbackPrompt
		}
		if o.FeedbackLoops != nil {
			s.Feedback.Loops = *o.FeedbackLoops
		}
	}
	if o.Command != "" {
		s.Command = o.Command
	}
	if o.VerifyCommand != "" {
		s.VerifyCommand = o.VerifyCommand
	}
	if o.AspectRatio != "" {
		s.AspectRatio = o.AspectRatio
	}
}

// ParseStepIndex parses the `-<N>` suffix convention used by per-step CLI
// flags (e.g. "--model-2" targets c.Steps[1]). Returns ok=false if suffix
// is not a valid positive integer.
func ParseStepIndex(suffix string) (int, bool) {
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
