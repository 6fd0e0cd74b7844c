package runtime

import (
	"context"
	"fmt"
	"testing"

	"github.com/Mythli/batchprompter-sub003/config"
	"github.com/Mythli/batchprompter-sub003/llm"
	"github.com/Mythli/batchprompter-sub003/plugin"
	"github.com/Mythli/batchprompter-sub003/row"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestOrchestratorAbortsRunOnAbortiveError(t *testing.T) {
	fake := &fakeLLM{err: fmt.Errorf("boom")}
	e := newExecutor(t, fake)
	o := &Orchestrator{Executor: e, TaskConcurrency: semaphore.NewWeighted(4)}

	// A schema violation on the first candidate's retry path surfaces as a
	// row failure, not an abort; to exercise the abort path we simulate a
	// ConfigError directly via a step whose prompt template is malformed.
	step := CompiledStep{
		Config: config.StepConfig{
			Name:   "broken",
			Prompt: config.PromptSource{Text: "{{ .unterminated"},
		},
	}

	rows := row.Stream{row.New("0", map[string]any{})}
	result, err := o.Run(t.Context(), config.GlobalsConfig{}, []CompiledStep{step}, rows)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, result.Rows)
}

func TestOrchestratorRecordsRowFailureWithoutAbortingOtherRows(t *testing.T) {
	// llm errors that survive retries surface as TransientIOError, which is
	// not abortive: the row is dropped and recorded as a failure, other rows
	// still complete.
	fake := &failForTargetLLM{failFor: map[string]bool{"b": true}}
	e := newExecutor(t, fake)
	o := &Orchestrator{Executor: e, TaskConcurrency: semaphore.NewWeighted(4)}

	step := simpleStep("greet")
	rows := row.Stream{
		row.New("0", map[string]any{"target": "a"}),
		row.New("1", map[string]any{"target": "b"}),
		row.New("2", map[string]any{"target": "c"}),
	}

	result, err := o.Run(t.Context(), config.GlobalsConfig{}, []CompiledStep{step}, rows)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	require.Len(t, result.Failures, 1)
}

// failForTargetLLM fails permanently for specific row targets, identified by
// inspecting the rendered prompt text (the fake has no row-index visibility,
// mirroring how a real provider only sees message content).
type failForTargetLLM struct {
	failFor map[string]bool
}

func (f *failForTargetLLM) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			for target := range f.failFor {
				if p.Text == "say hi to "+target {
					return nil, fmt.Errorf("simulated permanent failure for %s", target)
				}
			}
		}
	}
	return &llm.Response{Text: "ok"}, nil
}

func TestOrchestratorDedupeKeepsFirstOccurrenceByInputOrderNotScheduling(t *testing.T) {
	// Three rows share the dedupe key "x@example.com" but differ in a
	// non-key field; only the first by input index should survive, on every
	// attempt, because a step carrying a dedupe plugin runs its rows
	// sequentially in input order rather than concurrently.
	reg := plugin.NewRegistry()
	reg.Register("dedupe", plugin.NewDedupeFactory())

	step := config.StepConfig{
		Name: "dedup",
		Plugins: []config.PluginConfig{
			{Type: "dedupe", Config: map[string]any{"keyField": "email"}, Output: config.OutputConfig{Mode: config.OutputModeIgnore}},
		},
	}

	e := newExecutor(t, &fakeLLM{})
	o := &Orchestrator{Executor: e, TaskConcurrency: semaphore.NewWeighted(8)}

	rows := row.Stream{
		row.New("0", map[string]any{"email": "x@example.com", "tag": "first"}),
		row.New("1", map[string]any{"email": "x@example.com", "tag": "second"}),
		row.New("2", map[string]any{"email": "x@example.com", "tag": "third"}),
	}

	for attempt := 0; attempt < 20; attempt++ {
		// Fresh plugin instance (fresh seen-set) each attempt, since the
		// dedupe state is scoped to one pipeline run.
		compiled, err := BuildSteps([]config.StepConfig{step}, reg, &plugin.Services{})
		require.NoError(t, err)

		result, err := o.Run(t.Context(), config.GlobalsConfig{}, compiled, rows)
		require.NoError(t, err)
		require.Len(t, result.Rows, 1)
		assert.Equal(t, "first", result.Rows[0].Data["tag"])
	}
}

func TestBuildStepsAssignsDefaultPluginIDWhenUnset(t *testing.T) {
	reg := plugin.NewRegistry()
	reg.Register("dedupe", plugin.NewDedupeFactory())

	steps := []config.StepConfig{
		{
			Name: "dedup",
			Plugins: []config.PluginConfig{
				{Type: "dedupe", Config: map[string]any{"keyField": "email"}},
			},
		},
	}

	compiled, err := BuildSteps(steps, reg, &plugin.Services{})
	require.NoError(t, err)
	require.Len(t, compiled[0].Plugins, 1)
	assert.Equal(t, "dedupe-0", compiled[0].Plugins[0].ID)
}
