package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Mythli/batchprompter-sub003/config"
	"github.com/Mythli/batchprompter-sub003/row"
	"github.com/Mythli/batchprompter-sub003/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBinder() *OutputBinder {
	return &OutputBinder{Templates: template.New()}
}

func TestBindMergeSingleCandidateMergesIntoSameRow(t *testing.T) {
	b := newBinder()
	step := config.StepConfig{Output: config.OutputConfig{Mode: config.OutputModeMerge}}
	result := stepResult{Candidates: []candidateResult{{Text: "hi"}}}

	rows, contributed, err := b.Bind(t.Context(), step, map[string]any{"a": 1}, "0", result)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0", rows[0].Index)
	assert.Equal(t, "hi", rows[0].Data["text"])
	assert.Equal(t, 1, rows[0].Data["a"])
	assert.Equal(t, map[string]any{"text": "hi"}, contributed[0])
}

func TestBindMergeMultiCandidateExplodesRowsWithSuffixedIndices(t *testing.T) {
	b := newBinder()
	step := config.StepConfig{Output: config.OutputConfig{Mode: config.OutputModeMerge}}
	result := stepResult{Candidates: []candidateResult{{Text: "x"}, {Text: "y"}}}

	rows, contributed, err := b.Bind(t.Context(), step, map[string]any{}, "3", result)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"3_0", "3_1"}, rows.Indices())
	assert.Equal(t, "x", rows[0].Data["text"])
	assert.Equal(t, "y", rows[1].Data["text"])
	require.Len(t, contributed, 2)
	assert.Equal(t, "x", contributed[0]["text"])
}

func TestBindColumnModeStoresWholeResultUnderColumn(t *testing.T) {
	b := newBinder()
	step := config.StepConfig{Output: config.OutputConfig{Mode: config.OutputModeColumn, Column: "summary"}}
	result := stepResult{Candidates: []candidateResult{{Text: "summary text"}}}

	rows, contributed, err := b.Bind(t.Context(), step, map[string]any{"a": 1}, "0", result)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "summary text", rows[0].Data["summary"])
	assert.Equal(t, 1, rows[0].Data["a"])
	assert.Equal(t, "summary text", contributed[0]["summary"])
}

func TestBindColumnModeWithMultipleCandidatesStoresSlice(t *testing.T) {
	b := newBinder()
	step := config.StepConfig{Output: config.OutputConfig{Mode: config.OutputModeColumn, Column: "options"}}
	result := stepResult{Candidates: []candidateResult{{Text: "a"}, {Text: "b"}}}

	rows, _, err := b.Bind(t.Context(), step, map[string]any{}, "0", result)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	opts, ok := rows[0].Data["options"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, opts)
}

func TestBindIgnoreModeLeavesRowDataUnchanged(t *testing.T) {
	b := newBinder()
	step := config.StepConfig{Output: config.OutputConfig{Mode: config.OutputModeIgnore}}
	result := stepResult{Candidates: []candidateResult{{Text: "discarded"}}}

	rows, _, err := b.Bind(t.Context(), step, map[string]any{"a": 1}, "0", result)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]any{"a": 1}, rows[0].Data)
}

func TestBindStructuredCandidateMergesEachField(t *testing.T) {
	b := newBinder()
	step := config.StepConfig{Output: config.OutputConfig{Mode: config.OutputModeMerge}}
	result := stepResult{Candidates: []candidateResult{{Structured: map[string]any{"name": "x", "age": 2.0}}}}

	rows, contributed, err := b.Bind(t.Context(), step, map[string]any{}, "0", result)
	require.NoError(t, err)
	assert.Equal(t, "x", rows[0].Data["name"])
	assert.Equal(t, 2.0, rows[0].Data["age"])
	assert.Equal(t, map[string]any{"name": "x", "age": 2.0}, contributed[0])
}

func TestWriteArtifactsWritesOneFilePerCandidateWithSuffix(t *testing.T) {
	dir := t.TempDir()
	b := newBinder()
	step := config.StepConfig{
		Output: config.OutputConfig{OutputPath: filepath.Join(dir, "{{ .name }}.txt"), Mode: config.OutputModeMerge},
	}
	result := stepResult{Candidates: []candidateResult{{Text: "first"}, {Text: "second"}}}

	rows, _, err := b.Bind(t.Context(), step, map[string]any{"name": "item"}, "0", result)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	got0, err := os.ReadFile(filepath.Join(dir, "item_1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(got0))

	got1, err := os.ReadFile(filepath.Join(dir, "item_2.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(got1))
}

func TestWriteArtifactsSanitizesPathSegments(t *testing.T) {
	dir := t.TempDir()
	b := newBinder()
	step := config.StepConfig{
		Output: config.OutputConfig{OutputPath: filepath.Join(dir, "{{ .name }}.txt")},
	}
	result := stepResult{Candidates: []candidateResult{{Text: "ok"}}}

	_, _, err := b.Bind(t.Context(), step, map[string]any{"name": "a/b c*?.txt"}, "0", result)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
}

func TestWriteTerminalOutputStripsReservedStepOutputsKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	data := withStepOutputs(map[string]any{"a": 1}, nil, "step1", map[string]any{"a": 1})
	s := row.Stream{row.Row{Index: "0", Data: data}}

	err := WriteTerminalOutput(path, "", s)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), stepOutputsKey)
}

func TestWriteTerminalOutputAppliesJQFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	s := row.Stream{row.New("0", map[string]any{"a": 1, "b": 2})}
	err := WriteTerminalOutput(path, "{a: .a}", s)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"a"`)
	assert.NotContains(t, string(raw), `"b"`)
}
