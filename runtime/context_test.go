package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStepContextStripsReservedKeyFromVisibleRow(t *testing.T) {
	rowData := withStepOutputs(map[string]any{"a": 1}, nil, "step1", map[string]any{"a": 1})
	sc := NewStepContext(rowData, priorOutputsFrom(rowData))

	_, leaked := sc.Row[stepOutputsKey]
	assert.False(t, leaked)
	assert.Equal(t, 1, sc.Row["a"])
	assert.Equal(t, map[string]any{"a": 1}, sc.StepOutputs["step1"])
}

func TestTemplateDataExposesStepsNamespace(t *testing.T) {
	sc := NewStepContext(map[string]any{"x": "y"}, map[string]map[string]any{
		"prior": {"field": "value"},
	})
	data := sc.TemplateData()
	assert.Equal(t, "y", data["x"])

	steps, ok := data["steps"].(map[string]map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "value", steps["prior"]["field"])
}

func TestMergeOutputUpdatesRowAndStepOutputs(t *testing.T) {
	sc := NewStepContext(map[string]any{}, nil)
	sc.MergeOutput("greet", map[string]any{"text": "hi"})

	assert.Equal(t, "hi", sc.Row["text"])
	assert.Equal(t, map[string]any{"text": "hi"}, sc.StepOutputs["greet"])
}

func TestWithStepOutputsAccumulatesAcrossSteps(t *testing.T) {
	base := map[string]any{"a": 1}
	afterStep1 := withStepOutputs(base, nil, "step1", map[string]any{"a": 1})

	prior := priorOutputsFrom(afterStep1)
	afterStep2 := withStepOutputs(afterStep1, prior, "step2", map[string]any{"b": 2})

	final := priorOutputsFrom(afterStep2)
	assert.Equal(t, map[string]any{"a": 1}, final["step1"])
	assert.Equal(t, map[string]any{"b": 2}, final["step2"])
}

func TestStripStepOutputsRemovesReservedKeyOnly(t *testing.T) {
	data := withStepOutputs(map[string]any{"a": 1}, nil, "s", map[string]any{"a": 1})
	stripped := stripStepOutputs(data)

	_, ok := stripped[stepOutputsKey]
	assert.False(t, ok)
	assert.Equal(t, 1, stripped["a"])
}

func TestPriorOutputsFromReturnsNilForFreshRow(t *testing.T) {
	assert.Nil(t, priorOutputsFrom(map[string]any{"a": 1}))
}
