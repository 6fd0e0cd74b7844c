package runtime

import (
	"maps"

	"github.com/Mythli/batchprompter-sub003/packet"
)

// StepContext carries the accumulated state for one row as it moves
// through a single step's preprocess-plugins → LLM → output-binding
// pipeline, mirroring the teacher's PipelineContext/StepOutputs split
// between immutable trigger data and step-scoped accumulation.
type StepContext struct {
	// Row is the working row data, updated as preprocess plugins merge
	// packets into it.
	Row map[string]any

	// ContentParts accumulates every content part contributed by
	// preprocess plugins, in declared plugin order, fed into the LLM
	// messages payload as the step's non-prompt context.
	ContentParts []packet.ContentPart

	// StepOutputs maps a completed step's name to the output it merged
	// into Row, so later steps' templates can address
	// `{{steps.<name>.<field>}}` even after Row has been overwritten by
	// subsequent steps.
	StepOutputs map[string]map[string]any
}

// NewStepContext seeds a StepContext from a row's current data and the
// accumulated StepOutputs carried forward from prior steps.
func NewStepContext(rowData map[string]any, priorOutputs map[string]map[string]any) *StepContext {
	row := make(map[string]any, len(rowData))
	maps.Copy(row, rowData)
	delete(row, stepOutputsKey)

	outputs := make(map[string]map[string]any, len(priorOutputs))
	for k, v := range priorOutputs {
		cp := make(map[string]any, len(v))
		maps.Copy(cp, v)
		outputs[k] = cp
	}

	return &StepContext{Row: row, StepOutputs: outputs}
}

// MergeOutput records stepName's output and merges it into Row, matching
// the teacher's PipelineContext.MergeStepOutput semantics.
func (sc *StepContext) MergeOutput(stepName string, output map[string]any) {
	if output == nil {
		return
	}
	stored := make(map[string]any, len(output))
	maps.Copy(stored, output)
	sc.StepOutputs[stepName] = stored
	maps.Copy(sc.Row, output)
}

// AppendContentParts records content parts contributed by a preprocess
// plugin, in call order.
func (sc *StepContext) AppendContentParts(parts ...packet.ContentPart) {
	sc.ContentParts = append(sc.ContentParts, parts...)
}

// TemplateData returns the view exposed to the prompt template engine:
// the flat row fields plus a "steps" namespace keyed by step name.
func (sc *StepContext) TemplateData() map[string]any {
	data := make(map[string]any, len(sc.Row)+1)
	maps.Copy(data, sc.Row)
	data["steps"] = sc.StepOutputs
	return data
}

// stepOutputsKey is the reserved Row.Data field under which StepOutputs
// is carried forward between steps, since Row itself has no dedicated
// field for it and the Orchestrator only ever sees plain row data between
// step boundaries. Stripped before any terminal CSV/JSON export.
const stepOutputsKey = "__stepOutputs"

// priorOutputsFrom extracts the StepOutputs map embedded in a row's data
// by a previous step, or nil if this is the row's first step.
func priorOutputsFrom(rowData map[string]any) map[string]map[string]any {
	raw, ok := rowData[stepOutputsKey]
	if !ok {
		return nil
	}
	outputs, ok := raw.(map[string]map[string]any)
	if !ok {
		return nil
	}
	return outputs
}

// withStepOutputs returns a copy of rowData with its StepOutputs updated
// to include stepName's contribution on top of the previously carried
// forward set.
func withStepOutputs(rowData map[string]any, prior map[string]map[string]any, stepName string, contributed map[string]any) map[string]any {
	merged := make(map[string]map[string]any, len(prior)+1)
	for k, v := range prior {
		merged[k] = v
	}
	if contributed != nil {
		merged[stepName] = contributed
	}

	out := make(map[string]any, len(rowData)+1)
	maps.Copy(out, rowData)
	out[stepOutputsKey] = merged
	return out
}

// stripStepOutputs removes the reserved bookkeeping key before a row is
// written to a terminal output or otherwise exposed outside the runtime.
func stripStepOutputs(rowData map[string]any) map[string]any {
	if _, ok := rowData[stepOutputsKey]; !ok {
		return rowData
	}
	out := make(map[string]any, len(rowData))
	for k, v := range rowData {
		if k == stepOutputsKey {
			continue
		}
		out[k] = v
	}
	return out
}
