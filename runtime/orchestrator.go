package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mythli/batchprompter-sub003/config"
	"github.com/Mythli/batchprompter-sub003/plugin"
	"github.com/Mythli/batchprompter-sub003/row"
	"golang.org/x/sync/semaphore"
)

// Orchestrator drives a full pipeline run: it loads the input RowStream
// (via the caller, which passes it to Run), iterates steps in declared
// order, and barrier-synchronises at each step boundary — step N+1 never
// starts for any row until step N has produced a disposition (continued,
// dropped, or exploded) for every row, per spec §5.
type Orchestrator struct {
	Executor        *StepExecutor
	TaskConcurrency *semaphore.Weighted
	Bus             *Bus
	ContinueOnError bool
}

// RunResult summarises a completed pipeline run.
type RunResult struct {
	Rows     row.Stream
	Failures []RowFailure
}

// BuildSteps compiles every StepConfig into a CompiledStep, instantiating
// its plugins from registry and failing fast with a CapabilityError if a
// declared plugin needs a capability the services bundle cannot provide.
func BuildSteps(steps []config.StepConfig, registry *plugin.Registry, services *plugin.Services) ([]CompiledStep, error) {
	compiled := make([]CompiledStep, len(steps))
	for i, step := range steps {
		cps := make([]CompiledPlugin, len(step.Plugins))
		for j, pc := range step.Plugins {
			inst, err := registry.Create(pc.Type, pc.ID, pc.Config)
			if err != nil {
				return nil, &ConfigError{Step: step.Name, Err: err}
			}
			for _, cap := range inst.RequiredCapabilities() {
				if !services.HasCapability(cap) {
					return nil, &CapabilityError{Plugin: pc.Type, Capability: string(cap)}
				}
			}
			id := pc.ID
			if id == "" {
				id = fmt.Sprintf("%s-%d", pc.Type, j)
			}
			cps[j] = CompiledPlugin{ID: id, Plugin: inst, RawConfig: pc.Config, Output: pc.Output}
		}
		compiled[i] = CompiledStep{Index: i, Config: step, Plugins: cps}
	}
	return compiled, nil
}

// Run iterates steps in declared order over rows, barrier-synchronising
// at each boundary. Row-level errors (ContentError, PluginError) drop the
// offending row and are recorded in RunResult.Failures; ConfigError,
// CapabilityError, and FatalError abort the whole run.
func (o *Orchestrator) Run(ctx context.Context, globals config.GlobalsConfig, steps []CompiledStep, rows row.Stream) (RunResult, error) {
	o.publish("run:start", map[string]any{"rows": len(rows)})

	var allFailures []RowFailure

	for _, step := range steps {
		o.publish("step:start", map[string]any{"step": step.Config.Name, "rows": len(rows)})

		next, failures, err := o.runStep(ctx, globals, step, rows)
		if err != nil {
			o.publish("error", map[string]any{"step": step.Config.Name, "error": err.Error()})
			return RunResult{Failures: allFailures}, err
		}

		allFailures = append(allFailures, failures...)
		rows = next

		o.publish("step:end", map[string]any{"step": step.Config.Name, "rows": len(rows)})
	}

	o.publish("run:end", map[string]any{"rows": len(rows), "failures": len(allFailures)})
	return RunResult{Rows: rows, Failures: allFailures}, nil
}

// rowOutcome captures one row's result from a single step execution, kept
// indexed by its position in the input slice so results can be
// concatenated back in original-index order once every row has settled
// (the step boundary barrier).
type rowOutcome struct {
	rows     row.Stream
	failures []RowFailure
	err      error
}

func (o *Orchestrator) runStep(ctx context.Context, globals config.GlobalsConfig, step CompiledStep, rows row.Stream) (row.Stream, []RowFailure, error) {
	outcomes := make([]rowOutcome, len(rows))

	var abortErr error

	if stepHasOrderSensitivePlugin(step) {
		// Order-sensitive plugins (e.g. dedupe) keep first-occurrence-wins
		// state keyed by whichever row reaches them first; under the
		// goroutine-per-row model below that's scheduling order, not input
		// order. Run these rows one at a time in index order instead so
		// first-occurrence means first-in-the-input, not first-scheduled.
		for i, r := range rows {
			priorOutputs := priorOutputsFrom(r.Data)
			produced, failures, err := o.Executor.Execute(ctx, i, step, globals, r, priorOutputs)
			if err != nil {
				outcomes[i] = rowOutcome{err: err}
				if isAbortive(err) {
					abortErr = err
					break
				}
				continue
			}
			outcomes[i] = rowOutcome{rows: produced, failures: failures}
		}
	} else {
		var wg sync.WaitGroup
		var abortOnce sync.Once

		for i, r := range rows {
			i, r := i, r
			wg.Add(1)
			go func() {
				defer wg.Done()

				if err := o.TaskConcurrency.Acquire(ctx, 1); err != nil {
					outcomes[i] = rowOutcome{err: err}
					return
				}
				defer o.TaskConcurrency.Release(1)

				priorOutputs := priorOutputsFrom(r.Data)
				produced, failures, err := o.Executor.Execute(ctx, i, step, globals, r, priorOutputs)
				if err != nil {
					if isAbortive(err) {
						abortOnce.Do(func() { abortErr = err })
					}
					outcomes[i] = rowOutcome{err: err}
					return
				}
				outcomes[i] = rowOutcome{rows: produced, failures: failures}
			}()
		}
		wg.Wait()
	}

	if abortErr != nil {
		return nil, nil, abortErr
	}

	var outRows row.Stream
	var failures []RowFailure
	for _, oc := range outcomes {
		if oc.err != nil {
			failures = append(failures, RowFailure{Step: step.Config.Name, Kind: "error", Message: oc.err.Error()})
			continue
		}
		outRows = append(outRows, oc.rows...)
		failures = append(failures, oc.failures...)
	}
	return outRows, failures, nil
}

// stepHasOrderSensitivePlugin reports whether step carries a plugin whose
// result depends on the order rows reach it, not just their contents.
// Dedupe is the only such plugin today: its seen-set first-occurrence
// semantics require rows to arrive in input order.
func stepHasOrderSensitivePlugin(step CompiledStep) bool {
	for _, cp := range step.Plugins {
		if cp.Plugin.Type() == "dedupe" {
			return true
		}
	}
	return false
}

func (o *Orchestrator) publish(kind string, data map[string]any) {
	if o.Bus == nil {
		return
	}
	o.Bus.Publish(Event{Kind: kind, Data: data})
}
