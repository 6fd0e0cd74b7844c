package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Mythli/batchprompter-sub003/config"
	"github.com/Mythli/batchprompter-sub003/llm"
	"github.com/Mythli/batchprompter-sub003/packet"
	"github.com/Mythli/batchprompter-sub003/plugin"
	"github.com/Mythli/batchprompter-sub003/row"
	"github.com/Mythli/batchprompter-sub003/template"
	"golang.org/x/sync/semaphore"
)

const (
	defaultLLMTimeout      = 120 * time.Second
	defaultCommandTimeout  = 5 * time.Minute
	maxStructuredRetries   = 1
	maxVerificationRetries = 2
)

// CompiledPlugin pairs an instantiated plugin with its declared raw config
// and output binding, built once per pipeline load rather than per row.
type CompiledPlugin struct {
	ID        string
	Plugin    plugin.Plugin
	RawConfig map[string]any
	Output    config.OutputConfig
}

// CompiledStep is a StepConfig plus its instantiated plugins, built once
// at pipeline load time so ResolveConfig/Execute only do per-row work.
type CompiledStep struct {
	Index   int
	Config  config.StepConfig
	Plugins []CompiledPlugin
}

// StepExecutor implements the eight-step per-row algorithm: preprocess
// plugins, LLM inference, candidates, judge, feedback loops,
// verification, post-process, output binding.
type StepExecutor struct {
	Templates   *template.Engine
	LLM         llm.Client
	Services    *plugin.Services
	Concurrency *semaphore.Weighted
	Bus         *Bus
	Binder      *OutputBinder
}

// workingRow is one in-flight copy of a row as it passes through
// preprocess-plugin fan-out.
type workingRow struct {
	ctx *StepContext
}

func (w workingRow) clone() workingRow {
	cp := &StepContext{
		Row:         make(map[string]any, len(w.ctx.Row)),
		StepOutputs: w.ctx.StepOutputs,
	}
	for k, v := range w.ctx.Row {
		cp.Row[k] = v
	}
	cp.ContentParts = append([]packet.ContentPart{}, w.ctx.ContentParts...)
	return workingRow{ctx: cp}
}

// Execute runs step against r and returns the resulting rows (possibly
// zero, one, or many on fan-out/merge-mode multi-candidate), plus any
// row-level failures recorded along the way. A non-nil error is always
// abortive (ConfigError/CapabilityError/FatalError) and should stop the
// whole run.
func (e *StepExecutor) Execute(ctx context.Context, rowIdx int, step CompiledStep, globals config.GlobalsConfig, r row.Row, priorOutputs map[string]map[string]any) (row.Stream, []RowFailure, error) {
	sc := NewStepContext(r.Data, priorOutputs)
	rows := []workingRow{{ctx: sc}}
	indices := []string{r.Index}

	var failures []RowFailure

	rows, indices, failures = e.runPreprocess(ctx, step, rows, indices, failures)
	if len(rows) == 0 {
		return row.Stream{}, failures, nil
	}

	inheritedModel := modelDefaults(globals, step.Config)

	var outRows row.Stream
	for i, wr := range rows {
		idx := indices[i]

		if step.Config.Prompt.IsZero() && step.Config.AspectRatio == "" {
			data := withStepOutputs(wr.ctx.Row, wr.ctx.StepOutputs, step.Config.Name, nil)
			outRows = append(outRows, row.Row{Index: idx, Data: data})
			continue
		}

		result, err := e.runStepInference(ctx, step, inheritedModel, rowIdx, wr.ctx, idx)
		if err != nil {
			if isAbortive(err) {
				return nil, failures, err
			}
			failures = append(failures, RowFailure{
				RowIndex: idx,
				Step:     step.Config.Name,
				Kind:     "content_error",
				Message:  err.Error(),
			})
			e.publish("row:drop", map[string]any{"row": idx, "step": step.Config.Name, "error": err.Error()})
			continue
		}

		produced, contributed, err := e.Binder.Bind(ctx, step.Config, wr.ctx.Row, idx, result)
		if err != nil {
			return nil, failures, &FatalError{Err: fmt.Errorf("step %q: bind output: %w", step.Config.Name, err)}
		}
		for i := range produced {
			var c map[string]any
			if i < len(contributed) {
				c = contributed[i]
			}
			produced[i].Data = withStepOutputs(produced[i].Data, wr.ctx.StepOutputs, step.Config.Name, c)
		}
		outRows = append(outRows, produced...)
	}

	return outRows, failures, nil
}

// runPreprocess executes each declared plugin in order against every
// working row, applying drop/continue/fan-out packet semantics (spec
// §4.2). A plugin returning zero packets drops that row from the rest of
// the step; multiple packets fan the row out into N copies carrying a
// positional index suffix.
func (e *StepExecutor) runPreprocess(ctx context.Context, step CompiledStep, rows []workingRow, indices []string, failures []RowFailure) ([]workingRow, []string, []RowFailure) {
	for _, cp := range step.Plugins {
		var nextRows []workingRow
		var nextIdx []string

		for i, wr := range rows {
			idx := indices[i]

			resolved, err := cp.Plugin.ResolveConfig(cp.RawConfig, wr.ctx.Row, nil)
			if err != nil {
				failures = append(failures, RowFailure{RowIndex: idx, Step: step.Config.Name, Plugin: cp.ID, Kind: "plugin_error", Message: err.Error()})
				e.publish("plugin:error", map[string]any{"row": idx, "plugin": cp.ID, "error": err.Error()})
				continue
			}

			result, err := cp.Plugin.Execute(ctx, resolved, e.Services)
			if err != nil {
				failures = append(failures, RowFailure{RowIndex: idx, Step: step.Config.Name, Plugin: cp.ID, Kind: "plugin_error", Message: err.Error()})
				e.publish("plugin:error", map[string]any{"row": idx, "plugin": cp.ID, "error": err.Error()})
				continue
			}

			switch len(result.Packets) {
			case 0:
				e.publish("row:drop", map[string]any{"row": idx, "plugin": cp.ID})
			case 1:
				nc := wr.clone()
				applyPacket(nc.ctx, cp.Output, result.Packets[0])
				nextRows = append(nextRows, nc)
				nextIdx = append(nextIdx, idx)
			default:
				for n, p := range result.Packets {
					nc := wr.clone()
					applyPacket(nc.ctx, cp.Output, p)
					nextRows = append(nextRows, nc)
					nextIdx = append(nextIdx, fmt.Sprintf("%s_%d", idx, n))
				}
			}
		}

		rows, indices = nextRows, nextIdx
		if len(rows) == 0 {
			break
		}
	}
	return rows, indices, failures
}

// applyPacket folds one DataPacket into a working row's context according
// to the plugin's declared OutputConfig mode.
func applyPacket(sc *StepContext, out config.OutputConfig, p packet.DataPacket) {
	switch out.Mode {
	case config.OutputModeIgnore:
		// data consumed only to drive fan-out/content, never merged.
	case config.OutputModeColumn:
		if out.Column != "" {
			b, _ := json.Marshal(p.Data)
			sc.Row[out.Column] = string(b)
		}
	default: // merge, including unset (defaults to merge per §3 OutputConfig)
		packet.Merge(sc.Row, p)
	}
	sc.AppendContentParts(p.ContentParts...)
}

// stepResult is the outcome of running LLM inference, candidates, judge,
// feedback, verification, and post-process for one working row.
type stepResult struct {
	Candidates []candidateResult
}

type candidateResult struct {
	Text       string
	Structured map[string]any
	Image      []byte
	MimeType   string
}

func (e *StepExecutor) runStepInference(ctx context.Context, step CompiledStep, inheritedModel modelDefaultsT, rowIdx int, sc *StepContext, rowKey string) (stepResult, error) {
	system, err := e.Templates.RenderSource(resolvedSystem(step.Config, inheritedModel), sc.TemplateData())
	if err != nil {
		return stepResult{}, &ConfigError{Step: step.Config.Name, Err: err}
	}
	prompt, err := e.Templates.RenderSource(step.Config.Prompt, sc.TemplateData())
	if err != nil {
		return stepResult{}, &ConfigError{Step: step.Config.Name, Err: err}
	}

	messages := buildMessages(system, sc.ContentParts, prompt)

	candidates := step.Config.Candidates
	if candidates < 1 {
		candidates = 1
	}

	model := inheritedModel.model
	if step.Config.Model != "" {
		model = step.Config.Model
	}

	results := make([]candidateResult, candidates)
	for c := 0; c < candidates; c++ {
		seed := deriveSeed(rowIdx, step.Index, c)
		cr, err := e.invokeCandidate(ctx, model, inheritedModel.temperature, messages, step.Config, seed)
		if err != nil {
			return stepResult{}, err
		}
		results[c] = cr
		e.publish("candidate:produced", map[string]any{"row": rowKey, "step": step.Config.Name, "candidate": c})
	}

	chosen := 0
	if step.Config.Judge != nil && candidates > 1 {
		chosen, err = e.runJudge(ctx, step, inheritedModel, results)
		if err != nil {
			chosen = 0
		}
		e.publish("judge:chose", map[string]any{"row": rowKey, "step": step.Config.Name, "candidate": chosen})
	}

	if step.Config.Feedback != nil && step.Config.Feedback.Loops > 0 {
		selected, err := e.runFeedbackLoop(ctx, step, inheritedModel, messages, model, rowIdx, rowKey, results[chosen])
		if err == nil {
			results[chosen] = selected
		}
	}

	if step.Config.VerifyCommand != "" {
		if err := e.runVerification(ctx, step, messages, model, inheritedModel.temperature, rowIdx, results, rowKey); err != nil {
			return stepResult{}, &ContentError{Row: rowKey, Step: step.Config.Name, Err: err}
		}
	}

	if step.Config.Command != "" {
		e.runPostProcess(ctx, step, results, rowKey)
	}

	if step.Config.Judge != nil && candidates > 1 {
		return stepResult{Candidates: []candidateResult{results[chosen]}}, nil
	}
	return stepResult{Candidates: results}, nil
}

func (e *StepExecutor) invokeCandidate(ctx context.Context, model string, temperature float64, messages []llm.Message, step config.StepConfig, seed int64) (candidateResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultLLMTimeout)
	defer cancel()

	req := llm.Request{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		Seed:        seed,
	}
	if step.Schema != nil {
		req.StructuredSchema = step.Schema
	}
	if step.AspectRatio != "" {
		req.Image = &llm.ImageOptions{AspectRatio: step.AspectRatio}
	}

	var resp *llm.Response
	err := withPermit(reqCtx, e.Concurrency, func() error {
		var invokeErr error
		resp, invokeErr = e.LLM.Invoke(reqCtx, req)
		return invokeErr
	})
	if err != nil {
		return candidateResult{}, &TransientIOError{Step: step.Name, Err: err}
	}

	if step.Schema != nil && resp.Structured == nil {
		resp, err = e.retryForStructuredOutput(reqCtx, req, step)
		if err != nil {
			return candidateResult{}, &ContentError{Step: step.Name, Err: err}
		}
	}

	return candidateResult{
		Text:       resp.Text,
		Structured: resp.Structured,
		Image:      resp.Image,
		MimeType:   resp.MimeType,
	}, nil
}

// retryForStructuredOutput issues one automatic retry with a
// schema-echoing clarification message when structured decoding did not
// come back populated, per spec §4.3 step 2.
func (e *StepExecutor) retryForStructuredOutput(ctx context.Context, req llm.Request, step config.StepConfig) (*llm.Response, error) {
	schemaJSON, _ := json.Marshal(step.Schema)
	clarified := req
	clarified.Messages = append(append([]llm.Message{}, req.Messages...),
		llm.TextMessage("user", fmt.Sprintf("Your previous response did not match the required JSON schema:\n%s\nReturn only the corrected structured output.", string(schemaJSON))))

	var resp *llm.Response
	err := withPermit(ctx, e.Concurrency, func() error {
		var invokeErr error
		resp, invokeErr = e.LLM.Invoke(ctx, clarified)
		return invokeErr
	})
	if err != nil {
		return nil, err
	}
	if resp.Structured == nil {
		return nil, fmt.Errorf("structured output retry did not produce a schema match")
	}
	return resp, nil
}

// runJudge invokes the judge model with all candidates in one message; it
// must return the 1-based index of the preferred candidate. Malformed
// judge output falls back to the first candidate.
func (e *StepExecutor) runJudge(ctx context.Context, step CompiledStep, inheritedModel modelDefaultsT, candidates []candidateResult) (int, error) {
	judgeModel := inheritedModel.model
	if step.Config.Judge.Model != "" {
		judgeModel = step.Config.Judge.Model
	}

	prompt, err := e.Templates.Render(step.Config.Judge.Prompt, map[string]any{"candidates": renderCandidates(candidates)})
	if err != nil {
		return 0, err
	}

	req := llm.Request{
		Model:    judgeModel,
		Messages: []llm.Message{llm.TextMessage("user", prompt)},
	}

	var resp *llm.Response
	err = withPermit(ctx, e.Concurrency, func() error {
		var invokeErr error
		resp, invokeErr = e.LLM.Invoke(ctx, req)
		return invokeErr
	})
	if err != nil {
		return 0, err
	}

	choice, err := parseJudgeChoice(resp.Text, len(candidates))
	if err != nil {
		return 0, err
	}
	return choice, nil
}

func parseJudgeChoice(text string, n int) (int, error) {
	trimmed := strings.TrimSpace(text)
	idx, err := strconv.Atoi(trimmed)
	if err != nil || idx < 1 || idx > n {
		return 0, fmt.Errorf("malformed judge output %q", text)
	}
	return idx - 1, nil
}

func renderCandidates(candidates []candidateResult) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		if c.Structured != nil {
			b, _ := json.Marshal(c.Structured)
			out[i] = string(b)
		} else {
			out[i] = c.Text
		}
	}
	return out
}

// runFeedbackLoop iterates up to Feedback.Loops times: the feedback model
// critiques the selected candidate, the original messages plus the
// critique are resubmitted, and the result replaces the candidate. Stops
// early when the feedback model responds with the literal token "accept".
func (e *StepExecutor) runFeedbackLoop(ctx context.Context, step CompiledStep, inheritedModel modelDefaultsT, originalMessages []llm.Message, model string, rowIdx int, rowKey string, current candidateResult) (candidateResult, error) {
	feedbackModel := inheritedModel.model
	if step.Config.Feedback.Model != "" {
		feedbackModel = step.Config.Feedback.Model
	}

	for loop := 0; loop < step.Config.Feedback.Loops; loop++ {
		critiquePrompt, err := e.Templates.Render(step.Config.Feedback.Prompt, map[string]any{"candidate": candidateText(current)})
		if err != nil {
			return current, err
		}

		req := llm.Request{Model: feedbackModel, Messages: []llm.Message{llm.TextMessage("user", critiquePrompt)}}
		var resp *llm.Response
		err = withPermit(ctx, e.Concurrency, func() error {
			var invokeErr error
			resp, invokeErr = e.LLM.Invoke(ctx, req)
			return invokeErr
		})
		if err != nil {
			return current, err
		}

		if strings.EqualFold(strings.TrimSpace(resp.Text), "accept") {
			break
		}

		resubmit := append(append([]llm.Message{}, originalMessages...),
			llm.TextMessage("assistant", candidateText(current)),
			llm.TextMessage("user", resp.Text))

		seed := deriveSeed(rowIdx, step.Index, loop+1000)
		revised, err := e.invokeCandidate(ctx, model, inheritedModel.temperature, resubmit, step.Config, seed)
		if err != nil {
			return current, err
		}
		current = revised
	}
	return current, nil
}

func candidateText(c candidateResult) string {
	if c.Structured != nil {
		b, _ := json.Marshal(c.Structured)
		return string(b)
	}
	return c.Text
}

// runVerification spawns VerifyCommand per candidate with {{file}} bound to
// the candidate's artifact path. A non-zero exit does not retry the same
// command against the same artifact: it regenerates the candidate by
// resubmitting the original messages plus the verifier's combined
// stdout+stderr as assistant/user turns, rewrites the artifact from the new
// candidate, and re-verifies, bounded by maxVerificationRetries
// regenerations per candidate (spec §4.3 step 6).
func (e *StepExecutor) runVerification(ctx context.Context, step CompiledStep, messages []llm.Message, model string, temperature float64, rowIdx int, candidates []candidateResult, rowKey string) error {
	for i := range candidates {
		current := candidates[i]
		var lastOutput string
		ok := false

		for attempt := 0; ; attempt++ {
			artifactPath, cleanup, err := writeTempArtifact(current)
			if err != nil {
				return err
			}
			cmdText, err := e.Templates.Render(step.Config.VerifyCommand, map[string]any{"file": artifactPath})
			if err != nil {
				cleanup()
				return err
			}
			out, runErr := runShell(ctx, cmdText, defaultCommandTimeout)
			cleanup()
			lastOutput = out

			if runErr == nil {
				ok = true
				break
			}
			if attempt >= maxVerificationRetries {
				break
			}

			resubmit := append(append([]llm.Message{}, messages...),
				llm.TextMessage("assistant", candidateText(current)),
				llm.TextMessage("user", fmt.Sprintf("Verification command failed:\n%s\nRevise your response so the check passes.", out)))
			seed := deriveSeed(rowIdx, step.Index, attempt+2000)
			revised, invokeErr := e.invokeCandidate(ctx, model, temperature, resubmit, step.Config, seed)
			if invokeErr != nil {
				return invokeErr
			}
			current = revised
			e.publish("candidate:regenerated", map[string]any{"row": rowKey, "step": step.Config.Name, "candidate": i, "attempt": attempt + 1})
		}

		candidates[i] = current
		if !ok {
			return fmt.Errorf("candidate %d failed verification: %s", i, lastOutput)
		}
	}
	return nil
}

// runPostProcess runs Command per candidate after writing its artifact.
// Skipped when SkipCandidateCommand is set and there is more than one
// candidate.
func (e *StepExecutor) runPostProcess(ctx context.Context, step CompiledStep, candidates []candidateResult, rowKey string) {
	if step.Config.SkipCandidateCommand && len(candidates) > 1 {
		return
	}
	for _, c := range candidates {
		artifactPath, cleanup, err := writeTempArtifact(c)
		if err != nil {
			continue
		}
		cmdText, err := e.Templates.Render(step.Config.Command, map[string]any{"file": artifactPath})
		if err == nil {
			_, _ = runShell(ctx, cmdText, defaultCommandTimeout)
		}
		cleanup()
	}
}

func writeTempArtifact(c candidateResult) (string, func(), error) {
	f, err := os.CreateTemp("", "batchprompter-artifact-*")
	if err != nil {
		return "", func() {}, fmt.Errorf("runtime: create artifact temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var payload []byte
	switch {
	case c.Image != nil:
		payload = c.Image
	case c.Structured != nil:
		payload, _ = json.Marshal(c.Structured)
	default:
		payload = []byte(c.Text)
	}
	if _, err := f.Write(payload); err != nil {
		return "", func() {}, fmt.Errorf("runtime: write artifact temp file: %w", err)
	}

	path := f.Name()
	return path, func() { _ = os.Remove(path) }, nil
}

func runShell(ctx context.Context, cmdText string, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", cmdText)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}

func buildMessages(system string, parts []packet.ContentPart, prompt string) []llm.Message {
	var messages []llm.Message
	if strings.TrimSpace(system) != "" {
		messages = append(messages, llm.TextMessage("system", system))
	}
	if len(parts) > 0 {
		messages = append(messages, llm.Message{Role: "user", Parts: append([]packet.ContentPart{}, parts...)})
	}
	messages = append(messages, llm.TextMessage("user", prompt))
	return messages
}

// modelDefaultsT holds the globals-inherited defaults a step falls back
// to when it doesn't override them itself.
type modelDefaultsT struct {
	model       string
	temperature float64
	system      config.PromptSource
}

func modelDefaults(globals config.GlobalsConfig, step config.StepConfig) modelDefaultsT {
	return modelDefaultsT{model: globals.Model, temperature: globals.Temperature, system: globals.System}
}

func resolvedSystem(step config.StepConfig, inherited modelDefaultsT) config.PromptSource {
	if !step.System.IsZero() {
		return step.System
	}
	return inherited.system
}

// deriveSeed combines rowIndex, stepIndex, and candidateIndex into a
// single deterministic seed per spec §4.6.
func deriveSeed(rowIndex, stepIndex, candidateIndex int) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fmt.Sprintf("%d:%d:%d", rowIndex, stepIndex, candidateIndex)))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func (e *StepExecutor) publish(kind string, data map[string]any) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(Event{Kind: kind, Data: data})
}
