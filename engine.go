// Package batchprompter wires the configuration, input, plugin, LLM, and
// runtime packages into a single pipeline run, mirroring the teacher's
// engine.go/engine_builder.go split between a thin Engine type and the
// construction logic that assembles it from a loaded config.
package batchprompter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/Mythli/batchprompter-sub003/config"
	"github.com/Mythli/batchprompter-sub003/input"
	"github.com/Mythli/batchprompter-sub003/llm"
	"github.com/Mythli/batchprompter-sub003/plugin"
	"github.com/Mythli/batchprompter-sub003/runtime"
	tmpl "github.com/Mythli/batchprompter-sub003/template"
	"golang.org/x/sync/semaphore"
)

// Summary reports the outcome of a completed Run, printed by
// cmd/batchprompter after the run finishes (spec.md §7: "summary counts
// are printed at run end").
type Summary struct {
	RowsIn   int
	RowsOut  int
	Failures []runtime.RowFailure
}

// Dependencies bundles the external collaborators a Run needs that the
// caller is responsible for constructing: the LLM client (provider choice
// is a CLI/caller concern, not the engine's), an HTTP client for
// http-fetch-capable plugins, an optional browser-automation worker
// launcher, and a logger. Any may be left zero; BuildSteps will reject a
// pipeline that declares a plugin needing a capability left unset.
type Dependencies struct {
	LLM      llm.Client
	HTTPDo   *http.Client
	Launcher *plugin.WorkerLauncher
	Logger   *slog.Logger
}

// Run executes cfg end to end: load the input RowStream, build and run the
// pipeline, write the terminal data output if configured, and return a
// Summary. When cfg.Globals.TmpDir is empty, a fresh temp directory is
// created before the run and removed on success, kept on failure for
// inspection. A directory named in cfg.Globals.TmpDir is created if
// missing and is never removed, on success or on failure.
func Run(ctx context.Context, cfg *config.PipelineConfig, deps Dependencies) (Summary, error) {
	if err := cfg.Validate(); err != nil {
		return Summary{}, &runtime.ConfigError{Err: err}
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tmpDir, err := prepareTmpDir(cfg.Globals.TmpDir)
	if err != nil {
		return Summary{}, &runtime.FatalError{Err: err}
	}
	runFailed := false
	defer func() {
		if runFailed {
			logger.Warn("pipeline run failed; temp directory kept for inspection", "dir", tmpDir)
			return
		}
		if cfg.Globals.TmpDir == "" {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	rows, err := input.Read(cfg.Data.Source, input.FormatAuto)
	if err != nil {
		runFailed = true
		return Summary{}, &runtime.ConfigError{Err: err}
	}
	rows = input.Slice(rows, cfg.Data.Offset, cfg.Data.Limit)
	rowsIn := len(rows)

	services := &plugin.Services{
		HTTPClient:       deps.HTTPDo,
		LLM:              deps.LLM,
		BrowserSemaphore: browserSemaphore(deps.Launcher),
		Logger:           logger,
	}

	registry := plugin.BuildRegistry(deps.Launcher)
	compiled, err := runtime.BuildSteps(cfg.Steps, registry, services)
	if err != nil {
		runFailed = true
		return Summary{}, err
	}

	bus := runtime.NewBus(logger)
	bus.Subscribe(func(evt runtime.Event) {
		logger.Debug("pipeline event", "kind", evt.Kind, "data", evt.Data)
	})

	templates := tmpl.New()

	concurrency := cfg.Globals.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	taskConcurrency := cfg.Globals.TaskConcurrency
	if taskConcurrency <= 0 {
		taskConcurrency = 8
	}

	executor := &runtime.StepExecutor{
		Templates:   templates,
		LLM:         deps.LLM,
		Services:    services,
		Concurrency: semaphore.NewWeighted(int64(concurrency)),
		Bus:         bus,
		Binder:      &runtime.OutputBinder{Templates: templates},
	}

	orchestrator := &runtime.Orchestrator{
		Executor:        executor,
		TaskConcurrency: semaphore.NewWeighted(int64(taskConcurrency)),
		Bus:             bus,
		ContinueOnError: cfg.Globals.ContinueOnError,
	}

	result, err := orchestrator.Run(ctx, cfg.Globals, compiled, rows)
	if err != nil {
		runFailed = true
		return Summary{RowsIn: rowsIn, RowsOut: len(result.Rows), Failures: result.Failures}, err
	}

	if cfg.Globals.DataOutputPath != "" {
		if err := runtime.WriteTerminalOutput(cfg.Globals.DataOutputPath, terminalJQFilter(cfg), result.Rows); err != nil {
			runFailed = true
			return Summary{RowsIn: rowsIn, RowsOut: len(result.Rows), Failures: result.Failures}, &runtime.FatalError{Err: err}
		}
	}

	if len(result.Failures) > 0 && !cfg.Globals.ContinueOnError {
		runFailed = true
		return Summary{RowsIn: rowsIn, RowsOut: len(result.Rows), Failures: result.Failures},
			fmt.Errorf("pipeline: %d row(s) failed", len(result.Failures))
	}

	return Summary{RowsIn: rowsIn, RowsOut: len(result.Rows), Failures: result.Failures}, nil
}

// terminalJQFilter resolves the jq filter applied to the terminal data
// output. The final step's Output.JQFilter governs it, since the terminal
// output is the cumulative row state after that step ran.
func terminalJQFilter(cfg *config.PipelineConfig) string {
	if len(cfg.Steps) == 0 {
		return ""
	}
	return cfg.Steps[len(cfg.Steps)-1].Output.JQFilter
}

func prepareTmpDir(configured string) (string, error) {
	if configured != "" {
		if err := os.MkdirAll(configured, 0o755); err != nil {
			return "", fmt.Errorf("engine: create tmp dir %s: %w", configured, err)
		}
		return configured, nil
	}
	dir, err := os.MkdirTemp("", "batchprompter-run-*")
	if err != nil {
		return "", fmt.Errorf("engine: create temp dir: %w", err)
	}
	return dir, nil
}

func browserSemaphore(launcher *plugin.WorkerLauncher) *semaphore.Weighted {
	if launcher == nil {
		return nil
	}
	return semaphore.NewWeighted(1)
}
