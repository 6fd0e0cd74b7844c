package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	batchprompter "github.com/Mythli/batchprompter-sub003"
	"github.com/Mythli/batchprompter-sub003/config"
	"github.com/Mythli/batchprompter-sub003/llm"
	"github.com/Mythli/batchprompter-sub003/plugin"
	"github.com/Mythli/batchprompter-sub003/runtime"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// Exit codes per the CLI contract: 0 all rows processed (some may have been
// dropped), 1 config/parse error, 2 capability missing, 3 unrecoverable
// pipeline error.
const (
	exitOK                = 0
	exitConfigError       = 1
	exitCapabilityMissing = 2
	exitPipelineError     = 3
)

func run(args []string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	parsed, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "batchprompter:", err)
		usage()
		return exitConfigError
	}
	if parsed.help {
		usage()
		return exitOK
	}

	cfg, err := config.Load(parsed.configArg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "batchprompter: loading config:", err)
		return exitConfigError
	}

	if parsed.dataSource != "" {
		cfg.Data.Source = parsed.dataSource
	}

	overrides := parsed.overrides(len(cfg.Steps))
	config.ApplyCLIOverrides(cfg, overrides)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "batchprompter: invalid config:", err)
		return exitConfigError
	}

	deps, err := buildDependencies(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "batchprompter:", err)
		return exitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("interrupt received, cancelling run")
		cancel()
	}()

	summary, err := batchprompter.Run(ctx, cfg, deps)
	if deps.Launcher != nil {
		deps.Launcher.Stop()
	}

	for _, f := range summary.Failures {
		logger.Warn("row failed", "row", f.RowIndex, "step", f.Step, "kind", f.Kind, "message", f.Message)
	}
	fmt.Fprintf(os.Stdout, "rows in: %d, rows out: %d, failures: %d\n", summary.RowsIn, summary.RowsOut, len(summary.Failures))

	if err != nil {
		var capErr *runtime.CapabilityError
		if errors.As(err, &capErr) {
			fmt.Fprintln(os.Stderr, "batchprompter: missing capability:", err)
			return exitCapabilityMissing
		}
		var cfgErr *runtime.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(os.Stderr, "batchprompter: config error:", err)
			return exitConfigError
		}
		fmt.Fprintln(os.Stderr, "batchprompter: run failed:", err)
		return exitPipelineError
	}

	return exitOK
}

// buildDependencies selects an LLM provider from environment configuration
// (Anthropic by default, or a generic OpenAI-compatible endpoint when
// BATCHPROMPTER_LLM_BASE_URL is set), and launches the browser-automation
// worker subprocess only when BATCHPROMPTER_BROWSER_WORKER names a binary,
// mirroring how the teacher's worker plugins are optional based on whether
// a launcher was wired in at all.
func buildDependencies(cfg *config.PipelineConfig, logger *slog.Logger) (batchprompter.Dependencies, error) {
	var client llm.Client
	var err error
	if baseURL := os.Getenv("BATCHPROMPTER_LLM_BASE_URL"); baseURL != "" {
		client, err = llm.NewGenericProvider(llm.GenericConfig{
			Name:    os.Getenv("BATCHPROMPTER_LLM_NAME"),
			BaseURL: baseURL,
			APIKey:  os.Getenv("BATCHPROMPTER_LLM_API_KEY"),
		})
	} else {
		client, err = llm.NewAnthropicProvider(llm.AnthropicConfig{})
	}
	if err != nil {
		return batchprompter.Dependencies{}, fmt.Errorf("configuring llm client: %w", err)
	}

	var launcher *plugin.WorkerLauncher
	if bin := os.Getenv("BATCHPROMPTER_BROWSER_WORKER"); bin != "" {
		launcher = plugin.NewWorkerLauncher(bin)
		if err := launcher.Start(); err != nil {
			return batchprompter.Dependencies{}, fmt.Errorf("starting browser worker: %w", err)
		}
	}

	return batchprompter.Dependencies{
		LLM:      client,
		HTTPDo:   &http.Client{},
		Launcher: launcher,
		Logger:   logger,
	}, nil
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: batchprompter [flags] <data-file> [step-1-prompt [step-2-prompt ...]]

Flags:
  --config <path|inline-json>   Pipeline config file, or inline JSON starting with '{'.
  --offset N, --limit N         Row slice of the input data source.
  --model, --temperature, --thinking-level, --system, --schema
                                 Global defaults; --model, --system and --schema take a
                                 -<N> suffix (e.g. --model-2) to override step N only.
                                 --temperature-<N> and --thinking-level-<N> are accepted
                                 but have no effect.
  --concurrency, --task-concurrency, --tmp-dir, --data-output
                                 Execution controls.
  --prompt-N <text>              Prompt text for step N; concatenated with any
                                 positional prompt argument at the same position.
  -o, --output <path>            Terminal data output path (alias of --data-output).
  --export <path>                Per-step candidate artifact path (suffix with -N).
  --output-column <col>          Bind step output under a column (suffix with -N).
  --explode                      Set the step's output explode flag (suffix with -N). Merge-mode
                                 multi-candidate steps fan out into separate rows with or
                                 without it.
  --candidates N                 Number of candidates to request per step (suffix with -N).
  --judge-prompt, --judge-model  Judge configuration (suffix with -N).
  --feedback-prompt, --feedback-loops
                                 Feedback-loop configuration (suffix with -N).
  --command, --verify-command    Post-process / verification shell commands (suffix with -N).
  --aspect-ratio <W:H>            Image aspect ratio, triggers image mode (suffix with -N).
  -h, --help                      Show this message.
`)
}

// parsedArgs is the raw result of walking argv once; overrides() folds it
// into a config.Overrides once the loaded pipeline's step count is known,
// since bare (unsuffixed) step-only flags must be expanded to every
// declared step.
type parsedArgs struct {
	help       bool
	configArg  string
	dataSource string

	global config.Overrides

	// stepBroadcast holds bare-form step-only flags (no -<N> suffix); they
	// apply as a default to every step unless overridden by a suffixed flag.
	stepBroadcast config.Overrides
	// stepSpecific holds flags addressed to a single step via -<N> suffix.
	stepSpecific map[int]config.Overrides

	// positionalPrompts are prompt sources given positionally after the
	// data file path, indexed 1..N by position.
	positionalPrompts map[int]string
}

var suffixRe = regexp.MustCompile(`^(.*)-(\d+)$`)

func parseArgs(args []string) (*parsedArgs, error) {
	p := &parsedArgs{stepSpecific: map[int]config.Overrides{}, positionalPrompts: map[int]string{}}

	var positionals []string
	i := 0
	next := func(flagName string) (string, error) {
		i++
		if i >= len(args) {
			return "", fmt.Errorf("flag %s requires a value", flagName)
		}
		return args[i], nil
	}

	for ; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positionals = append(positionals, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") {
			positionals = append(positionals, arg)
			continue
		}

		name := strings.TrimLeft(arg, "-")
		var inlineValue string
		hasInline := false
		if eq := strings.Index(name, "="); eq >= 0 {
			inlineValue = name[eq+1:]
			name = name[:eq]
			hasInline = true
		}

		if name == "h" || name == "help" {
			p.help = true
			continue
		}
		if name == "o" {
			name = "output"
		}

		base, stepIdx, suffixed := splitSuffix(name)

		valueOf := func() (string, error) {
			if hasInline {
				return inlineValue, nil
			}
			return next(arg)
		}

		switch base {
		case "config":
			v, err := valueOf()
			if err != nil {
				return nil, err
			}
			p.configArg = v
		case "explode":
			// Boolean flag: present means true, never consumes a value.
			applyBool(p, base, stepIdx, suffixed, true)
		default:
			v, err := valueOf()
			if err != nil {
				return nil, err
			}
			if base == "prompt" {
				if !suffixed {
					return nil, fmt.Errorf("--prompt requires a step suffix, e.g. --prompt-1")
				}
				p.positionalPrompts[stepIdx] = appendPrompt(p.positionalPrompts[stepIdx], v)
				continue
			}
			if err := applyNamed(p, base, stepIdx, suffixed, v); err != nil {
				return nil, err
			}
		}
	}

	if len(positionals) > 0 {
		p.dataSource = positionals[0]
		for idx, v := range positionals[1:] {
			stepIdx := idx + 1
			p.positionalPrompts[stepIdx] = appendPrompt(v, p.positionalPrompts[stepIdx])
		}
	}

	return p, nil
}

func appendPrompt(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}

func splitSuffix(name string) (base string, stepIdx int, suffixed bool) {
	m := suffixRe.FindStringSubmatch(name)
	if m == nil {
		return name, 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n < 1 {
		return name, 0, false
	}
	return m[1], n, true
}

func applyBool(p *parsedArgs, base string, stepIdx int, suffixed bool, val bool) {
	if !suffixed {
		p.stepBroadcast.Explode = &val
		return
	}
	o := p.stepSpecific[stepIdx]
	o.Explode = &val
	p.stepSpecific[stepIdx] = o
}

// applyNamed routes a flag's string value to the right bucket. Globals-class
// concerns (model, temperature, concurrency, ...) land on p.global when
// bare, or exclusively on the addressed step's stepSpecific entry when
// suffixed ("-N overrides global" — it does not also change the global).
// Step-only concerns (schema, output, judge, feedback, command, aspect
// ratio, ...) land on the broadcast bucket when bare, or stepSpecific when
// suffixed, via applyStepOnly.
func applyNamed(p *parsedArgs, base string, stepIdx int, suffixed bool, v string) error {
	switch base {
	case "model":
		return applyGlobalClass(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.Model = v
			return nil
		})
	case "temperature":
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("--temperature: %w", err)
		}
		return applyGlobalClass(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.Temperature = &f
			return nil
		})
	case "thinking-level":
		return applyGlobalClass(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.ThinkingLevel = v
			return nil
		})
	case "system":
		return applyGlobalClass(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.System = v
			return nil
		})
	case "concurrency":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--concurrency: %w", err)
		}
		return applyGlobalClass(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.Concurrency = &n
			return nil
		})
	case "task-concurrency":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--task-concurrency: %w", err)
		}
		return applyGlobalClass(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.TaskConcurrency = &n
			return nil
		})
	case "tmp-dir":
		return applyGlobalClass(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.TmpDir = v
			return nil
		})
	case "data-output", "output":
		return applyGlobalClass(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.DataOutputPath = v
			return nil
		})
	case "offset":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--offset: %w", err)
		}
		return applyGlobalClass(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.Offset = &n
			return nil
		})
	case "limit":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--limit: %w", err)
		}
		return applyGlobalClass(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.Limit = &n
			return nil
		})
	case "schema":
		return applyStepOnly(p, stepIdx, suffixed, func(o *config.Overrides) error {
			var schema map[string]any
			if err := json.Unmarshal([]byte(v), &schema); err != nil {
				return fmt.Errorf("--schema: %w", err)
			}
			o.Schema = schema
			return nil
		})
	case "export":
		return applyStepOnly(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.OutputPath = v
			return nil
		})
	case "output-column":
		return applyStepOnly(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.OutputColumn = v
			return nil
		})
	case "candidates":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--candidates: %w", err)
		}
		return applyStepOnly(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.Candidates = &n
			return nil
		})
	case "judge-prompt":
		return applyStepOnly(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.JudgePrompt = v
			return nil
		})
	case "judge-model":
		return applyStepOnly(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.JudgeModel = v
			return nil
		})
	case "feedback-prompt":
		return applyStepOnly(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.FeedbackPrompt = v
			return nil
		})
	case "feedback-loops":
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("--feedback-loops: %w", err)
		}
		return applyStepOnly(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.FeedbackLoops = &n
			return nil
		})
	case "command":
		return applyStepOnly(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.Command = v
			return nil
		})
	case "verify-command":
		return applyStepOnly(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.VerifyCommand = v
			return nil
		})
	case "aspect-ratio":
		return applyStepOnly(p, stepIdx, suffixed, func(o *config.Overrides) error {
			o.AspectRatio = v
			return nil
		})
	default:
		return fmt.Errorf("unknown flag --%s", base)
	}
	return nil
}

// applyGlobalClass writes into p.global when unsuffixed, or exclusively
// into the addressed step's stepSpecific entry when suffixed — a suffixed
// globals-class flag overrides that one step only, it does not also change
// the global default other steps fall back to.
func applyGlobalClass(p *parsedArgs, stepIdx int, suffixed bool, set func(*config.Overrides) error) error {
	if !suffixed {
		return set(&p.global)
	}
	o := p.stepSpecific[stepIdx]
	if err := set(&o); err != nil {
		return err
	}
	p.stepSpecific[stepIdx] = o
	return nil
}

// applyStepOnly writes into the broadcast bucket when unsuffixed, or the
// specific per-step bucket when suffixed; it exists because several flag
// cases above need this same two-way split without repeating the bucket
// lookup each time.
func applyStepOnly(p *parsedArgs, stepIdx int, suffixed bool, set func(*config.Overrides) error) error {
	if !suffixed {
		return set(&p.stepBroadcast)
	}
	o := p.stepSpecific[stepIdx]
	if err := set(&o); err != nil {
		return err
	}
	p.stepSpecific[stepIdx] = o
	return nil
}

// overrides folds the parsed broadcast/specific/positional-prompt state
// into a single config.Overrides once the step count is known: every step
// gets the broadcast bucket as a base layer, then its -<N> specific
// overrides and positional/--prompt-N prompt text layered on top.
func (p *parsedArgs) overrides(numSteps int) config.Overrides {
	out := p.global
	out.Step = map[int]config.Overrides{}

	for n := 1; n <= numSteps; n++ {
		merged := p.stepBroadcast
		overlay(&merged, p.stepSpecific[n])
		if prompt := p.positionalPrompts[n]; prompt != "" {
			merged.Prompt = appendPrompt(merged.Prompt, prompt)
		}
		out.Step[n] = merged
	}
	return out
}

// overlay copies every non-zero field of src onto dst, override-wins,
// matching config.ApplyCLIOverrides' own merge semantics one level down.
func overlay(dst *config.Overrides, src config.Overrides) {
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Temperature != nil {
		dst.Temperature = src.Temperature
	}
	if src.ThinkingLevel != "" {
		dst.ThinkingLevel = src.ThinkingLevel
	}
	if src.System != "" {
		dst.System = src.System
	}
	if src.Prompt != "" {
		dst.Prompt = src.Prompt
	}
	if src.Schema != nil {
		dst.Schema = src.Schema
	}
	if src.OutputPath != "" {
		dst.OutputPath = src.OutputPath
	}
	if src.OutputColumn != "" {
		dst.OutputColumn = src.OutputColumn
	}
	if src.Explode != nil {
		dst.Explode = src.Explode
	}
	if src.Candidates != nil {
		dst.Candidates = src.Candidates
	}
	if src.JudgePrompt != "" {
		dst.JudgePrompt = src.JudgePrompt
	}
	if src.JudgeModel != "" {
		dst.JudgeModel = src.JudgeModel
	}
	if src.FeedbackPrompt != "" {
		dst.FeedbackPrompt = src.FeedbackPrompt
	}
	if src.FeedbackLoops != nil {
		dst.FeedbackLoops = src.FeedbackLoops
	}
	if src.Command != "" {
		dst.Command = src.Command
	}
	if src.VerifyCommand != "" {
		dst.VerifyCommand = src.VerifyCommand
	}
	if src.AspectRatio != "" {
		dst.AspectRatio = src.AspectRatio
	}
}
