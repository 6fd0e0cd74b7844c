package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Mythli/batchprompter-sub003/config"
	"github.com/Mythli/batchprompter-sub003/input"
	"github.com/Mythli/batchprompter-sub003/row"
	"github.com/Mythli/batchprompter-sub003/template"
	"github.com/itchyny/gojq"
)

// OutputBinder implements spec §4.5: folding a step's resolved candidate
// results back into the row set, writing per-candidate artifacts at a
// templated path, and exporting the terminal RowStream.
type OutputBinder struct {
	Templates *template.Engine
}

// Bind applies step.Output's mode to result's candidates, producing the
// rows that replace the current working row in the step's output
// RowStream. mode=merge with multiple candidates fans the row out: one
// copy per candidate.
func (b *OutputBinder) Bind(ctx context.Context, step config.StepConfig, rowData map[string]any, rowIndex string, result stepResult) (row.Stream, []map[string]any, error) {
	if err := b.writeArtifacts(rowData, rowIndex, step, result); err != nil {
		return nil, nil, err
	}

	switch step.Output.Mode {
	case config.OutputModeIgnore:
		return row.Stream{row.New(rowIndex, rowData)}, []map[string]any{{}}, nil

	case config.OutputModeColumn:
		rows, contributed := b.bindColumn(rowData, rowIndex, step, result)
		return row.Stream{rows}, []map[string]any{contributed}, nil

	default: // merge
		return b.bindMerge(rowData, rowIndex, step, result)
	}
}

func (b *OutputBinder) bindColumn(rowData map[string]any, rowIndex string, step config.StepConfig, result stepResult) (row.Row, map[string]any) {
	data := cloneMap(rowData)

	var value any
	if len(result.Candidates) == 1 {
		value = candidatePayload(result.Candidates[0], step)
	} else {
		payloads := make([]any, len(result.Candidates))
		for i, c := range result.Candidates {
			payloads[i] = candidatePayload(c, step)
		}
		value = payloads
	}
	data[step.Output.Column] = value
	return row.New(rowIndex, data), map[string]any{step.Output.Column: value}
}

func (b *OutputBinder) bindMerge(rowData map[string]any, rowIndex string, step config.StepConfig, result stepResult) (row.Stream, []map[string]any, error) {
	if len(result.Candidates) <= 1 {
		data := cloneMap(rowData)
		var contributed map[string]any
		if len(result.Candidates) == 1 {
			contributed = mergeCandidate(data, result.Candidates[0])
		} else {
			contributed = map[string]any{}
		}
		return row.Stream{row.New(rowIndex, data)}, []map[string]any{contributed}, nil
	}

	out := make(row.Stream, 0, len(result.Candidates))
	contributedAll := make([]map[string]any, 0, len(result.Candidates))
	for i, c := range result.Candidates {
		data := cloneMap(rowData)
		contributed := mergeCandidate(data, c)
		out = append(out, row.New(fmt.Sprintf("%s_%d", rowIndex, i), data))
		contributedAll = append(contributedAll, contributed)
	}
	return out, contributedAll, nil
}

func mergeCandidate(dst map[string]any, c candidateResult) map[string]any {
	if c.Structured != nil {
		contributed := make(map[string]any, len(c.Structured))
		for k, v := range c.Structured {
			dst[k] = v
			contributed[k] = v
		}
		return contributed
	}
	if c.Image != nil {
		dst["image"] = c.Image
		dst["mimeType"] = c.MimeType
		return map[string]any{"image": c.Image, "mimeType": c.MimeType}
	}
	dst["text"] = c.Text
	return map[string]any{"text": c.Text}
}

func candidatePayload(c candidateResult, step config.StepConfig) any {
	if c.Structured != nil {
		return c.Structured
	}
	if c.Image != nil {
		return fmt.Sprintf("<binary image, %d bytes, %s>", len(c.Image), c.MimeType)
	}
	return c.Text
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// writeArtifacts renders step.Output.OutputPath (if set) per candidate and
// writes the candidate's payload there, sanitising row-derived path
// segments first. Multi-candidate steps get the candidate index suffixed
// before the extension.
func (b *OutputBinder) writeArtifacts(rowData map[string]any, rowIndex string, step config.StepConfig, result stepResult) error {
	if step.Output.OutputPath == "" {
		return nil
	}

	templateData := sanitizedTemplateData(rowData)

	for i, c := range result.Candidates {
		path, err := b.Templates.Render(step.Output.OutputPath, templateData)
		if err != nil {
			return fmt.Errorf("runtime: render output path: %w", err)
		}
		if len(result.Candidates) > 1 {
			path = suffixPath(path, i+1)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("runtime: create output dir for %s: %w", path, err)
		}

		payload := artifactBytes(c)
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return fmt.Errorf("runtime: write artifact %s: %w", path, err)
		}
	}
	return nil
}

func artifactBytes(c candidateResult) []byte {
	switch {
	case c.Image != nil:
		return c.Image
	case c.Structured != nil:
		b, _ := json.Marshal(c.Structured)
		return b
	default:
		return []byte(c.Text)
	}
}

// suffixPath inserts _<n> before the file extension.
func suffixPath(path string, n int) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s_%d%s", base, n, ext)
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// sanitizePathSegment collapses whitespace and strips path-unsafe
// characters from a row value before it is interpolated into an
// outputPath template, per spec §4.5.
func sanitizePathSegment(v any) string {
	s := fmt.Sprintf("%v", v)
	s = strings.Join(strings.Fields(s), " ")
	return unsafePathChars.ReplaceAllString(s, "_")
}

// sanitizedTemplateData returns a copy of rowData with every string-typed
// leaf value sanitised for path interpolation, so outputPath templates can
// address arbitrary row fields safely.
func sanitizedTemplateData(rowData map[string]any) map[string]any {
	out := make(map[string]any, len(rowData))
	for k, v := range rowData {
		if s, ok := v.(string); ok {
			out[k] = sanitizePathSegment(s)
		} else {
			out[k] = v
		}
	}
	return out
}

// WriteTerminalOutput serialises the final RowStream to dataOutputPath
// (CSV or JSON inferred from extension) after the last step, optionally
// enriching each row first via a gojq filter expression.
func WriteTerminalOutput(path, jqFilter string, s row.Stream) error {
	clean := make(row.Stream, len(s))
	for i, r := range s {
		clean[i] = row.Row{Index: r.Index, Data: stripStepOutputs(r.Data)}
	}
	s = clean

	if jqFilter != "" {
		filtered, err := applyJQFilter(jqFilter, s)
		if err != nil {
			return fmt.Errorf("runtime: apply jq filter: %w", err)
		}
		s = filtered
	}
	return input.Write(path, s)
}

func applyJQFilter(filter string, s row.Stream) (row.Stream, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	out := make(row.Stream, len(s))
	for i, r := range s {
		iter := query.Run(r.Data)
		v, ok := iter.Next()
		if !ok {
			out[i] = r
			continue
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("row %s: %w", r.Index, err)
		}
		data, ok := v.(map[string]any)
		if !ok {
			out[i] = r
			continue
		}
		out[i] = row.New(r.Index, data)
	}
	return out, nil
}
