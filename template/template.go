// Package template renders prompt and path templates against row data,
// following the teacher's module.TemplateEngine: {{ .field }} substitution
// with dotted traversal, hyphenated keys rewritten to index calls so
// CSV/JSON keys containing '-' survive text/template's operator parsing,
// and a small funcMap of prompt-authoring helpers.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/Mythli/batchprompter-sub003/config"
	"github.com/google/uuid"
)

// Engine compiles and caches templates by source string, and file-loaded
// content by rendered path, so a prompt reused across many rows is parsed
// once.
type Engine struct {
	mu        sync.Mutex
	compiled  map[string]*template.Template
	fileCache map[string]string
}

// New creates an empty Engine.
func New() *Engine {
	return &Engine{
		compiled:  make(map[string]*template.Template),
		fileCache: make(map[string]string),
	}
}

// Render evaluates tmplStr against data's dotted paths. Missing paths
// render as empty string rather than erroring, per the engine contract.
func (e *Engine) Render(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	t, err := e.compile(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template: execute: %w", err)
	}
	// missingkey=zero still prints "<no value>" for a missing key of a
	// map[string]any, so that marker is removed to render it empty.
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

func (e *Engine) compile(tmplStr string) (*template.Template, error) {
	e.mu.Lock()
	if t, ok := e.compiled[tmplStr]; ok {
		e.mu.Unlock()
		return t, nil
	}
	e.mu.Unlock()

	rewritten := preprocess(tmplStr)
	t, err := template.New("").Funcs(funcMap()).Option("missingkey=zero").Parse(rewritten)
	if err != nil {
		return nil, fmt.Errorf("template: parse: %w", err)
	}

	e.mu.Lock()
	e.compiled[tmplStr] = t
	e.mu.Unlock()
	return t, nil
}

// RenderSource resolves a PromptSource per spec §4.1: a plain string is
// rendered directly; {file: "..."} renders the path (itself templated),
// then loads and renders the file's contents; a directory path
// enumerates files in lexicographic order and concatenates their
// rendered contents with blank-line separators.
func (e *Engine) RenderSource(source config.PromptSource, data map[string]any) (string, error) {
	if source.File == "" {
		return e.Render(source.Text, data)
	}

	path, err := e.Render(source.File, data)
	if err != nil {
		return "", fmt.Errorf("template: render file path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("template: stat %s: %w", path, err)
	}

	if !info.IsDir() {
		content, err := e.loadFile(path)
		if err != nil {
			return "", err
		}
		return e.Render(content, data)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("template: read dir %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if !ent.IsDir() {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	rendered := make([]string, 0, len(names))
	for _, name := range names {
		content, err := e.loadFile(filepath.Join(path, name))
		if err != nil {
			return "", err
		}
		out, err := e.Render(content, data)
		if err != nil {
			return "", err
		}
		rendered = append(rendered, out)
	}
	return strings.Join(rendered, "\n\n"), nil
}

// loadFile reads path once, caching by the resolved path since the path
// itself may have been templated and thus vary per row.
func (e *Engine) loadFile(path string) (string, error) {
	e.mu.Lock()
	if content, ok := e.fileCache[path]; ok {
		e.mu.Unlock()
		return content, nil
	}
	e.mu.Unlock()

	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("template: read %s: %w", path, err)
	}

	e.mu.Lock()
	e.fileCache[path] = string(b)
	e.mu.Unlock()
	return string(b), nil
}

// dotChainRe matches dot-access chains like .steps.my-step.field.
var dotChainRe = regexp.MustCompile(`\.[a-zA-Z_][a-zA-Z0-9_-]*(?:\.[a-zA-Z_][a-zA-Z0-9_-]*)*`)

// stringLiteralRe matches quoted string literals, so hyphens inside them
// are never mistaken for dot-chain segments.
var stringLiteralRe = regexp.MustCompile(`"(?:[^"\\]|\\.)*"` + "|`[^`]*`")

// preprocess rewrites hyphenated dot-access chains into index syntax so
// Go's text/template parser doesn't treat the hyphen as a minus operator,
// e.g. {{ .steps.my-step.field }} -> {{ (index .steps "my-step" "field") }}.
func preprocess(tmplStr string) string {
	if !strings.Contains(tmplStr, "{{") || !strings.Contains(tmplStr, "-") {
		return tmplStr
	}

	var out strings.Builder
	rest := tmplStr

	for {
		openIdx := strings.Index(rest, "{{")
		if openIdx < 0 {
			out.WriteString(rest)
			break
		}
		closeIdx := strings.Index(rest[openIdx:], "}}")
		if closeIdx < 0 {
			out.WriteString(rest)
			break
		}
		closeIdx += openIdx

		out.WriteString(rest[:openIdx])
		action := rest[openIdx+2 : closeIdx]

		trimmed := strings.TrimSpace(action)
		if strings.HasPrefix(trimmed, "/*") && strings.HasSuffix(trimmed, "*/") {
			out.WriteString("{{")
			out.WriteString(action)
			out.WriteString("}}")
			rest = rest[closeIdx+2:]
			continue
		}

		var placeholders []string
		stripped := stringLiteralRe.ReplaceAllStringFunc(action, func(m string) string {
			placeholders = append(placeholders, m)
			return "\x00"
		})

		rewritten := dotChainRe.ReplaceAllStringFunc(stripped, func(chain string) string {
			segments := strings.Split(chain[1:], ".")
			hasHyphen := false
			for _, seg := range segments {
				if strings.Contains(seg, "-") {
					hasHyphen = true
					break
				}
			}
			if !hasHyphen {
				return chain
			}

			firstHyphen := -1
			for i, seg := range segments {
				if strings.Contains(seg, "-") {
					firstHyphen = i
					break
				}
			}

			var prefix string
			if firstHyphen == 0 {
				prefix = "."
			} else {
				prefix = "." + strings.Join(segments[:firstHyphen], ".")
			}

			quoted := make([]string, 0, len(segments)-firstHyphen)
			for _, seg := range segments[firstHyphen:] {
				quoted = append(quoted, `"`+seg+`"`)
			}

			return "(index " + prefix + " " + strings.Join(quoted, " ") + ")"
		})

		var restored string
		if len(placeholders) > 0 {
			phIdx := 0
			var final strings.Builder
			for i := 0; i < len(rewritten); i++ {
				if rewritten[i] == '\x00' && phIdx < len(placeholders) {
					final.WriteString(placeholders[phIdx])
					phIdx++
				} else {
					final.WriteByte(rewritten[i])
				}
			}
			restored = final.String()
		} else {
			restored = rewritten
		}

		out.WriteString("{{")
		out.WriteString(restored)
		out.WriteString("}}")
		rest = rest[closeIdx+2:]
	}

	return out.String()
}

var timeLayouts = map[string]string{
	"ANSIC":       time.ANSIC,
	"UnixDate":    time.UnixDate,
	"RubyDate":    time.RubyDate,
	"RFC822":      time.RFC822,
	"RFC822Z":     time.RFC822Z,
	"RFC850":      time.RFC850,
	"RFC1123":     time.RFC1123,
	"RFC1123Z":    time.RFC1123Z,
	"RFC3339":     time.RFC3339,
	"RFC3339Nano": time.RFC3339Nano,
	"Kitchen":     time.Kitchen,
	"Stamp":       time.Stamp,
	"StampMilli":  time.StampMilli,
	"StampMicro":  time.StampMicro,
	"StampNano":   time.StampNano,
	"DateTime":    time.DateTime,
	"DateOnly":    time.DateOnly,
	"TimeOnly":    time.TimeOnly,
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"uuid": func() string {
			return uuid.New().String()
		},
		"now": func(args ...string) string {
			layout := time.RFC3339
			if len(args) > 0 && args[0] != "" {
				if l, ok := timeLayouts[args[0]]; ok {
					layout = l
				} else {
					layout = args[0]
				}
			}
			return time.Now().UTC().Format(layout)
		},
		"lower": strings.ToLower,
		"default": func(fallback, val any) any {
			if val == nil {
				return fallback
			}
			if s, ok := val.(string); ok && s == "" {
				return fallback
			}
			return val
		},
		"trimPrefix": func(prefix, s string) string {
			return strings.TrimPrefix(s, prefix)
		},
		"trimSuffix": func(suffix, s string) string {
			return strings.TrimSuffix(s, suffix)
		},
		"json": func(v any) string {
			b, err := json.Marshal(v)
			if err != nil {
				return "{}"
			}
			return string(b)
		},
	}
}
