package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Mythli/batchprompter-sub003/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSimpleField(t *testing.T) {
	e := New()
	out, err := e.Render("hello {{ .name }}", map[string]any{"name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "hello Alice", out)
}

func TestRenderMissingKeyRendersEmpty(t *testing.T) {
	e := New()
	out, err := e.Render("value=[{{ .missing }}]", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "value=[]", out)
}

func TestRenderHyphenatedNestedPath(t *testing.T) {
	e := New()
	data := map[string]any{
		"steps": map[string]any{
			"my-step": map[string]any{"field": "ok"},
		},
	}
	out, err := e.Render("{{ .steps.my-step.field }}", data)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestRenderHyphenInStringLiteralIsNotRewritten(t *testing.T) {
	e := New()
	out, err := e.Render(`{{ default "a-b" .missing }}`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "a-b", out)
}

func TestRenderCachesCompiledTemplate(t *testing.T) {
	e := New()
	_, err := e.Render("{{ .x }}", map[string]any{"x": "1"})
	require.NoError(t, err)
	_, ok := e.compiled["{{ .x }}"]
	assert.True(t, ok)
}

func TestRenderSourcePlainText(t *testing.T) {
	e := New()
	out, err := e.RenderSource(config.PromptSource{Text: "hi {{ .name }}"}, map[string]any{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "hi bob", out)
}

func TestRenderSourceFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(p, []byte("say {{ .name }}"), 0o644))

	e := New()
	out, err := e.RenderSource(config.PromptSource{File: p}, map[string]any{"name": "carol"})
	require.NoError(t, err)
	assert.Equal(t, "say carol", out)
}

func TestRenderSourceDirectoryConcatenatesInLexicographicOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("second"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("first"), 0o644))

	e := New()
	out, err := e.RenderSource(config.PromptSource{File: dir}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "first\n\nsecond", out)
}

func TestRenderSourceTemplatedFilePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en.md"), []byte("hello"), 0o644))

	e := New()
	out, err := e.RenderSource(
		config.PromptSource{File: filepath.Join(dir, "{{ .lang }}.md")},
		map[string]any{"lang": "en"},
	)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestFuncMapJSONAndDefault(t *testing.T) {
	e := New()
	out, err := e.Render(`{{ json .v }}`, map[string]any{"v": map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	out, err = e.Render(`{{ default "fallback" .missing }}`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}
