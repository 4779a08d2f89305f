package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider map[Kind]string

func (p staticProvider) Template(kind Kind) (string, string, error) {
	text, ok := p[kind]
	if !ok {
		return "", "static", errors.New("not found")
	}
	return text, "static", nil
}

func TestBuiltinTemplatesHavePlaceholders(t *testing.T) {
	for _, kind := range Kinds() {
		text, source, err := BuiltinProvider{}.Template(kind)
		require.NoError(t, err)
		assert.Equal(t, "builtin", source)
		assert.Empty(t, missingPlaceholders(kind, text), "builtin %s template", kind)
	}
}

func TestLoad_MissingFileFallsBack(t *testing.T) {
	provider := NewFileProvider(filepath.Join(t.TempDir(), "missing"), "", "")

	tmpl, warnings, err := Load(provider, KindEvaluation)
	require.NoError(t, err)
	assert.Equal(t, "builtin", tmpl.Source)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "evaluation template unavailable")
}

func TestLoad_ExternalTemplateUsed(t *testing.T) {
	dir := t.TempDir()
	text := "Score {{ITEM_COUNT}} items.\n{{CRITERIA}}\n{{REBUTTALS}}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "evaluation.txt"), []byte(text), 0644))

	tmpl, warnings, err := Load(NewFileProvider(dir, "", ""), KindEvaluation)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, text, tmpl.Text)
	assert.Equal(t, filepath.Join(dir, "evaluation.txt"), tmpl.Source)
}

func TestLoad_ExplicitPathWinsOverDir(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(t.TempDir(), "custom-rewrite.txt")
	require.NoError(t, os.WriteFile(explicit, []byte("{{ITEM_COUNT}} {{GUIDANCE}} {{REBUTTALS}}"), 0644))

	tmpl, _, err := Load(NewFileProvider(dir, "", explicit), KindRewrite)
	require.NoError(t, err)
	assert.Equal(t, explicit, tmpl.Source)
}

func TestLoad_MissingPlaceholdersFallsBack(t *testing.T) {
	provider := staticProvider{KindRewrite: "Rewrite these: {{REBUTTALS}}"}

	tmpl, warnings, err := Load(provider, KindRewrite)
	require.NoError(t, err)
	assert.Equal(t, "builtin", tmpl.Source)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], PlaceholderGuidance)
	assert.Contains(t, warnings[0], PlaceholderItemCount)
}

func TestLoadWithFallback_NoUsableTemplate(t *testing.T) {
	primary := staticProvider{}
	fallback := staticProvider{KindEvaluation: "no placeholders here"}

	_, warnings, err := LoadWithFallback(primary, fallback, KindEvaluation)
	require.Error(t, err)
	assert.Len(t, warnings, 1)

	var terr *TemplateError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, KindEvaluation, terr.Kind)
	assert.ElementsMatch(t, RequiredPlaceholders(KindEvaluation), terr.Missing)
}

func TestLoadSet_CollectsWarnings(t *testing.T) {
	set, err := LoadSet(staticProvider{KindEvaluation: "{{ITEM_COUNT}} {{CRITERIA}} {{REBUTTALS}}"})
	require.NoError(t, err)
	assert.Equal(t, "static", set.Evaluation.Source)
	assert.Equal(t, "builtin", set.Rewrite.Source)
	assert.Len(t, set.Warnings, 1)
}

func TestWriteBuiltin_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	written, err := WriteBuiltin(dir)
	require.NoError(t, err)
	assert.Len(t, written, 2)

	set, err := LoadSet(NewFileProvider(dir, "", ""))
	require.NoError(t, err)
	assert.Empty(t, set.Warnings)
	assert.Equal(t, filepath.Join(dir, "rewrite.txt"), set.Rewrite.Source)
}

func TestTemplate_Render(t *testing.T) {
	tmpl := Template{Text: "{{ITEM_COUNT}} items:\n{{REBUTTALS}}\n({{ITEM_COUNT}})"}
	out := tmpl.Render(map[string]string{
		PlaceholderItemCount: "2",
		PlaceholderRebuttals: "a\nb",
	})
	assert.Equal(t, "2 items:\na\nb\n(2)", out)
	assert.False(t, strings.Contains(out, "{{"))
}

func TestLoadSet_UnconfiguredKindUsesBuiltinSilently(t *testing.T) {
	evaluation := filepath.Join(t.TempDir(), "evaluation.txt")
	require.NoError(t, os.WriteFile(evaluation, []byte("{{ITEM_COUNT}} {{CRITERIA}} {{REBUTTALS}}"), 0644))

	set, err := LoadSet(NewFileProvider("", evaluation, ""))
	require.NoError(t, err)
	assert.Empty(t, set.Warnings)
	assert.Equal(t, evaluation, set.Evaluation.Source)
	assert.Equal(t, "builtin", set.Rewrite.Source)
}

func TestFileProvider_UnconfiguredKind(t *testing.T) {
	_, _, err := NewFileProvider("", "", "").Template(KindRewrite)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestTemplate_RenderKeepsPlaceholdersInValues(t *testing.T) {
	tmpl := Template{Text: "{{ITEM_COUNT}} items\n{{CRITERIA}}\n{{REBUTTALS}}"}
	values := map[string]string{
		PlaceholderItemCount: "1",
		PlaceholderCriteria:  "score {{ITEM_COUNT}} fairly",
		PlaceholderRebuttals: "[1] quoting {{CRITERIA}} and {{REBUTTALS}} verbatim",
	}

	want := "1 items\nscore {{ITEM_COUNT}} fairly\n[1] quoting {{CRITERIA}} and {{REBUTTALS}} verbatim"
	for i := 0; i < 50; i++ {
		require.Equal(t, want, tmpl.Render(values))
	}
}
