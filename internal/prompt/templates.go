package prompt

import (
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed defaults/*.txt
var defaultsFS embed.FS

// Kind identifies a prompt template
type Kind string

const (
	KindEvaluation Kind = "evaluation"
	KindRewrite    Kind = "rewrite"
)

// Kinds returns every template kind
func Kinds() []Kind {
	return []Kind{KindEvaluation, KindRewrite}
}

// Placeholders substituted at runtime
const (
	PlaceholderItemCount = "{{ITEM_COUNT}}"
	PlaceholderRebuttals = "{{REBUTTALS}}"
	PlaceholderCriteria  = "{{CRITERIA}}"
	PlaceholderGuidance  = "{{GUIDANCE}}"
)

// RequiredPlaceholders returns the placeholders a template of the given kind must contain
func RequiredPlaceholders(kind Kind) []string {
	switch kind {
	case KindEvaluation:
		return []string{PlaceholderItemCount, PlaceholderRebuttals, PlaceholderCriteria}
	case KindRewrite:
		return []string{PlaceholderItemCount, PlaceholderRebuttals, PlaceholderGuidance}
	}
	return nil
}

// TemplateError means no usable template exists for a kind
type TemplateError struct {
	Kind    Kind
	Missing []string
	Err     error
}

func (e *TemplateError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s template missing placeholders %s", e.Kind, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s template unavailable: %v", e.Kind, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Template is a validated prompt template
type Template struct {
	Kind   Kind
	Source string // "builtin" or the resource path
	Text   string
}

// Render substitutes the given placeholder values in a single pass over the
// template text. Substituted values are never scanned again, so placeholder
// syntax inside item text or criteria is kept literally.
func (t Template) Render(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, values[k])
	}
	return strings.NewReplacer(pairs...).Replace(t.Text)
}

// missingPlaceholders lists required placeholders absent from text
func missingPlaceholders(kind Kind, text string) []string {
	var missing []string
	for _, p := range RequiredPlaceholders(kind) {
		if !strings.Contains(text, p) {
			missing = append(missing, p)
		}
	}
	return missing
}
